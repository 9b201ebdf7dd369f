package memory

import (
	"context"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/store"
	"tokoledger/backend/internal/xid"
)

// Store keeps everything in process. WithTx holds the write lock for the
// whole transaction, so transactions are serial; writes are staged and only
// land in the maps when fn returns nil.
type Store struct {
	mu               sync.RWMutex
	products         map[string]domain.Product
	productByBarcode map[string]string
	suppliers        map[string]domain.Supplier
	salesByTxNo      map[string]domain.Sale
	saleByInvoiceNo  map[string]string
	payments         map[string]domain.SupplierPayment
	handCash         map[string]domain.HandCash
	expenses         []domain.Expense
	stockIns         []domain.StockIn
	auditLogs        []domain.AuditLog
	usersByUsername  map[string]domain.UserAccount
}

var _ store.Repository = (*Store)(nil)

func New() *Store {
	return &Store{
		products:         make(map[string]domain.Product),
		productByBarcode: make(map[string]string),
		suppliers:        make(map[string]domain.Supplier),
		salesByTxNo:      make(map[string]domain.Sale),
		saleByInvoiceNo:  make(map[string]string),
		payments:         make(map[string]domain.SupplierPayment),
		handCash:         make(map[string]domain.HandCash),
		expenses:         make([]domain.Expense, 0, 64),
		stockIns:         make([]domain.StockIn, 0, 64),
		auditLogs:        make([]domain.AuditLog, 0, 128),
		usersByUsername:  make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD;
// the dev defaults are only used when those are unset.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		slog.Warn("memory store using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			panic("memory store: hash seed password: " + err.Error())
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store with demo users, products and a supplier.
func NewSeeded() *Store {
	s := New()
	s.usersByUsername = seedUsers()

	now := time.Now().UTC()
	for i, p := range []domain.Product{
		{Barcode: "8991001000011", Description: "Mie Goreng Instan", Category: "grocery", Brand: "Indomie", PurchasePriceCents: 2800, SellPriceCents: 3500, TotalQuantity: 120},
		{Barcode: "8991001000028", Description: "Telur 10 Butir", Category: "grocery", Brand: "Lokal", PurchasePriceCents: 23000, SellPriceCents: 26500, TotalQuantity: 40},
		{Barcode: "8991001000035", Description: "Susu UHT 1L", Category: "dairy", Brand: "Ultra", PurchasePriceCents: 15000, SellPriceCents: 18900, TotalQuantity: 60},
		{Barcode: "8991001000042", Description: "Kopi Sachet", Category: "beverage", Brand: "Kapal Api", PurchasePriceCents: 1800, SellPriceCents: 2600, TotalQuantity: 200},
		{Barcode: "8991001000059", Description: "Gula 1kg", Category: "grocery", Brand: "Gulaku", PurchasePriceCents: 15500, SellPriceCents: 17400, TotalQuantity: 50},
		{Barcode: "8991001000066", Description: "Air Mineral 600ml", Category: "beverage", Brand: "Aqua", PurchasePriceCents: 2900, SellPriceCents: 3900, TotalQuantity: 150},
	} {
		p.ID = xid.New("prd")
		p.CreatedAt = now.Add(time.Duration(i) * time.Millisecond)
		p.UpdatedAt = p.CreatedAt
		s.products[p.ID] = p
		s.productByBarcode[p.Barcode] = p.ID
	}
	supplier := domain.Supplier{
		ID:          xid.New("sup"),
		Name:        "CV Sumber Rejeki",
		ContactInfo: "0812-0000-1111",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.suppliers[supplier.ID] = supplier
	return s
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := newTx(s)
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return cmpString(a.Description, b.Description)
		}
		return cmpString(a.Category, b.Category)
	})
	return products, nil
}

func (s *Store) GetProductByID(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (s *Store) GetProductByBarcode(_ context.Context, barcode string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.productByBarcode[barcode]
	if !exists {
		return nil, store.ErrNotFound
	}
	product := s.products[id]
	return &product, nil
}

func (s *Store) ListSuppliers(_ context.Context) ([]domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	suppliers := make([]domain.Supplier, 0, len(s.suppliers))
	for _, supplier := range s.suppliers {
		suppliers = append(suppliers, supplier)
	}
	slices.SortFunc(suppliers, func(a, b domain.Supplier) int {
		return cmpString(a.Name, b.Name)
	})
	return suppliers, nil
}

func (s *Store) GetSupplierByID(_ context.Context, id string) (*domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	supplier, exists := s.suppliers[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &supplier, nil
}

func (s *Store) FindSaleByTransactionNo(_ context.Context, transactionNo string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByTxNo[transactionNo]
	if !exists {
		return nil, store.ErrNotFound
	}
	cloned := cloneSale(sale)
	return &cloned, nil
}

func (s *Store) ListSales(_ context.Context, from time.Time, to time.Time) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Sale, 0, 32)
	for _, sale := range s.salesByTxNo {
		if sale.CreatedAt.Before(from) || !sale.CreatedAt.Before(to) {
			continue
		}
		result = append(result, cloneSale(sale))
	}
	slices.SortFunc(result, func(a, b domain.Sale) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return result, nil
}

func (s *Store) FindPaymentByID(_ context.Context, id string) (*domain.SupplierPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payment, exists := s.payments[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	cloned := clonePayment(payment)
	return &cloned, nil
}

func (s *Store) ListPayments(_ context.Context, supplierID string) ([]domain.SupplierPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.SupplierPayment, 0, 16)
	for _, payment := range s.payments {
		if supplierID != "" && payment.SupplierID != supplierID {
			continue
		}
		result = append(result, clonePayment(payment))
	}
	slices.SortFunc(result, func(a, b domain.SupplierPayment) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return result, nil
}

func (s *Store) GetHandCash(_ context.Context, date string) (*domain.HandCash, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, exists := s.handCash[date]
	if !exists {
		return nil, store.ErrNoRecordForDate
	}
	cloned := cloneHandCash(record)
	return &cloned, nil
}

func (s *Store) ListHandCash(_ context.Context, from string, to string) ([]domain.HandCash, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.HandCash, 0, 31)
	for date, record := range s.handCash {
		// YYYY-MM-DD keys order lexically.
		if (from != "" && date < from) || (to != "" && date > to) {
			continue
		}
		result = append(result, cloneHandCash(record))
	}
	slices.SortFunc(result, func(a, b domain.HandCash) int {
		return cmpString(a.Date, b.Date)
	})
	return result, nil
}

func (s *Store) ListExpenses(_ context.Context, date string) ([]domain.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Expense, 0, 16)
	for _, expense := range s.expenses {
		if date != "" && expense.Date != date {
			continue
		}
		result = append(result, expense)
	}
	return result, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := slices.Clone(s.auditLogs)
	slices.SortStableFunc(result, func(a, b domain.AuditLog) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidTransaction
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func cmpString(a string, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cloneSale(src domain.Sale) domain.Sale {
	dst := src
	dst.Lines = slices.Clone(src.Lines)
	dst.Returns = slices.Clone(src.Returns)
	return dst
}

func clonePayment(src domain.SupplierPayment) domain.SupplierPayment {
	dst := src
	dst.Lines = slices.Clone(src.Lines)
	return dst
}

func cloneHandCash(src domain.HandCash) domain.HandCash {
	dst := src
	dst.Withdrawals = slices.Clone(src.Withdrawals)
	return dst
}
