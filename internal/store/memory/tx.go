package memory

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/store"
)

// staged overlays pending writes on a base map. A nil entry in writes is a
// delete.
type staged[T any] struct {
	base   map[string]T
	writes map[string]*T
}

func newStaged[T any](base map[string]T) *staged[T] {
	return &staged[T]{base: base, writes: make(map[string]*T)}
}

func (m *staged[T]) get(key string) (T, bool) {
	if v, ok := m.writes[key]; ok {
		if v == nil {
			var zero T
			return zero, false
		}
		return *v, true
	}
	v, ok := m.base[key]
	return v, ok
}

// keys lists live keys, staged deletes excluded.
func (m *staged[T]) keys() []string {
	out := make([]string, 0, len(m.base)+len(m.writes))
	for key := range m.base {
		if _, staged := m.writes[key]; !staged {
			out = append(out, key)
		}
	}
	for key, v := range m.writes {
		if v != nil {
			out = append(out, key)
		}
	}
	return out
}

func (m *staged[T]) put(key string, value T) {
	m.writes[key] = &value
}

func (m *staged[T]) del(key string) {
	m.writes[key] = nil
}

func (m *staged[T]) commit() {
	for key, v := range m.writes {
		if v == nil {
			delete(m.base, key)
			continue
		}
		m.base[key] = *v
	}
}

type memTx struct {
	store            *Store
	products         *staged[domain.Product]
	productByBarcode *staged[string]
	suppliers        *staged[domain.Supplier]
	sales            *staged[domain.Sale]
	saleByInvoiceNo  *staged[string]
	payments         *staged[domain.SupplierPayment]
	handCash         *staged[domain.HandCash]
	expenses         []domain.Expense
	stockIns         []domain.StockIn
}

var _ store.Tx = (*memTx)(nil)

func newTx(s *Store) *memTx {
	return &memTx{
		store:            s,
		products:         newStaged(s.products),
		productByBarcode: newStaged(s.productByBarcode),
		suppliers:        newStaged(s.suppliers),
		sales:            newStaged(s.salesByTxNo),
		saleByInvoiceNo:  newStaged(s.saleByInvoiceNo),
		payments:         newStaged(s.payments),
		handCash:         newStaged(s.handCash),
	}
}

func (t *memTx) commit() {
	t.products.commit()
	t.productByBarcode.commit()
	t.suppliers.commit()
	t.sales.commit()
	t.saleByInvoiceNo.commit()
	t.payments.commit()
	t.handCash.commit()
	t.store.expenses = append(t.store.expenses, t.expenses...)
	t.store.stockIns = append(t.store.stockIns, t.stockIns...)
}

func (t *memTx) GetProductForUpdate(_ context.Context, id string) (*domain.Product, error) {
	product, ok := t.products.get(id)
	if !ok {
		return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, id)
	}
	return &product, nil
}

func (t *memTx) CreateProduct(_ context.Context, product domain.Product) error {
	if product.ID == "" || product.Barcode == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := t.productByBarcode.get(product.Barcode); exists {
		return fmt.Errorf("%w: barcode %s already registered", store.ErrInvalidTransaction, product.Barcode)
	}
	if _, exists := t.products.get(product.ID); exists {
		return fmt.Errorf("%w: product %s already exists", store.ErrInvalidTransaction, product.ID)
	}
	t.products.put(product.ID, product)
	t.productByBarcode.put(product.Barcode, product.ID)
	return nil
}

func (t *memTx) AdjustQuantity(_ context.Context, id string, delta int) (*domain.Product, error) {
	product, ok := t.products.get(id)
	if !ok {
		return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, id)
	}
	if product.TotalQuantity+delta < 0 {
		return nil, fmt.Errorf("%w: barcode %s has %d, delta %d", store.ErrWouldGoNegative, product.Barcode, product.TotalQuantity, delta)
	}
	product.TotalQuantity += delta
	product.UpdatedAt = time.Now().UTC()
	t.products.put(id, product)
	return &product, nil
}

func (t *memTx) SetPricing(_ context.Context, id string, purchasePriceCents int64, sellPriceCents int64) error {
	product, ok := t.products.get(id)
	if !ok {
		return fmt.Errorf("%w: product %s", store.ErrNotFound, id)
	}
	product.PurchasePriceCents = purchasePriceCents
	product.SellPriceCents = sellPriceCents
	product.UpdatedAt = time.Now().UTC()
	t.products.put(id, product)
	return nil
}

func (t *memTx) InsertStockIn(_ context.Context, entry domain.StockIn) error {
	t.stockIns = append(t.stockIns, entry)
	return nil
}

func (t *memTx) GetSupplierForUpdate(_ context.Context, id string) (*domain.Supplier, error) {
	supplier, ok := t.suppliers.get(id)
	if !ok {
		return nil, fmt.Errorf("%w: supplier %s", store.ErrNotFound, id)
	}
	return &supplier, nil
}

func (t *memTx) CreateSupplier(_ context.Context, supplier domain.Supplier) error {
	if supplier.ID == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := t.suppliers.get(supplier.ID); exists {
		return fmt.Errorf("%w: supplier %s already exists", store.ErrInvalidTransaction, supplier.ID)
	}
	t.suppliers.put(supplier.ID, supplier)
	return nil
}

func (t *memTx) AdjustDue(_ context.Context, id string, deltaCents int64) (*domain.Supplier, error) {
	supplier, ok := t.suppliers.get(id)
	if !ok {
		return nil, fmt.Errorf("%w: supplier %s", store.ErrNotFound, id)
	}
	supplier.DueAmountCents = max(supplier.DueAmountCents+deltaCents, 0)
	supplier.UpdatedAt = time.Now().UTC()
	t.suppliers.put(id, supplier)
	return &supplier, nil
}

func (t *memTx) SaleExists(_ context.Context, transactionNo string) (bool, error) {
	_, exists := t.sales.get(transactionNo)
	return exists, nil
}

func (t *memTx) InvoiceNoExists(_ context.Context, invoiceNo string) (bool, error) {
	_, exists := t.saleByInvoiceNo.get(invoiceNo)
	return exists, nil
}

func (t *memTx) MaxInvoiceSeq(_ context.Context, prefix string) (int64, error) {
	var highest int64
	for _, invoiceNo := range t.saleByInvoiceNo.keys() {
		suffix, ok := strings.CutPrefix(invoiceNo, prefix)
		if !ok {
			continue
		}
		if n, err := strconv.ParseInt(suffix, 10, 64); err == nil && n > highest {
			highest = n
		}
	}
	return highest, nil
}

func (t *memTx) GetSaleForUpdate(_ context.Context, transactionNo string) (*domain.Sale, error) {
	sale, ok := t.sales.get(transactionNo)
	if !ok {
		return nil, fmt.Errorf("%w: sale %s", store.ErrNotFound, transactionNo)
	}
	cloned := cloneSale(sale)
	return &cloned, nil
}

func (t *memTx) InsertSale(_ context.Context, sale domain.Sale) error {
	if _, exists := t.sales.get(sale.TransactionNo); exists {
		return fmt.Errorf("%w: %s", store.ErrDuplicateTransactionNo, sale.TransactionNo)
	}
	if _, exists := t.saleByInvoiceNo.get(sale.InvoiceNo); exists {
		return fmt.Errorf("%w: invoice %s already used", store.ErrInvalidTransaction, sale.InvoiceNo)
	}
	t.sales.put(sale.TransactionNo, cloneSale(sale))
	t.saleByInvoiceNo.put(sale.InvoiceNo, sale.TransactionNo)
	return nil
}

func (t *memTx) UpdateSale(_ context.Context, sale domain.Sale) error {
	if _, exists := t.sales.get(sale.TransactionNo); !exists {
		return fmt.Errorf("%w: sale %s", store.ErrNotFound, sale.TransactionNo)
	}
	t.sales.put(sale.TransactionNo, cloneSale(sale))
	return nil
}

func (t *memTx) DeleteSale(_ context.Context, transactionNo string) error {
	sale, exists := t.sales.get(transactionNo)
	if !exists {
		return fmt.Errorf("%w: sale %s", store.ErrNotFound, transactionNo)
	}
	t.sales.del(transactionNo)
	t.saleByInvoiceNo.del(sale.InvoiceNo)
	return nil
}

func (t *memTx) GetPaymentForUpdate(_ context.Context, id string) (*domain.SupplierPayment, error) {
	payment, ok := t.payments.get(id)
	if !ok {
		return nil, fmt.Errorf("%w: supplier payment %s", store.ErrNotFound, id)
	}
	cloned := clonePayment(payment)
	return &cloned, nil
}

func (t *memTx) InsertPayment(_ context.Context, payment domain.SupplierPayment) error {
	if _, exists := t.payments.get(payment.ID); exists {
		return fmt.Errorf("%w: supplier payment %s already exists", store.ErrInvalidTransaction, payment.ID)
	}
	t.payments.put(payment.ID, clonePayment(payment))
	return nil
}

func (t *memTx) UpdatePayment(_ context.Context, payment domain.SupplierPayment) error {
	if _, exists := t.payments.get(payment.ID); !exists {
		return fmt.Errorf("%w: supplier payment %s", store.ErrNotFound, payment.ID)
	}
	t.payments.put(payment.ID, clonePayment(payment))
	return nil
}

func (t *memTx) DeletePayment(_ context.Context, id string) error {
	if _, exists := t.payments.get(id); !exists {
		return fmt.Errorf("%w: supplier payment %s", store.ErrNotFound, id)
	}
	t.payments.del(id)
	return nil
}

func (t *memTx) GetHandCashForUpdate(_ context.Context, date string) (*domain.HandCash, error) {
	record, ok := t.handCash.get(date)
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrNoRecordForDate, date)
	}
	cloned := cloneHandCash(record)
	return &cloned, nil
}

func (t *memTx) InsertHandCash(_ context.Context, record domain.HandCash) error {
	if _, exists := t.handCash.get(record.Date); exists {
		return fmt.Errorf("%w: %s", store.ErrDayAlreadyOpen, record.Date)
	}
	t.handCash.put(record.Date, cloneHandCash(record))
	return nil
}

func (t *memTx) AppendWithdrawal(_ context.Context, date string, withdrawal domain.Withdrawal) (*domain.HandCash, error) {
	record, ok := t.handCash.get(date)
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrNoRecordForDate, date)
	}
	if withdrawal.AmountCents <= 0 {
		return nil, fmt.Errorf("%w: withdrawal must be positive", store.ErrInvalidAmount)
	}
	if withdrawal.AmountCents > record.ClosingBalanceCents {
		return nil, fmt.Errorf("%w: %s has %d, requested %d", store.ErrInsufficientFunds, date, record.ClosingBalanceCents, withdrawal.AmountCents)
	}
	record = cloneHandCash(record)
	record.ClosingBalanceCents -= withdrawal.AmountCents
	record.Withdrawals = append(record.Withdrawals, withdrawal)
	record.WithdrawalCount = len(record.Withdrawals)
	record.UpdatedAt = time.Now().UTC()
	t.handCash.put(date, record)
	return &record, nil
}

func (t *memTx) AdjustTotalSales(_ context.Context, date string, deltaCents int64) (*domain.HandCash, error) {
	record, ok := t.handCash.get(date)
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrNoRecordForDate, date)
	}
	record = cloneHandCash(record)
	record.TotalSalesCents = max(record.TotalSalesCents+deltaCents, 0)
	record.UpdatedAt = time.Now().UTC()
	t.handCash.put(date, record)
	return &record, nil
}

func (t *memTx) InsertExpense(_ context.Context, expense domain.Expense) error {
	if expense.AmountCents <= 0 {
		return fmt.Errorf("%w: expense must be positive", store.ErrInvalidAmount)
	}
	t.expenses = append(t.expenses, expense)
	return nil
}
