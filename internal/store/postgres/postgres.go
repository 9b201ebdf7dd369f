package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/store"
	"tokoledger/backend/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
}

var _ store.Repository = (*Store)(nil)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates missing tables. Every statement is idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// WithTx runs fn in a read-committed transaction. Rows a check depends on
// are read FOR UPDATE, so concurrent writers to the same row wait for each
// other instead of failing.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(ctx, &pgTx{tx: sqlTx}); err != nil {
		return mapTxError(err)
	}
	if err := sqlTx.Commit(); err != nil {
		return mapTxError(err)
	}
	return nil
}

// Next hands out a per-key counter that survives restarts. It runs outside
// any business transaction so a rolled back sale never reuses a number.
func (s *Store) Next(ctx context.Context, key string) (int64, error) {
	var value int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO invoice_sequences (key, value)
		VALUES ($1, 1)
		ON CONFLICT (key)
		DO UPDATE SET value = invoice_sequences.value + 1
		RETURNING value
	`, key).Scan(&value)
	if err != nil {
		return 0, err
	}
	return value, nil
}

func (s *Store) Reseed(ctx context.Context, key string, floor int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invoice_sequences (key, value)
		VALUES ($1, $2)
		ON CONFLICT (key)
		DO UPDATE SET value = GREATEST(invoice_sequences.value, EXCLUDED.value)
	`, key, floor)
	return err
}

const productColumns = `id, barcode, description, category, brand, purchase_price_cents, sell_price_cents, total_quantity, created_at, updated_at`

func scanProduct(row scanner) (*domain.Product, error) {
	var p domain.Product
	if err := row.Scan(&p.ID, &p.Barcode, &p.Description, &p.Category, &p.Brand, &p.PurchasePriceCents, &p.SellPriceCents, &p.TotalQuantity, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		ORDER BY category, description
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	return getProduct(ctx, s.db, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
}

func (s *Store) GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error) {
	return getProduct(ctx, s.db, `SELECT `+productColumns+` FROM products WHERE barcode = $1`, barcode)
}

func getProduct(ctx context.Context, q querier, query string, arg string) (*domain.Product, error) {
	p, err := scanProduct(q.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, arg)
		}
		return nil, err
	}
	return p, nil
}

const supplierColumns = `id, name, contact_info, due_amount_cents, created_at, updated_at`

func scanSupplier(row scanner) (*domain.Supplier, error) {
	var sup domain.Supplier
	if err := row.Scan(&sup.ID, &sup.Name, &sup.ContactInfo, &sup.DueAmountCents, &sup.CreatedAt, &sup.UpdatedAt); err != nil {
		return nil, err
	}
	sup.CreatedAt = sup.CreatedAt.UTC()
	sup.UpdatedAt = sup.UpdatedAt.UTC()
	return &sup, nil
}

func (s *Store) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+supplierColumns+` FROM suppliers ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	suppliers := make([]domain.Supplier, 0, 32)
	for rows.Next() {
		sup, err := scanSupplier(rows)
		if err != nil {
			return nil, err
		}
		suppliers = append(suppliers, *sup)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return suppliers, nil
}

func (s *Store) GetSupplierByID(ctx context.Context, id string) (*domain.Supplier, error) {
	sup, err := scanSupplier(s.db.QueryRowContext(ctx, `SELECT `+supplierColumns+` FROM suppliers WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: supplier %s", store.ErrNotFound, id)
		}
		return nil, err
	}
	return sup, nil
}

const saleColumns = `id, transaction_no, invoice_no, lines, total_amount_cents, discount_cents, final_amount_cents,
	refunded_amount_cents, payment_method, customer_name, customer_number, cashier_username, returns, created_at, updated_at`

func scanSale(row scanner) (*domain.Sale, error) {
	var sale domain.Sale
	var linesRaw, returnsRaw []byte
	if err := row.Scan(
		&sale.ID, &sale.TransactionNo, &sale.InvoiceNo, &linesRaw, &sale.TotalAmountCents, &sale.DiscountCents, &sale.FinalAmountCents,
		&sale.RefundedAmountCents, &sale.PaymentMethod, &sale.CustomerName, &sale.CustomerNumber, &sale.CashierUsername, &returnsRaw,
		&sale.CreatedAt, &sale.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(linesRaw, &sale.Lines); err != nil {
		return nil, fmt.Errorf("decode sale lines %s: %w", sale.TransactionNo, err)
	}
	if err := json.Unmarshal(returnsRaw, &sale.Returns); err != nil {
		return nil, fmt.Errorf("decode sale returns %s: %w", sale.TransactionNo, err)
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	sale.UpdatedAt = sale.UpdatedAt.UTC()
	return &sale, nil
}

func (s *Store) FindSaleByTransactionNo(ctx context.Context, transactionNo string) (*domain.Sale, error) {
	sale, err := scanSale(s.db.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE transaction_no = $1`, transactionNo))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: sale %s", store.ErrNotFound, transactionNo)
		}
		return nil, err
	}
	return sale, nil
}

func (s *Store) ListSales(ctx context.Context, from time.Time, to time.Time) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at ASC
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 32)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, *sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

const paymentColumns = `id, supplier_id, lines, total_amount_cents, paid_amount_cents, due_amount_cents, payment_method,
	invoice_number, notes, status, created_by, created_at, updated_at`

func scanPayment(row scanner) (*domain.SupplierPayment, error) {
	var p domain.SupplierPayment
	var linesRaw []byte
	if err := row.Scan(
		&p.ID, &p.SupplierID, &linesRaw, &p.TotalAmountCents, &p.PaidAmountCents, &p.DueAmountCents, &p.PaymentMethod,
		&p.InvoiceNumber, &p.Notes, &p.Status, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(linesRaw, &p.Lines); err != nil {
		return nil, fmt.Errorf("decode payment lines %s: %w", p.ID, err)
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func (s *Store) FindPaymentByID(ctx context.Context, id string) (*domain.SupplierPayment, error) {
	p, err := scanPayment(s.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM supplier_payments WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: supplier payment %s", store.ErrNotFound, id)
		}
		return nil, err
	}
	return p, nil
}

func (s *Store) ListPayments(ctx context.Context, supplierID string) ([]domain.SupplierPayment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+paymentColumns+`
		FROM supplier_payments
		WHERE ($1 = '' OR supplier_id = $1)
		ORDER BY created_at DESC
	`, supplierID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]domain.SupplierPayment, 0, 16)
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return payments, nil
}

const handCashColumns = `to_char(day, 'YYYY-MM-DD'), opening_balance_cents, total_sales_cents, closing_balance_cents,
	withdrawal_count, opened_by, created_at, updated_at`

func scanHandCash(row scanner) (*domain.HandCash, error) {
	var h domain.HandCash
	if err := row.Scan(&h.Date, &h.OpeningBalanceCents, &h.TotalSalesCents, &h.ClosingBalanceCents, &h.WithdrawalCount, &h.OpenedBy, &h.CreatedAt, &h.UpdatedAt); err != nil {
		return nil, err
	}
	h.CreatedAt = h.CreatedAt.UTC()
	h.UpdatedAt = h.UpdatedAt.UTC()
	return &h, nil
}

func getHandCash(ctx context.Context, q querier, date string, lock bool) (*domain.HandCash, error) {
	query := `SELECT ` + handCashColumns + ` FROM hand_cash WHERE day = $1::date`
	if lock {
		query += ` FOR UPDATE`
	}
	record, err := scanHandCash(q.QueryRowContext(ctx, query, date))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrNoRecordForDate, date)
		}
		return nil, err
	}
	withdrawals, err := listWithdrawals(ctx, q, date, date)
	if err != nil {
		return nil, err
	}
	record.Withdrawals = withdrawals[record.Date]
	return record, nil
}

// listWithdrawals groups withdrawals by day, in insertion order.
func listWithdrawals(ctx context.Context, q querier, from string, to string) (map[string][]domain.Withdrawal, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT to_char(day, 'YYYY-MM-DD'), amount_cents, reason, withdrawn_at
		FROM hand_cash_withdrawals
		WHERE day >= $1::date AND day <= $2::date
		ORDER BY day, id
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byDay := make(map[string][]domain.Withdrawal)
	for rows.Next() {
		var day string
		var w domain.Withdrawal
		if err := rows.Scan(&day, &w.AmountCents, &w.Reason, &w.Date); err != nil {
			return nil, err
		}
		w.Date = w.Date.UTC()
		byDay[day] = append(byDay[day], w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return byDay, nil
}

func (s *Store) GetHandCash(ctx context.Context, date string) (*domain.HandCash, error) {
	return getHandCash(ctx, s.db, date, false)
}

func (s *Store) ListHandCash(ctx context.Context, from string, to string) ([]domain.HandCash, error) {
	if from == "" {
		from = "0001-01-01"
	}
	if to == "" {
		to = "9999-12-31"
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+handCashColumns+`
		FROM hand_cash
		WHERE day >= $1::date AND day <= $2::date
		ORDER BY day ASC
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.HandCash, 0, 31)
	for rows.Next() {
		record, err := scanHandCash(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	withdrawals, err := listWithdrawals(ctx, s.db, from, to)
	if err != nil {
		return nil, err
	}
	for i := range records {
		records[i].Withdrawals = withdrawals[records[i].Date]
	}
	return records, nil
}

func (s *Store) ListExpenses(ctx context.Context, date string) ([]domain.Expense, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, to_char(day, 'YYYY-MM-DD'), category, amount_cents, note, created_at
		FROM expenses
		WHERE ($1 = '' OR day = NULLIF($1, '')::date)
		ORDER BY created_at ASC
	`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	expenses := make([]domain.Expense, 0, 16)
	for rows.Next() {
		var e domain.Expense
		if err := rows.Scan(&e.ID, &e.Date, &e.Category, &e.AmountCents, &e.Note, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.CreatedAt = e.CreatedAt.UTC()
		expenses = append(expenses, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return expenses, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidTransaction
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func isUniqueViolation(err error) bool {
	return pgErrorCode(err) == "23505"
}

func uniqueConstraint(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName
	}
	return ""
}

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// mapTxError turns serialization failures and deadlocks into ErrConflict.
// They are reported to the caller, never retried here.
func mapTxError(err error) error {
	switch pgErrorCode(err) {
	case "40001", "40P01":
		return fmt.Errorf("%w: %v", store.ErrConflict, err)
	}
	return err
}
