package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tokoledger/backend/internal/domain"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrInvalidQuantity        = errors.New("invalid quantity")
	ErrInvalidDiscount        = errors.New("invalid discount")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrDuplicateTransactionNo = errors.New("duplicate transaction number")
	ErrExhaustedRetries       = errors.New("exhausted retries")
	ErrWouldGoNegative        = errors.New("quantity would go negative")
	ErrDayAlreadyOpen         = errors.New("hand cash day already open")
	ErrInvalidTransaction     = errors.New("invalid transaction")
	ErrConflict               = errors.New("concurrent update conflict")

	// ErrNoRecordForDate is reported when a hand cash day was never opened.
	ErrNoRecordForDate = fmt.Errorf("%w: no hand cash record for date", ErrNotFound)
)

// Repository is the read side plus the transaction entry point. Every
// business operation runs inside exactly one WithTx call; a non-nil error
// from fn discards all of its writes.
type Repository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProductByID(ctx context.Context, id string) (*domain.Product, error)
	GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error)

	ListSuppliers(ctx context.Context) ([]domain.Supplier, error)
	GetSupplierByID(ctx context.Context, id string) (*domain.Supplier, error)

	FindSaleByTransactionNo(ctx context.Context, transactionNo string) (*domain.Sale, error)
	ListSales(ctx context.Context, from time.Time, to time.Time) ([]domain.Sale, error)

	FindPaymentByID(ctx context.Context, id string) (*domain.SupplierPayment, error)
	ListPayments(ctx context.Context, supplierID string) ([]domain.SupplierPayment, error)

	GetHandCash(ctx context.Context, date string) (*domain.HandCash, error)
	ListHandCash(ctx context.Context, from string, to string) ([]domain.HandCash, error)
	ListExpenses(ctx context.Context, date string) ([]domain.Expense, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
}

// Tx is the write side. "ForUpdate" reads lock the row until the
// transaction ends.
type Tx interface {
	GetProductForUpdate(ctx context.Context, id string) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) error
	// AdjustQuantity fails with ErrWouldGoNegative instead of clamping.
	AdjustQuantity(ctx context.Context, id string, delta int) (*domain.Product, error)
	SetPricing(ctx context.Context, id string, purchasePriceCents int64, sellPriceCents int64) error
	InsertStockIn(ctx context.Context, entry domain.StockIn) error

	GetSupplierForUpdate(ctx context.Context, id string) (*domain.Supplier, error)
	CreateSupplier(ctx context.Context, supplier domain.Supplier) error
	// AdjustDue clamps the resulting balance at zero.
	AdjustDue(ctx context.Context, id string, deltaCents int64) (*domain.Supplier, error)

	SaleExists(ctx context.Context, transactionNo string) (bool, error)
	InvoiceNoExists(ctx context.Context, invoiceNo string) (bool, error)
	// MaxInvoiceSeq is the highest numeric suffix among invoice numbers
	// starting with prefix, 0 when there are none.
	MaxInvoiceSeq(ctx context.Context, prefix string) (int64, error)
	GetSaleForUpdate(ctx context.Context, transactionNo string) (*domain.Sale, error)
	InsertSale(ctx context.Context, sale domain.Sale) error
	UpdateSale(ctx context.Context, sale domain.Sale) error
	DeleteSale(ctx context.Context, transactionNo string) error

	GetPaymentForUpdate(ctx context.Context, id string) (*domain.SupplierPayment, error)
	InsertPayment(ctx context.Context, payment domain.SupplierPayment) error
	UpdatePayment(ctx context.Context, payment domain.SupplierPayment) error
	DeletePayment(ctx context.Context, id string) error

	GetHandCashForUpdate(ctx context.Context, date string) (*domain.HandCash, error)
	InsertHandCash(ctx context.Context, record domain.HandCash) error
	// AppendWithdrawal is the only way closing balances decrease.
	AppendWithdrawal(ctx context.Context, date string, withdrawal domain.Withdrawal) (*domain.HandCash, error)
	AdjustTotalSales(ctx context.Context, date string, deltaCents int64) (*domain.HandCash, error)

	InsertExpense(ctx context.Context, expense domain.Expense) error
}
