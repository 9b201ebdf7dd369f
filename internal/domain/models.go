package domain

import "time"

// Money amounts are int64 minor units (cents) everywhere.

type Product struct {
	ID                 string    `json:"id"`
	Barcode            string    `json:"barcode"`
	Description        string    `json:"description"`
	Category           string    `json:"category"`
	Brand              string    `json:"brand"`
	PurchasePriceCents int64     `json:"purchase_price_cents"`
	SellPriceCents     int64     `json:"sell_price_cents"`
	TotalQuantity      int       `json:"total_quantity"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

type ProductCreateRequest struct {
	Barcode            string `json:"barcode" validate:"required,max=64"`
	Description        string `json:"description" validate:"required,max=255"`
	Category           string `json:"category" validate:"max=120"`
	Brand              string `json:"brand" validate:"max=120"`
	PurchasePriceCents int64  `json:"purchase_price_cents" validate:"gte=0"`
	SellPriceCents     int64  `json:"sell_price_cents" validate:"gte=0"`
	InitialQuantity    int    `json:"initial_quantity" validate:"gte=0"`
}

type StockInRequest struct {
	Quantity           int    `json:"quantity" validate:"gt=0"`
	PurchasePriceCents *int64 `json:"purchase_price_cents,omitempty" validate:"omitempty,gte=0"`
	SellPriceCents     *int64 `json:"sell_price_cents,omitempty" validate:"omitempty,gte=0"`
	Note               string `json:"note" validate:"max=255"`
}

// StockIn is an inventory increase outside the supplier payment flow.
type StockIn struct {
	ID        string    `json:"id"`
	ProductID string    `json:"product_id"`
	Quantity  int       `json:"quantity"`
	Note      string    `json:"note"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

type StockInResponse struct {
	Product Product `json:"product"`
	Entry   StockIn `json:"entry"`
}

type SaleLineRequest struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity"`
}

type SaleCreateRequest struct {
	TransactionNo  string            `json:"transaction_no" validate:"required,max=64"`
	Lines          []SaleLineRequest `json:"lines" validate:"required,min=1,dive"`
	DiscountCents  int64             `json:"discount_cents"`
	PaymentMethod  string            `json:"payment_method" validate:"required"`
	CustomerName   string            `json:"customer_name" validate:"max=120"`
	CustomerNumber string            `json:"customer_number" validate:"max=40"`
}

// SaleLine keeps a snapshot of the product as it was sold.
type SaleLine struct {
	ProductID       string `json:"product_id"`
	Barcode         string `json:"barcode"`
	Description     string `json:"description"`
	Quantity        int    `json:"quantity"`
	UnitPriceCents  int64  `json:"unit_price_cents"`
	TotalPriceCents int64  `json:"total_price_cents"`
}

type SaleReturn struct {
	ProductID    string    `json:"product_id"`
	Quantity     int       `json:"quantity"`
	RefundCents  int64     `json:"refund_cents"`
	ReturnedBy   string    `json:"returned_by"`
	ReturnedAt   time.Time `json:"returned_at"`
	PricingBasis string    `json:"pricing_basis"`
}

type Sale struct {
	ID                  string       `json:"id"`
	TransactionNo       string       `json:"transaction_no"`
	InvoiceNo           string       `json:"invoice_no"`
	Lines               []SaleLine   `json:"lines"`
	TotalAmountCents    int64        `json:"total_amount_cents"`
	DiscountCents       int64        `json:"discount_cents"`
	FinalAmountCents    int64        `json:"final_amount_cents"`
	RefundedAmountCents int64        `json:"refunded_amount_cents"`
	PaymentMethod       string       `json:"payment_method"`
	CustomerName        string       `json:"customer_name"`
	CustomerNumber      string       `json:"customer_number"`
	CashierUsername     string       `json:"cashier_username"`
	Returns             []SaleReturn `json:"returns"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

type SaleReturnRequest struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity"`
}

type SaleReturnResponse struct {
	RefundedAmountCents int64 `json:"refunded_amount_cents"`
	Sale                Sale  `json:"sale"`
}

type SaleDeleteRequest struct {
	ManagerPIN string `json:"manager_pin" validate:"required"`
	Reason     string `json:"reason" validate:"required,max=255"`
}

type Supplier struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	ContactInfo    string    `json:"contact_info"`
	DueAmountCents int64     `json:"due_amount_cents"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type SupplierCreateRequest struct {
	Name           string `json:"name" validate:"required,max=120"`
	ContactInfo    string `json:"contact_info" validate:"max=255"`
	DueAmountCents int64  `json:"due_amount_cents" validate:"gte=0"`
}

type PaymentLine struct {
	ProductID       string `json:"product_id" validate:"required"`
	Quantity        int    `json:"quantity"`
	UnitPriceCents  int64  `json:"unit_price_cents"`
	SellPriceCents  int64  `json:"sell_price_cents"`
	TotalPriceCents int64  `json:"total_price_cents"`
	Description     string `json:"description" validate:"max=255"`
}

type SupplierPayment struct {
	ID               string        `json:"id"`
	SupplierID       string        `json:"supplier_id"`
	Lines            []PaymentLine `json:"lines"`
	TotalAmountCents int64         `json:"total_amount_cents"`
	PaidAmountCents  int64         `json:"paid_amount_cents"`
	DueAmountCents   int64         `json:"due_amount_cents"`
	PaymentMethod    string        `json:"payment_method"`
	InvoiceNumber    string        `json:"invoice_number"`
	Notes            string        `json:"notes"`
	Status           string        `json:"status"`
	CreatedBy        string        `json:"created_by"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

type SupplierPaymentCreateRequest struct {
	SupplierID       string        `json:"supplier_id" validate:"required"`
	Lines            []PaymentLine `json:"lines" validate:"dive"`
	PaidAmountCents  int64         `json:"paid_amount_cents"`
	TotalAmountCents int64         `json:"total_amount_cents"`
	PaymentMethod    string        `json:"payment_method" validate:"required,max=40"`
	InvoiceNumber    string        `json:"invoice_number" validate:"required,max=64"`
	Notes            string        `json:"notes" validate:"max=500"`
}

// SupplierPaymentUpdateRequest replaces the payment amounts. Lines, when
// present, replace the received goods and their stock effect.
type SupplierPaymentUpdateRequest struct {
	PaidAmountCents  int64          `json:"paid_amount_cents"`
	TotalAmountCents int64          `json:"total_amount_cents"`
	Lines            *[]PaymentLine `json:"lines,omitempty" validate:"omitempty,dive"`
	Notes            *string        `json:"notes,omitempty" validate:"omitempty,max=500"`
}

type SupplierPaymentDeleteRequest struct {
	ManagerPIN string `json:"manager_pin" validate:"required"`
}

type Withdrawal struct {
	AmountCents int64     `json:"amount_cents"`
	Reason      string    `json:"reason"`
	Date        time.Time `json:"date"`
}

// HandCash is the till ledger for one calendar day.
type HandCash struct {
	Date                string       `json:"date"`
	OpeningBalanceCents int64        `json:"opening_balance_cents"`
	TotalSalesCents     int64        `json:"total_sales_cents"`
	ClosingBalanceCents int64        `json:"closing_balance_cents"`
	Withdrawals         []Withdrawal `json:"withdrawals"`
	WithdrawalCount     int          `json:"withdrawal_count"`
	OpenedBy            string       `json:"opened_by"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

type HandCashOpenRequest struct {
	Date                string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	OpeningBalanceCents int64  `json:"opening_balance_cents"`
}

type WithdrawalRequest struct {
	AmountCents int64  `json:"amount_cents"`
	Reason      string `json:"reason" validate:"required,max=255"`
}

type Expense struct {
	ID          string    `json:"id"`
	Date        string    `json:"date"`
	Category    string    `json:"category"`
	AmountCents int64     `json:"amount_cents"`
	Note        string    `json:"note"`
	CreatedAt   time.Time `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	PaymentStatusPending = "Pending"
	PaymentStatusPaid    = "Paid"
)

const (
	PaymentMethodCash     = "cash"
	PaymentMethodCard     = "card"
	PaymentMethodTransfer = "transfer"
	PaymentMethodEWallet  = "ewallet"
)

const (
	RefundPricingSaleTime = "sale_time"
	RefundPricingCurrent  = "current"
)

const (
	ExpenseCategorySupplierPayment = "Supplier Payment"
)

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)

// DateLayout is the key format of HandCash records.
const DateLayout = "2006-01-02"
