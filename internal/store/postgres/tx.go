package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/store"
)

type pgTx struct {
	tx *sql.Tx
}

var _ store.Tx = (*pgTx)(nil)

func (t *pgTx) GetProductForUpdate(ctx context.Context, id string) (*domain.Product, error) {
	return getProduct(ctx, t.tx, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id)
}

func (t *pgTx) CreateProduct(ctx context.Context, product domain.Product) error {
	if product.ID == "" || product.Barcode == "" {
		return store.ErrInvalidTransaction
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO products (
			id, barcode, description, category, brand, purchase_price_cents, sell_price_cents, total_quantity, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, product.ID, product.Barcode, product.Description, product.Category, product.Brand,
		product.PurchasePriceCents, product.SellPriceCents, product.TotalQuantity, product.CreatedAt, product.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: barcode %s already registered", store.ErrInvalidTransaction, product.Barcode)
		}
		return err
	}
	return nil
}

func (t *pgTx) AdjustQuantity(ctx context.Context, id string, delta int) (*domain.Product, error) {
	product, err := scanProduct(t.tx.QueryRowContext(ctx, `
		UPDATE products
		SET total_quantity = total_quantity + $2, updated_at = now()
		WHERE id = $1 AND total_quantity + $2 >= 0
		RETURNING `+productColumns, id, delta))
	if err == nil {
		return product, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	current, err := t.GetProductForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: barcode %s has %d, delta %d", store.ErrWouldGoNegative, current.Barcode, current.TotalQuantity, delta)
}

func (t *pgTx) SetPricing(ctx context.Context, id string, purchasePriceCents int64, sellPriceCents int64) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE products
		SET purchase_price_cents = $2, sell_price_cents = $3, updated_at = now()
		WHERE id = $1
	`, id, purchasePriceCents, sellPriceCents)
	if err != nil {
		return err
	}
	return expectAffected(res, fmt.Errorf("%w: product %s", store.ErrNotFound, id))
}

func (t *pgTx) InsertStockIn(ctx context.Context, entry domain.StockIn) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO stock_ins (id, product_id, quantity, note, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, entry.ID, entry.ProductID, entry.Quantity, entry.Note, entry.CreatedBy, entry.CreatedAt)
	return err
}

func (t *pgTx) GetSupplierForUpdate(ctx context.Context, id string) (*domain.Supplier, error) {
	sup, err := scanSupplier(t.tx.QueryRowContext(ctx, `SELECT `+supplierColumns+` FROM suppliers WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: supplier %s", store.ErrNotFound, id)
		}
		return nil, err
	}
	return sup, nil
}

func (t *pgTx) CreateSupplier(ctx context.Context, supplier domain.Supplier) error {
	if supplier.ID == "" {
		return store.ErrInvalidTransaction
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO suppliers (id, name, contact_info, due_amount_cents, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, supplier.ID, supplier.Name, supplier.ContactInfo, supplier.DueAmountCents, supplier.CreatedAt, supplier.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: supplier %s already exists", store.ErrInvalidTransaction, supplier.ID)
		}
		return err
	}
	return nil
}

func (t *pgTx) AdjustDue(ctx context.Context, id string, deltaCents int64) (*domain.Supplier, error) {
	sup, err := scanSupplier(t.tx.QueryRowContext(ctx, `
		UPDATE suppliers
		SET due_amount_cents = GREATEST(due_amount_cents + $2, 0), updated_at = now()
		WHERE id = $1
		RETURNING `+supplierColumns, id, deltaCents))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: supplier %s", store.ErrNotFound, id)
		}
		return nil, err
	}
	return sup, nil
}

func (t *pgTx) SaleExists(ctx context.Context, transactionNo string) (bool, error) {
	return t.exists(ctx, `SELECT EXISTS (SELECT 1 FROM sales WHERE transaction_no = $1)`, transactionNo)
}

func (t *pgTx) InvoiceNoExists(ctx context.Context, invoiceNo string) (bool, error) {
	return t.exists(ctx, `SELECT EXISTS (SELECT 1 FROM sales WHERE invoice_no = $1)`, invoiceNo)
}

func (t *pgTx) MaxInvoiceSeq(ctx context.Context, prefix string) (int64, error) {
	var seq int64
	err := t.tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(substr(invoice_no, length($1) + 1)::bigint), 0)
		FROM sales
		WHERE starts_with(invoice_no, $1)
		  AND substr(invoice_no, length($1) + 1) ~ '^[0-9]{1,18}$'
	`, prefix).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return seq, nil
}

func (t *pgTx) exists(ctx context.Context, query string, arg string) (bool, error) {
	var found bool
	if err := t.tx.QueryRowContext(ctx, query, arg).Scan(&found); err != nil {
		return false, err
	}
	return found, nil
}

func (t *pgTx) GetSaleForUpdate(ctx context.Context, transactionNo string) (*domain.Sale, error) {
	sale, err := scanSale(t.tx.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE transaction_no = $1 FOR UPDATE`, transactionNo))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: sale %s", store.ErrNotFound, transactionNo)
		}
		return nil, err
	}
	return sale, nil
}

func (t *pgTx) InsertSale(ctx context.Context, sale domain.Sale) error {
	linesJSON, err := marshalList(sale.Lines)
	if err != nil {
		return err
	}
	returnsJSON, err := marshalList(sale.Returns)
	if err != nil {
		return err
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO sales (
			id, transaction_no, invoice_no, lines, total_amount_cents, discount_cents, final_amount_cents,
			refunded_amount_cents, payment_method, customer_name, customer_number, cashier_username, returns,
			created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, sale.ID, sale.TransactionNo, sale.InvoiceNo, linesJSON, sale.TotalAmountCents, sale.DiscountCents, sale.FinalAmountCents,
		sale.RefundedAmountCents, sale.PaymentMethod, sale.CustomerName, sale.CustomerNumber, sale.CashierUsername, returnsJSON,
		sale.CreatedAt, sale.UpdatedAt)
	if err != nil {
		switch uniqueConstraint(err) {
		case "":
			return err
		case "sales_transaction_no_key":
			return fmt.Errorf("%w: %s", store.ErrDuplicateTransactionNo, sale.TransactionNo)
		default:
			return fmt.Errorf("%w: invoice %s already used", store.ErrInvalidTransaction, sale.InvoiceNo)
		}
	}
	return nil
}

func (t *pgTx) UpdateSale(ctx context.Context, sale domain.Sale) error {
	linesJSON, err := marshalList(sale.Lines)
	if err != nil {
		return err
	}
	returnsJSON, err := marshalList(sale.Returns)
	if err != nil {
		return err
	}

	res, err := t.tx.ExecContext(ctx, `
		UPDATE sales
		SET lines = $2, total_amount_cents = $3, discount_cents = $4, final_amount_cents = $5,
			refunded_amount_cents = $6, returns = $7, updated_at = $8
		WHERE transaction_no = $1
	`, sale.TransactionNo, linesJSON, sale.TotalAmountCents, sale.DiscountCents, sale.FinalAmountCents,
		sale.RefundedAmountCents, returnsJSON, sale.UpdatedAt)
	if err != nil {
		return err
	}
	return expectAffected(res, fmt.Errorf("%w: sale %s", store.ErrNotFound, sale.TransactionNo))
}

func (t *pgTx) DeleteSale(ctx context.Context, transactionNo string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM sales WHERE transaction_no = $1`, transactionNo)
	if err != nil {
		return err
	}
	return expectAffected(res, fmt.Errorf("%w: sale %s", store.ErrNotFound, transactionNo))
}

func (t *pgTx) GetPaymentForUpdate(ctx context.Context, id string) (*domain.SupplierPayment, error) {
	p, err := scanPayment(t.tx.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM supplier_payments WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: supplier payment %s", store.ErrNotFound, id)
		}
		return nil, err
	}
	return p, nil
}

func (t *pgTx) InsertPayment(ctx context.Context, payment domain.SupplierPayment) error {
	linesJSON, err := marshalList(payment.Lines)
	if err != nil {
		return err
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO supplier_payments (
			id, supplier_id, lines, total_amount_cents, paid_amount_cents, due_amount_cents, payment_method,
			invoice_number, notes, status, created_by, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, payment.ID, payment.SupplierID, linesJSON, payment.TotalAmountCents, payment.PaidAmountCents, payment.DueAmountCents,
		payment.PaymentMethod, payment.InvoiceNumber, payment.Notes, payment.Status, payment.CreatedBy, payment.CreatedAt, payment.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: supplier payment %s already exists", store.ErrInvalidTransaction, payment.ID)
		}
		return err
	}
	return nil
}

func (t *pgTx) UpdatePayment(ctx context.Context, payment domain.SupplierPayment) error {
	linesJSON, err := marshalList(payment.Lines)
	if err != nil {
		return err
	}

	res, err := t.tx.ExecContext(ctx, `
		UPDATE supplier_payments
		SET lines = $2, total_amount_cents = $3, paid_amount_cents = $4, due_amount_cents = $5,
			notes = $6, status = $7, updated_at = $8
		WHERE id = $1
	`, payment.ID, linesJSON, payment.TotalAmountCents, payment.PaidAmountCents, payment.DueAmountCents,
		payment.Notes, payment.Status, payment.UpdatedAt)
	if err != nil {
		return err
	}
	return expectAffected(res, fmt.Errorf("%w: supplier payment %s", store.ErrNotFound, payment.ID))
}

func (t *pgTx) DeletePayment(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM supplier_payments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectAffected(res, fmt.Errorf("%w: supplier payment %s", store.ErrNotFound, id))
}

func (t *pgTx) GetHandCashForUpdate(ctx context.Context, date string) (*domain.HandCash, error) {
	return getHandCash(ctx, t.tx, date, true)
}

func (t *pgTx) InsertHandCash(ctx context.Context, record domain.HandCash) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO hand_cash (
			day, opening_balance_cents, total_sales_cents, closing_balance_cents, withdrawal_count, opened_by, created_at, updated_at
		)
		VALUES ($1::date,$2,$3,$4,$5,$6,$7,$8)
	`, record.Date, record.OpeningBalanceCents, record.TotalSalesCents, record.ClosingBalanceCents,
		len(record.Withdrawals), record.OpenedBy, record.CreatedAt, record.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", store.ErrDayAlreadyOpen, record.Date)
		}
		return err
	}
	for _, w := range record.Withdrawals {
		if err := t.insertWithdrawal(ctx, record.Date, w); err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) AppendWithdrawal(ctx context.Context, date string, withdrawal domain.Withdrawal) (*domain.HandCash, error) {
	record, err := t.GetHandCashForUpdate(ctx, date)
	if err != nil {
		return nil, err
	}
	if withdrawal.AmountCents <= 0 {
		return nil, fmt.Errorf("%w: withdrawal must be positive", store.ErrInvalidAmount)
	}
	if withdrawal.AmountCents > record.ClosingBalanceCents {
		return nil, fmt.Errorf("%w: %s has %d, requested %d", store.ErrInsufficientFunds, date, record.ClosingBalanceCents, withdrawal.AmountCents)
	}

	if err := t.insertWithdrawal(ctx, date, withdrawal); err != nil {
		return nil, err
	}
	if _, err := t.tx.ExecContext(ctx, `
		UPDATE hand_cash
		SET closing_balance_cents = closing_balance_cents - $2,
			withdrawal_count = withdrawal_count + 1,
			updated_at = now()
		WHERE day = $1::date
	`, date, withdrawal.AmountCents); err != nil {
		return nil, err
	}
	return getHandCash(ctx, t.tx, date, false)
}

func (t *pgTx) insertWithdrawal(ctx context.Context, date string, w domain.Withdrawal) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO hand_cash_withdrawals (day, amount_cents, reason, withdrawn_at)
		VALUES ($1::date,$2,$3,$4)
	`, date, w.AmountCents, w.Reason, w.Date)
	return err
}

func (t *pgTx) AdjustTotalSales(ctx context.Context, date string, deltaCents int64) (*domain.HandCash, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE hand_cash
		SET total_sales_cents = GREATEST(total_sales_cents + $2, 0), updated_at = now()
		WHERE day = $1::date
	`, date, deltaCents)
	if err != nil {
		return nil, err
	}
	if err := expectAffected(res, fmt.Errorf("%w: %s", store.ErrNoRecordForDate, date)); err != nil {
		return nil, err
	}
	return getHandCash(ctx, t.tx, date, false)
}

func (t *pgTx) InsertExpense(ctx context.Context, expense domain.Expense) error {
	if expense.AmountCents <= 0 {
		return fmt.Errorf("%w: expense must be positive", store.ErrInvalidAmount)
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO expenses (id, day, category, amount_cents, note, created_at)
		VALUES ($1,$2::date,$3,$4,$5,$6)
	`, expense.ID, expense.Date, expense.Category, expense.AmountCents, expense.Note, expense.CreatedAt)
	return err
}

func expectAffected(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return notFound
	}
	return nil
}

// marshalList encodes nil slices as [] so the JSONB columns never hold null.
func marshalList[T any](items []T) ([]byte, error) {
	if items == nil {
		items = []T{}
	}
	return json.Marshal(items)
}
