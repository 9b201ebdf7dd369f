package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/store"
	"tokoledger/backend/internal/xid"
)

func (s *Service) GetPayment(ctx context.Context, id string) (domain.SupplierPayment, error) {
	payment, err := s.repo.FindPaymentByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.SupplierPayment{}, err
	}
	return *payment, nil
}

func (s *Service) ListPayments(ctx context.Context, supplierID string) ([]domain.SupplierPayment, error) {
	return s.repo.ListPayments(ctx, strings.TrimSpace(supplierID))
}

// CreatePayment books goods received from a supplier and pays for them
// from today's hand cash.
func (s *Service) CreatePayment(ctx context.Context, req domain.SupplierPaymentCreateRequest) (domain.SupplierPayment, error) {
	supplierID := strings.TrimSpace(req.SupplierID)
	invoiceNumber := strings.TrimSpace(req.InvoiceNumber)
	if supplierID == "" || invoiceNumber == "" {
		return domain.SupplierPayment{}, fmt.Errorf("%w: supplier and invoice number are required", store.ErrInvalidTransaction)
	}
	if err := validatePaymentAmounts(req.PaidAmountCents, req.TotalAmountCents); err != nil {
		return domain.SupplierPayment{}, err
	}
	lines, err := normalizePaymentLines(req.Lines)
	if err != nil {
		return domain.SupplierPayment{}, err
	}

	now := s.nowUTC()
	date := s.today()
	due := req.TotalAmountCents - req.PaidAmountCents
	payment := domain.SupplierPayment{
		ID:               xid.New("spay"),
		SupplierID:       supplierID,
		Lines:            lines,
		TotalAmountCents: req.TotalAmountCents,
		PaidAmountCents:  req.PaidAmountCents,
		DueAmountCents:   due,
		PaymentMethod:    strings.TrimSpace(req.PaymentMethod),
		InvoiceNumber:    invoiceNumber,
		Notes:            strings.TrimSpace(req.Notes),
		Status:           paymentStatus(due),
		CreatedBy:        s.actorName(ctx),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.GetSupplierForUpdate(ctx, supplierID); err != nil {
			return err
		}
		products, err := lockProducts(ctx, tx, paymentItems(lines))
		if err != nil {
			return err
		}
		if payment.PaidAmountCents > 0 {
			if err := ensureFunds(ctx, tx, date, payment.PaidAmountCents); err != nil {
				return err
			}
		}

		if err := applyReceivedLines(ctx, tx, products, lines); err != nil {
			return err
		}
		if err := tx.InsertPayment(ctx, payment); err != nil {
			return err
		}
		if payment.PaidAmountCents > 0 {
			if _, err := tx.AppendWithdrawal(ctx, date, domain.Withdrawal{
				AmountCents: payment.PaidAmountCents,
				Reason:      supplierPaymentReason(invoiceNumber),
				Date:        now,
			}); err != nil {
				return err
			}
		}
		_, err = tx.AdjustDue(ctx, supplierID, -payment.PaidAmountCents)
		return err
	})
	if err != nil {
		return domain.SupplierPayment{}, err
	}

	s.logAudit(ctx, "supplier_payment.create", "supplier_payment", payment.ID,
		fmt.Sprintf("supplier=%s invoice=%s total=%d paid=%d", supplierID, invoiceNumber, payment.TotalAmountCents, payment.PaidAmountCents))
	return payment, nil
}

// UpdatePayment re-prices a payment. Replacement lines move stock by the
// per-product difference to the old lines; without them stock is untouched.
// Only an increase of the paid amount moves cash.
func (s *Service) UpdatePayment(ctx context.Context, id string, req domain.SupplierPaymentUpdateRequest) (domain.SupplierPayment, error) {
	id = strings.TrimSpace(id)
	if err := validatePaymentAmounts(req.PaidAmountCents, req.TotalAmountCents); err != nil {
		return domain.SupplierPayment{}, err
	}
	var newLines []domain.PaymentLine
	if req.Lines != nil {
		lines, err := normalizePaymentLines(*req.Lines)
		if err != nil {
			return domain.SupplierPayment{}, err
		}
		newLines = lines
	}

	now := s.nowUTC()
	date := s.today()
	var (
		updated domain.SupplierPayment
		delta   int64
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		payment, err := tx.GetPaymentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if _, err := tx.GetSupplierForUpdate(ctx, payment.SupplierID); err != nil {
			return err
		}

		oldOutstanding := outstanding(payment.DueAmountCents)
		delta = req.PaidAmountCents - payment.PaidAmountCents

		var (
			products   map[string]domain.Product
			stockDelta map[string]int
		)
		if req.Lines != nil {
			stockDelta = quantityDelta(payment.Lines, newLines)
			items := paymentItems(newLines)
			for productID := range stockDelta {
				items = append(items, saleItem{ProductID: productID})
			}
			products, err = lockProducts(ctx, tx, items)
			if err != nil {
				return err
			}
		}
		if delta > 0 {
			if err := ensureFunds(ctx, tx, date, delta); err != nil {
				return err
			}
		}

		if req.Lines != nil {
			for productID, d := range stockDelta {
				if err := adjustClamped(ctx, tx, products[productID], d); err != nil {
					return err
				}
			}
			for _, line := range newLines {
				if err := setLinePricing(ctx, tx, products, line); err != nil {
					return err
				}
			}
			payment.Lines = newLines
		}

		payment.TotalAmountCents = req.TotalAmountCents
		payment.PaidAmountCents = req.PaidAmountCents
		payment.DueAmountCents = req.TotalAmountCents - req.PaidAmountCents
		payment.Status = paymentStatus(payment.DueAmountCents)
		if req.Notes != nil {
			payment.Notes = strings.TrimSpace(*req.Notes)
		}
		payment.UpdatedAt = now
		if err := tx.UpdatePayment(ctx, *payment); err != nil {
			return err
		}

		if delta > 0 {
			reason := supplierPaymentReason(payment.InvoiceNumber) + " (additional)"
			if _, err := tx.AppendWithdrawal(ctx, date, domain.Withdrawal{
				AmountCents: delta,
				Reason:      reason,
				Date:        now,
			}); err != nil {
				return err
			}
			if err := tx.InsertExpense(ctx, domain.Expense{
				ID:          xid.New("exp"),
				Date:        date,
				Category:    domain.ExpenseCategorySupplierPayment,
				AmountCents: delta,
				Note:        reason,
				CreatedAt:   now,
			}); err != nil {
				return err
			}
		}

		if change := outstanding(payment.DueAmountCents) - oldOutstanding; change != 0 {
			if _, err := tx.AdjustDue(ctx, payment.SupplierID, change); err != nil {
				return err
			}
		}
		updated = *payment
		return nil
	})
	if err != nil {
		return domain.SupplierPayment{}, err
	}

	s.logAudit(ctx, "supplier_payment.update", "supplier_payment", id,
		fmt.Sprintf("total=%d paid=%d delta=%d lines_replaced=%t", updated.TotalAmountCents, updated.PaidAmountCents, delta, req.Lines != nil))
	return updated, nil
}

// DeletePayment reverses the stock-in and restores the outstanding amount
// on the supplier. Cash already paid out stays withdrawn.
func (s *Service) DeletePayment(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)

	var deleted domain.SupplierPayment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		payment, err := tx.GetPaymentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if _, err := tx.GetSupplierForUpdate(ctx, payment.SupplierID); err != nil {
			return err
		}
		products, err := lockProducts(ctx, tx, paymentItems(payment.Lines))
		if err != nil {
			return err
		}

		for productID, qty := range quantityDelta(payment.Lines, nil) {
			if err := adjustClamped(ctx, tx, products[productID], qty); err != nil {
				return err
			}
		}
		if err := tx.DeletePayment(ctx, id); err != nil {
			return err
		}
		if due := outstanding(payment.DueAmountCents); due > 0 {
			if _, err := tx.AdjustDue(ctx, payment.SupplierID, due); err != nil {
				return err
			}
		}
		deleted = *payment
		return nil
	})
	if err != nil {
		return err
	}

	s.logAudit(ctx, "supplier_payment.delete", "supplier_payment", id,
		fmt.Sprintf("supplier=%s invoice=%s due_restored=%d paid_kept=%d",
			deleted.SupplierID, deleted.InvoiceNumber, outstanding(deleted.DueAmountCents), deleted.PaidAmountCents))
	return nil
}

func validatePaymentAmounts(paid int64, total int64) error {
	if paid < 0 {
		return fmt.Errorf("%w: paid amount must not be negative", store.ErrInvalidAmount)
	}
	if total < 0 {
		return fmt.Errorf("%w: total amount must not be negative", store.ErrInvalidAmount)
	}
	return nil
}

func normalizePaymentLines(lines []domain.PaymentLine) ([]domain.PaymentLine, error) {
	out := make([]domain.PaymentLine, 0, len(lines))
	for _, line := range lines {
		line.ProductID = strings.TrimSpace(line.ProductID)
		line.Description = strings.TrimSpace(line.Description)
		if line.ProductID == "" {
			return nil, fmt.Errorf("%w: line item without product", store.ErrInvalidTransaction)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: product %s quantity %d", store.ErrInvalidQuantity, line.ProductID, line.Quantity)
		}
		if line.UnitPriceCents < 0 || line.SellPriceCents < 0 {
			return nil, fmt.Errorf("%w: product %s has a negative price", store.ErrInvalidAmount, line.ProductID)
		}
		line.TotalPriceCents = line.UnitPriceCents * int64(line.Quantity)
		out = append(out, line)
	}
	return out, nil
}

func paymentItems(lines []domain.PaymentLine) []saleItem {
	items := make([]saleItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, saleItem{ProductID: line.ProductID, Quantity: line.Quantity})
	}
	return items
}

// quantityDelta is new minus old received quantity per product, zero
// entries dropped.
func quantityDelta(oldLines []domain.PaymentLine, newLines []domain.PaymentLine) map[string]int {
	delta := make(map[string]int, len(oldLines)+len(newLines))
	for _, line := range oldLines {
		delta[line.ProductID] -= line.Quantity
	}
	for _, line := range newLines {
		delta[line.ProductID] += line.Quantity
	}
	for productID, d := range delta {
		if d == 0 {
			delete(delta, productID)
		}
	}
	return delta
}

func applyReceivedLines(ctx context.Context, tx store.Tx, products map[string]domain.Product, lines []domain.PaymentLine) error {
	for _, line := range lines {
		if _, err := tx.AdjustQuantity(ctx, line.ProductID, line.Quantity); err != nil {
			return err
		}
		if err := setLinePricing(ctx, tx, products, line); err != nil {
			return err
		}
	}
	return nil
}

// setLinePricing overwrites the product's prices with the line's and keeps
// products in step, so a later line for the same product sees them.
func setLinePricing(ctx context.Context, tx store.Tx, products map[string]domain.Product, line domain.PaymentLine) error {
	product := products[line.ProductID]
	sell := line.SellPriceCents
	if sell == 0 {
		sell = product.SellPriceCents
	}
	if err := tx.SetPricing(ctx, line.ProductID, line.UnitPriceCents, sell); err != nil {
		return err
	}
	product.PurchasePriceCents = line.UnitPriceCents
	product.SellPriceCents = sell
	products[line.ProductID] = product
	return nil
}

// adjustClamped applies a stock delta; removals stop at zero because the
// received goods may already have been sold.
func adjustClamped(ctx context.Context, tx store.Tx, product domain.Product, delta int) error {
	if delta < 0 {
		current, err := tx.GetProductForUpdate(ctx, product.ID)
		if err != nil {
			return err
		}
		delta = -min(-delta, current.TotalQuantity)
	}
	if delta == 0 {
		return nil
	}
	_, err := tx.AdjustQuantity(ctx, product.ID, delta)
	return err
}

// ensureFunds checks the day's till before anything is written.
func ensureFunds(ctx context.Context, tx store.Tx, date string, amount int64) error {
	record, err := tx.GetHandCashForUpdate(ctx, date)
	if err != nil {
		if errors.Is(err, store.ErrNoRecordForDate) {
			return fmt.Errorf("%w: %w", store.ErrInsufficientFunds, err)
		}
		return err
	}
	if record.ClosingBalanceCents < amount {
		return fmt.Errorf("%w: hand cash %s has %d, payment needs %d",
			store.ErrInsufficientFunds, date, record.ClosingBalanceCents, amount)
	}
	return nil
}

func paymentStatus(due int64) string {
	if due <= 0 {
		return domain.PaymentStatusPaid
	}
	return domain.PaymentStatusPending
}

func outstanding(due int64) int64 {
	return max(due, 0)
}

func supplierPaymentReason(invoiceNumber string) string {
	return fmt.Sprintf("Payment to Supplier: Invoice #%s", invoiceNumber)
}
