package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/store"
	"tokoledger/backend/internal/xid"
)

func (s *Service) CreateSale(ctx context.Context, req domain.SaleCreateRequest) (domain.Sale, error) {
	transactionNo := strings.TrimSpace(req.TransactionNo)
	if transactionNo == "" {
		return domain.Sale{}, fmt.Errorf("%w: transaction number is required", store.ErrInvalidTransaction)
	}
	method := strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	if method == "" {
		method = domain.PaymentMethodCash
	}
	if !isSupportedPaymentMethod(method) {
		return domain.Sale{}, fmt.Errorf("%w: unsupported payment method %q", store.ErrInvalidTransaction, req.PaymentMethod)
	}
	if req.DiscountCents < 0 {
		return domain.Sale{}, fmt.Errorf("%w: discount must not be negative", store.ErrInvalidDiscount)
	}
	items, err := normalizeSaleLines(req.Lines)
	if err != nil {
		return domain.Sale{}, err
	}

	now := s.nowUTC()
	sale := domain.Sale{
		ID:              xid.New("sale"),
		TransactionNo:   transactionNo,
		DiscountCents:   req.DiscountCents,
		PaymentMethod:   method,
		CustomerName:    strings.TrimSpace(req.CustomerName),
		CustomerNumber:  strings.TrimSpace(req.CustomerNumber),
		CashierUsername: s.actorName(ctx),
		Returns:         []domain.SaleReturn{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		exists, err := tx.SaleExists(ctx, transactionNo)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: %s", store.ErrDuplicateTransactionNo, transactionNo)
		}

		products, err := lockProducts(ctx, tx, items)
		if err != nil {
			return err
		}

		lines := make([]domain.SaleLine, 0, len(items))
		total := int64(0)
		for _, item := range items {
			product := products[item.ProductID]
			if item.Quantity > product.TotalQuantity {
				return fmt.Errorf("%w: barcode %s has %d, requested %d",
					store.ErrInsufficientStock, product.Barcode, product.TotalQuantity, item.Quantity)
			}
			lineTotal := product.SellPriceCents * int64(item.Quantity)
			lines = append(lines, domain.SaleLine{
				ProductID:       product.ID,
				Barcode:         product.Barcode,
				Description:     product.Description,
				Quantity:        item.Quantity,
				UnitPriceCents:  product.SellPriceCents,
				TotalPriceCents: lineTotal,
			})
			total += lineTotal
		}
		if sale.DiscountCents > total {
			return fmt.Errorf("%w: discount %d exceeds total %d", store.ErrInvalidDiscount, sale.DiscountCents, total)
		}

		invoiceNo, err := s.nextInvoiceNo(ctx, tx)
		if err != nil {
			return err
		}

		for _, item := range items {
			if _, err := tx.AdjustQuantity(ctx, item.ProductID, -item.Quantity); err != nil {
				return err
			}
		}

		sale.InvoiceNo = invoiceNo
		sale.Lines = lines
		sale.TotalAmountCents = total
		sale.FinalAmountCents = total - sale.DiscountCents
		if err := tx.InsertSale(ctx, sale); err != nil {
			return err
		}

		if sale.PaymentMethod == domain.PaymentMethodCash && sale.FinalAmountCents > 0 {
			return s.accrueCashSales(ctx, tx, s.today(), sale.FinalAmountCents)
		}
		return nil
	})
	if err != nil {
		return domain.Sale{}, err
	}

	s.logAudit(ctx, "sale.create", "sale", sale.TransactionNo,
		fmt.Sprintf("invoice=%s final=%d method=%s", sale.InvoiceNo, sale.FinalAmountCents, sale.PaymentMethod))
	return sale, nil
}

// ReturnSale restores returned units to stock and shrinks the sale.
func (s *Service) ReturnSale(ctx context.Context, transactionNo string, req domain.SaleReturnRequest) (domain.SaleReturnResponse, error) {
	transactionNo = strings.TrimSpace(transactionNo)
	productID := strings.TrimSpace(req.ProductID)
	if req.Quantity <= 0 {
		return domain.SaleReturnResponse{}, fmt.Errorf("%w: return quantity must be positive", store.ErrInvalidQuantity)
	}

	var (
		updated domain.Sale
		refund  int64
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		sale, err := tx.GetSaleForUpdate(ctx, transactionNo)
		if err != nil {
			return err
		}
		idx := slices.IndexFunc(sale.Lines, func(line domain.SaleLine) bool {
			return line.ProductID == productID
		})
		if idx < 0 {
			return fmt.Errorf("%w: product %s is not part of sale %s", store.ErrNotFound, productID, transactionNo)
		}
		line := sale.Lines[idx]
		if req.Quantity > line.Quantity {
			return fmt.Errorf("%w: barcode %s sold %d, return requested %d",
				store.ErrInvalidQuantity, line.Barcode, line.Quantity, req.Quantity)
		}

		product, err := tx.GetProductForUpdate(ctx, productID)
		if err != nil {
			return err
		}

		lineReduction := line.UnitPriceCents * int64(req.Quantity)
		refund = lineReduction
		if s.refundPricing == domain.RefundPricingCurrent {
			refund = product.SellPriceCents * int64(req.Quantity)
		}

		if _, err := tx.AdjustQuantity(ctx, productID, req.Quantity); err != nil {
			return err
		}

		line.Quantity -= req.Quantity
		line.TotalPriceCents -= lineReduction
		if line.Quantity == 0 {
			sale.Lines = slices.Delete(sale.Lines, idx, idx+1)
		} else {
			sale.Lines[idx] = line
		}

		previousFinal := sale.FinalAmountCents
		sale.TotalAmountCents -= lineReduction
		if sale.DiscountCents > sale.TotalAmountCents {
			sale.DiscountCents = sale.TotalAmountCents
		}
		sale.FinalAmountCents = sale.TotalAmountCents - sale.DiscountCents
		refund = min(refund, previousFinal)

		now := s.nowUTC()
		sale.RefundedAmountCents += refund
		sale.Returns = append(sale.Returns, domain.SaleReturn{
			ProductID:    productID,
			Quantity:     req.Quantity,
			RefundCents:  refund,
			ReturnedBy:   s.actorName(ctx),
			ReturnedAt:   now,
			PricingBasis: s.refundPricing,
		})
		sale.UpdatedAt = now
		if err := tx.UpdateSale(ctx, *sale); err != nil {
			return err
		}
		updated = *sale

		if sale.PaymentMethod == domain.PaymentMethodCash && refund > 0 {
			return s.accrueCashSales(ctx, tx, s.saleDay(sale), -refund)
		}
		return nil
	})
	if err != nil {
		return domain.SaleReturnResponse{}, err
	}

	s.logAudit(ctx, "sale.return", "sale", transactionNo,
		fmt.Sprintf("product=%s qty=%d refund=%d basis=%s", productID, req.Quantity, refund, s.refundPricing))
	return domain.SaleReturnResponse{RefundedAmountCents: refund, Sale: updated}, nil
}

// DeleteSale removes a sale and puts the units it still holds back on the
// shelf.
func (s *Service) DeleteSale(ctx context.Context, transactionNo string, reason string) error {
	transactionNo = strings.TrimSpace(transactionNo)
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return fmt.Errorf("%w: delete reason is required", store.ErrInvalidTransaction)
	}

	var deleted domain.Sale
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		sale, err := tx.GetSaleForUpdate(ctx, transactionNo)
		if err != nil {
			return err
		}
		items := make([]saleItem, 0, len(sale.Lines))
		for _, line := range sale.Lines {
			items = append(items, saleItem{ProductID: line.ProductID, Quantity: line.Quantity})
		}
		if _, err := lockProducts(ctx, tx, items); err != nil {
			return err
		}
		for _, item := range items {
			if _, err := tx.AdjustQuantity(ctx, item.ProductID, item.Quantity); err != nil {
				return err
			}
		}
		if err := tx.DeleteSale(ctx, transactionNo); err != nil {
			return err
		}
		deleted = *sale

		if sale.PaymentMethod == domain.PaymentMethodCash && sale.FinalAmountCents > 0 {
			return s.accrueCashSales(ctx, tx, s.saleDay(sale), -sale.FinalAmountCents)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logAudit(ctx, "sale.delete", "sale", transactionNo,
		fmt.Sprintf("invoice=%s final=%d reason=%s", deleted.InvoiceNo, deleted.FinalAmountCents, reason))
	return nil
}

func (s *Service) GetSale(ctx context.Context, transactionNo string) (domain.Sale, error) {
	sale, err := s.repo.FindSaleByTransactionNo(ctx, strings.TrimSpace(transactionNo))
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

// ListSales returns the sales of one store-local day; empty date means today.
func (s *Service) ListSales(ctx context.Context, date string) ([]domain.Sale, error) {
	if strings.TrimSpace(date) == "" {
		date = s.today()
	}
	day, err := time.ParseInLocation(domain.DateLayout, date, s.location)
	if err != nil {
		return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", store.ErrInvalidTransaction)
	}
	return s.repo.ListSales(ctx, day.UTC(), day.AddDate(0, 0, 1).UTC())
}

// nextInvoiceNo draws from the per-day sequencer. The first collision means
// the counter fell behind the stored sales (a flushed Redis, a new
// process), so it is raised past the day's highest invoice before drawing
// again.
func (s *Service) nextInvoiceNo(ctx context.Context, tx store.Tx) (string, error) {
	day := s.now().In(s.location).Format("20060102")
	prefix := fmt.Sprintf("%s-%s-", s.invoicePrefix, day)
	reseeded := false
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		n, err := s.invoices.Next(ctx, day)
		if err != nil {
			return "", fmt.Errorf("invoice sequence: %w", err)
		}
		invoiceNo := fmt.Sprintf("%s%06d", prefix, n)
		exists, err := tx.InvoiceNoExists(ctx, invoiceNo)
		if err != nil {
			return "", err
		}
		if !exists {
			return invoiceNo, nil
		}
		s.logger.WarnContext(ctx, "invoice number collision", "invoice_no", invoiceNo, "attempt", attempt+1)
		if reseeded {
			continue
		}
		reseeded = true
		highest, err := tx.MaxInvoiceSeq(ctx, prefix)
		if err != nil {
			return "", err
		}
		if err := s.invoices.Reseed(ctx, day, highest); err != nil {
			return "", fmt.Errorf("invoice sequence reseed: %w", err)
		}
	}
	return "", fmt.Errorf("%w: no free invoice number after %d attempts", store.ErrExhaustedRetries, s.maxAttempts)
}

// saleDay is the hand cash day a sale's cash was accrued to.
func (s *Service) saleDay(sale *domain.Sale) string {
	return sale.CreatedAt.In(s.location).Format(domain.DateLayout)
}

// accrueCashSales moves a day's cash sales total. Sales never block on a
// day that was not opened.
func (s *Service) accrueCashSales(ctx context.Context, tx store.Tx, date string, deltaCents int64) error {
	if _, err := tx.AdjustTotalSales(ctx, date, deltaCents); err != nil {
		if errors.Is(err, store.ErrNoRecordForDate) {
			s.logger.WarnContext(ctx, "hand cash day not opened; cash sales not accrued", "date", date, "delta_cents", deltaCents)
			return nil
		}
		return err
	}
	return nil
}

type saleItem struct {
	ProductID string
	Quantity  int
}

// normalizeSaleLines merges repeated products, keeping first-seen order.
func normalizeSaleLines(lines []domain.SaleLineRequest) ([]saleItem, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: at least one line item is required", store.ErrInvalidTransaction)
	}
	index := make(map[string]int, len(lines))
	items := make([]saleItem, 0, len(lines))
	for _, line := range lines {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			return nil, fmt.Errorf("%w: line item without product", store.ErrInvalidTransaction)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: product %s quantity %d", store.ErrInvalidQuantity, productID, line.Quantity)
		}
		if i, ok := index[productID]; ok {
			items[i].Quantity += line.Quantity
			continue
		}
		index[productID] = len(items)
		items = append(items, saleItem{ProductID: productID, Quantity: line.Quantity})
	}
	return items, nil
}

// lockProducts takes row locks in id order so two transactions touching the
// same products cannot deadlock.
func lockProducts(ctx context.Context, tx store.Tx, items []saleItem) (map[string]domain.Product, error) {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	slices.Sort(ids)
	ids = slices.Compact(ids)

	products := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		product, err := tx.GetProductForUpdate(ctx, id)
		if err != nil {
			return nil, err
		}
		products[id] = *product
	}
	return products, nil
}

func isSupportedPaymentMethod(method string) bool {
	switch method {
	case domain.PaymentMethodCash, domain.PaymentMethodCard, domain.PaymentMethodTransfer, domain.PaymentMethodEWallet:
		return true
	default:
		return false
	}
}
