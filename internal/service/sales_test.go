package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/sequence"
	"tokoledger/backend/internal/store"
)

func saleRequest(txNo string, productID string, qty int) domain.SaleCreateRequest {
	return domain.SaleCreateRequest{
		TransactionNo: txNo,
		Lines:         []domain.SaleLineRequest{{ProductID: productID, Quantity: qty}},
		PaymentMethod: domain.PaymentMethodCash,
		CustomerName:  "Budi",
	}
}

func TestCreateSaleDecrementsStockAndComputesTotals(t *testing.T) {
	f := newTestService(t)
	product := f.product(t, "A-001", 10, 5)

	sale, err := f.svc.CreateSale(f.ctx, saleRequest("TRX-1", product.ID, 2))
	require.NoError(t, err)

	require.Equal(t, int64(20), sale.TotalAmountCents)
	require.Equal(t, int64(20), sale.FinalAmountCents)
	require.Len(t, sale.Lines, 1)
	require.Equal(t, int64(10), sale.Lines[0].UnitPriceCents)
	require.Equal(t, int64(20), sale.Lines[0].TotalPriceCents)
	require.Equal(t, "INV-20261016-000001", sale.InvoiceNo)
	require.Equal(t, 3, f.quantity(t, product.ID))
}

func TestCreateSaleInsufficientStockLeavesStockUntouched(t *testing.T) {
	f := newTestService(t)
	product := f.product(t, "A-001", 10, 5)

	_, err := f.svc.CreateSale(f.ctx, saleRequest("TRX-1", product.ID, 6))
	require.ErrorIs(t, err, store.ErrInsufficientStock)
	require.Contains(t, err.Error(), "A-001")
	require.Equal(t, 5, f.quantity(t, product.ID))

	_, err = f.svc.GetSale(f.ctx, "TRX-1")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateSaleValidatesEveryLineBeforeWriting(t *testing.T) {
	f := newTestService(t)
	plenty := f.product(t, "A-001", 10, 50)
	scarce := f.product(t, "A-002", 10, 1)

	_, err := f.svc.CreateSale(f.ctx, domain.SaleCreateRequest{
		TransactionNo: "TRX-1",
		Lines: []domain.SaleLineRequest{
			{ProductID: plenty.ID, Quantity: 3},
			{ProductID: scarce.ID, Quantity: 2},
		},
	})
	require.ErrorIs(t, err, store.ErrInsufficientStock)
	require.Equal(t, 50, f.quantity(t, plenty.ID))
	require.Equal(t, 1, f.quantity(t, scarce.ID))
}

func TestCreateSaleRejectsUnknownProductAndBadInput(t *testing.T) {
	f := newTestService(t)
	product := f.product(t, "A-001", 10, 5)

	_, err := f.svc.CreateSale(f.ctx, saleRequest("TRX-1", "prd-missing", 1))
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = f.svc.CreateSale(f.ctx, saleRequest("TRX-2", product.ID, 0))
	require.ErrorIs(t, err, store.ErrInvalidQuantity)

	_, err = f.svc.CreateSale(f.ctx, domain.SaleCreateRequest{TransactionNo: "TRX-3"})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)

	req := saleRequest("TRX-4", product.ID, 1)
	req.DiscountCents = 11
	_, err = f.svc.CreateSale(f.ctx, req)
	require.ErrorIs(t, err, store.ErrInvalidDiscount)

	req.DiscountCents = -1
	_, err = f.svc.CreateSale(f.ctx, req)
	require.ErrorIs(t, err, store.ErrInvalidDiscount)

	require.Equal(t, 5, f.quantity(t, product.ID))
}

func TestCreateSaleMergesRepeatedProducts(t *testing.T) {
	f := newTestService(t)
	product := f.product(t, "A-001", 10, 5)

	_, err := f.svc.CreateSale(f.ctx, domain.SaleCreateRequest{
		TransactionNo: "TRX-1",
		Lines: []domain.SaleLineRequest{
			{ProductID: product.ID, Quantity: 3},
			{ProductID: product.ID, Quantity: 3},
		},
	})
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	sale, err := f.svc.CreateSale(f.ctx, domain.SaleCreateRequest{
		TransactionNo: "TRX-2",
		Lines: []domain.SaleLineRequest{
			{ProductID: product.ID, Quantity: 2},
			{ProductID: product.ID, Quantity: 1},
		},
		DiscountCents: 5,
	})
	require.NoError(t, err)
	require.Len(t, sale.Lines, 1)
	require.Equal(t, 3, sale.Lines[0].Quantity)
	require.Equal(t, int64(30), sale.TotalAmountCents)
	require.Equal(t, int64(25), sale.FinalAmountCents)
}

func TestCreateSaleDuplicateTransactionNo(t *testing.T) {
	f := newTestService(t)
	product := f.product(t, "A-001", 10, 100)

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		dupes     int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CreateSale(f.ctx, saleRequest("TRX-SAME", product.ID, 1))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, store.ErrDuplicateTransactionNo):
				dupes++
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, succeeded)
	require.Equal(t, attempts-1, dupes)
	require.Equal(t, 99, f.quantity(t, product.ID))
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	f := newTestService(t)
	product := f.product(t, "A-001", 10, 5)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = f.svc.CreateSale(f.ctx, saleRequest(fmt.Sprintf("TRX-%d", i), product.ID, 1))
		}(i)
	}
	wg.Wait()

	require.Equal(t, 0, f.quantity(t, product.ID))
	sales, err := f.svc.ListSales(f.ctx, testDay)
	require.NoError(t, err)
	require.Len(t, sales, 5)

	invoices := make(map[string]bool)
	for _, sale := range sales {
		require.False(t, invoices[sale.InvoiceNo], "duplicate invoice %s", sale.InvoiceNo)
		invoices[sale.InvoiceNo] = true
	}
}

type stuckSequencer struct{}

func (stuckSequencer) Next(context.Context, string) (int64, error) { return 1, nil }

func (stuckSequencer) Reseed(context.Context, string, int64) error { return nil }

func TestInvoiceGenerationExhaustsRetries(t *testing.T) {
	f := newTestService(t)
	f.svc.invoices = stuckSequencer{}
	product := f.product(t, "A-001", 10, 5)

	_, err := f.svc.CreateSale(f.ctx, saleRequest("TRX-1", product.ID, 1))
	require.NoError(t, err)

	_, err = f.svc.CreateSale(f.ctx, saleRequest("TRX-2", product.ID, 1))
	require.ErrorIs(t, err, store.ErrExhaustedRetries)
	require.Equal(t, 4, f.quantity(t, product.ID))
}

func TestInvoiceSequenceRecoversAfterCounterReset(t *testing.T) {
	f := newTestService(t)
	product := f.product(t, "A-001", 10, 30)

	for i := 1; i <= 20; i++ {
		_, err := f.svc.CreateSale(f.ctx, saleRequest(fmt.Sprintf("TRX-%d", i), product.ID, 1))
		require.NoError(t, err)
	}

	// A fresh counter starts again at 1 for a day that already has sales.
	f.svc.invoices = sequence.NewMemory()

	sale, err := f.svc.CreateSale(f.ctx, saleRequest("TRX-21", product.ID, 1))
	require.NoError(t, err)
	require.Equal(t, "INV-20261016-000021", sale.InvoiceNo)

	sale, err = f.svc.CreateSale(f.ctx, saleRequest("TRX-22", product.ID, 1))
	require.NoError(t, err)
	require.Equal(t, "INV-20261016-000022", sale.InvoiceNo)
	require.Equal(t, 8, f.quantity(t, product.ID))
}

func TestReturnSaleRestoresStockAndRefunds(t *testing.T) {
	f := newTestService(t)
	product := f.product(t, "A-001", 10, 5)
	_, err := f.svc.CreateSale(f.ctx, saleRequest("TRX-1", product.ID, 2))
	require.NoError(t, err)

	resp, err := f.svc.ReturnSale(f.ctx, "TRX-1", domain.SaleReturnRequest{ProductID: product.ID, Quantity: 1})
	require.NoError(t, err)

	require.Equal(t, int64(10), resp.RefundedAmountCents)
	require.Len(t, resp.Sale.Lines, 1)
	require.Equal(t, 1, resp.Sale.Lines[0].Quantity)
	require.Equal(t, int64(10), resp.Sale.Lines[0].TotalPriceCents)
	require.Equal(t, int64(10), resp.Sale.TotalAmountCents)
	require.Equal(t, int64(10), resp.Sale.FinalAmountCents)
	require.Equal(t, int64(10), resp.Sale.RefundedAmountCents)
	require.Len(t, resp.Sale.Returns, 1)
	require.Equal(t, 4, f.quantity(t, product.ID))
}

func TestReturnSaleRejectsBadQuantitiesAndUnknownLines(t *testing.T) {
	f := newTestService(t)
	product := f.product(t, "A-001", 10, 5)
	other := f.product(t, "A-002", 10, 5)
	_, err := f.svc.CreateSale(f.ctx, saleRequest("TRX-1", product.ID, 2))
	require.NoError(t, err)

	_, err = f.svc.ReturnSale(f.ctx, "TRX-1", domain.SaleReturnRequest{ProductID: product.ID, Quantity: 3})
	require.ErrorIs(t, err, store.ErrInvalidQuantity)
	_, err = f.svc.ReturnSale(f.ctx, "TRX-1", domain.SaleReturnRequest{ProductID: product.ID, Quantity: 0})
	require.ErrorIs(t, err, store.ErrInvalidQuantity)
	_, err = f.svc.ReturnSale(f.ctx, "TRX-1", domain.SaleReturnRequest{ProductID: other.ID, Quantity: 1})
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = f.svc.ReturnSale(f.ctx, "TRX-404", domain.SaleReturnRequest{ProductID: product.ID, Quantity: 1})
	require.ErrorIs(t, err, store.ErrNotFound)

	require.Equal(t, 3, f.quantity(t, product.ID))
}

func TestReturnSaleRemovesFullyReturnedLine(t *testing.T) {
	f := newTestService(t)
	a := f.product(t, "A-001", 10, 5)
	b := f.product(t, "A-002", 7, 5)
	_, err := f.svc.CreateSale(f.ctx, domain.SaleCreateRequest{
		TransactionNo: "TRX-1",
		Lines: []domain.SaleLineRequest{
			{ProductID: a.ID, Quantity: 2},
			{ProductID: b.ID, Quantity: 1},
		},
	})
	require.NoError(t, err)

	resp, err := f.svc.ReturnSale(f.ctx, "TRX-1", domain.SaleReturnRequest{ProductID: a.ID, Quantity: 2})
	require.NoError(t, err)
	require.Len(t, resp.Sale.Lines, 1)
	require.Equal(t, b.ID, resp.Sale.Lines[0].ProductID)
	require.Equal(t, int64(7), resp.Sale.TotalAmountCents)
	require.Equal(t, 5, f.quantity(t, a.ID))
}

func TestReturnSaleRefundPricingPolicies(t *testing.T) {
	for _, tc := range []struct {
		policy     string
		wantRefund int64
	}{
		{policy: domain.RefundPricingSaleTime, wantRefund: 10},
		{policy: domain.RefundPricingCurrent, wantRefund: 15},
	} {
		t.Run(tc.policy, func(t *testing.T) {
			f := newFixture(t, Options{RefundPricing: tc.policy})
			product := f.product(t, "A-001", 10, 5)
			_, err := f.svc.CreateSale(f.ctx, saleRequest("TRX-1", product.ID, 2))
			require.NoError(t, err)

			sell := int64(15)
			_, err = f.svc.StockIn(f.ctx, product.ID, domain.StockInRequest{Quantity: 1, SellPriceCents: &sell})
			require.NoError(t, err)

			resp, err := f.svc.ReturnSale(f.ctx, "TRX-1", domain.SaleReturnRequest{ProductID: product.ID, Quantity: 1})
			require.NoError(t, err)
			require.Equal(t, tc.wantRefund, resp.RefundedAmountCents)
			// The sale itself always shrinks by the sale-time price.
			require.Equal(t, int64(10), resp.Sale.TotalAmountCents)
			require.Equal(t, int64(10), resp.Sale.Lines[0].TotalPriceCents)
		})
	}
}

func TestReturnSaleKeepsFinalAmountNonNegative(t *testing.T) {
	f := newTestService(t)
	product := f.product(t, "A-001", 10, 5)
	req := saleRequest("TRX-1", product.ID, 2)
	req.DiscountCents = 15
	sale, err := f.svc.CreateSale(f.ctx, req)
	require.NoError(t, err)
	require.Equal(t, int64(5), sale.FinalAmountCents)

	resp, err := f.svc.ReturnSale(f.ctx, "TRX-1", domain.SaleReturnRequest{ProductID: product.ID, Quantity: 1})
	require.NoError(t, err)
	require.Equal(t, int64(10), resp.Sale.TotalAmountCents)
	require.Equal(t, int64(10), resp.Sale.DiscountCents)
	require.Equal(t, int64(0), resp.Sale.FinalAmountCents)
	require.Equal(t, int64(5), resp.RefundedAmountCents)
}

func TestStockConservationAcrossSalesAndReturns(t *testing.T) {
	f := newTestService(t)
	product := f.product(t, "A-001", 10, 20)

	sold, returned := 0, 0
	for i, qty := range []int{3, 1, 4, 2} {
		txNo := fmt.Sprintf("TRX-%d", i)
		_, err := f.svc.CreateSale(f.ctx, saleRequest(txNo, product.ID, qty))
		require.NoError(t, err)
		sold += qty
		if qty > 1 {
			_, err := f.svc.ReturnSale(f.ctx, txNo, domain.SaleReturnRequest{ProductID: product.ID, Quantity: qty - 1})
			require.NoError(t, err)
			returned += qty - 1
		}
	}

	require.Equal(t, 20-sold+returned, f.quantity(t, product.ID))

	sales, err := f.svc.ListSales(f.ctx, testDay)
	require.NoError(t, err)
	for _, sale := range sales {
		sum := int64(0)
		for _, line := range sale.Lines {
			sum += line.TotalPriceCents
		}
		require.Equal(t, sum, sale.TotalAmountCents)
		require.Equal(t, sale.TotalAmountCents-sale.DiscountCents, sale.FinalAmountCents)
	}
}

func TestCashSalesAccrueOnOpenDay(t *testing.T) {
	f := newTestService(t)
	product := f.product(t, "A-001", 10, 5)

	// No open day: the sale still goes through.
	_, err := f.svc.CreateSale(f.ctx, saleRequest("TRX-0", product.ID, 1))
	require.NoError(t, err)

	f.openDay(t, 1000)
	_, err = f.svc.CreateSale(f.ctx, saleRequest("TRX-1", product.ID, 2))
	require.NoError(t, err)
	card := saleRequest("TRX-2", product.ID, 1)
	card.PaymentMethod = domain.PaymentMethodCard
	_, err = f.svc.CreateSale(f.ctx, card)
	require.NoError(t, err)

	day := f.day(t)
	require.Equal(t, int64(20), day.TotalSalesCents)
	require.Equal(t, int64(1000), day.ClosingBalanceCents)

	_, err = f.svc.ReturnSale(f.ctx, "TRX-1", domain.SaleReturnRequest{ProductID: product.ID, Quantity: 1})
	require.NoError(t, err)
	require.Equal(t, int64(10), f.day(t).TotalSalesCents)
}

func TestDeleteSaleRestoresRemainingStock(t *testing.T) {
	f := newTestService(t)
	product := f.product(t, "A-001", 10, 5)
	_, err := f.svc.CreateSale(f.ctx, saleRequest("TRX-1", product.ID, 3))
	require.NoError(t, err)
	_, err = f.svc.ReturnSale(f.ctx, "TRX-1", domain.SaleReturnRequest{ProductID: product.ID, Quantity: 1})
	require.NoError(t, err)

	require.ErrorIs(t, f.svc.DeleteSale(f.ctx, "TRX-1", ""), store.ErrInvalidTransaction)
	require.NoError(t, f.svc.DeleteSale(f.ctx, "TRX-1", "salah input"))

	require.Equal(t, 5, f.quantity(t, product.ID))
	_, err = f.svc.GetSale(f.ctx, "TRX-1")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.ErrorIs(t, f.svc.DeleteSale(f.ctx, "TRX-1", "again"), store.ErrNotFound)

	// The transaction number is free again.
	_, err = f.svc.CreateSale(f.ctx, saleRequest("TRX-1", product.ID, 1))
	require.NoError(t, err)
}

func TestReturnOnLaterDayReversesTheSaleDay(t *testing.T) {
	f := newTestService(t)
	product := f.product(t, "A-001", 10, 5)
	f.openDay(t, 1000)

	_, err := f.svc.CreateSale(f.ctx, saleRequest("TRX-1", product.ID, 2))
	require.NoError(t, err)
	require.Equal(t, int64(20), f.day(t).TotalSalesCents)

	f.svc.now = func() time.Time { return testNow.AddDate(0, 0, 1) }
	_, err = f.svc.OpenDay(f.ctx, domain.HandCashOpenRequest{Date: "2026-10-17", OpeningBalanceCents: 1000})
	require.NoError(t, err)

	_, err = f.svc.ReturnSale(f.ctx, "TRX-1", domain.SaleReturnRequest{ProductID: product.ID, Quantity: 1})
	require.NoError(t, err)

	require.Equal(t, int64(10), f.day(t).TotalSalesCents)
	next, err := f.svc.GetDay(f.ctx, "2026-10-17")
	require.NoError(t, err)
	require.Equal(t, int64(0), next.TotalSalesCents)
}

func TestDeleteSaleReversesCashAccrual(t *testing.T) {
	f := newTestService(t)
	product := f.product(t, "A-001", 10, 5)
	f.openDay(t, 1000)

	_, err := f.svc.CreateSale(f.ctx, saleRequest("TRX-1", product.ID, 3))
	require.NoError(t, err)
	_, err = f.svc.CreateSale(f.ctx, saleRequest("TRX-2", product.ID, 1))
	require.NoError(t, err)
	require.Equal(t, int64(40), f.day(t).TotalSalesCents)

	// Deleted the next morning, the reversal still lands on the sale's day.
	f.svc.now = func() time.Time { return testNow.AddDate(0, 0, 1) }
	require.NoError(t, f.svc.DeleteSale(f.ctx, "TRX-1", "salah input"))

	day := f.day(t)
	require.Equal(t, int64(10), day.TotalSalesCents)
	require.Equal(t, int64(1000), day.ClosingBalanceCents)
	require.Equal(t, 4, f.quantity(t, product.ID))
}
