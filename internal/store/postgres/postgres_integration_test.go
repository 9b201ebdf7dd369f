package postgres

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/service"
	"tokoledger/backend/internal/store"
)

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("TOKOLEDGER_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set TOKOLEDGER_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})
	require.NoError(t, s.EnsureSchema(ctx))
	return s
}

func TestSaleAndReturnRoundTrip(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := service.WithActor(context.Background(), domain.Actor{Username: "it", Role: domain.RoleAdmin})
	stamp := time.Now().UnixNano()
	barcode := fmt.Sprintf("IT-%d", stamp)
	txNo := fmt.Sprintf("TRX-IT-%d", stamp)

	svc := service.New(s, s, service.Options{InvoicePrefix: fmt.Sprintf("IT%d", stamp%100000)})
	product, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{
		Barcode: barcode, Description: "Produk IT", SellPriceCents: 1500, InitialQuantity: 10,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(context.Background(), `DELETE FROM sales WHERE transaction_no = $1`, txNo)
		_, _ = s.db.ExecContext(context.Background(), `DELETE FROM stock_ins WHERE product_id = $1`, product.ID)
		_, _ = s.db.ExecContext(context.Background(), `DELETE FROM products WHERE id = $1`, product.ID)
	})

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		TransactionNo: txNo,
		Lines:         []domain.SaleLineRequest{{ProductID: product.ID, Quantity: 4}},
		DiscountCents: 500,
		PaymentMethod: domain.PaymentMethodCard,
	})
	require.NoError(t, err)
	require.Equal(t, int64(5500), sale.FinalAmountCents)

	_, err = svc.CreateSale(ctx, domain.SaleCreateRequest{
		TransactionNo: txNo,
		Lines:         []domain.SaleLineRequest{{ProductID: product.ID, Quantity: 1}},
		PaymentMethod: domain.PaymentMethodCard,
	})
	require.ErrorIs(t, err, store.ErrDuplicateTransactionNo)

	resp, err := svc.ReturnSale(ctx, txNo, domain.SaleReturnRequest{ProductID: product.ID, Quantity: 1})
	require.NoError(t, err)
	require.Equal(t, int64(1500), resp.RefundedAmountCents)

	stored, err := s.FindSaleByTransactionNo(ctx, txNo)
	require.NoError(t, err)
	require.Len(t, stored.Returns, 1)
	require.Equal(t, 3, stored.Lines[0].Quantity)

	current, err := s.GetProductByID(ctx, product.ID)
	require.NoError(t, err)
	require.Equal(t, 7, current.TotalQuantity)
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := service.WithActor(context.Background(), domain.Actor{Username: "it", Role: domain.RoleAdmin})
	stamp := time.Now().UnixNano()

	svc := service.New(s, s, service.Options{InvoicePrefix: fmt.Sprintf("OS%d", stamp%100000)})
	product, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{
		Barcode: fmt.Sprintf("OS-%d", stamp), Description: "Produk OS", SellPriceCents: 100, InitialQuantity: 5,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(context.Background(), `DELETE FROM sales WHERE transaction_no LIKE $1`, fmt.Sprintf("TRX-OS-%d-%%", stamp))
		_, _ = s.db.ExecContext(context.Background(), `DELETE FROM products WHERE id = $1`, product.ID)
	})

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
				TransactionNo: fmt.Sprintf("TRX-OS-%d-%d", stamp, i),
				Lines:         []domain.SaleLineRequest{{ProductID: product.ID, Quantity: 1}},
				PaymentMethod: domain.PaymentMethodCard,
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	current, err := s.GetProductByID(ctx, product.ID)
	require.NoError(t, err)
	require.Equal(t, 5, succeeded)
	require.Equal(t, 0, current.TotalQuantity)
}

func TestHandCashWithdrawalsAndRollover(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	day := fmt.Sprintf("2099-%02d-%02d", time.Now().Nanosecond()%12+1, time.Now().Nanosecond()%27+1)
	next, err := time.Parse(domain.DateLayout, day)
	require.NoError(t, err)
	nextDay := next.AddDate(0, 0, 1).Format(domain.DateLayout)
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM hand_cash_withdrawals WHERE day IN ($1::date, $2::date)`, day, nextDay)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM hand_cash WHERE day IN ($1::date, $2::date)`, day, nextDay)
	})

	svc := service.New(s, s, service.Options{})
	_, err = svc.OpenDay(ctx, domain.HandCashOpenRequest{Date: day, OpeningBalanceCents: 1000})
	require.NoError(t, err)
	_, err = svc.OpenDay(ctx, domain.HandCashOpenRequest{Date: day, OpeningBalanceCents: 1})
	require.ErrorIs(t, err, store.ErrDayAlreadyOpen)

	record, err := svc.Withdraw(ctx, day, domain.WithdrawalRequest{AmountCents: 400, Reason: "setor"})
	require.NoError(t, err)
	require.Equal(t, int64(600), record.ClosingBalanceCents)
	require.Len(t, record.Withdrawals, 1)

	_, err = svc.Withdraw(ctx, day, domain.WithdrawalRequest{AmountCents: 601, Reason: "lebih"})
	require.ErrorIs(t, err, store.ErrInsufficientFunds)

	rolled, err := svc.RolloverDay(ctx, day)
	require.NoError(t, err)
	require.Equal(t, nextDay, rolled.Date)
	require.Equal(t, int64(600), rolled.OpeningBalanceCents)
}

func TestInvoiceSequenceIsMonotonic(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	key := fmt.Sprintf("it-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM invoice_sequences WHERE key = $1`, key)
	})

	first, err := s.Next(ctx, key)
	require.NoError(t, err)
	second, err := s.Next(ctx, key)
	require.NoError(t, err)
	require.Equal(t, first+1, second)
}

func TestInvoiceSequenceReseedOnlyRaises(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	key := fmt.Sprintf("it-reseed-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM invoice_sequences WHERE key = $1`, key)
	})

	require.NoError(t, s.Reseed(ctx, key, 20))
	n, err := s.Next(ctx, key)
	require.NoError(t, err)
	require.Equal(t, int64(21), n)

	require.NoError(t, s.Reseed(ctx, key, 3))
	n, err = s.Next(ctx, key)
	require.NoError(t, err)
	require.Equal(t, int64(22), n)
}
