package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/sequence"
	"tokoledger/backend/internal/store/memory"
)

var testNow = time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)

const testDay = "2026-10-16"

type fixture struct {
	svc  *Service
	repo *memory.Store
	ctx  context.Context
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	repo := memory.New()
	if opts.Now == nil {
		opts.Now = func() time.Time { return testNow }
	}
	svc := New(repo, sequence.NewMemory(), opts)
	ctx := WithActor(context.Background(), domain.Actor{Username: "admin", Role: domain.RoleAdmin})
	return &fixture{svc: svc, repo: repo, ctx: ctx}
}

func newTestService(t *testing.T) *fixture {
	return newFixture(t, Options{})
}

func (f *fixture) product(t *testing.T, barcode string, sellPrice int64, qty int) domain.Product {
	t.Helper()
	product, err := f.svc.CreateProduct(f.ctx, domain.ProductCreateRequest{
		Barcode:            barcode,
		Description:        "Product " + barcode,
		PurchasePriceCents: sellPrice / 2,
		SellPriceCents:     sellPrice,
		InitialQuantity:    qty,
	})
	require.NoError(t, err)
	return product
}

func (f *fixture) supplier(t *testing.T, due int64) domain.Supplier {
	t.Helper()
	supplier, err := f.svc.CreateSupplier(f.ctx, domain.SupplierCreateRequest{Name: "CV Maju", DueAmountCents: due})
	require.NoError(t, err)
	return supplier
}

func (f *fixture) openDay(t *testing.T, opening int64) domain.HandCash {
	t.Helper()
	record, err := f.svc.OpenDay(f.ctx, domain.HandCashOpenRequest{Date: testDay, OpeningBalanceCents: opening})
	require.NoError(t, err)
	return record
}

func (f *fixture) quantity(t *testing.T, productID string) int {
	t.Helper()
	product, err := f.svc.GetProduct(f.ctx, productID)
	require.NoError(t, err)
	return product.TotalQuantity
}

func (f *fixture) due(t *testing.T, supplierID string) int64 {
	t.Helper()
	supplier, err := f.svc.GetSupplier(f.ctx, supplierID)
	require.NoError(t, err)
	return supplier.DueAmountCents
}

func (f *fixture) day(t *testing.T) domain.HandCash {
	t.Helper()
	record, err := f.svc.GetDay(f.ctx, testDay)
	require.NoError(t, err)
	return record
}

func TestCreateProductRejectsDuplicateBarcode(t *testing.T) {
	f := newTestService(t)
	f.product(t, "899100", 1000, 1)

	_, err := f.svc.CreateProduct(f.ctx, domain.ProductCreateRequest{Barcode: "899100", Description: "Again"})
	require.Error(t, err)

	found, err := f.svc.GetProductByBarcode(f.ctx, "899100")
	require.NoError(t, err)
	require.Equal(t, "Product 899100", found.Description)
}

func TestStockInIncrementsAndRefreshesPricing(t *testing.T) {
	f := newTestService(t)
	product := f.product(t, "899101", 1000, 2)
	sell := int64(1200)

	resp, err := f.svc.StockIn(f.ctx, product.ID, domain.StockInRequest{Quantity: 5, SellPriceCents: &sell, Note: "rak belakang"})
	require.NoError(t, err)
	require.Equal(t, 7, resp.Product.TotalQuantity)
	require.Equal(t, int64(1200), resp.Product.SellPriceCents)
	require.Equal(t, int64(500), resp.Product.PurchasePriceCents)
	require.Equal(t, "admin", resp.Entry.CreatedBy)

	_, err = f.svc.StockIn(f.ctx, product.ID, domain.StockInRequest{Quantity: 0})
	require.Error(t, err)
	require.Equal(t, 7, f.quantity(t, product.ID))
}

func TestAuditLogRecordsActor(t *testing.T) {
	f := newTestService(t)
	f.product(t, "899102", 1000, 1)

	logs, err := f.svc.ListAuditLogs(f.ctx, 10)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	require.Equal(t, "product.create", logs[0].Action)
	require.Equal(t, "admin", logs[0].ActorUsername)
}
