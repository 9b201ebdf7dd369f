package service

import (
	"context"
	"fmt"
	"strings"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/store"
	"tokoledger/backend/internal/xid"
)

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	product, err := s.repo.GetProductByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) GetProductByBarcode(ctx context.Context, barcode string) (domain.Product, error) {
	product, err := s.repo.GetProductByBarcode(ctx, strings.TrimSpace(barcode))
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	req.Barcode = strings.TrimSpace(req.Barcode)
	req.Description = strings.TrimSpace(req.Description)
	if req.Barcode == "" || req.Description == "" {
		return domain.Product{}, store.ErrInvalidTransaction
	}
	if req.PurchasePriceCents < 0 || req.SellPriceCents < 0 {
		return domain.Product{}, fmt.Errorf("%w: prices must not be negative", store.ErrInvalidAmount)
	}
	if req.InitialQuantity < 0 {
		return domain.Product{}, fmt.Errorf("%w: initial quantity must not be negative", store.ErrInvalidQuantity)
	}

	now := s.nowUTC()
	product := domain.Product{
		ID:                 xid.New("prd"),
		Barcode:            req.Barcode,
		Description:        req.Description,
		Category:           strings.TrimSpace(req.Category),
		Brand:              strings.TrimSpace(req.Brand),
		PurchasePriceCents: req.PurchasePriceCents,
		SellPriceCents:     req.SellPriceCents,
		TotalQuantity:      req.InitialQuantity,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateProduct(ctx, product)
	}); err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product.create", "product", product.ID, fmt.Sprintf("barcode=%s qty=%d", product.Barcode, product.TotalQuantity))
	return product, nil
}

// StockIn receives goods outside a supplier payment.
func (s *Service) StockIn(ctx context.Context, productID string, req domain.StockInRequest) (domain.StockInResponse, error) {
	productID = strings.TrimSpace(productID)
	if req.Quantity <= 0 {
		return domain.StockInResponse{}, fmt.Errorf("%w: stock-in quantity must be positive", store.ErrInvalidQuantity)
	}
	if (req.PurchasePriceCents != nil && *req.PurchasePriceCents < 0) || (req.SellPriceCents != nil && *req.SellPriceCents < 0) {
		return domain.StockInResponse{}, fmt.Errorf("%w: prices must not be negative", store.ErrInvalidAmount)
	}

	entry := domain.StockIn{
		ID:        xid.New("stk"),
		ProductID: productID,
		Quantity:  req.Quantity,
		Note:      strings.TrimSpace(req.Note),
		CreatedBy: s.actorName(ctx),
		CreatedAt: s.nowUTC(),
	}

	var updated *domain.Product
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		product, err := tx.GetProductForUpdate(ctx, productID)
		if err != nil {
			return err
		}
		if req.PurchasePriceCents != nil || req.SellPriceCents != nil {
			purchase, sell := product.PurchasePriceCents, product.SellPriceCents
			if req.PurchasePriceCents != nil {
				purchase = *req.PurchasePriceCents
			}
			if req.SellPriceCents != nil {
				sell = *req.SellPriceCents
			}
			if err := tx.SetPricing(ctx, productID, purchase, sell); err != nil {
				return err
			}
		}
		updated, err = tx.AdjustQuantity(ctx, productID, req.Quantity)
		if err != nil {
			return err
		}
		return tx.InsertStockIn(ctx, entry)
	})
	if err != nil {
		return domain.StockInResponse{}, err
	}

	s.logAudit(ctx, "product.stock_in", "product", productID, fmt.Sprintf("qty=%d total=%d", req.Quantity, updated.TotalQuantity))
	return domain.StockInResponse{Product: *updated, Entry: entry}, nil
}
