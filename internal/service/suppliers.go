package service

import (
	"context"
	"fmt"
	"strings"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/store"
	"tokoledger/backend/internal/xid"
)

func (s *Service) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	return s.repo.ListSuppliers(ctx)
}

func (s *Service) GetSupplier(ctx context.Context, id string) (domain.Supplier, error) {
	supplier, err := s.repo.GetSupplierByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Supplier{}, err
	}
	return *supplier, nil
}

func (s *Service) CreateSupplier(ctx context.Context, req domain.SupplierCreateRequest) (domain.Supplier, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Supplier{}, store.ErrInvalidTransaction
	}
	if req.DueAmountCents < 0 {
		return domain.Supplier{}, fmt.Errorf("%w: due amount must not be negative", store.ErrInvalidAmount)
	}

	now := s.nowUTC()
	supplier := domain.Supplier{
		ID:             xid.New("sup"),
		Name:           req.Name,
		ContactInfo:    strings.TrimSpace(req.ContactInfo),
		DueAmountCents: req.DueAmountCents,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateSupplier(ctx, supplier)
	}); err != nil {
		return domain.Supplier{}, err
	}

	s.logAudit(ctx, "supplier.create", "supplier", supplier.ID, supplier.Name)
	return supplier, nil
}
