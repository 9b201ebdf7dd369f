package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/store"
)

// OpenDay creates the hand cash record for date (today when empty).
func (s *Service) OpenDay(ctx context.Context, req domain.HandCashOpenRequest) (domain.HandCash, error) {
	date, err := s.normalizeDate(req.Date)
	if err != nil {
		return domain.HandCash{}, err
	}
	if req.OpeningBalanceCents < 0 {
		return domain.HandCash{}, fmt.Errorf("%w: opening balance must not be negative", store.ErrInvalidAmount)
	}

	now := s.nowUTC()
	record := domain.HandCash{
		Date:                date,
		OpeningBalanceCents: req.OpeningBalanceCents,
		ClosingBalanceCents: req.OpeningBalanceCents,
		Withdrawals:         []domain.Withdrawal{},
		OpenedBy:            s.actorName(ctx),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertHandCash(ctx, record)
	}); err != nil {
		return domain.HandCash{}, err
	}

	s.logAudit(ctx, "hand_cash.open", "hand_cash", date, fmt.Sprintf("opening=%d", record.OpeningBalanceCents))
	return record, nil
}

// GetDay returns the record for date or ErrNoRecordForDate; it never
// creates one.
func (s *Service) GetDay(ctx context.Context, date string) (domain.HandCash, error) {
	date, err := s.normalizeDate(date)
	if err != nil {
		return domain.HandCash{}, err
	}
	record, err := s.repo.GetHandCash(ctx, date)
	if err != nil {
		return domain.HandCash{}, err
	}
	return *record, nil
}

func (s *Service) ListDays(ctx context.Context, from string, to string) ([]domain.HandCash, error) {
	for _, d := range []string{from, to} {
		if d == "" {
			continue
		}
		if _, err := time.Parse(domain.DateLayout, d); err != nil {
			return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", store.ErrInvalidTransaction)
		}
	}
	return s.repo.ListHandCash(ctx, from, to)
}

func (s *Service) Withdraw(ctx context.Context, date string, req domain.WithdrawalRequest) (domain.HandCash, error) {
	date, err := s.normalizeDate(date)
	if err != nil {
		return domain.HandCash{}, err
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return domain.HandCash{}, fmt.Errorf("%w: withdrawal reason is required", store.ErrInvalidTransaction)
	}
	if req.AmountCents <= 0 {
		return domain.HandCash{}, fmt.Errorf("%w: withdrawal must be positive", store.ErrInvalidAmount)
	}

	var updated *domain.HandCash
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		updated, err = tx.AppendWithdrawal(ctx, date, domain.Withdrawal{
			AmountCents: req.AmountCents,
			Reason:      reason,
			Date:        s.nowUTC(),
		})
		return err
	})
	if err != nil {
		return domain.HandCash{}, err
	}

	s.logAudit(ctx, "hand_cash.withdraw", "hand_cash", date, fmt.Sprintf("amount=%d reason=%s", req.AmountCents, reason))
	return *updated, nil
}

// RolloverDay opens the day after date with date's closing balance as its
// opening balance. Rolling over twice returns the already open next day.
func (s *Service) RolloverDay(ctx context.Context, date string) (domain.HandCash, error) {
	date, err := s.normalizeDate(date)
	if err != nil {
		return domain.HandCash{}, err
	}
	day, _ := time.Parse(domain.DateLayout, date)
	next := day.AddDate(0, 0, 1).Format(domain.DateLayout)

	var (
		record  domain.HandCash
		created bool
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		current, err := tx.GetHandCashForUpdate(ctx, date)
		if err != nil {
			return err
		}
		existing, err := tx.GetHandCashForUpdate(ctx, next)
		if err == nil {
			record = *existing
			return nil
		}
		if !errors.Is(err, store.ErrNoRecordForDate) {
			return err
		}

		now := s.nowUTC()
		record = domain.HandCash{
			Date:                next,
			OpeningBalanceCents: current.ClosingBalanceCents,
			ClosingBalanceCents: current.ClosingBalanceCents,
			Withdrawals:         []domain.Withdrawal{},
			OpenedBy:            s.actorName(ctx),
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		created = true
		return tx.InsertHandCash(ctx, record)
	})
	if err != nil {
		return domain.HandCash{}, err
	}

	if created {
		s.logAudit(ctx, "hand_cash.rollover", "hand_cash", next, fmt.Sprintf("from=%s opening=%d", date, record.OpeningBalanceCents))
	}
	return record, nil
}

// RolloverPreviousDay is the scheduled variant: yesterday into today.
func (s *Service) RolloverPreviousDay(ctx context.Context) (domain.HandCash, error) {
	yesterday := s.now().In(s.location).AddDate(0, 0, -1).Format(domain.DateLayout)
	return s.RolloverDay(ctx, yesterday)
}

func (s *Service) ListExpenses(ctx context.Context, date string) ([]domain.Expense, error) {
	date, err := s.normalizeDate(date)
	if err != nil {
		return nil, err
	}
	return s.repo.ListExpenses(ctx, date)
}

func (s *Service) normalizeDate(date string) (string, error) {
	date = strings.TrimSpace(date)
	if date == "" {
		return s.today(), nil
	}
	if _, err := time.Parse(domain.DateLayout, date); err != nil {
		return "", fmt.Errorf("%w: date must be YYYY-MM-DD", store.ErrInvalidTransaction)
	}
	return date, nil
}
