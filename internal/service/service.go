package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/sequence"
	"tokoledger/backend/internal/store"
	"tokoledger/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	// Location decides which calendar day a hand cash operation lands on.
	Location           *time.Location
	InvoicePrefix      string
	InvoiceMaxAttempts int
	RefundPricing      string
	Logger             *slog.Logger
	Now                func() time.Time
}

type Service struct {
	repo          store.Repository
	invoices      sequence.Sequencer
	location      *time.Location
	invoicePrefix string
	maxAttempts   int
	refundPricing string
	logger        *slog.Logger
	now           func() time.Time
}

func New(repo store.Repository, invoices sequence.Sequencer, opts Options) *Service {
	if invoices == nil {
		invoices = sequence.NewMemory()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if strings.TrimSpace(opts.InvoicePrefix) == "" {
		opts.InvoicePrefix = "INV"
	}
	if opts.InvoiceMaxAttempts < 1 {
		opts.InvoiceMaxAttempts = 5
	}
	if opts.RefundPricing != domain.RefundPricingCurrent {
		opts.RefundPricing = domain.RefundPricingSaleTime
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Service{
		repo:          repo,
		invoices:      invoices,
		location:      opts.Location,
		invoicePrefix: strings.TrimSpace(opts.InvoicePrefix),
		maxAttempts:   opts.InvoiceMaxAttempts,
		refundPricing: opts.RefundPricing,
		logger:        opts.Logger.With("component", "service"),
		now:           opts.Now,
	}
}

func (s *Service) nowUTC() time.Time {
	return s.now().UTC()
}

// today is the store-local calendar day, formatted as a HandCash key.
func (s *Service) today() string {
	return s.now().In(s.location).Format(domain.DateLayout)
}

func (s *Service) actorName(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok {
		return actor.Username
	}
	return "system"
}

func (s *Service) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListAuditLogs(ctx, limit)
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.nowUTC(),
	}); err != nil {
		s.logger.WarnContext(ctx, "failed to write audit log",
			"action", action, "entity_type", entityType, "entity_id", entityID, "error", err)
	}
}
