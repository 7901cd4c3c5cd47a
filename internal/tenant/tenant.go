// Package tenant tracks removed stores and keeps them from writing.
package tenant

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/storeledger/storeledger/internal/events"
	"github.com/storeledger/storeledger/internal/shared"
)

// ActionRemoved is the activity action recorded when a store is removed.
const ActionRemoved = "remove_store"

// ErrRemoved rejects writes from a soft-deleted tenant.
var ErrRemoved = fmt.Errorf("%w: store has been removed", shared.ErrForbidden)

// Tenant is the lifecycle state of one store.
type Tenant struct {
	ID        int64      `json:"id"`
	Deleted   bool       `json:"deleted"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Repository persists tenant state.
type Repository interface {
	// Tenant returns the state of id; a tenant without a row is active.
	Tenant(ctx context.Context, id int64) (Tenant, error)
	// MarkRemoved soft-deletes id, failing with ErrNotFound when it already is.
	MarkRemoved(ctx context.Context, id int64, at time.Time) (Tenant, error)
}

// Publisher emits committed events.
type Publisher interface {
	Publish(ctx context.Context, evts ...events.Event)
}

// Removed is published after a tenant is soft-deleted.
type Removed struct {
	Tenant Tenant
}

// AuditRecord implements events.Auditable.
func (e Removed) AuditRecord() (events.AuditRecord, error) {
	before, err := events.Snapshot(Tenant{ID: e.Tenant.ID})
	if err != nil {
		return events.AuditRecord{}, err
	}
	after, err := events.Snapshot(e.Tenant)
	if err != nil {
		return events.AuditRecord{}, err
	}
	return events.AuditRecord{
		Action:  ActionRemoved,
		Model:   "stores",
		ModelID: strconv.FormatInt(e.Tenant.ID, 10),
		OldData: before,
		NewData: after,
	}, nil
}

// Service removes tenants and answers whether one may still write.
type Service struct {
	repo   Repository
	bus    Publisher
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service. bus may be nil.
func NewService(repo Repository, bus Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		bus:    bus,
		logger: logger.With(slog.String("component", "tenant")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Remove soft-deletes a tenant. Its data is kept and stays readable.
func (s *Service) Remove(ctx context.Context, id int64) (Tenant, error) {
	if id <= 0 {
		return Tenant{}, shared.Validationf("invalid tenant id")
	}
	removed, err := s.repo.MarkRemoved(ctx, id, s.now())
	if err != nil {
		return Tenant{}, fmt.Errorf("tenant: remove %d: %w", id, err)
	}
	s.logger.InfoContext(ctx, "tenant removed", slog.Int64("tenant_id", id))
	if s.bus != nil {
		s.bus.Publish(ctx, events.New(events.TypeTenantRemoved, id, Removed{Tenant: removed}))
	}
	return removed, nil
}

// Active returns ErrRemoved when the tenant has been soft-deleted.
func (s *Service) Active(ctx context.Context, id int64) error {
	t, err := s.repo.Tenant(ctx, id)
	if err != nil {
		return fmt.Errorf("tenant: lookup %d: %w", id, err)
	}
	if t.Deleted {
		return ErrRemoved
	}
	return nil
}
