package reports

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/storeledger/storeledger/internal/cache"
	"github.com/storeledger/storeledger/internal/events"
	"github.com/storeledger/storeledger/internal/money"
	"github.com/storeledger/storeledger/internal/shared"
)

// ViewCache is the read-through cache for built reports.
type ViewCache interface {
	Fetch(ctx context.Context, tenantID int64, scope events.Scope, params []string, dest any, loader cache.Loader) error
}

// Service builds reports through the reports cache scope.
type Service struct {
	repo   Repository
	cache  ViewCache
	logger *slog.Logger
	now    func() time.Time
}

// NewService wires a Repository with an optional cache.
func NewService(repo Repository, viewCache ViewCache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		cache:  viewCache,
		logger: logger.With(slog.String("component", "reports")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Build returns the report selected by filter. Results are cached per
// distinct filter until the next ledger write of the tenant.
func (s *Service) Build(ctx context.Context, filter Filter) (Report, error) {
	if err := validate(filter); err != nil {
		return Report{}, err
	}
	if s.cache == nil {
		return s.load(ctx, filter)
	}
	var report Report
	err := s.cache.Fetch(ctx, filter.TenantID, events.ScopeReports, cacheParams(filter), &report, func(ctx context.Context) (any, error) {
		return s.load(ctx, filter)
	})
	if err != nil {
		return Report{}, fmt.Errorf("reports: build %s: %w", filter.Type, err)
	}
	return report, nil
}

func (s *Service) load(ctx context.Context, filter Filter) (Report, error) {
	report := Report{Type: filter.Type, GeneratedAt: s.now()}
	switch filter.Type {
	case TypeSales:
		rows, err := s.repo.Sales(ctx, filter)
		if err != nil {
			return Report{}, err
		}
		report.Sales = rows
		for _, row := range rows {
			if err := report.Totals.add(row.Quantity, row.UnitCost, row.Revenue, row.Profit); err != nil {
				return Report{}, err
			}
		}
	case TypeStockIn, TypeRemovedStock:
		rows, err := s.repo.Movements(ctx, filter)
		if err != nil {
			return Report{}, err
		}
		report.Movements = rows
		for _, row := range rows {
			if err := report.Totals.add(row.Quantity, row.UnitCost, 0, 0); err != nil {
				return Report{}, err
			}
		}
	case TypeInventory:
		rows, err := s.repo.Stock(ctx, filter)
		if err != nil {
			return Report{}, err
		}
		report.Stock = rows
		for _, row := range rows {
			if err := report.Totals.add(row.Quantity, row.UnitCost, 0, 0); err != nil {
				return Report{}, err
			}
		}
	}
	return report, nil
}

func (t *Totals) add(qty int64, unitCost, revenue, profit money.Amount) error {
	cost, err := unitCost.Mul(qty)
	if err == nil {
		t.Cost, err = t.Cost.Add(cost)
	}
	if err == nil {
		t.Revenue, err = t.Revenue.Add(revenue)
	}
	if err == nil {
		t.Profit, err = t.Profit.Add(profit)
	}
	if err != nil {
		return fmt.Errorf("%w: report totals: %v", shared.ErrValidation, err)
	}
	t.Quantity += qty
	return nil
}

func validate(filter Filter) error {
	if filter.TenantID <= 0 {
		return shared.Validationf("tenant required")
	}
	if !filter.Type.Valid() {
		return shared.Validationf("unknown report type %q", filter.Type)
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && !filter.From.Before(filter.To) {
		return shared.Validationf("from must be before to")
	}
	return nil
}

func cacheParams(filter Filter) []string {
	return []string{string(filter.Type), idToken(filter.SupplierID), idToken(filter.ProductID), timeToken(filter.From), timeToken(filter.To)}
}

func idToken(id *int64) string {
	if id == nil {
		return "-"
	}
	return strconv.FormatInt(*id, 10)
}

func timeToken(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return strconv.FormatInt(t.UTC().Unix(), 10)
}
