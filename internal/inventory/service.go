package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/storeledger/storeledger/internal/cache"
	"github.com/storeledger/storeledger/internal/catalog"
	"github.com/storeledger/storeledger/internal/events"
	"github.com/storeledger/storeledger/internal/money"
	"github.com/storeledger/storeledger/internal/shared"
)

// ErrLotNotFound indicates no lot exists for a key.
var ErrLotNotFound = fmt.Errorf("%w: cost lot", shared.ErrNotFound)

const saleIdempotencyModule = "inventory:sale"

const (
	// MaxQuantity bounds the units moved by one request.
	MaxQuantity int64 = 1_000_000_000
	// MaxLotQuantity bounds the units held by one lot.
	MaxLotQuantity int64 = 1_000_000_000_000_000
)

// Publisher emits committed events.
type Publisher interface {
	Publish(ctx context.Context, evts ...events.Event)
}

// ViewCache is the read-through cache used for the snapshot view.
type ViewCache interface {
	Fetch(ctx context.Context, tenantID int64, scope events.Scope, params []string, dest any, loader cache.Loader) error
}

// IdempotencyPort claims and releases request keys.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, tenantID int64, key, module string) error
	Delete(ctx context.Context, tenantID int64, key, module string) error
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	// TxRetries is how many times a transaction is retried after a concurrency conflict.
	TxRetries    int
	RetryBackoff time.Duration
}

// Service is the transaction orchestrator for every stock-affecting operation.
type Service struct {
	repo        RepositoryPort
	bus         Publisher
	cache       ViewCache
	idempotency IdempotencyPort
	logger      *slog.Logger
	cfg         ServiceConfig
	now         func() time.Time
}

// NewService builds Service. bus, cache and idempotency may be nil.
func NewService(repo RepositoryPort, bus Publisher, viewCache ViewCache, idem IdempotencyPort, logger *slog.Logger, cfg ServiceConfig) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TxRetries < 0 {
		cfg.TxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 10 * time.Millisecond
	}
	return &Service{
		repo:        repo,
		bus:         bus,
		cache:       viewCache,
		idempotency: idem,
		logger:      logger.With(slog.String("component", "inventory")),
		cfg:         cfg,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Sell consumes Quantity units of a product across its cost lots and records
// one SaleRecord per lot touched. It either sells everything or nothing.
func (s *Service) Sell(ctx context.Context, input SaleInput) (SaleResult, error) {
	input.SKU = strings.TrimSpace(input.SKU)
	if err := validateTarget(input.TenantID, input.SKU); err != nil {
		return SaleResult{}, err
	}
	if err := validateQuantity(input.Quantity); err != nil {
		return SaleResult{}, err
	}

	claimed := false
	if input.IdempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, input.TenantID, input.IdempotencyKey, saleIdempotencyModule); err != nil {
			return SaleResult{}, fmt.Errorf("inventory: sell: %w", err)
		}
		claimed = true
	}

	var (
		result SaleResult
		evts   []events.Event
	)
	err := s.runTx(ctx, func(ctx context.Context, tx TxRepository) error {
		result = SaleResult{SKU: input.SKU, Quantity: input.Quantity}
		evts = nil

		product, err := liveProduct(ctx, tx, input.TenantID, input.SKU)
		if err != nil {
			return err
		}
		lots, err := tx.LockLots(ctx, input.TenantID, product.ID)
		if err != nil {
			return err
		}
		allocs, err := Allocate(lots, input.Quantity)
		if err != nil {
			return err
		}
		totals, err := Price(allocs, product.SellingPrice)
		if err != nil {
			return err
		}
		now := s.now()
		for _, line := range totals.Lines {
			before := line.Lot
			after := line.Lot
			after.Quantity -= line.Quantity
			if after.Quantity < 0 {
				return &shared.InsufficientStockError{Requested: input.Quantity, Available: before.Quantity}
			}
			if err := tx.UpdateLot(ctx, after); err != nil {
				return err
			}
			rec, err := tx.InsertSale(ctx, SaleRecord{
				TenantID:         input.TenantID,
				ProductID:        product.ID,
				SupplierID:       before.SupplierID,
				Quantity:         line.Quantity,
				UnitSellingPrice: product.SellingPrice,
				UnitCost:         before.UnitCost,
				Profit:           line.Profit,
				CreatedAt:        now,
			})
			if err != nil {
				return err
			}
			result.Records = append(result.Records, rec)
			evts = append(evts,
				events.New(events.TypeStockChanged, input.TenantID, StockChanged{
					Action:     ActionSold,
					ProductID:  product.ID,
					SupplierID: before.SupplierID,
					UnitCost:   before.UnitCost,
					Delta:      -line.Quantity,
					Reason:     "sale",
					Before:     &before,
					After:      after,
				}),
				events.New(events.TypeSaleRecorded, input.TenantID, SaleRecorded{Record: rec}),
			)
		}
		result.TotalRevenue = totals.Revenue
		result.TotalCost = totals.Cost
		result.TotalProfit = totals.Profit
		return nil
	})
	if err != nil {
		if claimed {
			s.release(ctx, input.TenantID, input.IdempotencyKey)
		}
		return SaleResult{}, fmt.Errorf("inventory: sell %q: %w", input.SKU, err)
	}

	s.publish(ctx, input.TenantID, evts, events.ScopeTenantInventory, events.ScopeReports)
	return result, nil
}

// RemoveStock writes off units of one lot with a reason code.
func (s *Service) RemoveStock(ctx context.Context, input RemovalInput) (RemovalRecord, error) {
	input.SKU = strings.TrimSpace(input.SKU)
	if err := validateLotTarget(input.TenantID, input.SKU, input.SupplierID, input.UnitCost); err != nil {
		return RemovalRecord{}, err
	}
	if err := validateQuantity(input.Quantity); err != nil {
		return RemovalRecord{}, err
	}
	if !input.Reason.Valid() {
		return RemovalRecord{}, shared.Validationf("unknown removal reason %q", input.Reason)
	}

	var (
		record RemovalRecord
		evts   []events.Event
	)
	err := s.runTx(ctx, func(ctx context.Context, tx TxRepository) error {
		evts = nil
		product, err := tx.ProductBySKU(ctx, input.TenantID, input.SKU)
		if err != nil {
			return err
		}
		key := LotKey{TenantID: input.TenantID, ProductID: product.ID, SupplierID: input.SupplierID, UnitCost: input.UnitCost}
		lot, err := tx.LockLot(ctx, key)
		if err != nil {
			return err
		}
		if lot.Quantity < input.Quantity {
			return &shared.InsufficientStockError{Requested: input.Quantity, Available: lot.Quantity}
		}
		before := lot
		lot.Quantity -= input.Quantity
		if err := tx.UpdateLot(ctx, lot); err != nil {
			return err
		}
		record, err = tx.InsertRemoval(ctx, RemovalRecord{
			TenantID:   input.TenantID,
			ProductID:  product.ID,
			SupplierID: input.SupplierID,
			Quantity:   input.Quantity,
			UnitCost:   input.UnitCost,
			Reason:     input.Reason,
			CreatedAt:  s.now(),
		})
		if err != nil {
			return err
		}
		evts = append(evts,
			events.New(events.TypeStockChanged, input.TenantID, StockChanged{
				Action:     ActionRemoved,
				ProductID:  product.ID,
				SupplierID: input.SupplierID,
				UnitCost:   input.UnitCost,
				Delta:      -input.Quantity,
				Reason:     string(input.Reason),
				Before:     &before,
				After:      lot,
			}),
			events.New(events.TypeRemovalRecorded, input.TenantID, RemovalRecorded{Record: record}),
		)
		return nil
	})
	if err != nil {
		return RemovalRecord{}, fmt.Errorf("inventory: remove stock %q: %w", input.SKU, err)
	}

	s.publish(ctx, input.TenantID, evts, events.ScopeTenantInventory, events.ScopeReports)
	return record, nil
}

// Restock adds units to the lot keyed by (product, supplier, unit cost),
// creating it when absent, and always appends a StockInRecord.
func (s *Service) Restock(ctx context.Context, input RestockInput) (RestockResult, error) {
	input.SKU = strings.TrimSpace(input.SKU)
	if err := validateLotTarget(input.TenantID, input.SKU, input.SupplierID, input.UnitCost); err != nil {
		return RestockResult{}, err
	}
	if err := validateQuantity(input.Quantity); err != nil {
		return RestockResult{}, err
	}

	var (
		result RestockResult
		evts   []events.Event
	)
	err := s.runTx(ctx, func(ctx context.Context, tx TxRepository) error {
		evts = nil
		product, err := liveProduct(ctx, tx, input.TenantID, input.SKU)
		if err != nil {
			return err
		}
		if err := liveSupplier(ctx, tx, input.TenantID, input.SupplierID); err != nil {
			return err
		}
		now := s.now()
		key := LotKey{TenantID: input.TenantID, ProductID: product.ID, SupplierID: input.SupplierID, UnitCost: input.UnitCost}
		lot, before, created, err := s.addToLot(ctx, tx, key, input.Quantity, now)
		if err != nil {
			return err
		}
		record, err := tx.InsertStockIn(ctx, StockInRecord{
			TenantID:   input.TenantID,
			ProductID:  product.ID,
			SupplierID: input.SupplierID,
			Quantity:   input.Quantity,
			UnitCost:   input.UnitCost,
			CreatedAt:  now,
		})
		if err != nil {
			return err
		}
		result = RestockResult{Lot: lot, Record: record, Created: created}
		evts = append(evts,
			events.New(events.TypeStockChanged, input.TenantID, StockChanged{
				Action:     ActionRestocked,
				ProductID:  product.ID,
				SupplierID: input.SupplierID,
				UnitCost:   input.UnitCost,
				Delta:      input.Quantity,
				Reason:     "restock",
				Before:     before,
				After:      lot,
			}),
			events.New(events.TypeStockInRecorded, input.TenantID, StockInRecorded{Record: record}),
		)
		return nil
	})
	if err != nil {
		return RestockResult{}, fmt.Errorf("inventory: restock %q: %w", input.SKU, err)
	}

	s.publish(ctx, input.TenantID, evts, events.ScopeTenantInventory, events.ScopeReports)
	return result, nil
}

// Adjust corrects one lot by a signed delta. A negative delta may not drive
// the lot below zero; a positive delta creates the lot when absent.
func (s *Service) Adjust(ctx context.Context, input AdjustmentInput) (AdjustmentRecord, error) {
	input.SKU = strings.TrimSpace(input.SKU)
	input.Note = strings.TrimSpace(input.Note)
	if err := validateLotTarget(input.TenantID, input.SKU, input.SupplierID, input.UnitCost); err != nil {
		return AdjustmentRecord{}, err
	}
	if input.Delta == 0 {
		return AdjustmentRecord{}, shared.Validationf("delta must not be zero")
	}
	if input.Delta > MaxQuantity || input.Delta < -MaxQuantity {
		return AdjustmentRecord{}, shared.Validationf("delta must be within ±%d", MaxQuantity)
	}
	if input.Note == "" {
		return AdjustmentRecord{}, shared.Validationf("note required")
	}

	var (
		record AdjustmentRecord
		evts   []events.Event
	)
	err := s.runTx(ctx, func(ctx context.Context, tx TxRepository) error {
		evts = nil
		var (
			product catalog.Product
			err     error
		)
		if input.Delta > 0 {
			product, err = liveProduct(ctx, tx, input.TenantID, input.SKU)
		} else {
			product, err = tx.ProductBySKU(ctx, input.TenantID, input.SKU)
		}
		if err != nil {
			return err
		}
		now := s.now()
		key := LotKey{TenantID: input.TenantID, ProductID: product.ID, SupplierID: input.SupplierID, UnitCost: input.UnitCost}

		var (
			lot    CostLot
			before *CostLot
		)
		if input.Delta > 0 {
			if err := liveSupplier(ctx, tx, input.TenantID, input.SupplierID); err != nil {
				return err
			}
			if lot, before, _, err = s.addToLot(ctx, tx, key, input.Delta, now); err != nil {
				return err
			}
		} else {
			lot, err = tx.LockLot(ctx, key)
			switch {
			case errors.Is(err, ErrLotNotFound):
				return &shared.InsufficientStockError{Requested: -input.Delta}
			case err != nil:
				return err
			}
			if lot.Quantity+input.Delta < 0 {
				return &shared.InsufficientStockError{Requested: -input.Delta, Available: lot.Quantity}
			}
			prev := lot
			before = &prev
			lot.Quantity += input.Delta
			if err := tx.UpdateLot(ctx, lot); err != nil {
				return err
			}
		}

		record, err = tx.InsertAdjustment(ctx, AdjustmentRecord{
			TenantID:   input.TenantID,
			ProductID:  product.ID,
			SupplierID: input.SupplierID,
			UnitCost:   input.UnitCost,
			Delta:      input.Delta,
			Note:       input.Note,
			CreatedAt:  now,
		})
		if err != nil {
			return err
		}
		evts = append(evts,
			events.New(events.TypeStockChanged, input.TenantID, StockChanged{
				Action:     ActionAdjusted,
				ProductID:  product.ID,
				SupplierID: input.SupplierID,
				UnitCost:   input.UnitCost,
				Delta:      input.Delta,
				Reason:     input.Note,
				Before:     before,
				After:      lot,
			}),
			events.New(events.TypeAdjustmentRecorded, input.TenantID, AdjustmentRecorded{Record: record}),
		)
		return nil
	})
	if err != nil {
		return AdjustmentRecord{}, fmt.Errorf("inventory: adjust %q: %w", input.SKU, err)
	}

	s.publish(ctx, input.TenantID, evts, events.ScopeTenantInventory, events.ScopeReports)
	return record, nil
}

// InventorySnapshot lists every lot of the tenant, exhausted ones included,
// read through the tenant-inventory cache.
func (s *Service) InventorySnapshot(ctx context.Context, tenantID int64) ([]SnapshotLine, error) {
	if tenantID <= 0 {
		return nil, shared.Validationf("tenant required")
	}
	if s.cache == nil {
		return s.repo.Snapshot(ctx, tenantID)
	}
	var lines []SnapshotLine
	err := s.cache.Fetch(ctx, tenantID, events.ScopeTenantInventory, nil, &lines, func(ctx context.Context) (any, error) {
		return s.repo.Snapshot(ctx, tenantID)
	})
	if err != nil {
		return nil, fmt.Errorf("inventory: snapshot: %w", err)
	}
	return lines, nil
}

// TenantsWithStock lists tenants owning at least one lot.
func (s *Service) TenantsWithStock(ctx context.Context) ([]int64, error) {
	return s.repo.TenantsWithStock(ctx)
}

// addToLot locks the lot by key and adds qty, inserting it when absent.
// last_updated moves only on inbound stock.
func (s *Service) addToLot(ctx context.Context, tx TxRepository, key LotKey, qty int64, now time.Time) (CostLot, *CostLot, bool, error) {
	lot, err := tx.LockLot(ctx, key)
	switch {
	case errors.Is(err, ErrLotNotFound):
		inserted, err := tx.InsertLot(ctx, CostLot{
			TenantID:    key.TenantID,
			ProductID:   key.ProductID,
			SupplierID:  key.SupplierID,
			UnitCost:    key.UnitCost,
			Quantity:    qty,
			LastUpdated: now,
		})
		return inserted, nil, true, err
	case err != nil:
		return CostLot{}, nil, false, err
	}
	if lot.Quantity > MaxLotQuantity-qty {
		return CostLot{}, nil, false, shared.Validationf("lot would exceed %d units", MaxLotQuantity)
	}
	before := lot
	lot.Quantity += qty
	lot.LastUpdated = now
	if err := tx.UpdateLot(ctx, lot); err != nil {
		return CostLot{}, nil, false, err
	}
	return lot, &before, false, nil
}

// runTx retries fn on concurrency conflicts. Each attempt re-reads state, so a
// sale that lost a race fails with the stock left by the winner.
func (s *Service) runTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	attempts := s.cfg.TxRetries + 1
	for attempt := 1; ; attempt++ {
		err := s.repo.WithTx(ctx, fn)
		if err == nil || !errors.Is(err, shared.ErrConcurrencyConflict) || attempt >= attempts {
			return err
		}
		s.logger.DebugContext(ctx, "retrying stock transaction", slog.Int("attempt", attempt), slog.Any("error", err))
		timer := time.NewTimer(s.cfg.RetryBackoff * time.Duration(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *Service) release(ctx context.Context, tenantID int64, key string) {
	if err := s.idempotency.Delete(context.WithoutCancel(ctx), tenantID, key, saleIdempotencyModule); err != nil {
		s.logger.WarnContext(ctx, "idempotency key release failed", slog.Int64("tenant_id", tenantID), slog.String("key", key), slog.Any("error", err))
	}
}

func (s *Service) publish(ctx context.Context, tenantID int64, evts []events.Event, scopes ...events.Scope) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(ctx, append(events.Dirty(tenantID, scopes...), evts...)...)
}

func validateTarget(tenantID int64, sku string) error {
	if tenantID <= 0 {
		return shared.Validationf("tenant required")
	}
	if sku == "" {
		return shared.Validationf("sku required")
	}
	return nil
}

func validateLotTarget(tenantID int64, sku string, supplierID int64, unitCost money.Amount) error {
	if err := validateTarget(tenantID, sku); err != nil {
		return err
	}
	if supplierID <= 0 {
		return shared.Validationf("supplier required")
	}
	if unitCost.IsNegative() {
		return shared.Validationf("unit cost must not be negative")
	}
	return nil
}

func liveProduct(ctx context.Context, tx TxRepository, tenantID int64, sku string) (catalog.Product, error) {
	product, err := tx.ProductBySKU(ctx, tenantID, sku)
	if err != nil {
		return catalog.Product{}, err
	}
	if product.Deleted {
		return catalog.Product{}, shared.NotFoundf("product %q", sku)
	}
	return product, nil
}

func liveSupplier(ctx context.Context, tx TxRepository, tenantID, supplierID int64) error {
	supplier, err := tx.SupplierByID(ctx, tenantID, supplierID)
	if err != nil {
		return err
	}
	if supplier.Deleted {
		return shared.NotFoundf("supplier %d", supplierID)
	}
	return nil
}

func validateQuantity(qty int64) error {
	if qty <= 0 {
		return shared.Validationf("quantity must be positive, got %d", qty)
	}
	if qty > MaxQuantity {
		return shared.Validationf("quantity must not exceed %d, got %d", MaxQuantity, qty)
	}
	return nil
}
