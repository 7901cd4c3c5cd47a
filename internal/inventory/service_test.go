package inventory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/storeledger/storeledger/internal/cache"
	"github.com/storeledger/storeledger/internal/catalog"
	"github.com/storeledger/storeledger/internal/events"
	"github.com/storeledger/storeledger/internal/inventory"
	"github.com/storeledger/storeledger/internal/inventory/memstore"
	"github.com/storeledger/storeledger/internal/money"
	"github.com/storeledger/storeledger/internal/shared"
)

const tenant = int64(1)

type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Publish(_ context.Context, evts ...events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, evts...)
}

func (b *recordingBus) types() []events.Type {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]events.Type, 0, len(b.events))
	for _, evt := range b.events {
		out = append(out, evt.Type)
	}
	return out
}

type fixture struct {
	store    *memstore.Store
	bus      *recordingBus
	svc      *inventory.Service
	product  catalog.Product
	supplier catalog.Supplier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	bus := &recordingBus{}
	f := &fixture{
		store: store,
		bus:   bus,
		svc:   inventory.NewService(store.Inventory(), bus, nil, store, nil, inventory.ServiceConfig{TxRetries: 3, RetryBackoff: time.Millisecond}),
	}
	f.product = store.AddProduct(catalog.Product{TenantID: tenant, SKU: "SKU-1", Name: "Widget", SellingPrice: money.MustParse("5.00")})
	f.supplier = store.AddSupplier(catalog.Supplier{TenantID: tenant, Name: "Acme", Contact: "acme@example.com"})
	return f
}

func (f *fixture) restock(t *testing.T, cost string, qty int64) inventory.RestockResult {
	t.Helper()
	res, err := f.svc.Restock(context.Background(), inventory.RestockInput{
		TenantID:   tenant,
		SKU:        f.product.SKU,
		SupplierID: f.supplier.ID,
		UnitCost:   money.MustParse(cost),
		Quantity:   qty,
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) onHand() int64 {
	var total int64
	for _, lot := range f.store.Lots(tenant, f.product.ID) {
		total += lot.Quantity
	}
	return total
}

func TestRestockThenSellReportsProfit(t *testing.T) {
	f := newFixture(t)
	f.restock(t, "2.00", 10)

	res, err := f.svc.Sell(context.Background(), inventory.SaleInput{TenantID: tenant, SKU: "SKU-1", Quantity: 4})
	require.NoError(t, err)
	require.Equal(t, money.MustParse("12.00"), res.TotalProfit)
	require.Equal(t, money.MustParse("20.00"), res.TotalRevenue)
	require.Equal(t, money.MustParse("8.00"), res.TotalCost)

	lots := f.store.Lots(tenant, f.product.ID)
	require.Len(t, lots, 1)
	require.Equal(t, int64(6), lots[0].Quantity)

	sales := f.store.Sales()
	require.Len(t, sales, 1)
	require.Equal(t, money.MustParse("5.00"), sales[0].UnitSellingPrice)
	require.Equal(t, money.MustParse("2.00"), sales[0].UnitCost)
}

func TestSellConservesQuantityAcrossLots(t *testing.T) {
	f := newFixture(t)
	f.restock(t, "3.00", 4)
	f.restock(t, "1.00", 2)
	f.restock(t, "2.00", 5)

	res, err := f.svc.Sell(context.Background(), inventory.SaleInput{TenantID: tenant, SKU: "SKU-1", Quantity: 9})
	require.NoError(t, err)

	var sold int64
	for _, rec := range res.Records {
		sold += rec.Quantity
	}
	require.Equal(t, int64(9), sold)
	require.Equal(t, int64(2), f.onHand())

	require.Len(t, res.Records, 3)
	require.Equal(t, money.MustParse("1.00"), res.Records[0].UnitCost)
	require.Equal(t, int64(2), res.Records[0].Quantity)
	require.Equal(t, money.MustParse("2.00"), res.Records[1].UnitCost)
	require.Equal(t, int64(5), res.Records[1].Quantity)
	require.Equal(t, money.MustParse("3.00"), res.Records[2].UnitCost)
	require.Equal(t, int64(2), res.Records[2].Quantity)
	// 2*(5-1) + 5*(5-2) + 2*(5-3)
	require.Equal(t, money.MustParse("27.00"), res.TotalProfit)
}

func TestSellPrefersOlderLotAtEqualCost(t *testing.T) {
	f := newFixture(t)
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := f.store.AddLot(inventory.CostLot{TenantID: tenant, ProductID: f.product.ID, SupplierID: f.supplier.ID, UnitCost: 500, Quantity: 3, LastUpdated: t0.Add(time.Hour)})
	other := f.store.AddSupplier(catalog.Supplier{TenantID: tenant, Name: "Beta", Contact: "beta@example.com"})
	older := f.store.AddLot(inventory.CostLot{TenantID: tenant, ProductID: f.product.ID, SupplierID: other.ID, UnitCost: 500, Quantity: 2, LastUpdated: t0})
	f.store.AddLot(inventory.CostLot{TenantID: tenant, ProductID: f.product.ID, SupplierID: f.supplier.ID, UnitCost: 700, Quantity: 10, LastUpdated: t0.Add(2 * time.Hour)})

	res, err := f.svc.Sell(context.Background(), inventory.SaleInput{TenantID: tenant, SKU: "SKU-1", Quantity: 4})
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	require.Equal(t, older.SupplierID, res.Records[0].SupplierID)
	require.Equal(t, int64(2), res.Records[0].Quantity)
	require.Equal(t, newer.SupplierID, res.Records[1].SupplierID)
	require.Equal(t, int64(2), res.Records[1].Quantity)
}

func TestSellIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	f.restock(t, "1.00", 2)
	f.restock(t, "2.00", 2)
	published := len(f.bus.types())

	_, err := f.svc.Sell(context.Background(), inventory.SaleInput{TenantID: tenant, SKU: "SKU-1", Quantity: 5})
	var stockErr *shared.InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	require.Equal(t, int64(5), stockErr.Requested)
	require.Equal(t, int64(4), stockErr.Available)
	require.Equal(t, int64(4), f.onHand())
	require.Empty(t, f.store.Sales())

	// a failure on the second ledger insert rolls back the first lot decrement too
	f.store.FailOn(memstore.OpInsertSale, nil)
	f.store.FailOn(memstore.OpInsertSale, errors.New("disk full"))
	_, err = f.svc.Sell(context.Background(), inventory.SaleInput{TenantID: tenant, SKU: "SKU-1", Quantity: 3})
	require.Error(t, err)
	require.Equal(t, int64(4), f.onHand())
	require.Empty(t, f.store.Sales())

	require.Len(t, f.bus.types(), published, "rolled back work publishes nothing")
}

func TestSellWithoutStock(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Sell(context.Background(), inventory.SaleInput{TenantID: tenant, SKU: "SKU-1", Quantity: 1})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.Contains(t, err.Error(), "no stock available")
}

func TestSellValidatesInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Sell(ctx, inventory.SaleInput{TenantID: tenant, SKU: "SKU-1", Quantity: 0})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.Sell(ctx, inventory.SaleInput{TenantID: tenant, SKU: " ", Quantity: 1})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.Sell(ctx, inventory.SaleInput{TenantID: tenant, SKU: "MISSING", Quantity: 1})
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = f.svc.Sell(ctx, inventory.SaleInput{TenantID: 2, SKU: "SKU-1", Quantity: 1})
	require.ErrorIs(t, err, shared.ErrNotFound, "products are tenant scoped")
}

// memstore runs transactions one at a time, so this checks the outcome of
// racing sales, not row locking. TestPostgresConcurrentSales covers the locks.
func TestConcurrentSalesNeverOversell(t *testing.T) {
	f := newFixture(t)
	f.restock(t, "1.00", 5)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []error
	)
	start := make(chan struct{})
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.svc.Sell(context.Background(), inventory.SaleInput{TenantID: tenant, SKU: "SKU-1", Quantity: 3})
			mu.Lock()
			results = append(results, err)
			mu.Unlock()
		}()
	}
	close(start)
	wg.Wait()

	var ok, short int
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, shared.ErrInsufficientStock):
			short++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 1, short)
	require.Equal(t, int64(2), f.onHand())
	require.Len(t, f.store.Sales(), 1)
}

func TestSellRetriesOnConcurrencyConflict(t *testing.T) {
	f := newFixture(t)
	f.restock(t, "1.00", 5)

	f.store.FailOn(memstore.OpCommit, shared.ErrConcurrencyConflict)
	_, err := f.svc.Sell(context.Background(), inventory.SaleInput{TenantID: tenant, SKU: "SKU-1", Quantity: 2})
	require.NoError(t, err)
	require.Equal(t, int64(3), f.onHand())
	require.Len(t, f.store.Sales(), 1)

	for i := 0; i < 4; i++ {
		f.store.FailOn(memstore.OpCommit, shared.ErrConcurrencyConflict)
	}
	_, err = f.svc.Sell(context.Background(), inventory.SaleInput{TenantID: tenant, SKU: "SKU-1", Quantity: 1})
	require.ErrorIs(t, err, shared.ErrConcurrencyConflict)
	require.Equal(t, int64(3), f.onHand())
}

func TestSellIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	f.restock(t, "1.00", 5)
	ctx := context.Background()

	_, err := f.svc.Sell(ctx, inventory.SaleInput{TenantID: tenant, SKU: "SKU-1", Quantity: 1, IdempotencyKey: "req-1"})
	require.NoError(t, err)
	_, err = f.svc.Sell(ctx, inventory.SaleInput{TenantID: tenant, SKU: "SKU-1", Quantity: 1, IdempotencyKey: "req-1"})
	require.ErrorIs(t, err, shared.ErrDuplicateRequest)
	require.Equal(t, int64(4), f.onHand())

	_, err = f.svc.Sell(ctx, inventory.SaleInput{TenantID: tenant, SKU: "SKU-1", Quantity: 50, IdempotencyKey: "req-2"})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	_, err = f.svc.Sell(ctx, inventory.SaleInput{TenantID: tenant, SKU: "SKU-1", Quantity: 1, IdempotencyKey: "req-2"})
	require.NoError(t, err, "a failed attempt releases its key")
}

func TestRestockFindsOrCreatesLot(t *testing.T) {
	f := newFixture(t)

	first := f.restock(t, "2.50", 5)
	require.True(t, first.Created)
	second := f.restock(t, "2.50", 3)
	require.False(t, second.Created)
	require.Equal(t, first.Lot.ID, second.Lot.ID)

	lots := f.store.Lots(tenant, f.product.ID)
	require.Len(t, lots, 1)
	require.Equal(t, int64(8), lots[0].Quantity)
	require.Len(t, f.store.StockIns(), 2)

	f.restock(t, "2.75", 1)
	require.Len(t, f.store.Lots(tenant, f.product.ID), 2)
}

func TestRestockRejectsUnknownOrDeleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Restock(ctx, inventory.RestockInput{TenantID: tenant, SKU: "SKU-1", SupplierID: 999, UnitCost: 100, Quantity: 1})
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = f.svc.Restock(ctx, inventory.RestockInput{TenantID: tenant, SKU: "SKU-1", SupplierID: f.supplier.ID, UnitCost: -1, Quantity: 1})
	require.ErrorIs(t, err, shared.ErrValidation)

	gone := f.store.AddProduct(catalog.Product{TenantID: tenant, SKU: "OLD", Name: "Old", Deleted: true})
	_, err = f.svc.Restock(ctx, inventory.RestockInput{TenantID: tenant, SKU: gone.SKU, SupplierID: f.supplier.ID, UnitCost: 100, Quantity: 1})
	require.ErrorIs(t, err, shared.ErrNotFound)
	_, err = f.svc.Sell(ctx, inventory.SaleInput{TenantID: tenant, SKU: gone.SKU, Quantity: 1})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestRemoveStock(t *testing.T) {
	f := newFixture(t)
	f.restock(t, "2.00", 5)
	ctx := context.Background()
	input := inventory.RemovalInput{TenantID: tenant, SKU: "SKU-1", SupplierID: f.supplier.ID, UnitCost: money.MustParse("2.00"), Quantity: 2, Reason: inventory.ReasonDamaged}

	rec, err := f.svc.RemoveStock(ctx, input)
	require.NoError(t, err)
	require.Equal(t, inventory.ReasonDamaged, rec.Reason)
	require.Equal(t, int64(3), f.onHand())
	require.Len(t, f.store.Removals(), 1)

	input.Quantity = 4
	_, err = f.svc.RemoveStock(ctx, input)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.Equal(t, int64(3), f.onHand())

	input.Quantity = 1
	input.Reason = "stolen"
	_, err = f.svc.RemoveStock(ctx, input)
	require.ErrorIs(t, err, shared.ErrValidation)

	input.Reason = inventory.ReasonLost
	input.UnitCost = money.MustParse("9.99")
	_, err = f.svc.RemoveStock(ctx, input)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestExhaustedLotIsKept(t *testing.T) {
	f := newFixture(t)
	f.restock(t, "2.00", 3)

	_, err := f.svc.Sell(context.Background(), inventory.SaleInput{TenantID: tenant, SKU: "SKU-1", Quantity: 3})
	require.NoError(t, err)

	lots := f.store.Lots(tenant, f.product.ID)
	require.Len(t, lots, 1)
	require.Zero(t, lots[0].Quantity)

	again := f.restock(t, "2.00", 1)
	require.False(t, again.Created)
	require.Equal(t, lots[0].ID, again.Lot.ID)
}

func TestAdjust(t *testing.T) {
	f := newFixture(t)
	f.restock(t, "2.00", 3)
	ctx := context.Background()
	input := inventory.AdjustmentInput{TenantID: tenant, SKU: "SKU-1", SupplierID: f.supplier.ID, UnitCost: money.MustParse("2.00"), Delta: -1, Note: "count correction"}

	rec, err := f.svc.Adjust(ctx, input)
	require.NoError(t, err)
	require.Equal(t, int64(-1), rec.Delta)
	require.Equal(t, int64(2), f.onHand())

	input.Delta = -5
	_, err = f.svc.Adjust(ctx, input)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	input.Delta = 4
	input.UnitCost = money.MustParse("3.00")
	_, err = f.svc.Adjust(ctx, input)
	require.NoError(t, err)
	require.Len(t, f.store.Lots(tenant, f.product.ID), 2)
	require.Equal(t, int64(6), f.onHand())

	input.Note = ""
	_, err = f.svc.Adjust(ctx, input)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Len(t, f.store.Adjustments(), 2)
}

func TestEventsPublishedAfterCommit(t *testing.T) {
	f := newFixture(t)
	f.restock(t, "1.00", 2)
	f.restock(t, "2.00", 2)
	f.bus.events = nil

	_, err := f.svc.Sell(context.Background(), inventory.SaleInput{TenantID: tenant, SKU: "SKU-1", Quantity: 3})
	require.NoError(t, err)

	require.Equal(t, []events.Type{
		events.TypeCacheDirty,
		events.TypeCacheDirty,
		events.TypeStockChanged,
		events.TypeSaleRecorded,
		events.TypeStockChanged,
		events.TypeSaleRecorded,
	}, f.bus.types())

	for _, evt := range f.bus.events {
		require.Equal(t, tenant, evt.TenantID)
		if auditable, ok := evt.Payload.(events.Auditable); ok {
			rec, err := auditable.AuditRecord()
			require.NoError(t, err)
			require.NotEmpty(t, rec.Action)
			require.NotEmpty(t, rec.NewData)
		}
	}
	changed := f.bus.events[2].Payload.(inventory.StockChanged)
	require.Equal(t, inventory.ActionSold, changed.Action)
	require.Equal(t, int64(-2), changed.Delta)
	require.Equal(t, int64(2), changed.Before.Quantity)
	require.Zero(t, changed.After.Quantity)
}

func TestSnapshotReflectsWritesThroughCache(t *testing.T) {
	store := memstore.New()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	viewCache := cache.New(client, time.Minute, nil, nil)
	bus := events.NewBus(nil, events.Config{}, nil)
	viewCache.Register(bus)
	t.Cleanup(func() { _ = bus.Close(context.Background()) })

	svc := inventory.NewService(store.Inventory(), bus, viewCache, nil, nil, inventory.ServiceConfig{})
	product := store.AddProduct(catalog.Product{TenantID: tenant, SKU: "SKU-1", Name: "Widget", SellingPrice: money.MustParse("5.00")})
	supplier := store.AddSupplier(catalog.Supplier{TenantID: tenant, Name: "Acme", Contact: "acme"})
	ctx := context.Background()

	_, err := svc.Restock(ctx, inventory.RestockInput{TenantID: tenant, SKU: product.SKU, SupplierID: supplier.ID, UnitCost: 200, Quantity: 10})
	require.NoError(t, err)

	snap, err := svc.InventorySnapshot(ctx, tenant)
	require.NoError(t, err)
	require.Len(t, snap, 1)
	require.Equal(t, int64(10), snap[0].Quantity)
	require.Equal(t, "Acme", snap[0].Supplier)

	_, err = svc.Sell(ctx, inventory.SaleInput{TenantID: tenant, SKU: "SKU-1", Quantity: 4})
	require.NoError(t, err)
	snap, err = svc.InventorySnapshot(ctx, tenant)
	require.NoError(t, err)
	require.Equal(t, int64(6), snap[0].Quantity)

	_, err = svc.RemoveStock(ctx, inventory.RemovalInput{TenantID: tenant, SKU: "SKU-1", SupplierID: supplier.ID, UnitCost: 200, Quantity: 1, Reason: inventory.ReasonExpired})
	require.NoError(t, err)
	snap, err = svc.InventorySnapshot(ctx, tenant)
	require.NoError(t, err)
	require.Equal(t, int64(5), snap[0].Quantity)

	_, err = svc.Restock(ctx, inventory.RestockInput{TenantID: tenant, SKU: product.SKU, SupplierID: supplier.ID, UnitCost: 200, Quantity: 2})
	require.NoError(t, err)
	snap, err = svc.InventorySnapshot(ctx, tenant)
	require.NoError(t, err)
	require.Equal(t, int64(7), snap[0].Quantity)
}

func TestQuantitiesAreBounded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tooMany := inventory.MaxQuantity + 1

	_, err := f.svc.Restock(ctx, inventory.RestockInput{TenantID: tenant, SKU: "SKU-1", SupplierID: f.supplier.ID, UnitCost: 200, Quantity: tooMany})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = f.svc.Sell(ctx, inventory.SaleInput{TenantID: tenant, SKU: "SKU-1", Quantity: tooMany})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = f.svc.RemoveStock(ctx, inventory.RemovalInput{TenantID: tenant, SKU: "SKU-1", SupplierID: f.supplier.ID, UnitCost: 200, Quantity: tooMany, Reason: inventory.ReasonDamaged})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = f.svc.Adjust(ctx, inventory.AdjustmentInput{TenantID: tenant, SKU: "SKU-1", SupplierID: f.supplier.ID, UnitCost: 200, Delta: -tooMany, Note: "count"})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Empty(t, f.store.StockIns())
}

func TestRestockRejectsLotOverflow(t *testing.T) {
	f := newFixture(t)
	full := f.store.AddLot(inventory.CostLot{TenantID: tenant, ProductID: f.product.ID, SupplierID: f.supplier.ID, UnitCost: 200, Quantity: inventory.MaxLotQuantity - 1})

	_, err := f.svc.Restock(context.Background(), inventory.RestockInput{TenantID: tenant, SKU: "SKU-1", SupplierID: f.supplier.ID, UnitCost: 200, Quantity: 5})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.NotErrorIs(t, err, shared.ErrInsufficientStock)

	lots := f.store.Lots(tenant, f.product.ID)
	require.Len(t, lots, 1)
	require.Equal(t, full.Quantity, lots[0].Quantity)
	require.Empty(t, f.store.StockIns())
	require.Empty(t, f.bus.types())
}

func TestSellRejectsRevenueOverflow(t *testing.T) {
	f := newFixture(t)
	pricey := f.store.AddProduct(catalog.Product{TenantID: tenant, SKU: "GOLD", Name: "Gold", SellingPrice: money.FromCents(money.MaxCents)})
	f.store.AddLot(inventory.CostLot{TenantID: tenant, ProductID: pricey.ID, SupplierID: f.supplier.ID, UnitCost: 200, Quantity: 1000})

	_, err := f.svc.Sell(context.Background(), inventory.SaleInput{TenantID: tenant, SKU: "GOLD", Quantity: 1000})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.ErrorIs(t, err, money.ErrOverflow)

	lots := f.store.Lots(tenant, pricey.ID)
	require.Equal(t, int64(1000), lots[0].Quantity)
	require.Empty(t, f.store.Sales())
	require.Empty(t, f.bus.types())
}
