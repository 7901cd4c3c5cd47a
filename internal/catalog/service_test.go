package catalog_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/storeledger/storeledger/internal/cache"
	"github.com/storeledger/storeledger/internal/catalog"
	"github.com/storeledger/storeledger/internal/events"
	"github.com/storeledger/storeledger/internal/inventory/memstore"
	"github.com/storeledger/storeledger/internal/money"
	"github.com/storeledger/storeledger/internal/shared"
)

const tenant = int64(7)

type recordingBus struct {
	evts []events.Event
}

func (b *recordingBus) Publish(_ context.Context, evts ...events.Event) {
	b.evts = append(b.evts, evts...)
}

func (b *recordingBus) changes() []events.AuditRecord {
	var out []events.AuditRecord
	for _, evt := range b.evts {
		if a, ok := evt.Payload.(events.Auditable); ok {
			rec, err := a.AuditRecord()
			if err == nil {
				out = append(out, rec)
			}
		}
	}
	return out
}

func newService(t *testing.T) (*catalog.Service, *recordingBus) {
	t.Helper()
	bus := &recordingBus{}
	return catalog.NewService(memstore.New().Catalog(), bus, nil, nil), bus
}

func TestCreateProductRevivesDeletedSKU(t *testing.T) {
	svc, bus := newService(t)
	ctx := context.Background()

	created, err := svc.CreateProduct(ctx, catalog.ProductInput{TenantID: tenant, SKU: "TEA", Name: "Tea", SellingPrice: money.MustParse("3.00")})
	require.NoError(t, err)

	_, err = svc.CreateProduct(ctx, catalog.ProductInput{TenantID: tenant, SKU: "TEA", Name: "Tea again", SellingPrice: 100})
	require.ErrorIs(t, err, shared.ErrAlreadyExists)

	require.NoError(t, svc.DeleteProduct(ctx, tenant, "TEA"))
	products, err := svc.ListProducts(ctx, tenant)
	require.NoError(t, err)
	require.Empty(t, products)

	revived, err := svc.CreateProduct(ctx, catalog.ProductInput{TenantID: tenant, SKU: "TEA", Name: "Green tea", SellingPrice: money.MustParse("3.50")})
	require.NoError(t, err)
	require.Equal(t, created.ID, revived.ID)
	require.False(t, revived.Deleted)
	require.Nil(t, revived.DeletedAt)
	require.Equal(t, "Green tea", revived.Name)

	var actions []string
	for _, rec := range bus.changes() {
		actions = append(actions, rec.Action)
	}
	require.Equal(t, []string{catalog.ActionProductCreated, catalog.ActionProductRemoved, catalog.ActionProductRevived}, actions)
}

func TestUpdateProductTouchesOnlyAllowedFields(t *testing.T) {
	svc, bus := newService(t)
	ctx := context.Background()

	created, err := svc.CreateProduct(ctx, catalog.ProductInput{TenantID: tenant, SKU: "MUG", Name: "Mug", SellingPrice: money.MustParse("8.00")})
	require.NoError(t, err)

	price := money.MustParse("9.25")
	updated, err := svc.UpdateProduct(ctx, tenant, "MUG", catalog.ProductUpdate{SellingPrice: &price})
	require.NoError(t, err)
	require.Equal(t, "Mug", updated.Name)
	require.Equal(t, price, updated.SellingPrice)
	require.Equal(t, created.SKU, updated.SKU)

	_, err = svc.UpdateProduct(ctx, tenant, "MUG", catalog.ProductUpdate{})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.UpdateProduct(ctx, tenant+1, "MUG", catalog.ProductUpdate{SellingPrice: &price})
	require.ErrorIs(t, err, shared.ErrNotFound)

	changes := bus.changes()
	last := changes[len(changes)-1]
	require.Equal(t, catalog.ActionProductUpdated, last.Action)
	var before, after catalog.Product
	require.NoError(t, json.Unmarshal(last.OldData, &before))
	require.NoError(t, json.Unmarshal(last.NewData, &after))
	require.Equal(t, money.MustParse("8.00"), before.SellingPrice)
	require.Equal(t, price, after.SellingPrice)
}

func TestCatalogChangesMarkViewsDirty(t *testing.T) {
	svc, bus := newService(t)

	_, err := svc.CreateSupplier(context.Background(), catalog.SupplierInput{TenantID: tenant, Name: "Acme", Contact: "acme"})
	require.NoError(t, err)

	var scopes []events.Scope
	for _, evt := range bus.evts {
		if dirty, ok := evt.Payload.(events.CacheDirty); ok {
			scopes = append(scopes, dirty.Scope)
		}
	}
	require.ElementsMatch(t, []events.Scope{events.ScopeProductCatalog, events.ScopeTenantInventory, events.ScopeReports}, scopes)
	require.Equal(t, events.TypeSupplierChanged, bus.evts[len(bus.evts)-1].Type)
}

func TestSupplierLifecycle(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	sup, err := svc.CreateSupplier(ctx, catalog.SupplierInput{TenantID: tenant, Name: "Acme", Contact: "acme@example.com", Address: "Dock 4"})
	require.NoError(t, err)
	_, err = svc.CreateSupplier(ctx, catalog.SupplierInput{TenantID: tenant, Name: "Acme 2", Contact: "acme@example.com"})
	require.ErrorIs(t, err, shared.ErrAlreadyExists)

	require.NoError(t, svc.DeleteSupplier(ctx, tenant, sup.ID))
	require.ErrorIs(t, svc.DeleteSupplier(ctx, tenant, sup.ID), shared.ErrNotFound)
	suppliers, err := svc.ListSuppliers(ctx, tenant)
	require.NoError(t, err)
	require.Empty(t, suppliers)

	revived, err := svc.CreateSupplier(ctx, catalog.SupplierInput{TenantID: tenant, Name: "Acme Ltd", Contact: "acme@example.com"})
	require.NoError(t, err)
	require.Equal(t, sup.ID, revived.ID)
	require.Equal(t, "Acme Ltd", revived.Name)
}

func TestListProductsReadsThroughCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	viewCache := cache.New(client, time.Minute, nil, nil)
	bus := events.NewBus(nil, events.Config{}, nil)
	viewCache.Register(bus)
	t.Cleanup(func() { _ = bus.Close(context.Background()) })

	svc := catalog.NewService(memstore.New().Catalog(), bus, viewCache, nil)
	ctx := context.Background()

	_, err := svc.CreateProduct(ctx, catalog.ProductInput{TenantID: tenant, SKU: "A", Name: "Apple", SellingPrice: 50})
	require.NoError(t, err)
	products, err := svc.ListProducts(ctx, tenant)
	require.NoError(t, err)
	require.Len(t, products, 1)

	key := cache.BuildKey(tenant, events.ScopeProductCatalog, 0, "products")
	require.True(t, mr.Exists(key))

	_, err = svc.CreateProduct(ctx, catalog.ProductInput{TenantID: tenant, SKU: "B", Name: "Banana", SellingPrice: 30})
	require.NoError(t, err)
	require.False(t, mr.Exists(key))

	products, err = svc.ListProducts(ctx, tenant)
	require.NoError(t, err)
	require.Len(t, products, 2)
}

func TestSupplierRequestLifecycle(t *testing.T) {
	svc, bus := newService(t)
	ctx := context.Background()

	_, err := svc.CreateSupplierRequest(ctx, catalog.SupplierInput{TenantID: tenant, Name: "  ", Contact: "x"})
	require.ErrorIs(t, err, shared.ErrValidation)

	filed, err := svc.CreateSupplierRequest(ctx, catalog.SupplierInput{TenantID: tenant, Name: "Farm Co", Contact: "farm@example.com", Address: "Route 9"})
	require.NoError(t, err)
	require.Equal(t, catalog.RequestPending, filed.Status)
	require.Nil(t, filed.DecidedAt)
	other, err := svc.CreateSupplierRequest(ctx, catalog.SupplierInput{TenantID: tenant + 1, Name: "Mill", Contact: "mill"})
	require.NoError(t, err)

	pending, err := svc.ListSupplierRequests(ctx, catalog.RequestPending)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	_, err = svc.DecideSupplierRequest(ctx, filed.ID, catalog.RequestPending)
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.DecideSupplierRequest(ctx, 9999, catalog.RequestApproved)
	require.ErrorIs(t, err, shared.ErrNotFound)

	approved, err := svc.DecideSupplierRequest(ctx, filed.ID, catalog.RequestApproved)
	require.NoError(t, err)
	require.Equal(t, catalog.RequestApproved, approved.Status)
	require.NotNil(t, approved.DecidedAt)
	require.Equal(t, "Farm Co", approved.Name)

	_, err = svc.DecideSupplierRequest(ctx, filed.ID, catalog.RequestRejected)
	require.ErrorIs(t, err, shared.ErrAlreadyExists)

	rejected, err := svc.DecideSupplierRequest(ctx, other.ID, catalog.RequestRejected)
	require.NoError(t, err)
	require.Equal(t, catalog.RequestRejected, rejected.Status)

	pending, err = svc.ListSupplierRequests(ctx, catalog.RequestPending)
	require.NoError(t, err)
	require.Empty(t, pending)
	all, err := svc.ListSupplierRequests(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	_, err = svc.ListSupplierRequests(ctx, "archived")
	require.ErrorIs(t, err, shared.ErrValidation)

	var actions []string
	for _, evt := range bus.evts {
		require.Equal(t, events.TypeSupplierRequest, evt.Type)
	}
	for _, rec := range bus.changes() {
		require.Equal(t, "supplier_requests", rec.Model)
		actions = append(actions, rec.Action)
	}
	require.Equal(t, []string{
		catalog.ActionRequestCreated,
		catalog.ActionRequestCreated,
		catalog.ActionRequestApproved,
		catalog.ActionRequestRejected,
	}, actions)

	last := bus.changes()[2]
	var before catalog.SupplierRequest
	require.NoError(t, json.Unmarshal(last.OldData, &before))
	require.Equal(t, catalog.RequestPending, before.Status)
}
