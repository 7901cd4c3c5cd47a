package e2e

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/storeledger/storeledger/internal/app"
	"github.com/storeledger/storeledger/internal/audit"
	audithttp "github.com/storeledger/storeledger/internal/audit/http"
	"github.com/storeledger/storeledger/internal/auth"
	"github.com/storeledger/storeledger/internal/cache"
	"github.com/storeledger/storeledger/internal/catalog"
	"github.com/storeledger/storeledger/internal/events"
	"github.com/storeledger/storeledger/internal/inventory"
	"github.com/storeledger/storeledger/internal/inventory/memstore"
	"github.com/storeledger/storeledger/internal/tenant"
	_ "github.com/storeledger/storeledger/internal/testing/guard"
)

// activityLog is an in-memory audit.Repository.
type activityLog struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (a *activityLog) Insert(_ context.Context, entry audit.Entry) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range a.entries {
		if e.EventID == entry.EventID {
			return false, nil
		}
	}
	a.entries = append(a.entries, entry)
	return true, nil
}

func (a *activityLog) TimelineWindow(ctx context.Context, arg audit.WindowParams) ([]audit.Entry, error) {
	rows, _ := a.TimelineAll(ctx, arg)
	start := min(int(arg.Offset), len(rows))
	end := min(start+int(arg.Limit), len(rows))
	return rows[start:end], nil
}

func (a *activityLog) TimelineAll(_ context.Context, arg audit.WindowParams) ([]audit.Entry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var rows []audit.Entry
	for i := len(a.entries) - 1; i >= 0; i-- {
		if a.entries[i].TenantID == arg.TenantID {
			rows = append(rows, a.entries[i])
		}
	}
	return rows, nil
}

type stack struct {
	router     http.Handler
	bus        *events.Bus
	token      string
	adminToken string
}

func newStack(t *testing.T) *stack {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	reg := prometheus.NewRegistry()
	bus := events.NewBus(nil, events.Config{Backoff: time.Millisecond}, reg)
	viewCache := cache.New(client, time.Minute, nil, reg)
	viewCache.Register(bus)
	log := &activityLog{}
	audit.NewSubscriber(log, nil, nil).Register(bus)

	store := memstore.New()
	catalogSvc := catalog.NewService(store.Catalog(), bus, viewCache, nil)
	inventorySvc := inventory.NewService(store.Inventory(), bus, viewCache, store, nil, inventory.ServiceConfig{TxRetries: 3})

	verifier, err := auth.NewVerifier("e2e-secret", "storeledger")
	require.NoError(t, err)
	token, err := verifier.Sign(21, "store", time.Hour)
	require.NoError(t, err)
	adminToken, err := verifier.Sign(0, auth.RoleAdmin, time.Hour)
	require.NoError(t, err)

	router := app.NewRouter(app.RouterParams{
		Config:           &app.Config{RateLimitPerMin: 10000},
		Auth:             auth.Middleware{Verifier: verifier},
		InventoryHandler: inventory.NewHandler(nil, inventorySvc),
		CatalogHandler:   catalog.NewHandler(nil, catalogSvc),
		AuditHandler:     audithttp.NewHandler(nil, audit.NewService(log)),
		TenantHandler:    tenant.NewHandler(nil, tenant.NewService(store.Tenants(), bus, nil)),
	})
	t.Cleanup(func() { _ = bus.Close(context.Background()) })
	return &stack{router: router, bus: bus, token: token, adminToken: adminToken}
}

func (s *stack) call(t *testing.T, method, path, body string, want int) []byte {
	t.Helper()
	return s.callAs(t, s.token, method, path, body, want)
}

func (s *stack) callAs(t *testing.T, token, method, path, body string, want int) []byte {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, want, rec.Code, "%s %s: %s", method, path, rec.Body.String())
	return rec.Body.Bytes()
}

func TestStorefrontFlow(t *testing.T) {
	s := newStack(t)

	s.call(t, http.MethodPost, "/api/v1/products", `{"sku":"COFFEE","name":"Coffee beans","selling_price":"12.00"}`, http.StatusCreated)
	var supplier catalog.Supplier
	require.NoError(t, json.Unmarshal(s.call(t, http.MethodPost, "/api/v1/suppliers", `{"name":"Roasters","contact":"roasters@example.com"}`, http.StatusCreated), &supplier))
	supplierID := strconv.FormatInt(supplier.ID, 10)

	s.call(t, http.MethodPost, "/api/v1/inventory/restocks", `{"sku":"COFFEE","supplier_id":`+supplierID+`,"unit_cost":"7.00","quantity":5}`, http.StatusCreated)
	s.call(t, http.MethodPost, "/api/v1/inventory/restocks", `{"sku":"COFFEE","supplier_id":`+supplierID+`,"unit_cost":"6.00","quantity":2}`, http.StatusCreated)

	// Warm the snapshot cache, then make sure the sale below invalidates it.
	s.call(t, http.MethodGet, "/api/v1/inventory", "", http.StatusOK)

	var sale inventory.SaleResult
	require.NoError(t, json.Unmarshal(s.call(t, http.MethodPost, "/api/v1/inventory/sales", `{"sku":"COFFEE","quantity":4}`, http.StatusCreated), &sale))
	require.Equal(t, "22.00", sale.TotalProfit.String()) // 2 x (12-6) + 2 x (12-7)

	var snap struct {
		Lots []inventory.SnapshotLine `json:"lots"`
	}
	require.NoError(t, json.Unmarshal(s.call(t, http.MethodGet, "/api/v1/inventory", "", http.StatusOK), &snap))
	var onHand int64
	for _, line := range snap.Lots {
		onHand += line.Quantity
	}
	require.Equal(t, int64(3), onHand)

	s.call(t, http.MethodPost, "/api/v1/inventory/sales", `{"sku":"COFFEE","quantity":4}`, http.StatusConflict)

	s.bus.Wait()
	var timeline audit.Result
	require.NoError(t, json.Unmarshal(s.call(t, http.MethodGet, "/api/v1/activity?page_size=50", "", http.StatusOK), &timeline))
	actions := map[string]int{}
	for _, row := range timeline.Rows {
		require.Equal(t, int64(21), row.TenantID)
		actions[row.Action]++
	}
	require.Equal(t, 1, actions[catalog.ActionProductCreated])
	require.Equal(t, 1, actions[catalog.ActionSupplierCreated])
	require.Equal(t, 2, actions[inventory.ActionStockIn])
	require.Equal(t, 2, actions[inventory.ActionSaleInsert])
	require.Equal(t, 2, actions[inventory.ActionSold])
}

func TestStorefrontRejectsForeignTokens(t *testing.T) {
	s := newStack(t)
	other, err := auth.NewVerifier("another-secret", "storeledger")
	require.NoError(t, err)
	token, err := other.Sign(21, "store", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/inventory", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSupplierOnboardingAndStoreRemoval(t *testing.T) {
	s := newStack(t)

	var filed catalog.SupplierRequest
	require.NoError(t, json.Unmarshal(s.call(t, http.MethodPost, "/api/v1/suppliers/requests", `{"name":"Dairy","contact":"dairy@example.com"}`, http.StatusCreated), &filed))
	require.Equal(t, catalog.RequestPending, filed.Status)
	requestPath := "/api/v1/admin/supplier-requests/" + strconv.FormatInt(filed.ID, 10)

	s.call(t, http.MethodPatch, requestPath, `{"status":"approved"}`, http.StatusForbidden)
	s.callAs(t, s.adminToken, http.MethodPatch, requestPath, `{"status":"maybe"}`, http.StatusBadRequest)
	s.callAs(t, s.adminToken, http.MethodPatch, "/api/v1/admin/supplier-requests/404", `{"status":"approved"}`, http.StatusNotFound)

	var pending struct {
		Requests []catalog.SupplierRequest `json:"requests"`
	}
	require.NoError(t, json.Unmarshal(s.callAs(t, s.adminToken, http.MethodGet, "/api/v1/admin/supplier-requests?status=pending", "", http.StatusOK), &pending))
	require.Len(t, pending.Requests, 1)
	require.Equal(t, int64(21), pending.Requests[0].TenantID)

	var decided catalog.SupplierRequest
	require.NoError(t, json.Unmarshal(s.callAs(t, s.adminToken, http.MethodPatch, requestPath, `{"status":"approved"}`, http.StatusOK), &decided))
	require.Equal(t, catalog.RequestApproved, decided.Status)

	s.call(t, http.MethodDelete, "/api/v1/admin/tenants/21", "", http.StatusForbidden)
	s.callAs(t, s.adminToken, http.MethodDelete, "/api/v1/admin/tenants/21", "", http.StatusOK)
	s.callAs(t, s.adminToken, http.MethodDelete, "/api/v1/admin/tenants/21", "", http.StatusNotFound)

	s.call(t, http.MethodPost, "/api/v1/products", `{"sku":"TEA","name":"Tea","selling_price":"3.00"}`, http.StatusForbidden)
	s.call(t, http.MethodPost, "/api/v1/inventory/sales", `{"sku":"TEA","quantity":1}`, http.StatusForbidden)
	s.call(t, http.MethodGet, "/api/v1/inventory", "", http.StatusOK)

	s.bus.Wait()
	var timeline audit.Result
	require.NoError(t, json.Unmarshal(s.call(t, http.MethodGet, "/api/v1/activity?page_size=50", "", http.StatusOK), &timeline))
	actions := map[string]int{}
	for _, row := range timeline.Rows {
		actions[row.Action]++
	}
	require.Equal(t, 1, actions[catalog.ActionRequestCreated])
	require.Equal(t, 1, actions[catalog.ActionRequestApproved])
	require.Equal(t, 1, actions[tenant.ActionRemoved])
}
