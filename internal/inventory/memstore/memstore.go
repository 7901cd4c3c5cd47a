// Package memstore is an in-memory implementation of the inventory, catalog
// and tenant repositories. Transactions run one at a time against a private
// copy of the state that is swapped in only on success.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/storeledger/storeledger/internal/catalog"
	"github.com/storeledger/storeledger/internal/inventory"
	"github.com/storeledger/storeledger/internal/shared"
	"github.com/storeledger/storeledger/internal/tenant"
)

// Operation names accepted by FailOn.
const (
	OpInsertSale       = "insert_sale"
	OpInsertRemoval    = "insert_removal"
	OpInsertStockIn    = "insert_stock_in"
	OpInsertAdjustment = "insert_adjustment"
	OpUpdateLot        = "update_lot"
	OpCommit           = "commit"
)

type state struct {
	nextID      int64
	products    map[int64]catalog.Product
	suppliers   map[int64]catalog.Supplier
	lots        map[int64]inventory.CostLot
	sales       []inventory.SaleRecord
	removals    []inventory.RemovalRecord
	stockIns    []inventory.StockInRecord
	adjustments []inventory.AdjustmentRecord
	requests    map[int64]catalog.SupplierRequest
}

func newState() *state {
	return &state{
		products:  make(map[int64]catalog.Product),
		suppliers: make(map[int64]catalog.Supplier),
		lots:      make(map[int64]inventory.CostLot),
		requests:  make(map[int64]catalog.SupplierRequest),
	}
}

func (s *state) clone() *state {
	c := &state{
		nextID:      s.nextID,
		products:    make(map[int64]catalog.Product, len(s.products)),
		suppliers:   make(map[int64]catalog.Supplier, len(s.suppliers)),
		lots:        make(map[int64]inventory.CostLot, len(s.lots)),
		sales:       append([]inventory.SaleRecord(nil), s.sales...),
		removals:    append([]inventory.RemovalRecord(nil), s.removals...),
		stockIns:    append([]inventory.StockInRecord(nil), s.stockIns...),
		adjustments: append([]inventory.AdjustmentRecord(nil), s.adjustments...),
		requests:    make(map[int64]catalog.SupplierRequest, len(s.requests)),
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.suppliers {
		c.suppliers[k] = v
	}
	for k, v := range s.lots {
		c.lots[k] = v
	}
	for k, v := range s.requests {
		c.requests[k] = v
	}
	return c
}

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

// Store holds every table in memory.
type Store struct {
	mu      sync.Mutex
	st      *state
	idem    map[string]time.Time
	tenants map[int64]tenant.Tenant
	fails   map[string][]error
}

// New returns an empty store.
func New() *Store {
	return &Store{
		st:      newState(),
		idem:    make(map[string]time.Time),
		tenants: make(map[int64]tenant.Tenant),
		fails:   make(map[string][]error),
	}
}

// FailOn queues err to be returned by the next call of op.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fails[op] = append(s.fails[op], err)
}

// takeFailure must be called with mu held.
func (s *Store) takeFailure(op string) error {
	queue := s.fails[op]
	if len(queue) == 0 {
		return nil
	}
	s.fails[op] = queue[1:]
	return queue[0]
}

func (s *Store) withTx(ctx context.Context, fn func(*tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	t := &tx{store: s, st: s.st.clone()}
	if err := fn(t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.takeFailure(OpCommit); err != nil {
		return err
	}
	s.st = t.st
	return nil
}

// Inventory adapts the store to inventory.RepositoryPort.
func (s *Store) Inventory() inventory.RepositoryPort {
	return inventoryRepo{s}
}

// Catalog adapts the store to catalog.RepositoryPort.
func (s *Store) Catalog() catalog.RepositoryPort {
	return catalogRepo{s}
}

// Tenants adapts the store to tenant.Repository.
func (s *Store) Tenants() tenant.Repository {
	return tenantRepo{s}
}

// AddProduct seeds a live product and returns it with its id.
func (s *Store) AddProduct(p catalog.Product) catalog.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = s.st.id()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
		p.UpdatedAt = p.CreatedAt
	}
	s.st.products[p.ID] = p
	return p
}

// AddSupplier seeds a live supplier and returns it with its id.
func (s *Store) AddSupplier(sup catalog.Supplier) catalog.Supplier {
	s.mu.Lock()
	defer s.mu.Unlock()
	sup.ID = s.st.id()
	if sup.CreatedAt.IsZero() {
		sup.CreatedAt = time.Now().UTC()
	}
	s.st.suppliers[sup.ID] = sup
	return sup
}

// AddLot seeds a cost lot and returns it with its id.
func (s *Store) AddLot(lot inventory.CostLot) inventory.CostLot {
	s.mu.Lock()
	defer s.mu.Unlock()
	lot.ID = s.st.id()
	s.st.lots[lot.ID] = lot
	return lot
}

// Lots returns the committed lots of a product in allocation order.
func (s *Store) Lots(tenantID, productID int64) []inventory.CostLot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return productLots(s.st, tenantID, productID)
}

// Sales returns the committed sale ledger.
func (s *Store) Sales() []inventory.SaleRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]inventory.SaleRecord(nil), s.st.sales...)
}

// Removals returns the committed removal ledger.
func (s *Store) Removals() []inventory.RemovalRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]inventory.RemovalRecord(nil), s.st.removals...)
}

// StockIns returns the committed stock-in ledger.
func (s *Store) StockIns() []inventory.StockInRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]inventory.StockInRecord(nil), s.st.stockIns...)
}

// Adjustments returns the committed adjustment ledger.
func (s *Store) Adjustments() []inventory.AdjustmentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]inventory.AdjustmentRecord(nil), s.st.adjustments...)
}

// CheckAndInsert claims an idempotency key.
func (s *Store) CheckAndInsert(_ context.Context, tenantID int64, key, module string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := idemKey(tenantID, key, module)
	if _, ok := s.idem[k]; ok {
		return fmt.Errorf("%w: key %q", shared.ErrDuplicateRequest, key)
	}
	s.idem[k] = time.Now()
	return nil
}

// Delete releases an idempotency key.
func (s *Store) Delete(_ context.Context, tenantID int64, key, module string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.idem, idemKey(tenantID, key, module))
	return nil
}

func idemKey(tenantID int64, key, module string) string {
	return fmt.Sprintf("%d:%s:%s", tenantID, module, key)
}

func productLots(st *state, tenantID, productID int64) []inventory.CostLot {
	var lots []inventory.CostLot
	for _, lot := range st.lots {
		if lot.TenantID == tenantID && lot.ProductID == productID {
			lots = append(lots, lot)
		}
	}
	inventory.SortLots(lots)
	return lots
}

type inventoryRepo struct{ s *Store }

func (r inventoryRepo) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	return r.s.withTx(ctx, func(t *tx) error { return fn(ctx, t) })
}

func (r inventoryRepo) Snapshot(_ context.Context, tenantID int64) ([]inventory.SnapshotLine, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st := r.s.st
	var lots []inventory.CostLot
	for _, lot := range st.lots {
		if lot.TenantID == tenantID && !st.products[lot.ProductID].Deleted {
			lots = append(lots, lot)
		}
	}
	inventory.SortLots(lots)
	lines := make([]inventory.SnapshotLine, 0, len(lots))
	for _, lot := range lots {
		product := st.products[lot.ProductID]
		lines = append(lines, inventory.SnapshotLine{
			SKU:        product.SKU,
			Name:       product.Name,
			SupplierID: lot.SupplierID,
			Supplier:   st.suppliers[lot.SupplierID].Name,
			UnitCost:   lot.UnitCost,
			Quantity:   lot.Quantity,
		})
	}
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].SKU < lines[j].SKU })
	return lines, nil
}

func (r inventoryRepo) TenantsWithStock(context.Context) ([]int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	seen := map[int64]struct{}{}
	var tenants []int64
	for _, lot := range r.s.st.lots {
		if lot.Quantity <= 0 {
			continue
		}
		if _, ok := seen[lot.TenantID]; !ok {
			seen[lot.TenantID] = struct{}{}
			tenants = append(tenants, lot.TenantID)
		}
	}
	sort.Slice(tenants, func(i, j int) bool { return tenants[i] < tenants[j] })
	return tenants, nil
}

type catalogRepo struct{ s *Store }

func (r catalogRepo) WithTx(ctx context.Context, fn func(context.Context, catalog.TxRepository) error) error {
	return r.s.withTx(ctx, func(t *tx) error { return fn(ctx, t) })
}

func (r catalogRepo) ListProducts(_ context.Context, tenantID int64) ([]catalog.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	products := []catalog.Product{}
	for _, p := range r.s.st.products {
		if p.TenantID == tenantID && !p.Deleted {
			products = append(products, p)
		}
	}
	sort.Slice(products, func(i, j int) bool { return products[i].SKU < products[j].SKU })
	return products, nil
}

func (r catalogRepo) ListSuppliers(_ context.Context, tenantID int64) ([]catalog.Supplier, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	suppliers := []catalog.Supplier{}
	for _, sup := range r.s.st.suppliers {
		if sup.TenantID == tenantID && !sup.Deleted {
			suppliers = append(suppliers, sup)
		}
	}
	sort.Slice(suppliers, func(i, j int) bool {
		if suppliers[i].Name != suppliers[j].Name {
			return suppliers[i].Name < suppliers[j].Name
		}
		return suppliers[i].ID < suppliers[j].ID
	})
	return suppliers, nil
}

func (r catalogRepo) ListSupplierRequests(_ context.Context, status catalog.RequestStatus) ([]catalog.SupplierRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	requests := []catalog.SupplierRequest{}
	for _, req := range r.s.st.requests {
		if status == "" || req.Status == status {
			requests = append(requests, req)
		}
	}
	sort.Slice(requests, func(i, j int) bool { return requests[i].ID < requests[j].ID })
	return requests, nil
}

type tenantRepo struct{ s *Store }

func (r tenantRepo) Tenant(_ context.Context, id int64) (tenant.Tenant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if t, ok := r.s.tenants[id]; ok {
		return t, nil
	}
	return tenant.Tenant{ID: id}, nil
}

func (r tenantRepo) MarkRemoved(_ context.Context, id int64, at time.Time) (tenant.Tenant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.tenants[id].Deleted {
		return tenant.Tenant{}, shared.NotFoundf("tenant %d not found or already removed", id)
	}
	t := tenant.Tenant{ID: id, Deleted: true, DeletedAt: &at}
	r.s.tenants[id] = t
	return t, nil
}
