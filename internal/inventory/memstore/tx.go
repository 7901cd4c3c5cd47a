package memstore

import (
	"context"
	"fmt"

	"github.com/storeledger/storeledger/internal/catalog"
	"github.com/storeledger/storeledger/internal/inventory"
	"github.com/storeledger/storeledger/internal/shared"
)

// tx implements both inventory.TxRepository and catalog.TxRepository.
type tx struct {
	store *Store
	st    *state
}

func (t *tx) ProductBySKU(_ context.Context, tenantID int64, sku string) (catalog.Product, error) {
	for _, p := range t.st.products {
		if p.TenantID == tenantID && p.SKU == sku {
			return p, nil
		}
	}
	return catalog.Product{}, shared.NotFoundf("product %q", sku)
}

func (t *tx) InsertProduct(_ context.Context, p catalog.Product) (catalog.Product, error) {
	for _, existing := range t.st.products {
		if existing.TenantID == p.TenantID && existing.SKU == p.SKU {
			return catalog.Product{}, fmt.Errorf("%w: product %q", shared.ErrAlreadyExists, p.SKU)
		}
	}
	p.ID = t.st.id()
	t.st.products[p.ID] = p
	return p, nil
}

func (t *tx) UpdateProduct(_ context.Context, p catalog.Product) (catalog.Product, error) {
	existing, ok := t.st.products[p.ID]
	if !ok || existing.TenantID != p.TenantID {
		return catalog.Product{}, shared.NotFoundf("product %q", p.SKU)
	}
	p.SKU = existing.SKU
	p.CreatedAt = existing.CreatedAt
	t.st.products[p.ID] = p
	return p, nil
}

func (t *tx) SupplierByID(_ context.Context, tenantID, supplierID int64) (catalog.Supplier, error) {
	sup, ok := t.st.suppliers[supplierID]
	if !ok || sup.TenantID != tenantID {
		return catalog.Supplier{}, shared.NotFoundf("supplier %d", supplierID)
	}
	return sup, nil
}

func (t *tx) SupplierByContact(_ context.Context, tenantID int64, contact string) (catalog.Supplier, error) {
	for _, sup := range t.st.suppliers {
		if sup.TenantID == tenantID && sup.Contact == contact {
			return sup, nil
		}
	}
	return catalog.Supplier{}, shared.NotFoundf("supplier with contact %q", contact)
}

func (t *tx) InsertSupplier(_ context.Context, sup catalog.Supplier) (catalog.Supplier, error) {
	for _, existing := range t.st.suppliers {
		if existing.TenantID == sup.TenantID && existing.Contact == sup.Contact {
			return catalog.Supplier{}, fmt.Errorf("%w: supplier with contact %q", shared.ErrAlreadyExists, sup.Contact)
		}
	}
	sup.ID = t.st.id()
	t.st.suppliers[sup.ID] = sup
	return sup, nil
}

func (t *tx) UpdateSupplier(_ context.Context, sup catalog.Supplier) (catalog.Supplier, error) {
	existing, ok := t.st.suppliers[sup.ID]
	if !ok || existing.TenantID != sup.TenantID {
		return catalog.Supplier{}, shared.NotFoundf("supplier %d", sup.ID)
	}
	sup.Contact = existing.Contact
	sup.CreatedAt = existing.CreatedAt
	t.st.suppliers[sup.ID] = sup
	return sup, nil
}

func (t *tx) InsertSupplierRequest(_ context.Context, req catalog.SupplierRequest) (catalog.SupplierRequest, error) {
	req.ID = t.st.id()
	t.st.requests[req.ID] = req
	return req, nil
}

func (t *tx) SupplierRequestByID(_ context.Context, requestID int64) (catalog.SupplierRequest, error) {
	req, ok := t.st.requests[requestID]
	if !ok {
		return catalog.SupplierRequest{}, shared.NotFoundf("supplier request %d", requestID)
	}
	return req, nil
}

func (t *tx) UpdateSupplierRequest(_ context.Context, req catalog.SupplierRequest) (catalog.SupplierRequest, error) {
	existing, ok := t.st.requests[req.ID]
	if !ok {
		return catalog.SupplierRequest{}, shared.NotFoundf("supplier request %d", req.ID)
	}
	existing.Status = req.Status
	existing.DecidedAt = req.DecidedAt
	t.st.requests[req.ID] = existing
	return existing, nil
}

func (t *tx) LockLots(_ context.Context, tenantID, productID int64) ([]inventory.CostLot, error) {
	return productLots(t.st, tenantID, productID), nil
}

func (t *tx) LockLot(_ context.Context, key inventory.LotKey) (inventory.CostLot, error) {
	for _, lot := range t.st.lots {
		if lot.Key() == key {
			return lot, nil
		}
	}
	return inventory.CostLot{}, inventory.ErrLotNotFound
}

func (t *tx) InsertLot(_ context.Context, lot inventory.CostLot) (inventory.CostLot, error) {
	for _, existing := range t.st.lots {
		if existing.Key() == lot.Key() {
			return inventory.CostLot{}, fmt.Errorf("%w: lot created concurrently", shared.ErrConcurrencyConflict)
		}
	}
	lot.ID = t.st.id()
	t.st.lots[lot.ID] = lot
	return lot, nil
}

func (t *tx) UpdateLot(_ context.Context, lot inventory.CostLot) error {
	if err := t.store.takeFailure(OpUpdateLot); err != nil {
		return err
	}
	if _, ok := t.st.lots[lot.ID]; !ok {
		return inventory.ErrLotNotFound
	}
	if lot.Quantity < 0 {
		return &shared.InsufficientStockError{Requested: -lot.Quantity}
	}
	t.st.lots[lot.ID] = lot
	return nil
}

func (t *tx) InsertSale(_ context.Context, rec inventory.SaleRecord) (inventory.SaleRecord, error) {
	if err := t.store.takeFailure(OpInsertSale); err != nil {
		return inventory.SaleRecord{}, err
	}
	rec.ID = t.st.id()
	t.st.sales = append(t.st.sales, rec)
	return rec, nil
}

func (t *tx) InsertRemoval(_ context.Context, rec inventory.RemovalRecord) (inventory.RemovalRecord, error) {
	if err := t.store.takeFailure(OpInsertRemoval); err != nil {
		return inventory.RemovalRecord{}, err
	}
	rec.ID = t.st.id()
	t.st.removals = append(t.st.removals, rec)
	return rec, nil
}

func (t *tx) InsertStockIn(_ context.Context, rec inventory.StockInRecord) (inventory.StockInRecord, error) {
	if err := t.store.takeFailure(OpInsertStockIn); err != nil {
		return inventory.StockInRecord{}, err
	}
	rec.ID = t.st.id()
	t.st.stockIns = append(t.st.stockIns, rec)
	return rec, nil
}

func (t *tx) InsertAdjustment(_ context.Context, rec inventory.AdjustmentRecord) (inventory.AdjustmentRecord, error) {
	if err := t.store.takeFailure(OpInsertAdjustment); err != nil {
		return inventory.AdjustmentRecord{}, err
	}
	rec.ID = t.st.id()
	t.st.adjustments = append(t.st.adjustments, rec)
	return rec, nil
}
