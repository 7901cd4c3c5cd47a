// Package catalog owns the per-tenant product and supplier master data.
package catalog

import (
	"context"
	"time"

	"github.com/storeledger/storeledger/internal/money"
)

// Product is a sellable item of one tenant.
type Product struct {
	ID           int64        `json:"id"`
	TenantID     int64        `json:"tenant_id"`
	SKU          string       `json:"sku"`
	Name         string       `json:"name"`
	SellingPrice money.Amount `json:"selling_price"`
	Deleted      bool         `json:"deleted"`
	DeletedAt    *time.Time   `json:"deleted_at,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Supplier sources stock for one tenant.
type Supplier struct {
	ID        int64      `json:"id"`
	TenantID  int64      `json:"tenant_id"`
	Name      string     `json:"name"`
	Contact   string     `json:"contact"`
	Address   string     `json:"address"`
	Deleted   bool       `json:"deleted"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// ProductInput creates or revives a product.
type ProductInput struct {
	TenantID     int64
	SKU          string
	Name         string
	SellingPrice money.Amount
}

// ProductUpdate lists the only mutable product fields. Nil leaves a field untouched.
type ProductUpdate struct {
	Name         *string
	SellingPrice *money.Amount
}

// SupplierInput creates or revives a supplier.
type SupplierInput struct {
	TenantID int64
	Name     string
	Contact  string
	Address  string
}

// RequestStatus is the lifecycle state of a supplier request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

// Decision reports whether s is a final state an admin may set.
func (s RequestStatus) Decision() bool {
	return s == RequestApproved || s == RequestRejected
}

// SupplierRequest is a store's application to onboard a supplier, decided by an admin.
type SupplierRequest struct {
	ID        int64         `json:"id"`
	TenantID  int64         `json:"tenant_id"`
	Name      string        `json:"name"`
	Contact   string        `json:"contact"`
	Address   string        `json:"address"`
	Status    RequestStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	DecidedAt *time.Time    `json:"decided_at,omitempty"`
}

// TxRepository exposes catalog reads and writes inside one transaction.
// Lookups include soft-deleted rows.
type TxRepository interface {
	ProductBySKU(ctx context.Context, tenantID int64, sku string) (Product, error)
	InsertProduct(ctx context.Context, p Product) (Product, error)
	UpdateProduct(ctx context.Context, p Product) (Product, error)
	SupplierByID(ctx context.Context, tenantID, supplierID int64) (Supplier, error)
	SupplierByContact(ctx context.Context, tenantID int64, contact string) (Supplier, error)
	InsertSupplier(ctx context.Context, s Supplier) (Supplier, error)
	UpdateSupplier(ctx context.Context, s Supplier) (Supplier, error)
	InsertSupplierRequest(ctx context.Context, req SupplierRequest) (SupplierRequest, error)
	// SupplierRequestByID is not tenant scoped; decisions are made by admins.
	SupplierRequestByID(ctx context.Context, requestID int64) (SupplierRequest, error)
	UpdateSupplierRequest(ctx context.Context, req SupplierRequest) (SupplierRequest, error)
}

// RepositoryPort abstracts catalog persistence for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListProducts(ctx context.Context, tenantID int64) ([]Product, error)
	ListSuppliers(ctx context.Context, tenantID int64) ([]Supplier, error)
	// ListSupplierRequests returns requests of every tenant, oldest first. An
	// empty status matches all.
	ListSupplierRequests(ctx context.Context, status RequestStatus) ([]SupplierRequest, error)
}
