package inventory

import (
	"context"
	"time"

	"github.com/storeledger/storeledger/internal/catalog"
	"github.com/storeledger/storeledger/internal/money"
)

// CostLot is the on-hand quantity of one product bought from one supplier at
// one unit cost. Exhausted lots stay at quantity zero and are never deleted.
type CostLot struct {
	ID          int64        `json:"id"`
	TenantID    int64        `json:"tenant_id"`
	ProductID   int64        `json:"product_id"`
	SupplierID  int64        `json:"supplier_id"`
	UnitCost    money.Amount `json:"unit_cost"`
	Quantity    int64        `json:"quantity"`
	LastUpdated time.Time    `json:"last_updated"`
}

// LotKey is the natural key of a CostLot.
type LotKey struct {
	TenantID   int64
	ProductID  int64
	SupplierID int64
	UnitCost   money.Amount
}

// Key returns the natural key of the lot.
func (l CostLot) Key() LotKey {
	return LotKey{TenantID: l.TenantID, ProductID: l.ProductID, SupplierID: l.SupplierID, UnitCost: l.UnitCost}
}

// RemovalReason classifies written-off stock.
type RemovalReason string

const (
	ReasonDamaged RemovalReason = "damaged"
	ReasonExpired RemovalReason = "expired"
	ReasonLost    RemovalReason = "lost"
)

// Valid reports whether r is a known reason code.
func (r RemovalReason) Valid() bool {
	switch r {
	case ReasonDamaged, ReasonExpired, ReasonLost:
		return true
	}
	return false
}

// SaleRecord is one immutable ledger row per lot touched by a sale.
type SaleRecord struct {
	ID               int64        `json:"id"`
	TenantID         int64        `json:"tenant_id"`
	ProductID        int64        `json:"product_id"`
	SupplierID       int64        `json:"supplier_id"`
	Quantity         int64        `json:"quantity"`
	UnitSellingPrice money.Amount `json:"unit_selling_price"`
	UnitCost         money.Amount `json:"unit_cost"`
	Profit           money.Amount `json:"profit"`
	CreatedAt        time.Time    `json:"created_at"`
}

// RemovalRecord is one immutable ledger row per write-off.
type RemovalRecord struct {
	ID         int64         `json:"id"`
	TenantID   int64         `json:"tenant_id"`
	ProductID  int64         `json:"product_id"`
	SupplierID int64         `json:"supplier_id"`
	Quantity   int64         `json:"quantity"`
	UnitCost   money.Amount  `json:"unit_cost"`
	Reason     RemovalReason `json:"reason"`
	CreatedAt  time.Time     `json:"created_at"`
}

// StockInRecord logs every restock independent of the lot total.
type StockInRecord struct {
	ID         int64        `json:"id"`
	TenantID   int64        `json:"tenant_id"`
	ProductID  int64        `json:"product_id"`
	SupplierID int64        `json:"supplier_id"`
	Quantity   int64        `json:"quantity"`
	UnitCost   money.Amount `json:"unit_cost"`
	CreatedAt  time.Time    `json:"created_at"`
}

// AdjustmentRecord logs a manual correction of a lot.
type AdjustmentRecord struct {
	ID         int64        `json:"id"`
	TenantID   int64        `json:"tenant_id"`
	ProductID  int64        `json:"product_id"`
	SupplierID int64        `json:"supplier_id"`
	UnitCost   money.Amount `json:"unit_cost"`
	Delta      int64        `json:"delta"`
	Note       string       `json:"note"`
	CreatedAt  time.Time    `json:"created_at"`
}

// SaleInput requests the sale of Quantity units of SKU.
type SaleInput struct {
	TenantID       int64
	SKU            string
	Quantity       int64
	IdempotencyKey string
}

// SaleResult reports the totals of a committed sale.
type SaleResult struct {
	SKU          string       `json:"sku"`
	Quantity     int64        `json:"quantity"`
	TotalRevenue money.Amount `json:"total_revenue"`
	TotalCost    money.Amount `json:"total_cost"`
	TotalProfit  money.Amount `json:"total_profit"`
	Records      []SaleRecord `json:"records"`
}

// RemovalInput writes off units of one lot.
type RemovalInput struct {
	TenantID   int64
	SKU        string
	SupplierID int64
	UnitCost   money.Amount
	Quantity   int64
	Reason     RemovalReason
}

// RestockInput adds units to the lot keyed by supplier and unit cost.
type RestockInput struct {
	TenantID   int64
	SKU        string
	SupplierID int64
	UnitCost   money.Amount
	Quantity   int64
}

// RestockResult reports the lot after a restock.
type RestockResult struct {
	Lot     CostLot       `json:"lot"`
	Record  StockInRecord `json:"record"`
	Created bool          `json:"created"`
}

// AdjustmentInput corrects a lot by Delta units.
type AdjustmentInput struct {
	TenantID   int64
	SKU        string
	SupplierID int64
	UnitCost   money.Amount
	Delta      int64
	Note       string
}

// SnapshotLine is one lot of the tenant inventory view.
type SnapshotLine struct {
	SKU        string       `json:"sku"`
	Name       string       `json:"name"`
	SupplierID int64        `json:"supplier_id"`
	Supplier   string       `json:"supplier"`
	UnitCost   money.Amount `json:"unit_cost"`
	Quantity   int64        `json:"quantity"`
}

// TxRepository exposes the reads and writes one stock transaction needs.
type TxRepository interface {
	// ProductBySKU includes soft-deleted products.
	ProductBySKU(ctx context.Context, tenantID int64, sku string) (catalog.Product, error)
	SupplierByID(ctx context.Context, tenantID, supplierID int64) (catalog.Supplier, error)
	// LockLots locks every lot of a product in allocation order.
	LockLots(ctx context.Context, tenantID, productID int64) ([]CostLot, error)
	// LockLot locks one lot by key, returning ErrLotNotFound when absent.
	LockLot(ctx context.Context, key LotKey) (CostLot, error)
	// InsertLot returns ErrConcurrencyConflict when another transaction created the key first.
	InsertLot(ctx context.Context, lot CostLot) (CostLot, error)
	UpdateLot(ctx context.Context, lot CostLot) error
	InsertSale(ctx context.Context, rec SaleRecord) (SaleRecord, error)
	InsertRemoval(ctx context.Context, rec RemovalRecord) (RemovalRecord, error)
	InsertStockIn(ctx context.Context, rec StockInRecord) (StockInRecord, error)
	InsertAdjustment(ctx context.Context, rec AdjustmentRecord) (AdjustmentRecord, error)
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Snapshot(ctx context.Context, tenantID int64) ([]SnapshotLine, error)
	TenantsWithStock(ctx context.Context) ([]int64, error)
}
