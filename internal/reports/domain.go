// Package reports aggregates the append-only stock ledgers into per-tenant reports.
package reports

import (
	"context"
	"time"

	"github.com/storeledger/storeledger/internal/money"
)

// Type selects the ledger a report is built from.
type Type string

const (
	TypeSales        Type = "sales"
	TypeStockIn      Type = "stock-in"
	TypeRemovedStock Type = "removed-stock"
	TypeInventory    Type = "inventory"
)

// Valid reports whether t is a known report type.
func (t Type) Valid() bool {
	switch t {
	case TypeSales, TypeStockIn, TypeRemovedStock, TypeInventory:
		return true
	}
	return false
}

// Filter narrows a report. Nil ids and zero times are not applied.
// From is inclusive and To exclusive; inventory reports ignore both.
type Filter struct {
	TenantID   int64
	Type       Type
	SupplierID *int64
	ProductID  *int64
	From       time.Time
	To         time.Time
}

// SalesRow aggregates sales sharing sku, supplier, unit cost and selling price.
type SalesRow struct {
	SKU              string       `json:"sku"`
	Name             string       `json:"name"`
	SupplierID       int64        `json:"supplier_id"`
	UnitCost         money.Amount `json:"unit_cost"`
	UnitSellingPrice money.Amount `json:"unit_selling_price"`
	Quantity         int64        `json:"quantity"`
	Revenue          money.Amount `json:"revenue"`
	Profit           money.Amount `json:"profit"`
	LastAt           time.Time    `json:"last_at"`
}

// MovementRow aggregates stock-in or removal rows sharing sku, supplier and unit cost.
type MovementRow struct {
	SKU        string       `json:"sku"`
	Name       string       `json:"name"`
	SupplierID int64        `json:"supplier_id"`
	UnitCost   money.Amount `json:"unit_cost"`
	Reason     string       `json:"reason,omitempty"`
	Quantity   int64        `json:"quantity"`
	LastAt     time.Time    `json:"last_at"`
}

// StockRow is one non-empty lot of a live product.
type StockRow struct {
	SKU        string       `json:"sku"`
	Name       string       `json:"name"`
	SupplierID int64        `json:"supplier_id"`
	UnitCost   money.Amount `json:"unit_cost"`
	Quantity   int64        `json:"quantity"`
}

// Totals sums a report. Cost is quantity times unit cost over every row.
type Totals struct {
	Quantity int64        `json:"quantity"`
	Revenue  money.Amount `json:"revenue"`
	Cost     money.Amount `json:"cost"`
	Profit   money.Amount `json:"profit"`
}

// Report is the cached result of Build.
type Report struct {
	Type        Type          `json:"type"`
	GeneratedAt time.Time     `json:"generated_at"`
	Sales       []SalesRow    `json:"sales,omitempty"`
	Movements   []MovementRow `json:"movements,omitempty"`
	Stock       []StockRow    `json:"stock,omitempty"`
	Totals      Totals        `json:"totals"`
}

// Repository runs the aggregate queries.
type Repository interface {
	Sales(ctx context.Context, filter Filter) ([]SalesRow, error)
	// Movements reads stock_in or removed_stock depending on filter.Type.
	Movements(ctx context.Context, filter Filter) ([]MovementRow, error)
	Stock(ctx context.Context, filter Filter) ([]StockRow, error)
}
