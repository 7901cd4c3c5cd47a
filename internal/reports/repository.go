package reports

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/storeledger/storeledger/internal/money"
	"github.com/storeledger/storeledger/internal/shared"
)

// PgRepository reads report aggregates from PostgreSQL.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs PgRepository.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const filterClause = `x.tenant_id = @tenant
  AND (@supplier::bigint IS NULL OR x.supplier_id = @supplier)
  AND (@product::bigint IS NULL OR x.product_id = @product)`

const periodClause = `
  AND (@from::timestamptz IS NULL OR x.created_at >= @from)
  AND (@to::timestamptz IS NULL OR x.created_at < @to)`

const salesSQL = `SELECT p.sku, p.name, x.supplier_id, x.unit_cost, x.unit_selling_price,
       SUM(x.quantity)::bigint, SUM(x.quantity * x.unit_selling_price), SUM(x.profit), MAX(x.created_at)
FROM sales x
JOIN products p ON p.id = x.product_id
WHERE ` + filterClause + periodClause + `
GROUP BY p.sku, p.name, x.supplier_id, x.unit_cost, x.unit_selling_price
ORDER BY p.sku, x.supplier_id, x.unit_cost, x.unit_selling_price`

const stockInSQL = `SELECT p.sku, p.name, x.supplier_id, x.unit_cost, '' AS reason,
       SUM(x.quantity)::bigint, MAX(x.created_at)
FROM stock_in x
JOIN products p ON p.id = x.product_id
WHERE ` + filterClause + periodClause + `
GROUP BY p.sku, p.name, x.supplier_id, x.unit_cost
ORDER BY p.sku, x.supplier_id, x.unit_cost`

const removedSQL = `SELECT p.sku, p.name, x.supplier_id, x.unit_cost, x.reason,
       SUM(x.quantity)::bigint, MAX(x.created_at)
FROM removed_stock x
JOIN products p ON p.id = x.product_id
WHERE ` + filterClause + periodClause + `
GROUP BY p.sku, p.name, x.supplier_id, x.unit_cost, x.reason
ORDER BY p.sku, x.supplier_id, x.unit_cost, x.reason`

const stockSQL = `SELECT p.sku, p.name, x.supplier_id, x.unit_cost, x.quantity
FROM cost_lots x
JOIN products p ON p.id = x.product_id
WHERE ` + filterClause + `
  AND x.quantity > 0 AND NOT p.deleted
ORDER BY p.sku, x.unit_cost, x.last_updated, x.id`

func namedArgs(filter Filter) pgx.NamedArgs {
	return pgx.NamedArgs{
		"tenant":   filter.TenantID,
		"supplier": optionalID(filter.SupplierID),
		"product":  optionalID(filter.ProductID),
		"from":     optionalTime(filter.From),
		"to":       optionalTime(filter.To),
	}
}

func optionalID(id *int64) pgtype.Int8 {
	if id == nil {
		return pgtype.Int8{Valid: false}
	}
	return pgtype.Int8{Int64: *id, Valid: true}
}

func optionalTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{Valid: false}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

// Sales aggregates the sales ledger.
func (r *PgRepository) Sales(ctx context.Context, filter Filter) ([]SalesRow, error) {
	rows, err := r.pool.Query(ctx, salesSQL, namedArgs(filter))
	if err != nil {
		return nil, shared.Persistence("reports: sales", err)
	}
	defer rows.Close()
	out := []SalesRow{}
	for rows.Next() {
		var (
			row                           SalesRow
			cost, price, revenue, profit decimal.Decimal
		)
		if err := rows.Scan(&row.SKU, &row.Name, &row.SupplierID, &cost, &price, &row.Quantity, &revenue, &profit, &row.LastAt); err != nil {
			return nil, shared.Persistence("reports: scan sales", err)
		}
		amounts, err := amounts(cost, price, revenue, profit)
		if err != nil {
			return nil, shared.Persistence("reports: sales amounts", err)
		}
		row.UnitCost, row.UnitSellingPrice, row.Revenue, row.Profit = amounts[0], amounts[1], amounts[2], amounts[3]
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Persistence("reports: sales", err)
	}
	return out, nil
}

// Movements aggregates the stock-in or removed-stock ledger.
func (r *PgRepository) Movements(ctx context.Context, filter Filter) ([]MovementRow, error) {
	query := stockInSQL
	if filter.Type == TypeRemovedStock {
		query = removedSQL
	}
	rows, err := r.pool.Query(ctx, query, namedArgs(filter))
	if err != nil {
		return nil, shared.Persistence("reports: movements", err)
	}
	defer rows.Close()
	out := []MovementRow{}
	for rows.Next() {
		var (
			row  MovementRow
			cost decimal.Decimal
		)
		if err := rows.Scan(&row.SKU, &row.Name, &row.SupplierID, &cost, &row.Reason, &row.Quantity, &row.LastAt); err != nil {
			return nil, shared.Persistence("reports: scan movements", err)
		}
		if row.UnitCost, err = money.FromDecimal(cost); err != nil {
			return nil, shared.Persistence("reports: unit cost", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Persistence("reports: movements", err)
	}
	return out, nil
}

// Stock lists the non-empty lots of live products.
func (r *PgRepository) Stock(ctx context.Context, filter Filter) ([]StockRow, error) {
	rows, err := r.pool.Query(ctx, stockSQL, namedArgs(filter))
	if err != nil {
		return nil, shared.Persistence("reports: stock", err)
	}
	defer rows.Close()
	out := []StockRow{}
	for rows.Next() {
		var (
			row  StockRow
			cost decimal.Decimal
		)
		if err := rows.Scan(&row.SKU, &row.Name, &row.SupplierID, &cost, &row.Quantity); err != nil {
			return nil, shared.Persistence("reports: scan stock", err)
		}
		if row.UnitCost, err = money.FromDecimal(cost); err != nil {
			return nil, shared.Persistence("reports: unit cost", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Persistence("reports: stock", err)
	}
	return out, nil
}

func amounts(values ...decimal.Decimal) ([]money.Amount, error) {
	out := make([]money.Amount, len(values))
	for i, v := range values {
		a, err := money.FromDecimal(v)
		if err != nil {
			return nil, err
		}
		out[i] = a
	}
	return out, nil
}
