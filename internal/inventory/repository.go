package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/storeledger/storeledger/internal/catalog"
	"github.com/storeledger/storeledger/internal/money"
	"github.com/storeledger/storeledger/internal/platform/db"
	"github.com/storeledger/storeledger/internal/shared"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	q db.Querier
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{q: tx})
	})
}

const lotColumns = `id, tenant_id, product_id, supplier_id, unit_cost, quantity, last_updated`

// Snapshot lists the lots of live products for a tenant.
func (r *Repository) Snapshot(ctx context.Context, tenantID int64) ([]SnapshotLine, error) {
	rows, err := r.pool.Query(ctx, `SELECT p.sku, p.name, l.supplier_id, s.name, l.unit_cost, l.quantity
FROM cost_lots l
JOIN products p ON p.id = l.product_id
JOIN suppliers s ON s.id = l.supplier_id
WHERE l.tenant_id = $1 AND NOT p.deleted
ORDER BY p.sku, l.unit_cost, l.last_updated, l.id`, tenantID)
	if err != nil {
		return nil, shared.Persistence("inventory: snapshot", err)
	}
	defer rows.Close()

	lines := []SnapshotLine{}
	for rows.Next() {
		var (
			line SnapshotLine
			cost decimal.Decimal
		)
		if err := rows.Scan(&line.SKU, &line.Name, &line.SupplierID, &line.Supplier, &cost, &line.Quantity); err != nil {
			return nil, shared.Persistence("inventory: scan snapshot", err)
		}
		if line.UnitCost, err = money.FromDecimal(cost); err != nil {
			return nil, shared.Persistence("inventory: unit cost", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Persistence("inventory: snapshot", err)
	}
	return lines, nil
}

// TenantsWithStock lists tenants holding at least one non-empty lot.
func (r *Repository) TenantsWithStock(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT tenant_id FROM cost_lots WHERE quantity > 0 ORDER BY tenant_id`)
	if err != nil {
		return nil, shared.Persistence("inventory: tenants", err)
	}
	tenants, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, shared.Persistence("inventory: tenants", err)
	}
	return tenants, nil
}

func (r *txRepo) ProductBySKU(ctx context.Context, tenantID int64, sku string) (catalog.Product, error) {
	var (
		p     catalog.Product
		price decimal.Decimal
	)
	err := r.q.QueryRow(ctx, `SELECT id, tenant_id, sku, name, selling_price, deleted, deleted_at, created_at, updated_at
FROM products WHERE tenant_id = $1 AND sku = $2 FOR SHARE`, tenantID, sku).
		Scan(&p.ID, &p.TenantID, &p.SKU, &p.Name, &price, &p.Deleted, &p.DeletedAt, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Product{}, shared.NotFoundf("product %q", sku)
	}
	if err != nil {
		return catalog.Product{}, shared.Persistence("inventory: product", err)
	}
	if p.SellingPrice, err = money.FromDecimal(price); err != nil {
		return catalog.Product{}, shared.Persistence("inventory: selling price", err)
	}
	return p, nil
}

func (r *txRepo) SupplierByID(ctx context.Context, tenantID, supplierID int64) (catalog.Supplier, error) {
	var s catalog.Supplier
	err := r.q.QueryRow(ctx, `SELECT id, tenant_id, name, contact, address, deleted, deleted_at, created_at
FROM suppliers WHERE tenant_id = $1 AND id = $2 FOR SHARE`, tenantID, supplierID).
		Scan(&s.ID, &s.TenantID, &s.Name, &s.Contact, &s.Address, &s.Deleted, &s.DeletedAt, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Supplier{}, shared.NotFoundf("supplier %d", supplierID)
	}
	if err != nil {
		return catalog.Supplier{}, shared.Persistence("inventory: supplier", err)
	}
	return s, nil
}

func (r *txRepo) LockLots(ctx context.Context, tenantID, productID int64) ([]CostLot, error) {
	rows, err := r.q.Query(ctx, `SELECT `+lotColumns+` FROM cost_lots
WHERE tenant_id = $1 AND product_id = $2
ORDER BY unit_cost, last_updated, id
FOR UPDATE`, tenantID, productID)
	if err != nil {
		return nil, shared.Persistence("inventory: lock lots", err)
	}
	defer rows.Close()
	var lots []CostLot
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Persistence("inventory: lock lots", err)
	}
	return lots, nil
}

func (r *txRepo) LockLot(ctx context.Context, key LotKey) (CostLot, error) {
	row := r.q.QueryRow(ctx, `SELECT `+lotColumns+` FROM cost_lots
WHERE tenant_id = $1 AND product_id = $2 AND supplier_id = $3 AND unit_cost = $4
FOR UPDATE`, key.TenantID, key.ProductID, key.SupplierID, key.UnitCost.Decimal())
	lot, err := scanLot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return CostLot{}, ErrLotNotFound
	}
	return lot, err
}

func (r *txRepo) InsertLot(ctx context.Context, lot CostLot) (CostLot, error) {
	row := r.q.QueryRow(ctx, `INSERT INTO cost_lots (tenant_id, product_id, supplier_id, unit_cost, quantity, last_updated)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (tenant_id, product_id, supplier_id, unit_cost) DO NOTHING
RETURNING `+lotColumns, lot.TenantID, lot.ProductID, lot.SupplierID, lot.UnitCost.Decimal(), lot.Quantity, lot.LastUpdated)
	inserted, err := scanLot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return CostLot{}, fmt.Errorf("%w: lot created concurrently", shared.ErrConcurrencyConflict)
	}
	return inserted, err
}

func (r *txRepo) UpdateLot(ctx context.Context, lot CostLot) error {
	tag, err := r.q.Exec(ctx, `UPDATE cost_lots SET quantity = $2, last_updated = $3 WHERE id = $1`, lot.ID, lot.Quantity, lot.LastUpdated)
	if err != nil {
		if db.IsCheckViolation(err) {
			return &shared.InsufficientStockError{Requested: -lot.Quantity}
		}
		return shared.Persistence("inventory: update lot", err)
	}
	if tag.RowsAffected() != 1 {
		return ErrLotNotFound
	}
	return nil
}

func (r *txRepo) InsertSale(ctx context.Context, rec SaleRecord) (SaleRecord, error) {
	err := r.q.QueryRow(ctx, `INSERT INTO sales (tenant_id, product_id, supplier_id, quantity, unit_selling_price, unit_cost, profit, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		rec.TenantID, rec.ProductID, rec.SupplierID, rec.Quantity,
		rec.UnitSellingPrice.Decimal(), rec.UnitCost.Decimal(), rec.Profit.Decimal(), rec.CreatedAt).Scan(&rec.ID)
	if err != nil {
		return SaleRecord{}, shared.Persistence("inventory: insert sale", err)
	}
	return rec, nil
}

func (r *txRepo) InsertRemoval(ctx context.Context, rec RemovalRecord) (RemovalRecord, error) {
	err := r.q.QueryRow(ctx, `INSERT INTO removed_stock (tenant_id, product_id, supplier_id, quantity, unit_cost, reason, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		rec.TenantID, rec.ProductID, rec.SupplierID, rec.Quantity, rec.UnitCost.Decimal(), string(rec.Reason), rec.CreatedAt).Scan(&rec.ID)
	if err != nil {
		return RemovalRecord{}, shared.Persistence("inventory: insert removal", err)
	}
	return rec, nil
}

func (r *txRepo) InsertStockIn(ctx context.Context, rec StockInRecord) (StockInRecord, error) {
	err := r.q.QueryRow(ctx, `INSERT INTO stock_in (tenant_id, product_id, supplier_id, quantity, unit_cost, created_at)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		rec.TenantID, rec.ProductID, rec.SupplierID, rec.Quantity, rec.UnitCost.Decimal(), rec.CreatedAt).Scan(&rec.ID)
	if err != nil {
		return StockInRecord{}, shared.Persistence("inventory: insert stock in", err)
	}
	return rec, nil
}

func (r *txRepo) InsertAdjustment(ctx context.Context, rec AdjustmentRecord) (AdjustmentRecord, error) {
	err := r.q.QueryRow(ctx, `INSERT INTO stock_adjustments (tenant_id, product_id, supplier_id, unit_cost, delta, note, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		rec.TenantID, rec.ProductID, rec.SupplierID, rec.UnitCost.Decimal(), rec.Delta, rec.Note, rec.CreatedAt).Scan(&rec.ID)
	if err != nil {
		return AdjustmentRecord{}, shared.Persistence("inventory: insert adjustment", err)
	}
	return rec, nil
}

func scanLot(row pgx.Row) (CostLot, error) {
	var (
		lot  CostLot
		cost decimal.Decimal
	)
	err := row.Scan(&lot.ID, &lot.TenantID, &lot.ProductID, &lot.SupplierID, &cost, &lot.Quantity, &lot.LastUpdated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CostLot{}, err
		}
		return CostLot{}, shared.Persistence("inventory: scan lot", err)
	}
	if lot.UnitCost, err = money.FromDecimal(cost); err != nil {
		return CostLot{}, shared.Persistence("inventory: unit cost", err)
	}
	return lot, nil
}
