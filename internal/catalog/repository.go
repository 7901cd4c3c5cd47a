package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/storeledger/storeledger/internal/money"
	"github.com/storeledger/storeledger/internal/platform/db"
	"github.com/storeledger/storeledger/internal/shared"
)

// Repository persists catalog data in PostgreSQL.
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

const productColumns = `id, tenant_id, sku, name, selling_price, deleted, deleted_at, created_at, updated_at`

const supplierColumns = `id, tenant_id, name, contact, address, deleted, deleted_at, created_at`

const requestColumns = `id, tenant_id, name, contact, address, status, created_at, decided_at`

// ListProducts returns the live products of a tenant ordered by SKU.
func (r *Repository) ListProducts(ctx context.Context, tenantID int64) ([]Product, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+productColumns+` FROM products
WHERE tenant_id = $1 AND NOT deleted ORDER BY sku`, tenantID)
	if err != nil {
		return nil, shared.Persistence("catalog: list products", err)
	}
	defer rows.Close()
	products := []Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Persistence("catalog: list products", err)
	}
	return products, nil
}

// ListSuppliers returns the live suppliers of a tenant ordered by name.
func (r *Repository) ListSuppliers(ctx context.Context, tenantID int64) ([]Supplier, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+supplierColumns+` FROM suppliers
WHERE tenant_id = $1 AND NOT deleted ORDER BY name, id`, tenantID)
	if err != nil {
		return nil, shared.Persistence("catalog: list suppliers", err)
	}
	defer rows.Close()
	suppliers := []Supplier{}
	for rows.Next() {
		s, err := scanSupplier(rows)
		if err != nil {
			return nil, err
		}
		suppliers = append(suppliers, s)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Persistence("catalog: list suppliers", err)
	}
	return suppliers, nil
}

// ListSupplierRequests returns requests of every tenant, oldest first.
func (r *Repository) ListSupplierRequests(ctx context.Context, status RequestStatus) ([]SupplierRequest, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+requestColumns+` FROM supplier_requests
WHERE @status::text = '' OR status = @status
ORDER BY created_at, id`, pgx.NamedArgs{"status": string(status)})
	if err != nil {
		return nil, shared.Persistence("catalog: list supplier requests", err)
	}
	defer rows.Close()
	requests := []SupplierRequest{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Persistence("catalog: list supplier requests", err)
	}
	return requests, nil
}

func (r *txRepo) ProductBySKU(ctx context.Context, tenantID int64, sku string) (Product, error) {
	row := r.q.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE tenant_id = $1 AND sku = $2 FOR UPDATE`, tenantID, sku)
	p, err := scanProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, shared.NotFoundf("product %q", sku)
	}
	return p, err
}

func (r *txRepo) InsertProduct(ctx context.Context, p Product) (Product, error) {
	row := r.q.QueryRow(ctx, `INSERT INTO products (tenant_id, sku, name, selling_price, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING `+productColumns, p.TenantID, p.SKU, p.Name, p.SellingPrice.Decimal(), p.CreatedAt, p.UpdatedAt)
	inserted, err := scanProduct(row)
	if err != nil && db.IsUniqueViolation(err) {
		return Product{}, fmt.Errorf("%w: product %q", shared.ErrAlreadyExists, p.SKU)
	}
	return inserted, err
}

func (r *txRepo) UpdateProduct(ctx context.Context, p Product) (Product, error) {
	row := r.q.QueryRow(ctx, `UPDATE products
SET name = $3, selling_price = $4, deleted = $5, deleted_at = $6, updated_at = $7
WHERE tenant_id = $1 AND id = $2
RETURNING `+productColumns, p.TenantID, p.ID, p.Name, p.SellingPrice.Decimal(), p.Deleted, p.DeletedAt, p.UpdatedAt)
	updated, err := scanProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, shared.NotFoundf("product %q", p.SKU)
	}
	return updated, err
}

func (r *txRepo) SupplierByID(ctx context.Context, tenantID, supplierID int64) (Supplier, error) {
	row := r.q.QueryRow(ctx, `SELECT `+supplierColumns+` FROM suppliers WHERE tenant_id = $1 AND id = $2 FOR UPDATE`, tenantID, supplierID)
	s, err := scanSupplier(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Supplier{}, shared.NotFoundf("supplier %d", supplierID)
	}
	return s, err
}

func (r *txRepo) SupplierByContact(ctx context.Context, tenantID int64, contact string) (Supplier, error) {
	row := r.q.QueryRow(ctx, `SELECT `+supplierColumns+` FROM suppliers WHERE tenant_id = $1 AND contact = $2 FOR UPDATE`, tenantID, contact)
	s, err := scanSupplier(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Supplier{}, shared.NotFoundf("supplier with contact %q", contact)
	}
	return s, err
}

func (r *txRepo) InsertSupplier(ctx context.Context, s Supplier) (Supplier, error) {
	row := r.q.QueryRow(ctx, `INSERT INTO suppliers (tenant_id, name, contact, address, created_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING `+supplierColumns, s.TenantID, s.Name, s.Contact, s.Address, s.CreatedAt)
	inserted, err := scanSupplier(row)
	if err != nil && db.IsUniqueViolation(err) {
		return Supplier{}, fmt.Errorf("%w: supplier with contact %q", shared.ErrAlreadyExists, s.Contact)
	}
	return inserted, err
}

func (r *txRepo) UpdateSupplier(ctx context.Context, s Supplier) (Supplier, error) {
	row := r.q.QueryRow(ctx, `UPDATE suppliers
SET name = $3, address = $4, deleted = $5, deleted_at = $6
WHERE tenant_id = $1 AND id = $2
RETURNING `+supplierColumns, s.TenantID, s.ID, s.Name, s.Address, s.Deleted, s.DeletedAt)
	updated, err := scanSupplier(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Supplier{}, shared.NotFoundf("supplier %d", s.ID)
	}
	return updated, err
}

func (r *txRepo) InsertSupplierRequest(ctx context.Context, req SupplierRequest) (SupplierRequest, error) {
	row := r.q.QueryRow(ctx, `INSERT INTO supplier_requests (tenant_id, name, contact, address, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING `+requestColumns, req.TenantID, req.Name, req.Contact, req.Address, string(req.Status), req.CreatedAt)
	return scanRequest(row)
}

func (r *txRepo) SupplierRequestByID(ctx context.Context, requestID int64) (SupplierRequest, error) {
	row := r.q.QueryRow(ctx, `SELECT `+requestColumns+` FROM supplier_requests WHERE id = $1 FOR UPDATE`, requestID)
	req, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return SupplierRequest{}, shared.NotFoundf("supplier request %d", requestID)
	}
	return req, err
}

func (r *txRepo) UpdateSupplierRequest(ctx context.Context, req SupplierRequest) (SupplierRequest, error) {
	row := r.q.QueryRow(ctx, `UPDATE supplier_requests SET status = $2, decided_at = $3
WHERE id = $1
RETURNING `+requestColumns, req.ID, string(req.Status), req.DecidedAt)
	updated, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return SupplierRequest{}, shared.NotFoundf("supplier request %d", req.ID)
	}
	return updated, err
}

func scanRequest(row pgx.Row) (SupplierRequest, error) {
	var (
		req    SupplierRequest
		status string
	)
	err := row.Scan(&req.ID, &req.TenantID, &req.Name, &req.Contact, &req.Address, &status, &req.CreatedAt, &req.DecidedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SupplierRequest{}, err
		}
		return SupplierRequest{}, shared.Persistence("catalog: scan supplier request", err)
	}
	req.Status = RequestStatus(status)
	return req, nil
}

func scanProduct(row pgx.Row) (Product, error) {
	var (
		p     Product
		price decimal.Decimal
	)
	err := row.Scan(&p.ID, &p.TenantID, &p.SKU, &p.Name, &price, &p.Deleted, &p.DeletedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, err
		}
		return Product{}, shared.Persistence("catalog: scan product", err)
	}
	if p.SellingPrice, err = money.FromDecimal(price); err != nil {
		return Product{}, shared.Persistence("catalog: selling price", err)
	}
	return p, nil
}

func scanSupplier(row pgx.Row) (Supplier, error) {
	var s Supplier
	err := row.Scan(&s.ID, &s.TenantID, &s.Name, &s.Contact, &s.Address, &s.Deleted, &s.DeletedAt, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Supplier{}, err
		}
		return Supplier{}, shared.Persistence("catalog: scan supplier", err)
	}
	return s, nil
}
