package tenant

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/storeledger/storeledger/internal/shared"
)

// PostgresRepository stores tenant state in the tenants table.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs PostgresRepository.
func NewRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Tenant implements Repository.
func (r *PostgresRepository) Tenant(ctx context.Context, id int64) (Tenant, error) {
	t := Tenant{ID: id}
	err := r.pool.QueryRow(ctx, `SELECT deleted, deleted_at FROM tenants WHERE id = $1`, id).Scan(&t.Deleted, &t.DeletedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return Tenant{ID: id}, nil
	case err != nil:
		return Tenant{}, shared.Persistence("tenant: lookup", err)
	}
	return t, nil
}

// MarkRemoved implements Repository.
func (r *PostgresRepository) MarkRemoved(ctx context.Context, id int64, at time.Time) (Tenant, error) {
	t := Tenant{ID: id}
	err := r.pool.QueryRow(ctx, `INSERT INTO tenants (id, deleted, deleted_at) VALUES ($1, TRUE, $2)
ON CONFLICT (id) DO UPDATE SET deleted = TRUE, deleted_at = EXCLUDED.deleted_at
WHERE NOT tenants.deleted
RETURNING deleted, deleted_at`, id, at).Scan(&t.Deleted, &t.DeletedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return Tenant{}, shared.NotFoundf("tenant %d not found or already removed", id)
	case err != nil:
		return Tenant{}, shared.Persistence("tenant: remove", err)
	}
	return t, nil
}
