package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// IdempotencyStore persists processed request keys per tenant and module.
type IdempotencyStore struct {
	pool *pgxpool.Pool
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool}
}

// CheckAndInsert claims key for the tenant and module. A key already claimed
// returns ErrDuplicateRequest.
func (s *IdempotencyStore) CheckAndInsert(ctx context.Context, tenantID int64, key, module string) error {
	if s == nil {
		return errors.New("idempotency store not initialised")
	}
	if key == "" {
		return Validationf("idempotency key required")
	}
	if module == "" {
		return errors.New("idempotency module required")
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO idempotency_keys (tenant_id, key, module, created_at) VALUES ($1, $2, $3, $4)`, tenantID, key, module, time.Now().UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: key %q", ErrDuplicateRequest, key)
		}
		return Persistence("idempotency: insert", err)
	}
	return nil
}

// Cleanup removes entries older than retention.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if s == nil {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	tag, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, Persistence("idempotency: cleanup", err)
	}
	return tag.RowsAffected(), nil
}

// Delete releases a key after failed processing.
func (s *IdempotencyStore) Delete(ctx context.Context, tenantID int64, key, module string) error {
	if s == nil {
		return nil
	}
	if key == "" {
		return Validationf("idempotency key required")
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE tenant_id=$1 AND key=$2 AND module=$3`, tenantID, key, module)
	if err != nil {
		return Persistence("idempotency: delete", err)
	}
	return nil
}
