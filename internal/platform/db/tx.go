package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/storeledger/storeledger/internal/shared"
)

const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
	codeCheckViolation       = "23514"
)

// WithTx executes fn within a RepeatableRead transaction. Serialization
// failures surface as shared.ErrConcurrencyConflict.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return shared.Persistence("platform/db: begin tx", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return Classify(err)
	}

	if err := tx.Commit(ctx); err != nil {
		if conflict := Classify(err); errors.Is(conflict, shared.ErrConcurrencyConflict) {
			return conflict
		}
		return shared.Persistence("platform/db: commit tx", err)
	}

	return nil
}

// Classify maps serialization and deadlock errors to ErrConcurrencyConflict and
// returns any other error unchanged.
func Classify(err error) error {
	if err == nil || errors.Is(err, shared.ErrConcurrencyConflict) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected:
			return fmt.Errorf("%w: %s", shared.ErrConcurrencyConflict, pgErr.Message)
		}
	}
	return err
}

// IsUniqueViolation reports a unique-constraint error.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}

// IsCheckViolation reports a CHECK-constraint error.
func IsCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeCheckViolation
}
