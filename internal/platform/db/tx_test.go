package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/storeledger/storeledger/internal/shared"
)

func TestClassify(t *testing.T) {
	serialization := fmt.Errorf("update lot: %w", &pgconn.PgError{Code: "40001", Message: "could not serialize access"})
	require.ErrorIs(t, Classify(serialization), shared.ErrConcurrencyConflict)

	deadlock := &pgconn.PgError{Code: "40P01"}
	require.ErrorIs(t, Classify(deadlock), shared.ErrConcurrencyConflict)

	other := errors.New("boom")
	require.Equal(t, other, Classify(other))
	require.NoError(t, Classify(nil))
}

func TestConstraintHelpers(t *testing.T) {
	require.True(t, IsUniqueViolation(&pgconn.PgError{Code: "23505"}))
	require.False(t, IsUniqueViolation(errors.New("x")))
	require.True(t, IsCheckViolation(fmt.Errorf("wrap: %w", &pgconn.PgError{Code: "23514"})))
}
