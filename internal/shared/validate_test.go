package shared

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateStruct(t *testing.T) {
	type request struct {
		SKU      string `json:"sku" validate:"required"`
		Quantity int64  `json:"quantity" validate:"gt=0"`
		Reason   string `json:"reason" validate:"oneof=damaged expired lost"`
	}

	require.NoError(t, ValidateStruct(request{SKU: "A", Quantity: 1, Reason: "lost"}))

	err := ValidateStruct(request{Quantity: 0, Reason: "stolen"})
	require.ErrorIs(t, err, ErrValidation)
	require.Contains(t, err.Error(), "sku is required")
	require.Contains(t, err.Error(), "quantity must satisfy gt=0")
	require.Contains(t, err.Error(), "reason must satisfy oneof=damaged expired lost")
}

func TestInsufficientStockError(t *testing.T) {
	empty := &InsufficientStockError{Requested: 3}
	require.Equal(t, "insufficient stock: no stock available", empty.Error())
	require.ErrorIs(t, empty, ErrInsufficientStock)

	short := &InsufficientStockError{Requested: 3, Available: 2}
	require.Contains(t, short.Error(), "requested 3, available 2")
	require.True(t, IsBusinessError(short))
}

func TestPersistenceErrorIsNotBusiness(t *testing.T) {
	err := Persistence("insert sale", errors.New("connection reset"))
	require.ErrorIs(t, err, ErrPersistence)
	require.False(t, IsBusinessError(err))
	require.NoError(t, Persistence("noop", nil))
}
