// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/storeledger/storeledger/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var stock *shared.InsufficientStockError
	switch {
	case errors.As(err, &stock):
		JSON(w, http.StatusConflict, ProblemDetail{
			Type:      "insufficient-stock",
			Title:     "Insufficient Stock",
			Status:    http.StatusConflict,
			Detail:    stock.Error(),
			Requested: &stock.Requested,
			Available: &stock.Available,
		})
	case errors.Is(err, shared.ErrInsufficientStock):
		Problem(w, http.StatusConflict, "Insufficient Stock", err.Error())
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrConcurrencyConflict):
		Problem(w, http.StatusConflict, "Conflict", "the stock changed concurrently, retry the request")
	case errors.Is(err, shared.ErrAlreadyExists):
		Problem(w, http.StatusConflict, "Already Exists", err.Error())
	case errors.Is(err, shared.ErrDuplicateRequest):
		Problem(w, http.StatusConflict, "Duplicate Request", err.Error())
	case errors.Is(err, shared.ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, shared.ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
