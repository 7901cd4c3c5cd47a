package inventory

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/storeledger/storeledger/internal/money"
	"github.com/storeledger/storeledger/internal/platform/httpx"
	"github.com/storeledger/storeledger/internal/shared"
)

// IdempotencyHeader carries the client key that deduplicates sale retries.
const IdempotencyHeader = "Idempotency-Key"

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.snapshot)
	r.Post("/sales", h.sell)
	r.Post("/removals", h.removeStock)
	r.Post("/restocks", h.restock)
	r.Post("/adjustments", h.adjust)
}

type saleRequest struct {
	SKU      string `json:"sku" validate:"required,max=64"`
	Quantity int64  `json:"quantity" validate:"required,gt=0,lte=1000000000"`
}

type lotRequest struct {
	SKU        string        `json:"sku" validate:"required,max=64"`
	SupplierID int64         `json:"supplier_id" validate:"required,gt=0"`
	UnitCost   *money.Amount `json:"unit_cost" validate:"required"`
}

type removalRequest struct {
	lotRequest
	Quantity int64  `json:"quantity" validate:"required,gt=0,lte=1000000000"`
	Reason   string `json:"reason" validate:"required,oneof=damaged expired lost"`
}

type restockRequest struct {
	lotRequest
	Quantity int64 `json:"quantity" validate:"required,gt=0,lte=1000000000"`
}

type adjustmentRequest struct {
	lotRequest
	Delta int64  `json:"delta" validate:"required,gte=-1000000000,lte=1000000000"`
	Note  string `json:"note" validate:"required,max=500"`
}

func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) {
	principal, ok := httpx.Principal(w, r)
	if !ok {
		return
	}
	lines, err := h.service.InventorySnapshot(r.Context(), principal.TenantID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"lots": lines})
}

func (h *Handler) sell(w http.ResponseWriter, r *http.Request) {
	principal, ok := httpx.Principal(w, r)
	if !ok {
		return
	}
	var req saleRequest
	if !decode(w, r, &req) {
		return
	}
	result, err := h.service.Sell(r.Context(), SaleInput{
		TenantID:       principal.TenantID,
		SKU:            req.SKU,
		Quantity:       req.Quantity,
		IdempotencyKey: strings.TrimSpace(r.Header.Get(IdempotencyHeader)),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) removeStock(w http.ResponseWriter, r *http.Request) {
	principal, ok := httpx.Principal(w, r)
	if !ok {
		return
	}
	var req removalRequest
	if !decode(w, r, &req) {
		return
	}
	record, err := h.service.RemoveStock(r.Context(), RemovalInput{
		TenantID:   principal.TenantID,
		SKU:        req.SKU,
		SupplierID: req.SupplierID,
		UnitCost:   *req.UnitCost,
		Quantity:   req.Quantity,
		Reason:     RemovalReason(req.Reason),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, record)
}

func (h *Handler) restock(w http.ResponseWriter, r *http.Request) {
	principal, ok := httpx.Principal(w, r)
	if !ok {
		return
	}
	var req restockRequest
	if !decode(w, r, &req) {
		return
	}
	result, err := h.service.Restock(r.Context(), RestockInput{
		TenantID:   principal.TenantID,
		SKU:        req.SKU,
		SupplierID: req.SupplierID,
		UnitCost:   *req.UnitCost,
		Quantity:   req.Quantity,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	httpx.JSON(w, status, result)
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request) {
	principal, ok := httpx.Principal(w, r)
	if !ok {
		return
	}
	var req adjustmentRequest
	if !decode(w, r, &req) {
		return
	}
	record, err := h.service.Adjust(r.Context(), AdjustmentInput{
		TenantID:   principal.TenantID,
		SKU:        req.SKU,
		SupplierID: req.SupplierID,
		UnitCost:   *req.UnitCost,
		Delta:      req.Delta,
		Note:       req.Note,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, record)
}

func decode(w http.ResponseWriter, r *http.Request, req any) bool {
	if err := httpx.DecodeJSON(r, req); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	if err := shared.ValidateStruct(req); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if !shared.IsBusinessError(err) && h.logger != nil {
		h.logger.ErrorContext(r.Context(), "inventory request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
