package catalog

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/storeledger/storeledger/internal/money"
	"github.com/storeledger/storeledger/internal/platform/httpx"
	"github.com/storeledger/storeledger/internal/shared"
)

// Handler wires HTTP endpoints for products and suppliers.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the catalog handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountProductRoutes registers /products routes.
func (h *Handler) MountProductRoutes(r chi.Router) {
	r.Get("/", h.listProducts)
	r.Post("/", h.createProduct)
	r.Patch("/{sku}", h.updateProduct)
	r.Delete("/{sku}", h.deleteProduct)
}

// MountSupplierRoutes registers /suppliers routes.
func (h *Handler) MountSupplierRoutes(r chi.Router) {
	r.Get("/", h.listSuppliers)
	r.Post("/", h.createSupplier)
	r.Post("/requests", h.createSupplierRequest)
	r.Delete("/{id}", h.deleteSupplier)
}

// MountRequestRoutes registers the admin /supplier-requests routes.
func (h *Handler) MountRequestRoutes(r chi.Router) {
	r.Get("/", h.listSupplierRequests)
	r.Patch("/{id}", h.decideSupplierRequest)
}

type createProductRequest struct {
	SKU          string        `json:"sku" validate:"required,max=64"`
	Name         string        `json:"name" validate:"required,max=200"`
	SellingPrice *money.Amount `json:"selling_price" validate:"required"`
}

type updateProductRequest struct {
	Name         *string       `json:"name" validate:"omitempty,min=1,max=200"`
	SellingPrice *money.Amount `json:"selling_price"`
}

type createSupplierRequest struct {
	Name    string `json:"name" validate:"required,max=200"`
	Contact string `json:"contact" validate:"required,max=100"`
	Address string `json:"address" validate:"max=500"`
}

type decideRequest struct {
	Status string `json:"status" validate:"required,oneof=approved rejected"`
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	principal, ok := httpx.Principal(w, r)
	if !ok {
		return
	}
	products, err := h.service.ListProducts(r.Context(), principal.TenantID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"products": products})
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	principal, ok := httpx.Principal(w, r)
	if !ok {
		return
	}
	var req createProductRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := shared.ValidateStruct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	product, err := h.service.CreateProduct(r.Context(), ProductInput{
		TenantID:     principal.TenantID,
		SKU:          req.SKU,
		Name:         req.Name,
		SellingPrice: *req.SellingPrice,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, product)
}

func (h *Handler) updateProduct(w http.ResponseWriter, r *http.Request) {
	principal, ok := httpx.Principal(w, r)
	if !ok {
		return
	}
	var req updateProductRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := shared.ValidateStruct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	product, err := h.service.UpdateProduct(r.Context(), principal.TenantID, chi.URLParam(r, "sku"), ProductUpdate{
		Name:         req.Name,
		SellingPrice: req.SellingPrice,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, product)
}

func (h *Handler) deleteProduct(w http.ResponseWriter, r *http.Request) {
	principal, ok := httpx.Principal(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteProduct(r.Context(), principal.TenantID, chi.URLParam(r, "sku")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listSuppliers(w http.ResponseWriter, r *http.Request) {
	principal, ok := httpx.Principal(w, r)
	if !ok {
		return
	}
	suppliers, err := h.service.ListSuppliers(r.Context(), principal.TenantID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"suppliers": suppliers})
}

func (h *Handler) createSupplier(w http.ResponseWriter, r *http.Request) {
	principal, ok := httpx.Principal(w, r)
	if !ok {
		return
	}
	var req createSupplierRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := shared.ValidateStruct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	supplier, err := h.service.CreateSupplier(r.Context(), SupplierInput{
		TenantID: principal.TenantID,
		Name:     req.Name,
		Contact:  req.Contact,
		Address:  req.Address,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, supplier)
}

func (h *Handler) deleteSupplier(w http.ResponseWriter, r *http.Request) {
	principal, ok := httpx.Principal(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, shared.Validationf("invalid supplier id"))
		return
	}
	if err := h.service.DeleteSupplier(r.Context(), principal.TenantID, id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) createSupplierRequest(w http.ResponseWriter, r *http.Request) {
	principal, ok := httpx.Principal(w, r)
	if !ok {
		return
	}
	var req createSupplierRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := shared.ValidateStruct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	created, err := h.service.CreateSupplierRequest(r.Context(), SupplierInput{
		TenantID: principal.TenantID,
		Name:     req.Name,
		Contact:  req.Contact,
		Address:  req.Address,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) listSupplierRequests(w http.ResponseWriter, r *http.Request) {
	requests, err := h.service.ListSupplierRequests(r.Context(), RequestStatus(r.URL.Query().Get("status")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"requests": requests})
}

func (h *Handler) decideSupplierRequest(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, shared.Validationf("invalid request id"))
		return
	}
	var req decideRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := shared.ValidateStruct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	decided, err := h.service.DecideSupplierRequest(r.Context(), id, RequestStatus(req.Status))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, decided)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if !shared.IsBusinessError(err) && h.logger != nil {
		h.logger.ErrorContext(r.Context(), "catalog request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
