package tenant

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/storeledger/storeledger/internal/platform/httpx"
	"github.com/storeledger/storeledger/internal/shared"
)

// Handler serves admin tenant routes and the removed-tenant write guard.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers admin /tenants routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Delete("/{id}", h.remove)
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, shared.Validationf("invalid tenant id"))
		return
	}
	removed, err := h.service.Remove(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, removed)
}

// BlockRemoved rejects state-changing requests from removed tenants with 403.
// Reads pass so a removed store can still see its history.
func (h *Handler) BlockRemoved(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}
		principal, ok := shared.PrincipalFromContext(r.Context())
		if !ok || principal.TenantID <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		if err := h.service.Active(r.Context(), principal.TenantID); err != nil {
			h.fail(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if !shared.IsBusinessError(err) && !errors.Is(err, shared.ErrForbidden) && h.logger != nil {
		h.logger.ErrorContext(r.Context(), "tenant request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
