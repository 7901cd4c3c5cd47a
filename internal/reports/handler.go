package reports

import (
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/storeledger/storeledger/internal/platform/httpx"
	"github.com/storeledger/storeledger/internal/shared"
)

// Handler exposes the report endpoint.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the reports handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers report routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.report)
}

func (h *Handler) report(w http.ResponseWriter, r *http.Request) {
	principal, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	filter, err := parseFilter(r.URL.Query(), principal)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	report, err := h.service.Build(r.Context(), filter)
	if err != nil {
		if !shared.IsBusinessError(err) && h.logger != nil {
			h.logger.ErrorContext(r.Context(), "report failed", slog.String("type", string(filter.Type)), slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

// parseFilter reads the query string. Only admins may name another tenant.
func parseFilter(q url.Values, principal shared.Principal) (Filter, error) {
	filter := Filter{TenantID: principal.TenantID, Type: Type(q.Get("type"))}

	if raw := q.Get("tenant_id"); raw != "" {
		tenantID, err := parseID("tenant_id", raw)
		if err != nil {
			return Filter{}, err
		}
		if !principal.Admin && tenantID != principal.TenantID {
			return Filter{}, shared.ErrForbidden
		}
		filter.TenantID = tenantID
	}
	if filter.TenantID <= 0 {
		if principal.Admin {
			return Filter{}, shared.Validationf("tenant_id required")
		}
		return Filter{}, shared.ErrUnauthorized
	}

	for name, dest := range map[string]**int64{"supplier_id": &filter.SupplierID, "product_id": &filter.ProductID} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		id, err := parseID(name, raw)
		if err != nil {
			return Filter{}, err
		}
		*dest = &id
	}

	var err error
	if filter.From, err = parseTime("from", q.Get("from"), false); err != nil {
		return Filter{}, err
	}
	if filter.To, err = parseTime("to", q.Get("to"), true); err != nil {
		return Filter{}, err
	}
	return filter, nil
}

func parseID(name, raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, shared.Validationf("invalid %s %q", name, raw)
	}
	return id, nil
}

// parseTime accepts RFC 3339 or a bare date. A bare end date covers the whole day.
func parseTime(name, raw string, end bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	day, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, shared.Validationf("invalid %s %q", name, raw)
	}
	if end {
		day = day.AddDate(0, 0, 1)
	}
	return day, nil
}
