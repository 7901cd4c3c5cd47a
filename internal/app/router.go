package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	audithttp "github.com/storeledger/storeledger/internal/audit/http"
	"github.com/storeledger/storeledger/internal/auth"
	"github.com/storeledger/storeledger/internal/catalog"
	"github.com/storeledger/storeledger/internal/inventory"
	"github.com/storeledger/storeledger/internal/observability"
	"github.com/storeledger/storeledger/internal/reports"
	"github.com/storeledger/storeledger/internal/tenant"
	"github.com/storeledger/storeledger/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	Auth             auth.Middleware
	InventoryHandler *inventory.Handler
	CatalogHandler   *catalog.Handler
	ReportsHandler   *reports.Handler
	AuditHandler     *audithttp.Handler
	TenantHandler    *tenant.Handler
	JobHandler       *jobs.Handler
	Metrics          *observability.Metrics
	Ready            func(r *http.Request) error
}

// NewRouter constructs the chi.Router with the API and plumbing routes.
func NewRouter(params RouterParams) http.Handler {
	if params.Logger == nil {
		params.Logger = slog.Default()
	}
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if params.Ready != nil {
			if err := params.Ready(r); err != nil {
				params.Logger.Warn("health check failed", slog.Any("error", err))
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"unavailable"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(params.Auth.Authenticate)
		r.Group(func(r chi.Router) {
			r.Use(params.Auth.RequireTenant)
			if params.TenantHandler != nil {
				r.Use(params.TenantHandler.BlockRemoved)
			}
			if params.InventoryHandler != nil {
				r.Route("/inventory", params.InventoryHandler.MountRoutes)
			}
			if params.CatalogHandler != nil {
				r.Route("/products", params.CatalogHandler.MountProductRoutes)
				r.Route("/suppliers", params.CatalogHandler.MountSupplierRoutes)
			}
			if params.AuditHandler != nil {
				r.Route("/activity", params.AuditHandler.MountRoutes)
			}
		})
		// Admin principals may query reports of any tenant.
		if params.ReportsHandler != nil {
			r.Route("/reports", params.ReportsHandler.MountRoutes)
		}
		r.Route("/admin", func(r chi.Router) {
			r.Use(params.Auth.RequireAdmin)
			if params.CatalogHandler != nil {
				r.Route("/supplier-requests", params.CatalogHandler.MountRequestRoutes)
			}
			if params.TenantHandler != nil {
				r.Route("/tenants", params.TenantHandler.MountRoutes)
			}
		})
	})

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
