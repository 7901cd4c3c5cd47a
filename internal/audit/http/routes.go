package audithttp

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/storeledger/storeledger/internal/platform/httpx"
	"github.com/storeledger/storeledger/internal/shared"
)

const rateLimit = 10
const rateWindow = time.Minute

// MountRoutes registers the activity timeline and its CSV export.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(rateLimit, rateWindow,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "export rate limit reached")
		}),
	)
	r.Get("/", h.handleTimeline)
	r.Group(func(gr chi.Router) {
		gr.Use(limiter)
		gr.Get("/export.csv", h.handleExport)
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	if p, ok := shared.PrincipalFromContext(r.Context()); ok && p.TenantID > 0 {
		return "tenant:" + strconv.FormatInt(p.TenantID, 10), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
