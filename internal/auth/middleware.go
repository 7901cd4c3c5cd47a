package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/storeledger/storeledger/internal/platform/httpx"
	"github.com/storeledger/storeledger/internal/shared"
)

// TokenVerifier turns a bearer token into a principal.
type TokenVerifier interface {
	Verify(token string) (shared.Principal, error)
}

// Middleware guards routes with bearer-token authentication.
type Middleware struct {
	Verifier TokenVerifier
	Logger   *slog.Logger
}

// Authenticate stores the principal of a valid bearer token in the request
// context. Requests without a valid token are rejected with 401.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			httpx.RespondError(w, shared.ErrUnauthorized)
			return
		}
		principal, err := m.Verifier.Verify(token)
		if err != nil {
			if m.Logger != nil {
				m.Logger.DebugContext(r.Context(), "token rejected", slog.String("path", r.URL.Path), slog.Any("error", err))
			}
			httpx.RespondError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithPrincipal(r.Context(), principal)))
	})
}

// RequireTenant rejects principals without a tenant.
func (m Middleware) RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := httpx.Principal(w, r); !ok {
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin rejects non-admin principals with 403.
func (m Middleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := shared.PrincipalFromContext(r.Context())
		if !ok {
			httpx.RespondError(w, shared.ErrUnauthorized)
			return
		}
		if !p.Admin {
			httpx.RespondError(w, shared.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
