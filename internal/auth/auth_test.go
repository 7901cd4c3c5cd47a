package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/storeledger/storeledger/internal/shared"
)

func newVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier("test-secret", "storeledger")
	require.NoError(t, err)
	return v
}

func TestVerifyRoundTrip(t *testing.T) {
	v := newVerifier(t)

	token, err := v.Sign(12, "store", time.Hour)
	require.NoError(t, err)
	p, err := v.Verify(token)
	require.NoError(t, err)
	require.Equal(t, shared.Principal{TenantID: 12}, p)

	token, err = v.Sign(0, RoleAdmin, time.Hour)
	require.NoError(t, err)
	p, err = v.Verify(token)
	require.NoError(t, err)
	require.True(t, p.Admin)
}

func TestVerifyRejects(t *testing.T) {
	v := newVerifier(t)

	expired, err := v.Sign(1, "store", -time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(expired)
	require.ErrorIs(t, err, shared.ErrUnauthorized)

	other, err := NewVerifier("other-secret", "storeledger")
	require.NoError(t, err)
	forged, err := other.Sign(1, RoleAdmin, time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(forged)
	require.ErrorIs(t, err, shared.ErrUnauthorized)

	noTenant, err := v.Sign(0, "store", time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(noTenant)
	require.ErrorIs(t, err, shared.ErrUnauthorized)

	unsigned, err := jwtlib.NewWithClaims(jwtlib.SigningMethodNone, Claims{TenantID: 1}).SignedString(jwtlib.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = v.Verify(unsigned)
	require.ErrorIs(t, err, shared.ErrUnauthorized)

	_, err = NewVerifier(" ", "")
	require.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	v := newVerifier(t)
	m := Middleware{Verifier: v}
	var seen shared.Principal
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = shared.PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	call := func(h http.Handler, authz string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if authz != "" {
			req.Header.Set("Authorization", authz)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}

	store, err := v.Sign(5, "store", time.Hour)
	require.NoError(t, err)
	admin, err := v.Sign(0, RoleAdmin, time.Hour)
	require.NoError(t, err)

	tenantOnly := m.Authenticate(m.RequireTenant(ok))
	require.Equal(t, http.StatusUnauthorized, call(tenantOnly, ""))
	require.Equal(t, http.StatusUnauthorized, call(tenantOnly, "Basic abc"))
	require.Equal(t, http.StatusUnauthorized, call(tenantOnly, "Bearer garbage"))
	require.Equal(t, http.StatusNoContent, call(tenantOnly, "Bearer "+store))
	require.Equal(t, int64(5), seen.TenantID)
	require.Equal(t, http.StatusUnauthorized, call(tenantOnly, "Bearer "+admin), "admin tokens without tenant cannot use tenant routes")

	adminOnly := m.Authenticate(m.RequireAdmin(ok))
	require.Equal(t, http.StatusForbidden, call(adminOnly, "Bearer "+store))
	require.Equal(t, http.StatusNoContent, call(adminOnly, "bearer "+admin))
}
