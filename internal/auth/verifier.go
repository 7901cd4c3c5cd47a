// Package auth verifies bearer tokens and resolves the calling principal.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/storeledger/storeledger/internal/shared"
)

// RoleAdmin grants cross-tenant reports and the admin routes.
const RoleAdmin = "admin"

// Claims are the custom claims carried by a bearer token.
type Claims struct {
	jwtlib.RegisteredClaims
	TenantID int64  `json:"tenant_id"`
	Role     string `json:"role"`
}

// Verifier validates HS256 tokens signed with a shared secret.
type Verifier struct {
	secret []byte
	issuer string
	leeway time.Duration
}

// NewVerifier returns a Verifier. An empty issuer accepts any issuer.
func NewVerifier(secret, issuer string) (*Verifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: secret required")
	}
	return &Verifier{secret: []byte(secret), issuer: issuer, leeway: 30 * time.Second}, nil
}

// Verify parses token and returns its principal.
func (v *Verifier) Verify(token string) (shared.Principal, error) {
	claims := &Claims{}
	opts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(v.issuer))
	}
	parsed, err := jwtlib.ParseWithClaims(token, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return shared.Principal{}, fmt.Errorf("%w: invalid or expired token", shared.ErrUnauthorized)
	}
	admin := claims.Role == RoleAdmin
	if claims.TenantID <= 0 && !admin {
		return shared.Principal{}, fmt.Errorf("%w: token has no tenant", shared.ErrUnauthorized)
	}
	return shared.Principal{TenantID: claims.TenantID, Admin: admin}, nil
}

// Sign issues a token for tenantID and role valid for ttl.
func (v *Verifier) Sign(tenantID int64, role string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    v.issuer,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
		},
		TenantID: tenantID,
		Role:     role,
	}
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(v.secret)
}
