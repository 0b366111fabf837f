// Package auth issues and verifies HS256 bearer tokens and carries the
// caller's identity through the request context.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/atmx/outcome-ledger/internal/model"
	"github.com/atmx/outcome-ledger/internal/respond"
)

// Roles carried in the token.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Claims are the JWT claims. Subject holds the user ID.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator signs and verifies tokens with a shared secret.
type Authenticator struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// New creates an Authenticator. A zero ttl issues tokens without expiry.
func New(secret string, ttl time.Duration) *Authenticator {
	return &Authenticator{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a token for userID with the given role.
func (a *Authenticator) Issue(userID, role string) (string, error) {
	now := a.now()
	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  userID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if a.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(a.ttl))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// Parse validates a signed token and returns its claims.
func (a *Authenticator) Parse(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrUnauthorized, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("%w: invalid token claims", model.ErrUnauthorized)
	}
	if claims.Role != RoleUser && claims.Role != RoleAdmin {
		return nil, fmt.Errorf("%w: unknown role %q", model.ErrUnauthorized, claims.Role)
	}
	return claims, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// caller's identity in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			respond.Error(w, fmt.Errorf("%w: missing authentication token", model.ErrUnauthorized))
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			respond.Error(w, fmt.Errorf("%w: invalid authorization header format", model.ErrUnauthorized))
			return
		}

		claims, err := a.Parse(strings.TrimSpace(parts[1]))
		if err != nil {
			respond.Error(w, err)
			return
		}

		ctx := WithIdentity(r.Context(), claims.Subject, claims.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin allows only callers whose token carries the admin role.
// It must run after Middleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := identityFrom(r.Context()); !ok {
			respond.Error(w, fmt.Errorf("%w: no identity", model.ErrUnauthorized))
			return
		}
		if Role(r.Context()) != RoleAdmin {
			respond.Error(w, fmt.Errorf("%w: admin access required", model.ErrForbidden))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type ctxKey struct{}

type identity struct {
	userID string
	role   string
}

// WithIdentity returns a context carrying userID and role.
func WithIdentity(ctx context.Context, userID, role string) context.Context {
	return context.WithValue(ctx, ctxKey{}, identity{userID: userID, role: role})
}

func identityFrom(ctx context.Context) (identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(identity)
	return id, ok
}

// ErrNoIdentity is returned by UserID when the context is unauthenticated.
var ErrNoIdentity = errors.New("auth: no identity in context")

// UserID returns the authenticated caller's user ID.
func UserID(ctx context.Context) (string, error) {
	id, ok := identityFrom(ctx)
	if !ok || id.userID == "" {
		return "", fmt.Errorf("%w: %v", model.ErrUnauthorized, ErrNoIdentity)
	}
	return id.userID, nil
}

// Role returns the authenticated caller's role, or "" if none.
func Role(ctx context.Context) string {
	id, _ := identityFrom(ctx)
	return id.role
}
