package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/atmx/outcome-ledger/internal/model"
)

func echoIdentity(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := UserID(r.Context())
		if err != nil {
			t.Errorf("expected identity in context: %v", err)
		}
		w.Header().Set("X-User", id)
		w.Header().Set("X-Role", Role(r.Context()))
	})
}

func TestIssueAndParse(t *testing.T) {
	a := New("secret", time.Hour)

	token, err := a.Issue("u1", RoleUser)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := a.Parse(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "u1" || claims.Role != RoleUser {
		t.Errorf("unexpected claims: %+v", claims)
	}
}

func TestParse_RejectsWrongSecret(t *testing.T) {
	token, _ := New("one", time.Hour).Issue("u1", RoleUser)
	if _, err := New("two", time.Hour).Parse(token); !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestParse_RejectsExpired(t *testing.T) {
	a := New("secret", time.Minute)
	a.now = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	token, _ := a.Issue("u1", RoleUser)

	a.now = func() time.Time { return time.Date(2025, 1, 1, 1, 0, 0, 0, time.UTC) }
	if _, err := a.Parse(token); !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("expected expired token to be rejected, got %v", err)
	}
}

func TestParse_RejectsNoneAlgorithm(t *testing.T) {
	claims := &Claims{Role: RoleAdmin, RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := New("secret", 0).Parse(token); err == nil {
		t.Error("unsigned token should be rejected")
	}
}

func TestMiddleware(t *testing.T) {
	a := New("secret", time.Hour)
	token, _ := a.Issue("u1", RoleUser)
	h := a.Middleware(echoIdentity(t))

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized},
		{"garbage", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"valid", "Bearer " + token, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			if w.Code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, w.Code)
			}
			if tt.status == http.StatusOK && w.Header().Get("X-User") != "u1" {
				t.Errorf("expected user u1, got %q", w.Header().Get("X-User"))
			}
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	a := New("secret", time.Hour)
	h := a.Middleware(RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	userToken, _ := a.Issue("u1", RoleUser)
	adminToken, _ := a.Issue("ops", RoleAdmin)

	req := httptest.NewRequest("POST", "/", nil)
	req.Header.Set("Authorization", "Bearer "+userToken)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for user role, got %d", w.Code)
	}

	req = httptest.NewRequest("POST", "/", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 for admin role, got %d", w.Code)
	}
}

func TestRequireAdmin_UsesContextRole(t *testing.T) {
	h := RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	tests := []struct {
		name string
		ctx  context.Context
		want int
	}{
		{"no identity", context.Background(), http.StatusUnauthorized},
		{"user role", WithIdentity(context.Background(), "u1", RoleUser), http.StatusForbidden},
		{"admin role", WithIdentity(context.Background(), "ops", RoleAdmin), http.StatusOK},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/", nil).WithContext(tt.ctx)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != tt.want {
			t.Errorf("%s: expected %d, got %d", tt.name, tt.want, w.Code)
		}
		if got := Role(tt.ctx); tt.want == http.StatusOK && got != RoleAdmin {
			t.Errorf("%s: Role = %q", tt.name, got)
		}
	}
}
