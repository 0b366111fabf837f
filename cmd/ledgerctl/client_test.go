package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/subcommands"

	"github.com/atmx/outcome-ledger/internal/account"
	"github.com/atmx/outcome-ledger/internal/auth"
	"github.com/atmx/outcome-ledger/internal/market"
	"github.com/atmx/outcome-ledger/internal/model"
	"github.com/atmx/outcome-ledger/internal/portfolio"
	"github.com/atmx/outcome-ledger/internal/respond"
	"github.com/atmx/outcome-ledger/internal/server"
	"github.com/atmx/outcome-ledger/internal/settlement"
	"github.com/atmx/outcome-ledger/internal/store"
	"github.com/atmx/outcome-ledger/internal/trade"
)

func newLedgerServer(t *testing.T) (*httptest.Server, *auth.Authenticator) {
	t.Helper()
	ms := store.NewMemoryStore()
	hub := trade.NewWSHub()
	a := auth.New("ctl-secret", time.Hour)

	srv := httptest.NewServer(server.NewRouter(server.Deps{
		Accounts:   account.NewLedger(ms, 1_000_000, a),
		Markets:    market.NewRegistry(ms, hub),
		Trades:     trade.NewExecutor(ms, hub, 0),
		Settlement: settlement.NewEngine(ms, hub),
		Portfolio:  portfolio.NewAggregator(ms),
		Hub:        hub,
		Auth:       a,
	}))
	t.Cleanup(srv.Close)
	return srv, a
}

func adminClient(t *testing.T, srv *httptest.Server, a *auth.Authenticator) *Client {
	t.Helper()
	tok, err := a.Issue("ops", auth.RoleAdmin)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return NewClient(srv.URL+"/", tok, 0)
}

func TestClient_MarketLifecycle(t *testing.T) {
	srv, a := newLedgerServer(t)
	c := adminClient(t, srv, a)
	ctx := context.Background()

	m, err := c.CreateMarket(ctx, market.CreateParams{Name: "Stanford", Category: "other", YesPrice: 60, NoPrice: 40})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if m.ID == "" || m.Status != model.StatusOpen {
		t.Fatalf("unexpected market: %+v", m)
	}

	m, err = c.SetPrices(ctx, m.ID, 70, 30)
	if err != nil {
		t.Fatalf("set prices: %v", err)
	}
	if m.YesPrice != 70 || m.NoPrice != 30 {
		t.Errorf("prices not updated: %+v", m)
	}

	markets, err := c.ListMarkets(ctx, "other")
	if err != nil || len(markets) != 1 {
		t.Fatalf("list: %v, %d markets", err, len(markets))
	}

	if _, err := c.CloseMarket(ctx, m.ID); err != nil {
		t.Fatalf("close: %v", err)
	}
	res, err := c.Resolve(ctx, m.ID, model.OutcomeNo)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Market == nil || res.Status != model.StatusResolved {
		t.Errorf("expected resolved market, got %+v", res.Market)
	}
	if res.Settlement == nil || res.Settlement.TotalPaid != 0 {
		t.Errorf("unexpected settlement: %+v", res.Settlement)
	}

	_, err = c.Resolve(ctx, m.ID, model.OutcomeYes)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusConflict || apiErr.Code != "already_resolved" {
		t.Errorf("expected already_resolved conflict, got %v", err)
	}
}

func TestClient_UsersAndReconcile(t *testing.T) {
	srv, a := newLedgerServer(t)
	c := adminClient(t, srv, a)
	ctx := context.Background()

	resp, err := http.Post(srv.URL+"/api/v1/users", "application/json", strings.NewReader(`{"username":"alice"}`))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	resp.Body.Close()

	users, err := c.ListUsers(ctx)
	if err != nil || len(users) != 1 {
		t.Fatalf("list users: %v, %d", err, len(users))
	}
	rec, err := c.Reconcile(ctx, users[0].ID)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !rec.Consistent || rec.ExpectedBalance != 1_000_000 {
		t.Errorf("unexpected reconciliation: %+v", rec)
	}

	_, err = c.Reconcile(ctx, "missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "not_found" {
		t.Errorf("expected not_found, got %v", err)
	}
}

func TestClient_RejectsUserToken(t *testing.T) {
	srv, a := newLedgerServer(t)
	tok, _ := a.Issue("someone", auth.RoleUser)
	c := NewClient(srv.URL, tok, 0)

	_, err := c.ListUsers(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusForbidden {
		t.Errorf("expected 403, got %v", err)
	}
}

func TestClient_RetriesLockTimeout(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			respond.Message(w, http.StatusServiceUnavailable, "lock_timeout", "timed out acquiring lock")
			return
		}
		respond.JSON(w, http.StatusOK, []model.Market{})
	}))
	defer srv.Close()

	markets, err := NewClient(srv.URL, "", 3).ListMarkets(context.Background(), "")
	if err != nil {
		t.Fatalf("expected success after retries: %v", err)
	}
	if len(markets) != 0 {
		t.Errorf("expected empty list, got %d", len(markets))
	}
	if got := hits.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestClient_GivesUpAfterRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		respond.Message(w, http.StatusServiceUnavailable, "lock_timeout", "timed out acquiring lock")
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", 1).ListMarkets(context.Background(), "")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "lock_timeout" {
		t.Fatalf("expected lock_timeout, got %v", err)
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("expected 2 attempts, got %d", got)
	}
}

func TestTokenCmd(t *testing.T) {
	t.Setenv("JWT_SECRET", "cli-secret")
	var buf bytes.Buffer
	stdout = &buf
	t.Cleanup(func() { stdout = os.Stdout })

	cmd := &tokenCmd{user: "ops", role: auth.RoleAdmin}
	if status := cmd.Execute(context.Background(), nil); status != subcommands.ExitSuccess {
		t.Fatalf("unexpected exit status %v", status)
	}

	claims, err := auth.New("cli-secret", time.Hour).Parse(strings.TrimSpace(buf.String()))
	if err != nil {
		t.Fatalf("minted token does not parse: %v", err)
	}
	if claims.Subject != "ops" || claims.Role != auth.RoleAdmin {
		t.Errorf("unexpected claims: %+v", claims)
	}
}

func TestTokenCmd_Usage(t *testing.T) {
	tests := []tokenCmd{
		{role: auth.RoleAdmin},
		{user: "ops", role: "root"},
	}
	for _, cmd := range tests {
		if status := cmd.Execute(context.Background(), nil); status != subcommands.ExitUsageError {
			t.Errorf("%+v: expected usage error, got %v", cmd, status)
		}
	}
}
