// Package server assembles the HTTP surface of the ledger.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/atmx/outcome-ledger/internal/account"
	"github.com/atmx/outcome-ledger/internal/auth"
	"github.com/atmx/outcome-ledger/internal/market"
	"github.com/atmx/outcome-ledger/internal/metrics"
	"github.com/atmx/outcome-ledger/internal/portfolio"
	"github.com/atmx/outcome-ledger/internal/settlement"
	"github.com/atmx/outcome-ledger/internal/trade"
)

// Deps are the services the router exposes.
type Deps struct {
	Accounts   *account.Ledger
	Markets    *market.Registry
	Trades     *trade.Executor
	Settlement *settlement.Engine
	Portfolio  *portfolio.Aggregator
	Hub        *trade.WSHub
	Auth       *auth.Authenticator

	// RequestTimeout bounds every API request except the WebSocket stream.
	RequestTimeout time.Duration
}

// NewRouter builds the chi router.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"outcome-ledger"}`))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if d.Hub != nil {
			r.Get("/ws", d.Hub.HandleWS)
		}

		r.Group(func(r chi.Router) {
			if d.RequestTimeout > 0 {
				r.Use(middleware.Timeout(d.RequestTimeout))
			}

			// Public reads and registration.
			r.Get("/markets", d.Markets.ListMarkets)
			r.Get("/markets/{marketID}", d.Markets.GetMarket)
			r.Get("/markets/{marketID}/history", d.Markets.GetMarketHistory)
			r.Post("/users", d.Accounts.RegisterUser)

			// Authenticated callers.
			r.Group(func(r chi.Router) {
				r.Use(d.Auth.Middleware)

				r.Post("/trade", d.Trades.ExecuteTrade)
				r.Get("/me", d.Accounts.Me)
				r.Get("/portfolio", d.Portfolio.GetPortfolio)
				r.Get("/transactions", d.Portfolio.ListTransactions)

				// Administrators.
				r.Group(func(r chi.Router) {
					r.Use(auth.RequireAdmin)

					r.Post("/markets", d.Markets.CreateMarket)
					r.Post("/markets/{marketID}/close", d.Markets.CloseMarket)
					r.Put("/markets/{marketID}/prices", d.Markets.UpdatePrices)
					r.Post("/markets/{marketID}/resolve", d.Settlement.ResolveMarket)
					r.Get("/users", d.Accounts.ListUsers)
					r.Get("/users/{userID}/reconcile", d.Portfolio.ReconcileUser)
				})
			})
		})
	})

	return r
}

// cors allows browser clients on other origins.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
