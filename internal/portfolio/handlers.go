package portfolio

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/atmx/outcome-ledger/internal/auth"
	"github.com/atmx/outcome-ledger/internal/respond"
)

// GetPortfolio handles GET /api/v1/portfolio
func (a *Aggregator) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserID(r.Context())
	if err != nil {
		respond.Error(w, err)
		return
	}
	summary, err := a.Summary(r.Context(), userID)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, summary)
}

// ListTransactions handles GET /api/v1/transactions
func (a *Aggregator) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserID(r.Context())
	if err != nil {
		respond.Error(w, err)
		return
	}
	txns, err := a.Transactions(r.Context(), userID)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, txns)
}

// ReconcileUser handles GET /api/v1/users/{userID}/reconcile
func (a *Aggregator) ReconcileUser(w http.ResponseWriter, r *http.Request) {
	rec, err := a.Reconcile(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		respond.Error(w, err)
		return
	}
	if !rec.Consistent {
		slog.Error("ledger reconciliation mismatch",
			"user", rec.UserID,
			"expected", rec.ExpectedBalance,
			"balance", rec.Balance,
		)
	}
	respond.JSON(w, http.StatusOK, rec)
}
