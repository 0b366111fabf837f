package market

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/atmx/outcome-ledger/internal/respond"
)

// PricesRequest is the JSON body for PUT /markets/{marketID}/prices.
type PricesRequest struct {
	YesPrice *int64 `json:"yes_price"`
	NoPrice  *int64 `json:"no_price"`
}

// CreateMarket handles POST /api/v1/markets
func (g *Registry) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateParams
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, err)
		return
	}

	m, err := g.Create(r.Context(), req)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusCreated, m)
}

// GetMarket handles GET /api/v1/markets/{marketID}
func (g *Registry) GetMarket(w http.ResponseWriter, r *http.Request) {
	m, err := g.Get(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, m)
}

// ListMarkets handles GET /api/v1/markets
// Optionally filtered by ?category=<category>.
func (g *Registry) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := g.List(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, markets)
}

// CloseMarket handles POST /api/v1/markets/{marketID}/close
func (g *Registry) CloseMarket(w http.ResponseWriter, r *http.Request) {
	m, err := g.Close(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, m)
}

// UpdatePrices handles PUT /api/v1/markets/{marketID}/prices
func (g *Registry) UpdatePrices(w http.ResponseWriter, r *http.Request) {
	var req PricesRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, err)
		return
	}
	if req.YesPrice == nil || req.NoPrice == nil {
		respond.Message(w, http.StatusBadRequest, "validation_error", "yes_price and no_price are required")
		return
	}

	m, err := g.SetPrices(r.Context(), chi.URLParam(r, "marketID"), *req.YesPrice, *req.NoPrice)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, m)
}

// GetMarketHistory handles GET /api/v1/markets/{marketID}/history
// Returns the market's transactions, oldest first.
func (g *Registry) GetMarketHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := g.History(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, entries)
}
