package trade

import (
	"net/http"

	"github.com/atmx/outcome-ledger/internal/auth"
	"github.com/atmx/outcome-ledger/internal/respond"
)

// TradeResponse is the JSON body returned from POST /trade.
type TradeResponse struct {
	Success bool `json:"success"`
	Fill
}

// ExecuteTrade handles POST /api/v1/trade
// The buyer is the authenticated caller; the body names market, outcome
// and shares.
func (e *Executor) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserID(r.Context())
	if err != nil {
		respond.Error(w, err)
		return
	}

	var req Order
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, err)
		return
	}

	fill, err := e.Execute(r.Context(), userID, req)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, TradeResponse{Success: true, Fill: *fill})
}
