package settlement

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/atmx/outcome-ledger/internal/model"
	"github.com/atmx/outcome-ledger/internal/respond"
)

// ResolveRequest is the JSON body for POST /markets/{marketID}/resolve.
type ResolveRequest struct {
	Outcome model.Outcome `json:"outcome"`
}

// ResolveResponse is the resolved market plus its settlement summary.
type ResolveResponse struct {
	*model.Market
	Settlement *Report `json:"settlement"`
}

// ResolveMarket handles POST /api/v1/markets/{marketID}/resolve
func (e *Engine) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, err)
		return
	}

	report, err := e.Resolve(r.Context(), chi.URLParam(r, "marketID"), req.Outcome)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, ResolveResponse{Market: report.Market, Settlement: report})
}
