package respond

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/atmx/outcome-ledger/internal/model"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: shares", model.ErrValidation), http.StatusBadRequest, "validation_error"},
		{fmt.Errorf("market x: %w", model.ErrNotFound), http.StatusNotFound, "not_found"},
		{model.ErrMarketNotOpen, http.StatusConflict, "market_not_open"},
		{model.ErrAlreadyResolved, http.StatusConflict, "already_resolved"},
		{model.ErrInsufficientBalance, http.StatusUnprocessableEntity, "insufficient_balance"},
		{model.ErrConflict, http.StatusConflict, "conflict"},
		{model.ErrLockTimeout, http.StatusServiceUnavailable, "lock_timeout"},
		{model.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{model.ErrForbidden, http.StatusForbidden, "forbidden"},
		{errors.New("disk on fire"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		status, code := Classify(tt.err)
		if status != tt.status || code != tt.code {
			t.Errorf("Classify(%v) = %d %s, want %d %s", tt.err, status, code, tt.status, tt.code)
		}
	}
}

func TestError_HidesInternalMessage(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, errors.New("pq: password authentication failed"))

	var body ErrorBody
	json.Unmarshal(w.Body.Bytes(), &body)
	if body.Error != "internal error" {
		t.Errorf("internal error text leaked: %q", body.Error)
	}
}

func TestError_LockTimeoutSetsRetryAfter(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, model.ErrLockTimeout)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}
