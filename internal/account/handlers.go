package account

import (
	"net/http"

	"github.com/atmx/outcome-ledger/internal/auth"
	"github.com/atmx/outcome-ledger/internal/model"
	"github.com/atmx/outcome-ledger/internal/respond"
)

// RegisterRequest is the JSON body for POST /users.
type RegisterRequest struct {
	Username string `json:"username"`
}

// RegisterResponse returns the new user and a bearer token for it.
type RegisterResponse struct {
	User  *model.User `json:"user"`
	Token string      `json:"token,omitempty"`
}

// RegisterUser handles POST /api/v1/users
func (l *Ledger) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, err)
		return
	}

	u, err := l.Register(r.Context(), req.Username)
	if err != nil {
		respond.Error(w, err)
		return
	}

	resp := RegisterResponse{User: u}
	if l.tokens != nil {
		token, err := l.tokens.Issue(u.ID, auth.RoleUser)
		if err != nil {
			respond.Error(w, err)
			return
		}
		resp.Token = token
	}
	respond.JSON(w, http.StatusCreated, resp)
}

// Me handles GET /api/v1/me
func (l *Ledger) Me(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserID(r.Context())
	if err != nil {
		respond.Error(w, err)
		return
	}
	u, err := l.Get(r.Context(), userID)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, u)
}

// ListUsers handles GET /api/v1/users
func (l *Ledger) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := l.List(r.Context())
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, users)
}
