// Package account implements the account ledger: user registration and the
// only rules by which a cash balance may change.
package account

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/atmx/outcome-ledger/internal/metrics"
	"github.com/atmx/outcome-ledger/internal/model"
	"github.com/atmx/outcome-ledger/internal/store"
)

// Username bounds.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 20
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9]+$`)

// Debit removes amount cents from u. It fails with
// model.ErrInsufficientBalance rather than go negative.
func Debit(u *model.User, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("%w: negative debit %d", model.ErrValidation, amount)
	}
	if amount > u.Balance {
		return fmt.Errorf("%w: need %d, have %d", model.ErrInsufficientBalance, amount, u.Balance)
	}
	u.Balance -= amount
	return nil
}

// Credit adds amount cents to u.
func Credit(u *model.User, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("%w: negative credit %d", model.ErrValidation, amount)
	}
	if u.Balance > math.MaxInt64-amount {
		return fmt.Errorf("credit user %s: balance overflow", u.ID)
	}
	u.Balance += amount
	return nil
}

// TokenIssuer signs bearer tokens for newly registered users.
type TokenIssuer interface {
	Issue(userID, role string) (string, error)
}

// Ledger owns user records.
type Ledger struct {
	store           store.Store
	tokens          TokenIssuer
	startingBalance int64
	now             func() time.Time
}

// NewLedger creates an account ledger. tokens may be nil, in which case
// registration does not return a token.
func NewLedger(st store.Store, startingBalance int64, tokens TokenIssuer) *Ledger {
	return &Ledger{
		store:           st,
		tokens:          tokens,
		startingBalance: startingBalance,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// NormalizeUsername lower-cases and validates a username.
func NormalizeUsername(username string) (string, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if len(username) < MinUsernameLength || len(username) > MaxUsernameLength {
		return "", fmt.Errorf("%w: username must be %d-%d characters",
			model.ErrValidation, MinUsernameLength, MaxUsernameLength)
	}
	if !usernamePattern.MatchString(username) {
		return "", fmt.Errorf("%w: username must be alphanumeric", model.ErrValidation)
	}
	return username, nil
}

// Register creates a user holding the starting balance.
func (l *Ledger) Register(ctx context.Context, username string) (*model.User, error) {
	name, err := NormalizeUsername(username)
	if err != nil {
		return nil, err
	}

	u := &model.User{
		ID:              uuid.New().String(),
		Username:        name,
		Balance:         l.startingBalance,
		StartingBalance: l.startingBalance,
		CreatedAt:       l.now(),
	}
	if err := l.store.CreateUser(ctx, u); err != nil {
		return nil, fmt.Errorf("register %s: %w", name, err)
	}

	metrics.UsersRegistered.Inc()
	slog.Info("user registered", "id", u.ID, "username", u.Username, "balance", u.Balance)
	return u, nil
}

// Get returns one user.
func (l *Ledger) Get(ctx context.Context, id string) (*model.User, error) {
	return l.store.GetUser(ctx, id)
}

// List returns every user, oldest first.
func (l *Ledger) List(ctx context.Context) ([]model.User, error) {
	users, err := l.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	if users == nil {
		users = []model.User{}
	}
	return users, nil
}
