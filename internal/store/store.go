// Package store defines the persistence interface for the ledger.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// market cache), and in-memory (for testing and development).
package store

import (
	"context"

	"github.com/atmx/outcome-ledger/internal/model"
)

// Store is the persistence interface. Every balance, position, market-state
// or transaction mutation goes through RunInTx; the remaining methods are
// plain inserts of new rows or read-only snapshots.
type Store interface {
	// --- Users ---

	// CreateUser persists a new user. Returns model.ErrConflict if the
	// username is taken.
	CreateUser(ctx context.Context, user *model.User) error

	// GetUser retrieves a user by ID.
	GetUser(ctx context.Context, id string) (*model.User, error)

	// ListUsers returns all users ordered by creation time.
	ListUsers(ctx context.Context) ([]model.User, error)

	// --- Markets ---

	// CreateMarket persists a new market.
	CreateMarket(ctx context.Context, market *model.Market) error

	// GetMarket retrieves a market by its ID.
	GetMarket(ctx context.Context, id string) (*model.Market, error)

	// ListMarkets returns all markets, newest first. An empty category
	// means no filter.
	ListMarkets(ctx context.Context, category string) ([]model.Market, error)

	// --- Reads over the ledger ---

	// Snapshot returns a consistent view of a user's balance, open
	// positions and the markets they reference.
	Snapshot(ctx context.Context, userID string) (*model.AccountSnapshot, error)

	// ListUserTransactions returns a user's transactions, newest first.
	ListUserTransactions(ctx context.Context, userID string) ([]model.Transaction, error)

	// ListMarketTransactions returns a market's transactions, oldest first.
	ListMarketTransactions(ctx context.Context, marketID string) ([]model.Transaction, error)

	// --- Atomic mutation ---

	// RunInTx executes fn inside one all-or-nothing unit. If fn returns an
	// error nothing it wrote becomes visible.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the mutation surface available inside RunInTx.
//
// Lock order is market first, then users in ascending ID order. Locks are
// held until the transaction ends.
type Tx interface {
	// LockMarket enters the market's critical section and returns its
	// current state.
	LockMarket(ctx context.Context, id string) (*model.Market, error)

	// LockUser enters the user's critical section and returns its current
	// state.
	LockUser(ctx context.Context, id string) (*model.User, error)

	// GetPosition returns the position for key, or model.ErrNotFound.
	// The caller must hold the position's market lock.
	GetPosition(ctx context.Context, key model.PositionKey) (*model.Position, error)

	// ListMarketPositions returns every position on a market ordered by
	// user ID. The caller must hold the market lock.
	ListMarketPositions(ctx context.Context, marketID string) ([]model.Position, error)

	SaveMarket(ctx context.Context, market *model.Market) error
	SaveUser(ctx context.Context, user *model.User) error
	SavePosition(ctx context.Context, position *model.Position) error

	// AppendTransaction adds an immutable record to the transaction log.
	AppendTransaction(ctx context.Context, txn *model.Transaction) error
}
