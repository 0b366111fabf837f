// Package model defines the core domain types shared across the ledger.
// All money is integer cents (int64) end-to-end; never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Outcome is one side of a binary market.
type Outcome string

const (
	OutcomeYes Outcome = "YES"
	OutcomeNo  Outcome = "NO"
)

// Valid reports whether o is YES or NO.
func (o Outcome) Valid() bool {
	return o == OutcomeYes || o == OutcomeNo
}

// MarketStatus is the lifecycle state of a market.
// Transitions are one-directional: open → closed → resolved, or open → resolved.
type MarketStatus string

const (
	StatusOpen     MarketStatus = "open"
	StatusClosed   MarketStatus = "closed"
	StatusResolved MarketStatus = "resolved"
)

// TransactionType distinguishes debits from settlement credits.
type TransactionType string

const (
	TxBuy        TransactionType = "BUY"
	TxSettlement TransactionType = "SETTLEMENT"
)

// PayoutPerShare is what one winning share redeems for at settlement.
const PayoutPerShare int64 = 100

// User owns a cash balance. Balance is never negative.
type User struct {
	ID              string    `json:"id" db:"id"`
	Username        string    `json:"username" db:"username"`
	Balance         int64     `json:"balance" db:"balance"`
	StartingBalance int64     `json:"starting_balance" db:"starting_balance"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// Market is a binary prediction market with administrator-set prices.
type Market struct {
	ID              string       `json:"id" db:"id"`
	Name            string       `json:"name" db:"name"`
	Description     string       `json:"description" db:"description"`
	Category        string       `json:"category" db:"category"`
	YesPrice        int64        `json:"yes_price" db:"yes_price"` // cents, 0–100
	NoPrice         int64        `json:"no_price" db:"no_price"`   // cents, 0–100
	Status          MarketStatus `json:"status" db:"status"`
	TotalYesShares  int64        `json:"total_yes_shares" db:"total_yes_shares"`
	TotalNoShares   int64        `json:"total_no_shares" db:"total_no_shares"`
	ResolvedOutcome *Outcome     `json:"resolved_outcome" db:"resolved_outcome"`
	ResolutionDate  *time.Time   `json:"resolution_date" db:"resolution_date"`
	CreatedAt       time.Time    `json:"created_at" db:"created_at"`
}

// PriceOf returns the current price of one share of outcome o.
func (m *Market) PriceOf(o Outcome) int64 {
	if o == OutcomeYes {
		return m.YesPrice
	}
	return m.NoPrice
}

// PositionKey identifies a position.
type PositionKey struct {
	UserID   string
	MarketID string
	Outcome  Outcome
}

// Position is a user's holding in one outcome of one market.
type Position struct {
	ID          string    `json:"id" db:"id"`
	UserID      string    `json:"user_id" db:"user_id"`
	MarketID    string    `json:"market_id" db:"market_id"`
	Outcome     Outcome   `json:"outcome" db:"outcome"`
	Shares      int64     `json:"shares" db:"shares"`
	AverageCost int64     `json:"average_cost" db:"average_cost"` // cents per share
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Key returns the position's identity.
func (p *Position) Key() PositionKey {
	return PositionKey{UserID: p.UserID, MarketID: p.MarketID, Outcome: p.Outcome}
}

// CostBasis is shares × average cost.
func (p *Position) CostBasis() int64 {
	return p.Shares * p.AverageCost
}

// Transaction is an immutable record of a balance-affecting event.
// Once appended, it is never modified or deleted.
type Transaction struct {
	ID            string          `json:"id" db:"id"`
	UserID        string          `json:"user_id" db:"user_id"`
	MarketID      string          `json:"market_id" db:"market_id"`
	Type          TransactionType `json:"transaction_type" db:"transaction_type"`
	Outcome       Outcome         `json:"outcome" db:"outcome"`
	Shares        int64           `json:"shares" db:"shares"`
	PricePerShare int64           `json:"price_per_share" db:"price_per_share"`
	TotalCost     int64           `json:"total_cost" db:"total_cost"` // signed: -debit, +credit
	Timestamp     time.Time       `json:"timestamp" db:"timestamp"`
}

// TransactionView is a transaction enriched with its market's name.
type TransactionView struct {
	Transaction
	MarketName string `json:"market_name"`
}

// PositionView is a position valued at its market's current prices.
type PositionView struct {
	Position
	CostBasis            int64           `json:"cost_basis"`
	CurrentValue         int64           `json:"current_value"`
	UnrealizedPnL        int64           `json:"unrealized_pnl"`
	UnrealizedPnLPercent decimal.Decimal `json:"unrealized_pnl_percent"`
	MarketName           string          `json:"market_name"`
	MarketYesPrice       int64           `json:"market_yes_price"`
	MarketNoPrice        int64           `json:"market_no_price"`
	MarketStatus         MarketStatus    `json:"market_status"`
}

// PortfolioSummary aggregates a user's open positions with P&L.
type PortfolioSummary struct {
	UserID                    string          `json:"user_id"`
	Balance                   int64           `json:"balance"`
	TotalInvested             int64           `json:"total_invested"`
	TotalCurrentValue         int64           `json:"total_current_value"`
	TotalUnrealizedPnL        int64           `json:"total_unrealized_pnl"`
	TotalUnrealizedPnLPercent decimal.Decimal `json:"total_unrealized_pnl_percent"`
	Positions                 []PositionView  `json:"positions"`
}

// AccountSnapshot is a consistent read of one user's ledger state.
// Positions only include holdings with shares > 0; Markets holds every
// market those positions reference.
type AccountSnapshot struct {
	User      User
	Positions []Position
	Markets   map[string]Market
}
