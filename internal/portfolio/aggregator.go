// Package portfolio aggregates a user's positions, valuations and
// transaction history into read models.
package portfolio

import (
	"context"
	"fmt"

	"github.com/atmx/outcome-ledger/internal/model"
	"github.com/atmx/outcome-ledger/internal/position"
	"github.com/atmx/outcome-ledger/internal/store"
)

// Aggregator builds portfolio views.
type Aggregator struct {
	store store.Store
}

// NewAggregator creates an aggregator.
func NewAggregator(st store.Store) *Aggregator {
	return &Aggregator{store: st}
}

// Summary values every open position at current prices. All figures come
// from a single consistent snapshot.
func (a *Aggregator) Summary(ctx context.Context, userID string) (*model.PortfolioSummary, error) {
	snap, err := a.store.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}

	summary := &model.PortfolioSummary{
		UserID:    snap.User.ID,
		Balance:   snap.User.Balance,
		Positions: make([]model.PositionView, 0, len(snap.Positions)),
	}
	for _, p := range snap.Positions {
		if p.Shares <= 0 {
			continue
		}
		m, ok := snap.Markets[p.MarketID]
		if !ok {
			return nil, fmt.Errorf("portfolio %s: market %s missing from snapshot", userID, p.MarketID)
		}
		v := position.Value(p, m)
		summary.TotalInvested += v.CostBasis
		summary.TotalCurrentValue += v.CurrentValue
		summary.Positions = append(summary.Positions, v)
	}
	summary.TotalUnrealizedPnL = summary.TotalCurrentValue - summary.TotalInvested
	summary.TotalUnrealizedPnLPercent = position.Percent(summary.TotalUnrealizedPnL, summary.TotalInvested)
	return summary, nil
}

// Transactions returns the user's transactions newest first, each labelled
// with its market's name.
func (a *Aggregator) Transactions(ctx context.Context, userID string) ([]model.TransactionView, error) {
	if _, err := a.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	txns, err := a.store.ListUserTransactions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("transactions %s: %w", userID, err)
	}

	names := make(map[string]string)
	views := make([]model.TransactionView, 0, len(txns))
	for _, txn := range txns {
		name, ok := names[txn.MarketID]
		if !ok {
			m, err := a.store.GetMarket(ctx, txn.MarketID)
			if err != nil {
				return nil, fmt.Errorf("transactions %s: %w", userID, err)
			}
			name = m.Name
			names[txn.MarketID] = name
		}
		views = append(views, model.TransactionView{Transaction: txn, MarketName: name})
	}
	return views, nil
}

// Reconciliation compares a balance with the transaction log.
type Reconciliation struct {
	UserID           string `json:"user_id"`
	StartingBalance  int64  `json:"starting_balance"`
	NetAmount        int64  `json:"net_amount"`
	ExpectedBalance  int64  `json:"expected_balance"`
	Balance          int64  `json:"balance"`
	TransactionCount int    `json:"transaction_count"`
	Consistent       bool   `json:"consistent"`
}

// Reconcile checks that balance = starting balance + Σ total_cost over the
// user's transactions. The user's critical section is held while reading so
// no trade or payout can land between the two reads.
func (a *Aggregator) Reconcile(ctx context.Context, userID string) (*Reconciliation, error) {
	var rec Reconciliation
	err := a.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		u, err := tx.LockUser(ctx, userID)
		if err != nil {
			return err
		}
		txns, err := a.store.ListUserTransactions(ctx, userID)
		if err != nil {
			return err
		}

		rec = Reconciliation{
			UserID:           u.ID,
			StartingBalance:  u.StartingBalance,
			Balance:          u.Balance,
			TransactionCount: len(txns),
		}
		for _, txn := range txns {
			rec.NetAmount += txn.TotalCost
		}
		rec.ExpectedBalance = rec.StartingBalance + rec.NetAmount
		rec.Consistent = rec.ExpectedBalance == rec.Balance
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
