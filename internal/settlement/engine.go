// Package settlement resolves markets and pays out winning positions.
//
// Resolution is a single store transaction. The market flips to resolved
// before any payout is written, so a concurrent or repeated resolve sees
// model.ErrAlreadyResolved and can never pay twice; any failure part-way
// through rolls back the status flip along with every credit.
package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/atmx/outcome-ledger/internal/account"
	"github.com/atmx/outcome-ledger/internal/metrics"
	"github.com/atmx/outcome-ledger/internal/model"
	"github.com/atmx/outcome-ledger/internal/store"
)

// EventResolved is published after a resolution commits.
const EventResolved = "market_resolved"

// Publisher receives settlement events after they commit.
type Publisher interface {
	Publish(eventType, marketID string, data any)
}

// Payout is one credited winning position.
type Payout struct {
	UserID        string `json:"user_id"`
	Shares        int64  `json:"shares"`
	Amount        int64  `json:"amount"`
	TransactionID string `json:"transaction_id"`
}

// Report summarizes a resolution.
type Report struct {
	Market          *model.Market `json:"-"`
	Outcome         model.Outcome `json:"outcome"`
	Payouts         []Payout      `json:"payouts"`
	WinningShares   int64         `json:"winning_shares"`
	TotalPaid       int64         `json:"total_paid"`
	PositionsZeroed int           `json:"positions_zeroed"`
}

// Engine resolves markets.
type Engine struct {
	store store.Store
	pub   Publisher
	now   func() time.Time
}

// NewEngine creates a settlement engine. pub may be nil.
func NewEngine(st store.Store, pub Publisher) *Engine {
	return &Engine{store: st, pub: pub, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock replaces the timestamp source.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Resolve settles marketID to outcome: every winning share pays
// model.PayoutPerShare cents and every position on the market is zeroed.
// Open and closed markets may be resolved; resolved is terminal.
func (e *Engine) Resolve(ctx context.Context, marketID string, outcome model.Outcome) (*Report, error) {
	outcome = model.Outcome(strings.ToUpper(string(outcome)))
	if !outcome.Valid() {
		return nil, fmt.Errorf("%w: outcome must be YES or NO", model.ErrValidation)
	}

	var (
		report    Report
		wasOpen   bool
		resolved  model.Market
		resolveAt = e.now()
	)
	err := e.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		report = Report{Outcome: outcome, Payouts: []Payout{}}

		m, err := tx.LockMarket(ctx, marketID)
		if err != nil {
			return err
		}
		if m.Status == model.StatusResolved {
			return fmt.Errorf("%w: market %s", model.ErrAlreadyResolved, m.ID)
		}
		wasOpen = m.Status == model.StatusOpen

		m.Status = model.StatusResolved
		m.ResolvedOutcome = &outcome
		m.ResolutionDate = &resolveAt
		if err := tx.SaveMarket(ctx, m); err != nil {
			return err
		}

		positions, err := tx.ListMarketPositions(ctx, m.ID)
		if err != nil {
			return err
		}

		users, err := lockHolders(ctx, tx, positions)
		if err != nil {
			return err
		}

		for i := range positions {
			p := &positions[i]
			if p.Shares <= 0 {
				continue
			}

			if p.Outcome == outcome {
				payout, err := e.pay(ctx, tx, users[p.UserID], p, m.ID)
				if err != nil {
					return err
				}
				report.Payouts = append(report.Payouts, payout)
				report.WinningShares += p.Shares
				report.TotalPaid += payout.Amount
			}

			p.Shares = 0
			p.UpdatedAt = resolveAt
			if err := tx.SavePosition(ctx, p); err != nil {
				return err
			}
			report.PositionsZeroed++
		}

		for _, id := range sortedKeys(users) {
			if err := tx.SaveUser(ctx, users[id]); err != nil {
				return err
			}
		}

		resolved = *m
		return nil
	})
	if err != nil {
		return nil, err
	}

	report.Market = &resolved

	metrics.SettlementsTotal.WithLabelValues(string(outcome)).Inc()
	metrics.SettlementPayoutCents.Add(float64(report.TotalPaid))
	if wasOpen {
		metrics.ActiveMarkets.Dec()
	}
	slog.Info("market resolved",
		"id", resolved.ID,
		"outcome", outcome,
		"payouts", len(report.Payouts),
		"winning_shares", report.WinningShares,
		"total_paid", report.TotalPaid,
	)
	if e.pub != nil {
		e.pub.Publish(EventResolved, resolved.ID, map[string]any{
			"outcome":        outcome,
			"winning_shares": report.WinningShares,
			"total_paid":     report.TotalPaid,
		})
	}
	return &report, nil
}

// lockHolders locks the account of every user holding shares on the
// market, in ascending user ID order.
func lockHolders(ctx context.Context, tx store.Tx, positions []model.Position) (map[string]*model.User, error) {
	users := make(map[string]*model.User)
	for _, p := range positions {
		if p.Shares > 0 {
			users[p.UserID] = nil
		}
	}
	for _, id := range sortedKeys(users) {
		u, err := tx.LockUser(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("settle: lock holder %s: %w", id, err)
		}
		users[id] = u
	}
	return users, nil
}

func (e *Engine) pay(ctx context.Context, tx store.Tx, u *model.User, p *model.Position, marketID string) (Payout, error) {
	if p.Shares > math.MaxInt64/model.PayoutPerShare {
		return Payout{}, fmt.Errorf("settle: payout overflow on position %s", p.ID)
	}
	amount := p.Shares * model.PayoutPerShare
	if err := account.Credit(u, amount); err != nil {
		return Payout{}, fmt.Errorf("settle: %w", err)
	}

	txn := &model.Transaction{
		ID:            uuid.New().String(),
		UserID:        u.ID,
		MarketID:      marketID,
		Type:          model.TxSettlement,
		Outcome:       p.Outcome,
		Shares:        p.Shares,
		PricePerShare: model.PayoutPerShare,
		TotalCost:     amount,
		Timestamp:     e.now(),
	}
	if err := tx.AppendTransaction(ctx, txn); err != nil {
		return Payout{}, err
	}
	return Payout{UserID: u.ID, Shares: p.Shares, Amount: amount, TransactionID: txn.ID}, nil
}

func sortedKeys(m map[string]*model.User) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
