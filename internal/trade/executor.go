// Package trade executes buy orders against administrator-set prices.
//
// A trade is one all-or-nothing store transaction: the user is debited,
// the position merged, the BUY transaction appended, and the market's
// volume counter incremented together, or none of it happens.
package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/atmx/outcome-ledger/internal/account"
	"github.com/atmx/outcome-ledger/internal/metrics"
	"github.com/atmx/outcome-ledger/internal/model"
	"github.com/atmx/outcome-ledger/internal/position"
	"github.com/atmx/outcome-ledger/internal/respond"
	"github.com/atmx/outcome-ledger/internal/store"
)

// DefaultMaxSharesPerTrade caps a single order's size.
const DefaultMaxSharesPerTrade int64 = 10_000

// EventTradeExecuted is published after a trade commits.
const EventTradeExecuted = "trade_executed"

// Publisher receives trade events after they commit.
type Publisher interface {
	Publish(eventType, marketID string, data any)
}

// Order is a request to buy shares of one outcome.
type Order struct {
	MarketID string        `json:"market_id"`
	Outcome  model.Outcome `json:"outcome"`
	Shares   int64         `json:"shares"`
}

// Fill describes a committed trade.
type Fill struct {
	TransactionID string             `json:"transaction_id"`
	MarketID      string             `json:"market_id"`
	Outcome       model.Outcome      `json:"outcome"`
	Shares        int64              `json:"shares"`
	PricePerShare int64              `json:"price_per_share"`
	TotalCost     int64              `json:"total_cost"`
	NewBalance    int64              `json:"new_balance"`
	Position      model.PositionView `json:"position"`
}

// Executor runs trades.
type Executor struct {
	store     store.Store
	pub       Publisher
	maxShares int64
	now       func() time.Time
}

// NewExecutor creates an executor. pub may be nil; maxShares <= 0 uses
// DefaultMaxSharesPerTrade.
func NewExecutor(st store.Store, pub Publisher, maxShares int64) *Executor {
	if maxShares <= 0 {
		maxShares = DefaultMaxSharesPerTrade
	}
	return &Executor{
		store:     st,
		pub:       pub,
		maxShares: maxShares,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the timestamp source.
func (e *Executor) WithClock(now func() time.Time) *Executor {
	e.now = now
	return e
}

func (e *Executor) validate(userID string, o *Order) error {
	if userID == "" {
		return fmt.Errorf("%w: user id is required", model.ErrUnauthorized)
	}
	o.MarketID = strings.TrimSpace(o.MarketID)
	if o.MarketID == "" {
		return fmt.Errorf("%w: market_id is required", model.ErrValidation)
	}
	o.Outcome = model.Outcome(strings.ToUpper(string(o.Outcome)))
	if !o.Outcome.Valid() {
		return fmt.Errorf("%w: outcome must be YES or NO", model.ErrValidation)
	}
	if o.Shares <= 0 {
		return fmt.Errorf("%w: shares must be positive", model.ErrValidation)
	}
	if o.Shares > e.maxShares || o.Shares > math.MaxInt64/model.PayoutPerShare {
		return fmt.Errorf("%w: shares must not exceed %d", model.ErrValidation, e.maxShares)
	}
	return nil
}

// Execute buys o.Shares of o.Outcome for userID at the market's current
// price.
func (e *Executor) Execute(ctx context.Context, userID string, o Order) (*Fill, error) {
	start := time.Now()
	if err := e.validate(userID, &o); err != nil {
		e.reject(err)
		return nil, err
	}

	var (
		fill   Fill
		market model.Market
	)
	err := e.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		m, err := tx.LockMarket(ctx, o.MarketID)
		if err != nil {
			return err
		}
		if m.Status != model.StatusOpen {
			return fmt.Errorf("%w: market %s is %s", model.ErrMarketNotOpen, m.ID, m.Status)
		}

		u, err := tx.LockUser(ctx, userID)
		if err != nil {
			return err
		}

		price := m.PriceOf(o.Outcome)
		totalCost := o.Shares * price
		if err := account.Debit(u, totalCost); err != nil {
			return err
		}

		key := model.PositionKey{UserID: userID, MarketID: m.ID, Outcome: o.Outcome}
		pos, err := tx.GetPosition(ctx, key)
		if errors.Is(err, model.ErrNotFound) {
			pos = &model.Position{ID: uuid.New().String(), UserID: userID, MarketID: m.ID, Outcome: o.Outcome}
		} else if err != nil {
			return err
		}

		newShares, newAvg, err := position.Merge(pos, o.Shares, price)
		if err != nil {
			return fmt.Errorf("%w: %v", model.ErrValidation, err)
		}
		pos.Shares, pos.AverageCost, pos.UpdatedAt = newShares, newAvg, e.now()

		if err := addVolume(m, o.Outcome, o.Shares); err != nil {
			return err
		}

		txn := &model.Transaction{
			ID:            uuid.New().String(),
			UserID:        userID,
			MarketID:      m.ID,
			Type:          model.TxBuy,
			Outcome:       o.Outcome,
			Shares:        o.Shares,
			PricePerShare: price,
			TotalCost:     -totalCost,
			Timestamp:     e.now(),
		}

		if err := tx.SaveUser(ctx, u); err != nil {
			return err
		}
		if err := tx.SavePosition(ctx, pos); err != nil {
			return err
		}
		if err := tx.SaveMarket(ctx, m); err != nil {
			return err
		}
		if err := tx.AppendTransaction(ctx, txn); err != nil {
			return err
		}

		market = *m
		fill = Fill{
			TransactionID: txn.ID,
			MarketID:      m.ID,
			Outcome:       o.Outcome,
			Shares:        o.Shares,
			PricePerShare: price,
			TotalCost:     totalCost,
			NewBalance:    u.Balance,
			Position:      position.Value(*pos, *m),
		}
		return nil
	})
	if err != nil {
		e.reject(err)
		return nil, err
	}

	outcome := string(o.Outcome)
	metrics.TradesTotal.WithLabelValues(outcome).Inc()
	metrics.TradeVolumeCents.WithLabelValues(outcome).Add(float64(fill.TotalCost))
	metrics.TradeLatency.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	slog.Info("trade executed",
		"transaction_id", fill.TransactionID,
		"user", userID,
		"market", fill.MarketID,
		"outcome", outcome,
		"shares", fill.Shares,
		"price", fill.PricePerShare,
		"total_cost", fill.TotalCost,
		"new_balance", fill.NewBalance,
	)

	if e.pub != nil {
		e.pub.Publish(EventTradeExecuted, market.ID, map[string]any{
			"outcome":          o.Outcome,
			"shares":           fill.Shares,
			"price_per_share":  fill.PricePerShare,
			"yes_price":        market.YesPrice,
			"no_price":         market.NoPrice,
			"total_yes_shares": market.TotalYesShares,
			"total_no_shares":  market.TotalNoShares,
		})
	}
	return &fill, nil
}

func addVolume(m *model.Market, o model.Outcome, shares int64) error {
	counter := &m.TotalNoShares
	if o == model.OutcomeYes {
		counter = &m.TotalYesShares
	}
	if *counter > math.MaxInt64-shares {
		return fmt.Errorf("market %s: volume counter overflow", m.ID)
	}
	*counter += shares
	return nil
}

func (e *Executor) reject(err error) {
	_, code := respond.Classify(err)
	metrics.TradeRejections.WithLabelValues(code).Inc()
}
