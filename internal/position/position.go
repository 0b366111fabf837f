// Package position implements the position book arithmetic for binary
// outcome markets: weighted-average cost merging and mark-to-market
// valuation.
//
// All money is integer cents. The merge rule rounds half up to the nearest
// cent in integer arithmetic so cost basis is bit-reproducible; only the
// P&L percentage is a decimal (rounded to PercentScale places).
package position

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"

	"github.com/atmx/outcome-ledger/internal/model"
)

var (
	// ErrInvalidShares is returned when a merge adds zero or negative shares.
	ErrInvalidShares = errors.New("position: shares must be positive")

	// ErrInvalidPrice is returned when a merge price is outside [0, 100].
	ErrInvalidPrice = errors.New("position: price must be between 0 and 100 cents")

	// ErrOverflow is returned when a merge would overflow int64 arithmetic.
	ErrOverflow = errors.New("position: share count overflow")

	// PercentScale is the number of decimal places kept in P&L percentages.
	PercentScale int32 = 2

	hundred = decimal.NewFromInt(100)
)

// MaxPrice is the highest price, in cents, a share can trade at.
const MaxPrice int64 = 100

// Merge folds a purchase of shares at price into existing and returns the
// resulting shares and average cost. existing may be nil for a first buy.
//
//	new_shares = old_shares + shares
//	new_avg    = round_half_up((old_shares×old_avg + shares×price) / new_shares)
func Merge(existing *model.Position, shares, price int64) (newShares, newAvg int64, err error) {
	if shares <= 0 {
		return 0, 0, ErrInvalidShares
	}
	if price < 0 || price > MaxPrice {
		return 0, 0, ErrInvalidPrice
	}

	var oldShares, oldAvg int64
	if existing != nil {
		oldShares, oldAvg = existing.Shares, existing.AverageCost
	}

	if oldShares > math.MaxInt64-shares {
		return 0, 0, ErrOverflow
	}
	newShares = oldShares + shares

	// Prices are bounded by MaxPrice, so 2×total+newShares stays below
	// 4×MaxPrice×newShares.
	if newShares > math.MaxInt64/(4*MaxPrice) {
		return 0, 0, ErrOverflow
	}
	total := oldShares*oldAvg + shares*price
	newAvg = RoundHalfUp(total, newShares)
	return newShares, newAvg, nil
}

// RoundHalfUp divides num by den (both non-negative, den > 0) rounding
// halves up: floor((2×num + den) / (2×den)).
func RoundHalfUp(num, den int64) int64 {
	return (2*num + den) / (2 * den)
}

// CurrentValue is the position marked at the market's current price for
// its outcome, in cents.
func CurrentValue(p *model.Position, m *model.Market) int64 {
	return p.Shares * m.PriceOf(p.Outcome)
}

// UnrealizedPnL is current value minus cost basis.
func UnrealizedPnL(p *model.Position, m *model.Market) int64 {
	return CurrentValue(p, m) - p.CostBasis()
}

// Percent returns pnl / basis × 100 rounded to PercentScale places, or zero
// when basis is zero.
func Percent(pnl, basis int64) decimal.Decimal {
	if basis == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(pnl).Mul(hundred).Div(decimal.NewFromInt(basis)).Round(PercentScale)
}

// Value builds the valued view of p at m's current prices.
func Value(p model.Position, m model.Market) model.PositionView {
	basis := p.CostBasis()
	current := CurrentValue(&p, &m)
	pnl := current - basis
	return model.PositionView{
		Position:             p,
		CostBasis:            basis,
		CurrentValue:         current,
		UnrealizedPnL:        pnl,
		UnrealizedPnLPercent: Percent(pnl, basis),
		MarketName:           m.Name,
		MarketYesPrice:       m.YesPrice,
		MarketNoPrice:        m.NoPrice,
		MarketStatus:         m.Status,
	}
}
