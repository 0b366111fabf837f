// Package market implements the market registry: creation, lifecycle
// transitions, administrator price edits, and read access.
//
// Prices are integer cents in [0, 100] and only change through SetPrices;
// trading never moves them.
package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/atmx/outcome-ledger/internal/metrics"
	"github.com/atmx/outcome-ledger/internal/model"
	"github.com/atmx/outcome-ledger/internal/store"
)

// Supported categories.
const (
	CategoryUC            = "uc"
	CategoryIvy           = "ivy"
	CategoryCSU           = "csu"
	CategoryInternational = "international"
	CategoryOther         = "other"
)

var validCategories = map[string]bool{
	CategoryUC:            true,
	CategoryIvy:           true,
	CategoryCSU:           true,
	CategoryInternational: true,
	CategoryOther:         true,
}

// MaxNameLength bounds market names, in characters.
const MaxNameLength = 100

// Event types published by the registry.
const (
	EventCreated       = "market_created"
	EventClosed        = "market_closed"
	EventPricesUpdated = "market_prices_updated"
)

// Publisher receives market events after they commit.
type Publisher interface {
	Publish(eventType, marketID string, data any)
}

// Registry owns market records.
type Registry struct {
	store store.Store
	pub   Publisher
	now   func() time.Time
}

// NewRegistry creates a registry. pub may be nil.
func NewRegistry(st store.Store, pub Publisher) *Registry {
	return &Registry{store: st, pub: pub, now: func() time.Time { return time.Now().UTC() }}
}

// CreateParams describes a new market.
type CreateParams struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	YesPrice    int64  `json:"yes_price"`
	NoPrice     int64  `json:"no_price"`
}

// ValidCategory reports whether c is an enumerated category.
func ValidCategory(c string) bool {
	return validCategories[c]
}

// ValidatePrice checks that p is a price in cents between 0 and 100.
func ValidatePrice(field string, p int64) error {
	if p < 0 || p > model.PayoutPerShare {
		return fmt.Errorf("%w: %s must be between 0 and 100 cents, got %d", model.ErrValidation, field, p)
	}
	return nil
}

func (p *CreateParams) normalize() error {
	p.Name = strings.TrimSpace(p.Name)
	p.Category = strings.ToLower(strings.TrimSpace(p.Category))
	if p.Category == "" {
		p.Category = CategoryOther
	}

	if p.Name == "" {
		return fmt.Errorf("%w: name is required", model.ErrValidation)
	}
	if utf8.RuneCountInString(p.Name) > MaxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", model.ErrValidation, MaxNameLength)
	}
	if !ValidCategory(p.Category) {
		return fmt.Errorf("%w: unsupported category %q", model.ErrValidation, p.Category)
	}
	return errors.Join(ValidatePrice("yes_price", p.YesPrice), ValidatePrice("no_price", p.NoPrice))
}

// Create registers a new open market.
func (g *Registry) Create(ctx context.Context, p CreateParams) (*model.Market, error) {
	if err := p.normalize(); err != nil {
		return nil, err
	}

	m := &model.Market{
		ID:          uuid.New().String(),
		Name:        p.Name,
		Description: p.Description,
		Category:    p.Category,
		YesPrice:    p.YesPrice,
		NoPrice:     p.NoPrice,
		Status:      model.StatusOpen,
		CreatedAt:   g.now(),
	}
	if err := g.store.CreateMarket(ctx, m); err != nil {
		return nil, fmt.Errorf("create market: %w", err)
	}

	metrics.ActiveMarkets.Inc()
	slog.Info("market created",
		"id", m.ID,
		"name", m.Name,
		"category", m.Category,
		"yes_price", m.YesPrice,
		"no_price", m.NoPrice,
	)
	g.publish(EventCreated, m)
	return m, nil
}

// Close stops trading on an open market.
func (g *Registry) Close(ctx context.Context, id string) (*model.Market, error) {
	var closed *model.Market
	err := g.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		m, err := tx.LockMarket(ctx, id)
		if err != nil {
			return err
		}
		if m.Status != model.StatusOpen {
			return fmt.Errorf("%w: market %s is %s", model.ErrMarketNotOpen, id, m.Status)
		}
		m.Status = model.StatusClosed
		if err := tx.SaveMarket(ctx, m); err != nil {
			return err
		}
		closed = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.ActiveMarkets.Dec()
	slog.Info("market closed", "id", id)
	g.publish(EventClosed, closed)
	return closed, nil
}

// SetPrices replaces both outcome prices on an open market.
func (g *Registry) SetPrices(ctx context.Context, id string, yes, no int64) (*model.Market, error) {
	if err := errors.Join(ValidatePrice("yes_price", yes), ValidatePrice("no_price", no)); err != nil {
		return nil, err
	}

	var updated *model.Market
	err := g.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		m, err := tx.LockMarket(ctx, id)
		if err != nil {
			return err
		}
		if m.Status != model.StatusOpen {
			return fmt.Errorf("%w: market %s is %s", model.ErrMarketNotOpen, id, m.Status)
		}
		m.YesPrice, m.NoPrice = yes, no
		if err := tx.SaveMarket(ctx, m); err != nil {
			return err
		}
		updated = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("market prices updated", "id", id, "yes_price", yes, "no_price", no)
	g.publish(EventPricesUpdated, updated)
	return updated, nil
}

// Get returns one market.
func (g *Registry) Get(ctx context.Context, id string) (*model.Market, error) {
	return g.store.GetMarket(ctx, id)
}

// List returns markets newest first, optionally filtered by category.
func (g *Registry) List(ctx context.Context, category string) ([]model.Market, error) {
	category = strings.ToLower(strings.TrimSpace(category))
	if category != "" && !ValidCategory(category) {
		return nil, fmt.Errorf("%w: unsupported category %q", model.ErrValidation, category)
	}
	markets, err := g.store.ListMarkets(ctx, category)
	if err != nil {
		return nil, fmt.Errorf("list markets: %w", err)
	}
	if markets == nil {
		markets = []model.Market{}
	}
	return markets, nil
}

// History returns every transaction recorded against a market, oldest
// first.
func (g *Registry) History(ctx context.Context, id string) ([]model.Transaction, error) {
	if _, err := g.store.GetMarket(ctx, id); err != nil {
		return nil, err
	}
	entries, err := g.store.ListMarketTransactions(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("market history %s: %w", id, err)
	}
	if entries == nil {
		entries = []model.Transaction{}
	}
	return entries, nil
}

// SyncMetrics sets the active-market gauge from the store. Called once at
// startup so the gauge survives restarts.
func (g *Registry) SyncMetrics(ctx context.Context) error {
	markets, err := g.store.ListMarkets(ctx, "")
	if err != nil {
		return err
	}
	open := 0
	for _, m := range markets {
		if m.Status == model.StatusOpen {
			open++
		}
	}
	metrics.ActiveMarkets.Set(float64(open))
	return nil
}

func (g *Registry) publish(eventType string, m *model.Market) {
	if g.pub != nil {
		g.pub.Publish(eventType, m.ID, m)
	}
}
