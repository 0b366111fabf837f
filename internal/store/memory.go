package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/atmx/outcome-ledger/internal/model"
)

// DefaultLockTimeout bounds how long a transaction waits to enter a
// critical section before failing with model.ErrLockTimeout.
const DefaultLockTimeout = 5 * time.Second

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// Mutations are serialized per entity key and staged inside the
// transaction; commit applies the staged set under one short write lock,
// so readers observe either the pre- or post-transaction state.
type MemoryStore struct {
	locks *keyLocks

	mu        sync.RWMutex
	users     map[string]*model.User
	usernames map[string]string
	markets   map[string]*model.Market
	positions map[model.PositionKey]*model.Position
	ledger    []model.Transaction
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks:     newKeyLocks(DefaultLockTimeout),
		users:     make(map[string]*model.User),
		usernames: make(map[string]string),
		markets:   make(map[string]*model.Market),
		positions: make(map[model.PositionKey]*model.Position),
	}
}

// WithLockTimeout sets the critical-section wait bound. Zero waits until
// the context is done.
func (s *MemoryStore) WithLockTimeout(d time.Duration) *MemoryStore {
	s.locks.timeout = d
	return s
}

func (s *MemoryStore) CreateUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.usernames[u.Username]; ok {
		return fmt.Errorf("%w: username %s", model.ErrConflict, u.Username)
	}
	if _, ok := s.users[u.ID]; ok {
		return fmt.Errorf("%w: user %s", model.ErrConflict, u.ID)
	}

	// Store a copy to avoid external mutation.
	copy := *u
	s.users[u.ID] = &copy
	s.usernames[u.Username] = u.ID
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, model.ErrNotFound)
	}
	copy := *u
	return &copy, nil
}

func (s *MemoryStore) ListUsers(_ context.Context) ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]model.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, *u)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].ID < users[j].ID
		}
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
	return users, nil
}

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.markets[m.ID]; ok {
		return fmt.Errorf("%w: market %s", model.ErrConflict, m.ID)
	}
	copy := copyMarket(m)
	s.markets[m.ID] = copy
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, fmt.Errorf("market %s: %w", id, model.ErrNotFound)
	}
	return copyMarket(m), nil
}

func (s *MemoryStore) ListMarkets(_ context.Context, category string) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		if category != "" && m.Category != category {
			continue
		}
		markets = append(markets, *copyMarket(m))
	}
	sort.Slice(markets, func(i, j int) bool {
		if markets[i].CreatedAt.Equal(markets[j].CreatedAt) {
			return markets[i].ID < markets[j].ID
		}
		return markets[i].CreatedAt.After(markets[j].CreatedAt)
	})
	return markets, nil
}

func (s *MemoryStore) Snapshot(_ context.Context, userID string) (*model.AccountSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", userID, model.ErrNotFound)
	}

	snap := &model.AccountSnapshot{
		User:    *u,
		Markets: make(map[string]model.Market),
	}
	for _, p := range s.positions {
		if p.UserID != userID || p.Shares <= 0 {
			continue
		}
		snap.Positions = append(snap.Positions, *p)
		if m, ok := s.markets[p.MarketID]; ok {
			snap.Markets[m.ID] = *copyMarket(m)
		}
	}
	sortPositions(snap.Positions)
	return snap, nil
}

func (s *MemoryStore) ListUserTransactions(_ context.Context, userID string) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Walk backwards so equal timestamps keep newest-appended first.
	result := []model.Transaction{}
	for i := len(s.ledger) - 1; i >= 0; i-- {
		if s.ledger[i].UserID == userID {
			result = append(result, s.ledger[i])
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.After(result[j].Timestamp)
	})
	return result, nil
}

func (s *MemoryStore) ListMarketTransactions(_ context.Context, marketID string) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []model.Transaction{}
	for _, e := range s.ledger {
		if e.MarketID == marketID {
			result = append(result, e)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

// RunInTx runs fn against a staging transaction and commits the staged
// writes atomically if fn succeeds and ctx is still live.
func (s *MemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx := &memTx{
		s:         s,
		held:      make(map[string]bool),
		markets:   make(map[string]*model.Market),
		users:     make(map[string]*model.User),
		positions: make(map[model.PositionKey]*model.Position),
	}
	defer tx.releaseAll()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// memTx stages writes until commit. Reads see staged values first.
type memTx struct {
	s        *MemoryStore
	held     map[string]bool
	releases []func()

	markets   map[string]*model.Market
	users     map[string]*model.User
	positions map[model.PositionKey]*model.Position
	ledger    []model.Transaction
}

func (t *memTx) lock(ctx context.Context, key string) error {
	if t.held[key] {
		return nil
	}
	release, err := t.s.locks.acquire(ctx, key)
	if err != nil {
		return err
	}
	t.held[key] = true
	t.releases = append(t.releases, release)
	return nil
}

func (t *memTx) releaseAll() {
	for i := len(t.releases) - 1; i >= 0; i-- {
		t.releases[i]()
	}
	t.releases = nil
}

func (t *memTx) LockMarket(ctx context.Context, id string) (*model.Market, error) {
	if err := t.lock(ctx, "market:"+id); err != nil {
		return nil, err
	}
	if m, ok := t.markets[id]; ok {
		return copyMarket(m), nil
	}
	return t.s.GetMarket(ctx, id)
}

func (t *memTx) LockUser(ctx context.Context, id string) (*model.User, error) {
	if err := t.lock(ctx, "user:"+id); err != nil {
		return nil, err
	}
	if u, ok := t.users[id]; ok {
		copy := *u
		return &copy, nil
	}
	return t.s.GetUser(ctx, id)
}

func (t *memTx) GetPosition(_ context.Context, key model.PositionKey) (*model.Position, error) {
	if p, ok := t.positions[key]; ok {
		copy := *p
		return &copy, nil
	}

	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	p, ok := t.s.positions[key]
	if !ok {
		return nil, fmt.Errorf("position %s/%s/%s: %w", key.UserID, key.MarketID, key.Outcome, model.ErrNotFound)
	}
	copy := *p
	return &copy, nil
}

func (t *memTx) ListMarketPositions(_ context.Context, marketID string) ([]model.Position, error) {
	merged := make(map[model.PositionKey]model.Position)

	t.s.mu.RLock()
	for k, p := range t.s.positions {
		if k.MarketID == marketID {
			merged[k] = *p
		}
	}
	t.s.mu.RUnlock()

	for k, p := range t.positions {
		if k.MarketID == marketID {
			merged[k] = *p
		}
	}

	result := make([]model.Position, 0, len(merged))
	for _, p := range merged {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].UserID == result[j].UserID {
			return result[i].Outcome < result[j].Outcome
		}
		return result[i].UserID < result[j].UserID
	})
	return result, nil
}

func (t *memTx) SaveMarket(_ context.Context, m *model.Market) error {
	if !t.held["market:"+m.ID] {
		return fmt.Errorf("save market %s: lock not held", m.ID)
	}
	t.markets[m.ID] = copyMarket(m)
	return nil
}

func (t *memTx) SaveUser(_ context.Context, u *model.User) error {
	if !t.held["user:"+u.ID] {
		return fmt.Errorf("save user %s: lock not held", u.ID)
	}
	if u.Balance < 0 {
		return fmt.Errorf("save user %s: %w", u.ID, model.ErrInsufficientBalance)
	}
	copy := *u
	t.users[u.ID] = &copy
	return nil
}

func (t *memTx) SavePosition(_ context.Context, p *model.Position) error {
	if !t.held["market:"+p.MarketID] {
		return fmt.Errorf("save position on market %s: lock not held", p.MarketID)
	}
	if p.Shares < 0 {
		return fmt.Errorf("%w: negative shares on position %s", model.ErrValidation, p.ID)
	}
	copy := *p
	t.positions[p.Key()] = &copy
	return nil
}

func (t *memTx) AppendTransaction(_ context.Context, txn *model.Transaction) error {
	t.ledger = append(t.ledger, *txn)
	return nil
}

func (t *memTx) commit() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	for id, m := range t.markets {
		t.s.markets[id] = m
	}
	for id, u := range t.users {
		t.s.users[id] = u
	}
	for k, p := range t.positions {
		t.s.positions[k] = p
	}
	t.s.ledger = append(t.s.ledger, t.ledger...)
}

func copyMarket(m *model.Market) *model.Market {
	c := *m
	if m.ResolvedOutcome != nil {
		o := *m.ResolvedOutcome
		c.ResolvedOutcome = &o
	}
	if m.ResolutionDate != nil {
		d := *m.ResolutionDate
		c.ResolutionDate = &d
	}
	return &c
}

func sortPositions(ps []model.Position) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].MarketID == ps[j].MarketID {
			return ps[i].Outcome < ps[j].Outcome
		}
		return ps[i].MarketID < ps[j].MarketID
	})
}
