package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/outcome-ledger/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for markets. Transactions go to the primary store; every market
// saved inside a committed transaction is evicted before RunInTx returns.
//
// Each market has a generation counter that eviction bumps. A fill only
// lands if the generation it observed before reading the primary is still
// current, so a read that raced a commit never re-caches the old row.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// evictTimeout bounds cache eviction after a commit. Eviction runs detached
// from the caller's context so a cancelled request cannot skip it.
const evictTimeout = 2 * time.Second

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateMarket(ctx context.Context, m *model.Market) error {
	gen := s.generation(ctx, m.ID)
	if err := s.primary.CreateMarket(ctx, m); err != nil {
		return err
	}
	s.fill(ctx, m, gen)
	return nil
}

func (s *CachedStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	var touched []string
	err := s.primary.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		touched = touched[:0]
		return fn(ctx, &trackingTx{Tx: tx, touched: &touched})
	})
	if err != nil {
		return err
	}
	if len(touched) > 0 {
		s.evict(context.WithoutCancel(ctx), touched)
	}
	return nil
}

// evict bumps each market's generation and drops its cached row in one
// MULTI/EXEC, so an in-flight fill either sees the new generation or is
// overwritten by the delete.
func (s *CachedStore) evict(ctx context.Context, ids []string) {
	ctx, cancel := context.WithTimeout(ctx, evictTimeout)
	defer cancel()

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.Incr(ctx, generationKey(id))
			pipe.Expire(ctx, generationKey(id), generationTTL)
			pipe.Del(ctx, marketKey(id))
		}
		return nil
	})
	if err != nil {
		slog.Warn("market cache eviction failed", "markets", ids, "err", err)
	}
}

// trackingTx records which markets a transaction rewrote.
type trackingTx struct {
	Tx
	touched *[]string
}

func (t *trackingTx) SaveMarket(ctx context.Context, m *model.Market) error {
	if err := t.Tx.SaveMarket(ctx, m); err != nil {
		return err
	}
	*t.touched = append(*t.touched, m.ID)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	data, err := s.rdb.Get(ctx, marketKey(id)).Bytes()
	if err == nil {
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	// Cache miss: note the generation, then read from primary.
	gen := s.generation(ctx, id)
	m, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}

	s.fill(ctx, m, gen)
	return m, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) CreateUser(ctx context.Context, u *model.User) error {
	return s.primary.CreateUser(ctx, u)
}

func (s *CachedStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	return s.primary.GetUser(ctx, id)
}

func (s *CachedStore) ListUsers(ctx context.Context) ([]model.User, error) {
	return s.primary.ListUsers(ctx)
}

func (s *CachedStore) ListMarkets(ctx context.Context, category string) ([]model.Market, error) {
	return s.primary.ListMarkets(ctx, category)
}

func (s *CachedStore) Snapshot(ctx context.Context, userID string) (*model.AccountSnapshot, error) {
	return s.primary.Snapshot(ctx, userID)
}

func (s *CachedStore) ListUserTransactions(ctx context.Context, userID string) ([]model.Transaction, error) {
	return s.primary.ListUserTransactions(ctx, userID)
}

func (s *CachedStore) ListMarketTransactions(ctx context.Context, marketID string) ([]model.Transaction, error) {
	return s.primary.ListMarketTransactions(ctx, marketID)
}

// --- Cache helpers ---

// generationTTL outlives any market TTL; an expired counter reads as 0,
// which only makes pending fills skip.
const generationTTL = 24 * time.Hour

// generation returns the market's eviction counter, or -1 when Redis is
// unreachable so the later fill is skipped.
func (s *CachedStore) generation(ctx context.Context, id string) int64 {
	gen, err := s.rdb.Get(ctx, generationKey(id)).Int64()
	switch {
	case err == nil:
		return gen
	case errors.Is(err, redis.Nil):
		return 0
	default:
		return -1
	}
}

// fill caches m only if its generation still equals gen. WATCH aborts the
// write when an eviction lands between the check and EXEC.
func (s *CachedStore) fill(ctx context.Context, m *model.Market, gen int64) {
	if gen < 0 {
		return
	}
	data, err := json.Marshal(m)
	if err != nil {
		return
	}
	genKey := generationKey(m.ID)
	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, marketKey(m.ID), data, s.ttl)
			return nil
		})
		return err
	}, genKey)
	if err != nil && !errors.Is(err, redis.TxFailedErr) {
		slog.Debug("market cache fill skipped", "market", m.ID, "err", err)
	}
}

func marketKey(id string) string     { return fmt.Sprintf("ledger:market:%s", id) }
func generationKey(id string) string { return fmt.Sprintf("ledger:market:%s:gen", id) }

// Compile-time interface checks.
var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
	_ Store = (*CachedStore)(nil)
)
