package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/atmx/outcome-ledger/internal/model"
)

// keyLocks hands out one single-writer critical section per entity key
// ("market:<id>", "user:<id>"). Entries are reference counted so idle keys
// do not accumulate.
type keyLocks struct {
	mu      sync.Mutex
	entries map[string]*keyEntry
	timeout time.Duration
}

type keyEntry struct {
	sem  *semaphore.Weighted
	refs int
}

func newKeyLocks(timeout time.Duration) *keyLocks {
	return &keyLocks{
		entries: make(map[string]*keyEntry),
		timeout: timeout,
	}
}

// acquire blocks until key is free, the lock timeout elapses, or ctx is
// done. The returned release func must be called exactly once.
func (k *keyLocks) acquire(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &keyEntry{sem: semaphore.NewWeighted(1)}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	waitCtx := ctx
	if k.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, k.timeout)
		defer cancel()
	}

	if err := e.sem.Acquire(waitCtx, 1); err != nil {
		k.unref(key, e)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", model.ErrLockTimeout, key)
		}
		return nil, err
	}

	return func() {
		e.sem.Release(1)
		k.unref(key, e)
	}, nil
}

func (k *keyLocks) unref(key string, e *keyEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.entries, key)
	}
}
