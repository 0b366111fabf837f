package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/atmx/outcome-ledger/internal/model"
)

func seed(t *testing.T, s *MemoryStore) (*model.User, *model.Market) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	u := &model.User{ID: "u1", Username: "alice", Balance: 1000, StartingBalance: 1000, CreatedAt: now}
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	m := &model.Market{ID: "m1", Name: "Test", Category: "other", YesPrice: 60, NoPrice: 40,
		Status: model.StatusOpen, CreatedAt: now}
	if err := s.CreateMarket(ctx, m); err != nil {
		t.Fatalf("seed market: %v", err)
	}
	return u, m
}

func TestRunInTx_CommitsAllWrites(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s)
	ctx := context.Background()

	err := s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		m, err := tx.LockMarket(ctx, "m1")
		if err != nil {
			return err
		}
		u, err := tx.LockUser(ctx, "u1")
		if err != nil {
			return err
		}
		u.Balance -= 600
		m.TotalYesShares += 10
		if err := tx.SaveUser(ctx, u); err != nil {
			return err
		}
		if err := tx.SaveMarket(ctx, m); err != nil {
			return err
		}
		if err := tx.SavePosition(ctx, &model.Position{ID: "p1", UserID: "u1", MarketID: "m1",
			Outcome: model.OutcomeYes, Shares: 10, AverageCost: 60}); err != nil {
			return err
		}
		return tx.AppendTransaction(ctx, &model.Transaction{ID: "t1", UserID: "u1", MarketID: "m1",
			Type: model.TxBuy, Outcome: model.OutcomeYes, Shares: 10, PricePerShare: 60,
			TotalCost: -600, Timestamp: time.Now().UTC()})
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	u, _ := s.GetUser(ctx, "u1")
	if u.Balance != 400 {
		t.Errorf("expected balance 400, got %d", u.Balance)
	}
	m, _ := s.GetMarket(ctx, "m1")
	if m.TotalYesShares != 10 {
		t.Errorf("expected total_yes_shares 10, got %d", m.TotalYesShares)
	}
	snap, err := s.Snapshot(ctx, "u1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Positions) != 1 || snap.Positions[0].Shares != 10 {
		t.Errorf("expected one 10-share position, got %+v", snap.Positions)
	}
	if _, ok := snap.Markets["m1"]; !ok {
		t.Error("snapshot should include referenced market")
	}
	txns, _ := s.ListUserTransactions(ctx, "u1")
	if len(txns) != 1 {
		t.Errorf("expected 1 transaction, got %d", len(txns))
	}
}

func TestRunInTx_ErrorDiscardsStagedWrites(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		u, err := tx.LockUser(ctx, "u1")
		if err != nil {
			return err
		}
		u.Balance = 0
		if err := tx.SaveUser(ctx, u); err != nil {
			return err
		}
		if err := tx.AppendTransaction(ctx, &model.Transaction{ID: "t1", UserID: "u1"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	u, _ := s.GetUser(ctx, "u1")
	if u.Balance != 1000 {
		t.Errorf("balance should be untouched, got %d", u.Balance)
	}
	txns, _ := s.ListUserTransactions(ctx, "u1")
	if len(txns) != 0 {
		t.Errorf("no transaction should be visible, got %d", len(txns))
	}
}

func TestRunInTx_StagedWritesInvisibleToReaders(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s)
	ctx := context.Background()

	err := s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		u, err := tx.LockUser(ctx, "u1")
		if err != nil {
			return err
		}
		u.Balance = 1
		if err := tx.SaveUser(ctx, u); err != nil {
			return err
		}

		outside, _ := s.GetUser(ctx, "u1")
		if outside.Balance != 1000 {
			t.Errorf("reader saw uncommitted balance %d", outside.Balance)
		}
		inside, _ := tx.LockUser(ctx, "u1")
		if inside.Balance != 1 {
			t.Errorf("transaction should read its own write, got %d", inside.Balance)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSaveUser_RejectsNegativeBalance(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s)

	err := s.RunInTx(context.Background(), func(ctx context.Context, tx Tx) error {
		u, err := tx.LockUser(ctx, "u1")
		if err != nil {
			return err
		}
		u.Balance = -1
		return tx.SaveUser(ctx, u)
	})
	if !errors.Is(err, model.ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestSaveWithoutLock_Fails(t *testing.T) {
	s := NewMemoryStore()
	u, m := seed(t, s)

	err := s.RunInTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.SaveUser(ctx, u)
	})
	if err == nil {
		t.Error("saving an unlocked user should fail")
	}
	err = s.RunInTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.SaveMarket(ctx, m)
	})
	if err == nil {
		t.Error("saving an unlocked market should fail")
	}
}

func TestLockMarket_TimesOutWhileHeld(t *testing.T) {
	s := NewMemoryStore().WithLockTimeout(20 * time.Millisecond)
	seed(t, s)
	ctx := context.Background()

	held := make(chan struct{})
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
			if _, err := tx.LockMarket(ctx, "m1"); err != nil {
				return err
			}
			close(held)
			<-done
			return nil
		})
	}()

	<-held
	err := s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		_, err := tx.LockMarket(ctx, "m1")
		return err
	})
	close(done)
	wg.Wait()

	if !errors.Is(err, model.ErrLockTimeout) {
		t.Errorf("expected ErrLockTimeout, got %v", err)
	}

	// The lock is free again once the holder commits.
	err = s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		_, err := tx.LockMarket(ctx, "m1")
		return err
	})
	if err != nil {
		t.Errorf("lock should be free after release: %v", err)
	}
}

func TestLockMarket_NotFound(t *testing.T) {
	s := NewMemoryStore()

	err := s.RunInTx(context.Background(), func(ctx context.Context, tx Tx) error {
		_, err := tx.LockMarket(ctx, "missing")
		return err
	})
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateUser_DuplicateUsername(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s)

	err := s.CreateUser(context.Background(), &model.User{ID: "u2", Username: "alice"})
	if !errors.Is(err, model.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestListUserTransactions_NewestFirst(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"t1", "t2", "t3"} {
		id, ts := id, base.Add(time.Duration(i)*time.Minute)
		err := s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
			return tx.AppendTransaction(ctx, &model.Transaction{ID: id, UserID: "u1", MarketID: "m1", Timestamp: ts})
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	txns, _ := s.ListUserTransactions(ctx, "u1")
	if len(txns) != 3 || txns[0].ID != "t3" || txns[2].ID != "t1" {
		t.Errorf("expected t3,t2,t1 order, got %+v", txns)
	}

	history, _ := s.ListMarketTransactions(ctx, "m1")
	if len(history) != 3 || history[0].ID != "t1" {
		t.Errorf("market history should be oldest first, got %+v", history)
	}
}

func TestListMarkets_CategoryFilter(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s)
	ctx := context.Background()

	if err := s.CreateMarket(ctx, &model.Market{ID: "m2", Name: "Ivy", Category: "ivy",
		Status: model.StatusOpen, CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("create: %v", err)
	}

	all, _ := s.ListMarkets(ctx, "")
	if len(all) != 2 {
		t.Errorf("expected 2 markets, got %d", len(all))
	}
	ivy, _ := s.ListMarkets(ctx, "ivy")
	if len(ivy) != 1 || ivy[0].ID != "m2" {
		t.Errorf("expected only m2, got %+v", ivy)
	}
}
