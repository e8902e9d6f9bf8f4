package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/predifi/pool-ledger/internal/store"
)

func TestBudget_DistinctKeysCountOnce(t *testing.T) {
	ms := store.NewMemoryStore()

	err := ms.Update(context.Background(), func(tx store.Tx) error {
		bt := store.WithBudget(tx, store.Budget{MaxReads: 2, MaxWrites: 1})
		for i := 0; i < 10; i++ {
			if err := bt.Put(store.PausedKey, true); err != nil {
				return err
			}
			if _, err := bt.Has(store.PausedKey); err != nil {
				return err
			}
		}
		if bt.Reads() != 1 || bt.Writes() != 1 {
			t.Errorf("expected 1 read and 1 write, got %d/%d", bt.Reads(), bt.Writes())
		}
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
}

func TestBudget_ReadLimit(t *testing.T) {
	ms := store.NewMemoryStore()

	err := ms.Update(context.Background(), func(tx store.Tx) error {
		bt := store.WithBudget(tx, store.Budget{MaxReads: 3})
		for i := uint64(0); i < 4; i++ {
			var p map[string]any
			if _, err := bt.Get(store.PoolKey(i), &p); err != nil {
				return err
			}
		}
		return nil
	})
	if !errors.Is(err, store.ErrReadBudgetExceeded) {
		t.Fatalf("expected ErrReadBudgetExceeded, got %v", err)
	}
}

func TestBudget_WriteLimitAbortsCall(t *testing.T) {
	ms := store.NewMemoryStore()

	err := ms.Update(context.Background(), func(tx store.Tx) error {
		bt := store.WithBudget(tx, store.DefaultBudget)
		for i := uint64(0); i <= uint64(store.DefaultBudget.MaxWrites); i++ {
			if err := bt.Put(store.PoolKey(i), i); err != nil {
				return err
			}
		}
		return nil
	})
	if !errors.Is(err, store.ErrWriteBudgetExceeded) {
		t.Fatalf("expected ErrWriteBudgetExceeded, got %v", err)
	}
	if ms.Len() != 0 {
		t.Errorf("expected aborted call to leave no entries, got %d", ms.Len())
	}
}

func TestBudget_ExtendIsNotAWrite(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	if err := ms.Update(ctx, func(tx store.Tx) error { return tx.Put(store.PoolKey(1), 1) }); err != nil {
		t.Fatalf("seed: %v", err)
	}

	err := ms.Update(ctx, func(tx store.Tx) error {
		bt := store.WithBudget(tx, store.Budget{MaxReads: 5, MaxWrites: 1})
		if err := bt.Extend(store.PoolKey(1), time.Now().Add(time.Hour), time.Now().Add(2*time.Hour)); err != nil {
			return err
		}
		if bt.Writes() != 0 {
			t.Errorf("expected extend not to count as a write, got %d", bt.Writes())
		}
		return bt.Put(store.PausedKey, false)
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
}
