package store_test

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/predifi/pool-ledger/internal/store"
)

var errBoom = errors.New("boom")

func TestMemoryStore_UpdateCommits(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	err := ms.Update(ctx, func(tx store.Tx) error {
		return tx.Put(store.PoolIDCounterKey, uint64(7))
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	var got uint64
	err = ms.View(ctx, func(tx store.Tx) error {
		ok, err := tx.Get(store.PoolIDCounterKey, &got)
		if !ok {
			t.Error("expected counter to be present")
		}
		return err
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if got != 7 {
		t.Errorf("expected 7, got %d", got)
	}
}

func TestMemoryStore_FailedUpdateDiscardsEverything(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	if err := ms.Update(ctx, func(tx store.Tx) error {
		return tx.Put(store.PoolKey(0), map[string]string{"creator": "alice"})
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	before := ms.Snapshot()

	err := ms.Update(ctx, func(tx store.Tx) error {
		if err := tx.Put(store.PoolKey(0), map[string]string{"creator": "mallory"}); err != nil {
			return err
		}
		if err := tx.Put(store.PoolKey(1), map[string]string{"creator": "bob"}); err != nil {
			return err
		}
		if err := tx.Delete(store.PoolIDCounterKey); err != nil {
			return err
		}
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected errBoom, got %v", err)
	}

	if after := ms.Snapshot(); !reflect.DeepEqual(before, after) {
		t.Errorf("state changed after failed update:\nbefore=%v\nafter=%v", before, after)
	}
}

func TestMemoryStore_ReadsSeeOwnWrites(t *testing.T) {
	ms := store.NewMemoryStore()

	err := ms.Update(context.Background(), func(tx store.Tx) error {
		if err := tx.Put(store.PausedKey, true); err != nil {
			return err
		}
		var paused bool
		ok, err := tx.Get(store.PausedKey, &paused)
		if err != nil {
			return err
		}
		if !ok || !paused {
			t.Errorf("expected staged write to be visible, ok=%v paused=%v", ok, paused)
		}

		if err := tx.Delete(store.PausedKey); err != nil {
			return err
		}
		has, err := tx.Has(store.PausedKey)
		if err != nil {
			return err
		}
		if has {
			t.Error("expected staged delete to hide the key")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if ms.Len() != 0 {
		t.Errorf("expected empty store, got %d entries", ms.Len())
	}
}

func TestMemoryStore_ViewIsReadOnly(t *testing.T) {
	ms := store.NewMemoryStore()

	err := ms.View(context.Background(), func(tx store.Tx) error {
		return tx.Put(store.PausedKey, true)
	})
	if err == nil {
		t.Fatal("expected write inside View to fail")
	}
	if ms.Len() != 0 {
		t.Errorf("expected no entries, got %d", ms.Len())
	}
}

func TestMemoryStore_ExtendBelowThreshold(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	key := store.PoolKey(3)
	base := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	mustUpdate := func(fn func(tx store.Tx) error) {
		t.Helper()
		if err := ms.Update(ctx, fn); err != nil {
			t.Fatalf("update: %v", err)
		}
	}

	// A fresh entry has no lifetime yet, so any threshold applies.
	mustUpdate(func(tx store.Tx) error {
		if err := tx.Put(key, "pool"); err != nil {
			return err
		}
		return tx.Extend(key, base, base)
	})
	if got := ms.LiveUntil(key); !got.Equal(base) {
		t.Fatalf("expected lifetime %v, got %v", base, got)
	}

	// Lifetime already at or past the threshold: untouched.
	mustUpdate(func(tx store.Tx) error { return tx.Extend(key, base, base.Add(48*time.Hour)) })
	if got := ms.LiveUntil(key); !got.Equal(base) {
		t.Errorf("expected lifetime to stay %v, got %v", base, got)
	}

	// Below the threshold: raised to until.
	mustUpdate(func(tx store.Tx) error { return tx.Extend(key, base.Add(time.Hour), base.Add(48*time.Hour)) })
	if got := ms.LiveUntil(key); !got.Equal(base.Add(48 * time.Hour)) {
		t.Errorf("expected lifetime %v, got %v", base.Add(48*time.Hour), got)
	}

	// Never shortened.
	mustUpdate(func(tx store.Tx) error { return tx.Extend(key, base.Add(72*time.Hour), base) })
	if got := ms.LiveUntil(key); !got.Equal(base.Add(48 * time.Hour)) {
		t.Errorf("extend shortened lifetime to %v", got)
	}

	// A later Put keeps the lifetime already granted.
	mustUpdate(func(tx store.Tx) error { return tx.Put(key, "pool v2") })
	if got := ms.LiveUntil(key); !got.Equal(base.Add(48 * time.Hour)) {
		t.Errorf("put reset lifetime to %v", got)
	}

	// Extending an absent key is a no-op.
	mustUpdate(func(tx store.Tx) error { return tx.Extend(store.PoolKey(99), base, base) })
	if ms.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", ms.Len())
	}
}

func TestMemoryStore_EntryTooLarge(t *testing.T) {
	ms := store.NewMemoryStore()

	err := ms.Update(context.Background(), func(tx store.Tx) error {
		return tx.Put(store.OutcomeStakesKey(1), strings.Repeat("x", store.MaxEntryBytes))
	})
	if !errors.Is(err, store.ErrEntryTooLarge) {
		t.Fatalf("expected ErrEntryTooLarge, got %v", err)
	}
}
