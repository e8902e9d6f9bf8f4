package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/predifi/pool-ledger/internal/store"
)

const day = 24 * time.Hour

func TestRenewPools_ExtendsNearExpiry(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	id := env.createPool(t, 2)

	initial := t0.Add(30 * day)
	if got := env.ms.LiveUntil(store.PoolKey(id)); !got.Equal(initial) {
		t.Fatalf("expected lifetime %s, got %s", initial, got)
	}

	// 29 days left is above the 14 day threshold: nothing to do.
	env.clock.Advance(day)
	if _, _, err := env.eng.RenewPools(ctx, 0, 0); err != nil {
		t.Fatalf("renew: %v", err)
	}
	if got := env.ms.LiveUntil(store.PoolKey(id)); !got.Equal(initial) {
		t.Errorf("expected lifetime unchanged, got %s", got)
	}

	// 10 days left: renewed to now+30d.
	env.clock.Advance(19 * day)
	next, visited, err := env.eng.RenewPools(ctx, 0, 0)
	if err != nil {
		t.Fatalf("renew: %v", err)
	}
	if next != 0 || visited != 1 {
		t.Errorf("expected next=0 visited=1, got next=%d visited=%d", next, visited)
	}
	want := t0.Add(50 * day)
	for _, k := range []store.Key{store.PoolKey(id), store.OutcomeStakesKey(id)} {
		if got := env.ms.LiveUntil(k); !got.Equal(want) {
			t.Errorf("%s: expected lifetime %s, got %s", k, want, got)
		}
	}
}

func TestRenewPools_SkipsSettledPools(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	open := env.createPool(t, 2)
	canceled := env.createPool(t, 2)
	if err := env.eng.CancelPool(ctx, "creator", canceled); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	env.clock.Advance(20 * day)
	if _, _, err := env.eng.RenewPools(ctx, 0, 0); err != nil {
		t.Fatalf("renew: %v", err)
	}
	if got := env.ms.LiveUntil(store.PoolKey(open)); !got.Equal(t0.Add(50 * day)) {
		t.Errorf("expected open pool renewed, got %s", got)
	}
	if got := env.ms.LiveUntil(store.PoolKey(canceled)); !got.Equal(t0.Add(30 * day)) {
		t.Errorf("expected canceled pool untouched, got %s", got)
	}
}

func TestRenewPools_Cursor(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		env.createPool(t, 2)
	}

	tests := []struct {
		from        uint64
		max         int
		wantNext    uint64
		wantVisited int
	}{
		{0, 2, 2, 2},
		{2, 2, 4, 2},
		{4, 2, 0, 1},
		{0, 0, 0, 5},
		{9, 0, 0, 0},
	}
	for _, tt := range tests {
		next, visited, err := env.eng.RenewPools(ctx, tt.from, tt.max)
		if err != nil {
			t.Fatalf("from=%d: %v", tt.from, err)
		}
		if next != tt.wantNext || visited != tt.wantVisited {
			t.Errorf("from=%d max=%d: expected next=%d visited=%d, got next=%d visited=%d",
				tt.from, tt.max, tt.wantNext, tt.wantVisited, next, visited)
		}
	}
}

func TestRunRenewer_StopsOnCancel(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- env.eng.RunRenewer(ctx, time.Millisecond) }()

	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected nil on cancel, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("renewer did not stop")
	}
}
