package store

import (
	"errors"
	"testing"
	"time"
)

func TestStagedPut_KeepsLifetime(t *testing.T) {
	live := time.Date(2030, 1, 31, 0, 0, 0, 0, time.UTC)
	tx := newStagedTx(func(string) (*Entry, error) {
		return &Entry{Value: []byte(`1`), LiveUntil: live}, nil
	}, false)

	if err := tx.Put(PoolKey(1), 2); err != nil {
		t.Fatalf("put: %v", err)
	}
	if got := tx.changes[PoolKey(1).String()].liveUntil; !got.Equal(live) {
		t.Errorf("expected lifetime %s, got %s", live, got)
	}
}

func TestStagedPut_ReadErrorFails(t *testing.T) {
	errBackend := errors.New("backend unavailable")
	tx := newStagedTx(func(string) (*Entry, error) { return nil, errBackend }, false)

	if err := tx.Put(PoolKey(1), 2); !errors.Is(err, errBackend) {
		t.Fatalf("expected backend error, got %v", err)
	}
	if len(tx.changes) != 0 {
		t.Errorf("expected nothing staged, got %d changes", len(tx.changes))
	}
}
