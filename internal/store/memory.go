package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store with an in-memory map. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]Entry),
	}
}

func (s *MemoryStore) Update(_ context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := newStagedTx(s.readLocked, false)
	if err := fn(tx); err != nil {
		return err
	}

	for _, k := range tx.keys() {
		c := tx.changes[k]
		if c.deleted {
			delete(s.entries, k)
			continue
		}
		// Store a copy to avoid external mutation.
		s.entries[k] = Entry{Value: append([]byte(nil), c.value...), LiveUntil: c.liveUntil}
	}
	return nil
}

func (s *MemoryStore) View(_ context.Context, fn func(tx Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return fn(newStagedTx(s.readLocked, true))
}

// readLocked must be called with s.mu held.
func (s *MemoryStore) readLocked(k string) (*Entry, error) {
	e, ok := s.entries[k]
	if !ok {
		return nil, nil
	}
	copy := Entry{Value: append([]byte(nil), e.Value...), LiveUntil: e.LiveUntil}
	return &copy, nil
}

// Snapshot returns a deep copy of every committed entry keyed by its
// canonical string. Tests compare snapshots to prove failed calls leave
// state untouched.
func (s *MemoryStore) Snapshot() map[string]Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Entry, len(s.entries))
	for k, e := range s.entries {
		out[k] = Entry{Value: append([]byte(nil), e.Value...), LiveUntil: e.LiveUntil}
	}
	return out
}

// LiveUntil returns the committed lifetime of key, or the zero time if the
// key is absent.
func (s *MemoryStore) LiveUntil(key Key) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.entries[key.String()].LiveUntil
}

// Len returns the number of committed entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.entries)
}
