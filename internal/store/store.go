// Package store defines the persistence interface for the pool ledger.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
//
// State is a flat key space (see keys.go). Every ledger call runs inside one
// Update: writes are staged and either all commit or none do.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	// ErrReadBudgetExceeded is returned when a call touches more distinct
	// entries than the per-call read quota allows.
	ErrReadBudgetExceeded = errors.New("store: per-call read entry budget exceeded")

	// ErrWriteBudgetExceeded is returned when a call writes more distinct
	// entries than the per-call write quota allows.
	ErrWriteBudgetExceeded = errors.New("store: per-call write entry budget exceeded")

	// ErrEntryTooLarge is returned when an encoded value exceeds MaxEntryBytes.
	ErrEntryTooLarge = errors.New("store: entry exceeds maximum size")
)

// MaxEntryBytes is the largest encoded value a single entry may hold.
const MaxEntryBytes = 128 * 1024

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// Update runs fn as one atomic unit. If fn returns an error nothing
	// it wrote becomes visible.
	Update(ctx context.Context, fn func(tx Tx) error) error

	// View runs fn against a consistent read-only snapshot.
	View(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the unit-of-work handle passed to Update and View.
type Tx interface {
	// Get decodes the entry into dst. It reports false if the key is absent.
	Get(key Key, dst any) (bool, error)

	// Has reports whether the key is present.
	Has(key Key) (bool, error)

	// Put stages value for key.
	Put(key Key, value any) error

	// Delete stages removal of key.
	Delete(key Key) error

	// Extend raises the entry's live-until time to until when it currently
	// ends before threshold. It never shortens it and ignores absent keys.
	Extend(key Key, threshold, until time.Time) error
}

// Entry is a raw persisted value with its lifetime.
type Entry struct {
	Value     []byte
	LiveUntil time.Time
}

// change is one staged mutation.
type change struct {
	value     []byte
	deleted   bool
	liveUntil time.Time
}

// readFunc loads a committed entry from the backend.
type readFunc func(key string) (*Entry, error)

// stagedTx buffers writes over a committed view. Reads observe the
// call's own staged writes first. Shared by every backend.
type stagedTx struct {
	read     readFunc
	readOnly bool
	changes  map[string]*change
}

func newStagedTx(read readFunc, readOnly bool) *stagedTx {
	return &stagedTx{read: read, readOnly: readOnly, changes: make(map[string]*change)}
}

var errReadOnly = errors.New("store: write in read-only transaction")

func (t *stagedTx) lookup(k string) (*Entry, error) {
	if c, ok := t.changes[k]; ok {
		if c.deleted {
			return nil, nil
		}
		if c.value != nil {
			return &Entry{Value: c.value, LiveUntil: c.liveUntil}, nil
		}
	}
	return t.read(k)
}

func (t *stagedTx) Get(key Key, dst any) (bool, error) {
	e, err := t.lookup(key.String())
	if err != nil {
		return false, err
	}
	if e == nil {
		return false, nil
	}
	if err := json.Unmarshal(e.Value, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (t *stagedTx) Has(key Key) (bool, error) {
	e, err := t.lookup(key.String())
	return e != nil, err
}

func (t *stagedTx) Put(key Key, value any) error {
	if t.readOnly {
		return errReadOnly
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if len(data) > MaxEntryBytes {
		return fmt.Errorf("%w: %s is %d bytes", ErrEntryTooLarge, key, len(data))
	}
	k := key.String()
	c := t.changes[k]
	if c == nil {
		e, err := t.read(k)
		if err != nil {
			return fmt.Errorf("read %s: %w", key, err)
		}
		c = &change{}
		if e != nil {
			c.liveUntil = e.LiveUntil
		}
		t.changes[k] = c
	}
	c.value = data
	c.deleted = false
	return nil
}

func (t *stagedTx) Delete(key Key) error {
	if t.readOnly {
		return errReadOnly
	}
	t.changes[key.String()] = &change{deleted: true}
	return nil
}

func (t *stagedTx) Extend(key Key, threshold, until time.Time) error {
	if t.readOnly {
		return errReadOnly
	}
	k := key.String()
	c := t.changes[k]
	if c == nil {
		e, err := t.read(k)
		if err != nil {
			return err
		}
		if e == nil || !e.LiveUntil.Before(threshold) {
			return nil
		}
		c = &change{value: e.Value, liveUntil: e.LiveUntil}
		t.changes[k] = c
	}
	if c.deleted || !c.liveUntil.Before(threshold) {
		return nil
	}
	if until.After(c.liveUntil) {
		c.liveUntil = until
	}
	return nil
}

// keys returns staged keys in deterministic order.
func (t *stagedTx) keys() []string {
	out := make([]string, 0, len(t.changes))
	for k := range t.changes {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
