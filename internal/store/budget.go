package store

import (
	"fmt"
	"time"
)

// Budget is the per-call ceiling on distinct entries touched.
type Budget struct {
	MaxReads  int
	MaxWrites int
}

// DefaultBudget matches the reference execution environment.
var DefaultBudget = Budget{MaxReads: 100, MaxWrites: 25}

// BudgetTx wraps a Tx and aborts once the call touches more distinct
// entries than the budget allows. A key counts once per call no matter how
// often it is accessed. Writes count against both quotas since a written
// entry is part of the call's footprint.
type BudgetTx struct {
	tx     Tx
	budget Budget
	reads  map[string]struct{}
	writes map[string]struct{}
}

// WithBudget returns tx wrapped with quota enforcement. A zero limit
// disables that quota.
func WithBudget(tx Tx, b Budget) *BudgetTx {
	return &BudgetTx{
		tx:     tx,
		budget: b,
		reads:  make(map[string]struct{}),
		writes: make(map[string]struct{}),
	}
}

// Reads returns the number of distinct entries read so far.
func (b *BudgetTx) Reads() int { return len(b.reads) }

// Writes returns the number of distinct entries written so far.
func (b *BudgetTx) Writes() int { return len(b.writes) }

func (b *BudgetTx) touchRead(key Key) error {
	k := key.String()
	if _, ok := b.reads[k]; ok {
		return nil
	}
	if b.budget.MaxReads > 0 && len(b.reads) >= b.budget.MaxReads {
		return fmt.Errorf("%w: limit %d, key %s", ErrReadBudgetExceeded, b.budget.MaxReads, k)
	}
	b.reads[k] = struct{}{}
	return nil
}

func (b *BudgetTx) touchWrite(key Key) error {
	if err := b.touchRead(key); err != nil {
		return err
	}
	k := key.String()
	if _, ok := b.writes[k]; ok {
		return nil
	}
	if b.budget.MaxWrites > 0 && len(b.writes) >= b.budget.MaxWrites {
		return fmt.Errorf("%w: limit %d, key %s", ErrWriteBudgetExceeded, b.budget.MaxWrites, k)
	}
	b.writes[k] = struct{}{}
	return nil
}

func (b *BudgetTx) Get(key Key, dst any) (bool, error) {
	if err := b.touchRead(key); err != nil {
		return false, err
	}
	return b.tx.Get(key, dst)
}

func (b *BudgetTx) Has(key Key) (bool, error) {
	if err := b.touchRead(key); err != nil {
		return false, err
	}
	return b.tx.Has(key)
}

func (b *BudgetTx) Put(key Key, value any) error {
	if err := b.touchWrite(key); err != nil {
		return err
	}
	return b.tx.Put(key, value)
}

func (b *BudgetTx) Delete(key Key) error {
	if err := b.touchWrite(key); err != nil {
		return err
	}
	return b.tx.Delete(key)
}

// Extend renews an entry's lifetime. Renewal touches the entry but does not
// count as a write.
func (b *BudgetTx) Extend(key Key, threshold, until time.Time) error {
	if err := b.touchRead(key); err != nil {
		return err
	}
	return b.tx.Extend(key, threshold, until)
}
