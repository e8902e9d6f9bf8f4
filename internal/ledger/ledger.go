// Package ledger is the pool lifecycle and stake ledger: token whitelist and
// access control, pool registry, stake ledger, user prediction index, and
// resolution and settlement.
//
// Every mutating call runs as one Store.Update under the engine mutex. All
// writes of a call commit together or not at all, and events are published
// only after commit. All monetary values use shopspring/decimal.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/predifi/pool-ledger/internal/metrics"
	"github.com/predifi/pool-ledger/internal/model"
	"github.com/predifi/pool-ledger/internal/store"
)

// Transferer moves value between accounts as part of the caller's unit of
// work. A returned error aborts the whole call.
type Transferer interface {
	Transfer(tx store.Tx, token, from, to string, amount decimal.Decimal) error
}

// EventSink receives committed events.
type EventSink interface {
	Publish(ev model.Event)
}

// Options tunes the engine. Zero fields take the defaults from DefaultOptions.
type Options struct {
	// MaxOptions caps options_count per pool. At most MaxOptionsLimit.
	MaxOptions uint32

	// MinPoolDuration is the shortest allowed betting window.
	MinPoolDuration time.Duration

	// MaxInitialLiquidity caps the creator's seed liquidity.
	MaxInitialLiquidity decimal.Decimal

	// HighValueThreshold marks stakes that raise an alert event.
	HighValueThreshold decimal.Decimal

	// Budget is the per-call distinct-entry quota.
	Budget store.Budget

	// Entries are renewed to now+LifetimeExtendTo when they would lapse
	// before now+LifetimeThreshold.
	LifetimeThreshold time.Duration
	LifetimeExtendTo  time.Duration

	// Custody is the account that holds staked value.
	Custody string

	// Clock returns the current time. Defaults to time.Now in UTC.
	Clock func() time.Time
}

// maxStakeJSONBytes is one OutcomeStakes element at its widest: the 39
// digits of model.MaxAmount, two quotes and a separating comma.
const maxStakeJSONBytes = 39 + 3

// MaxOptionsLimit is the largest options count whose OutcomeStakes entry
// still fits in one store entry when every element is model.MaxAmount.
// The two bytes are the enclosing brackets.
const MaxOptionsLimit = (store.MaxEntryBytes - 2) / maxStakeJSONBytes

// MaxPageSize bounds paginated queries so each stays inside the read quota.
const MaxPageSize = 30

// DefaultOptions returns the reference configuration.
func DefaultOptions() Options {
	return Options{
		MaxOptions:          100,
		MaxInitialLiquidity: decimal.New(1, 14),
		HighValueThreshold:  decimal.NewFromInt(1_000_000),
		Budget:              store.DefaultBudget,
		LifetimeThreshold:   14 * 24 * time.Hour,
		LifetimeExtendTo:    30 * 24 * time.Hour,
		Custody:             "pool_ledger",
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.MaxOptions == 0 {
		o.MaxOptions = def.MaxOptions
	}
	if o.MaxOptions > MaxOptionsLimit {
		o.MaxOptions = MaxOptionsLimit
	}
	if o.MaxInitialLiquidity.IsZero() {
		o.MaxInitialLiquidity = def.MaxInitialLiquidity
	}
	if o.HighValueThreshold.IsZero() {
		o.HighValueThreshold = def.HighValueThreshold
	}
	if o.Budget == (store.Budget{}) {
		o.Budget = def.Budget
	}
	if o.LifetimeThreshold == 0 {
		o.LifetimeThreshold = def.LifetimeThreshold
	}
	if o.LifetimeExtendTo == 0 {
		o.LifetimeExtendTo = def.LifetimeExtendTo
	}
	if o.Custody == "" {
		o.Custody = def.Custody
	}
	if o.Clock == nil {
		o.Clock = func() time.Time { return time.Now().UTC() }
	}
	return o
}

// Engine executes ledger calls. Uses a mutex for serialized execution
// within one process; PostgresStore additionally serializes across
// processes with an advisory lock.
type Engine struct {
	store  store.Store
	tokens Transferer
	events EventSink
	opts   Options
	mu     sync.Mutex
}

// New creates an engine. Pass nil for events if no subscriber is needed.
func New(st store.Store, tokens Transferer, events EventSink, opts Options) *Engine {
	return &Engine{
		store:  st,
		tokens: tokens,
		events: events,
		opts:   opts.withDefaults(),
	}
}

// Options returns the effective options.
func (e *Engine) Options() Options {
	return e.opts
}

// call is the state of one in-flight mutating call.
type call struct {
	tx     store.Tx
	now    time.Time
	events []model.Event
}

func (c *call) emit(ev model.Event) {
	ev.ID = uuid.NewString()
	ev.Timestamp = c.now
	c.events = append(c.events, ev)
}

// update runs fn as one atomic call and publishes its events on success.
func (e *Engine) update(ctx context.Context, op string, fn func(c *call) error) error {
	start := time.Now()

	var c *call
	err := func() error {
		e.mu.Lock()
		defer e.mu.Unlock()
		c = &call{now: e.opts.Clock()}
		return e.store.Update(ctx, func(tx store.Tx) error {
			c.tx = store.WithBudget(tx, e.opts.Budget)
			c.events = c.events[:0]
			return fn(c)
		})
	}()

	e.observe(op, start, err)
	if err != nil {
		return err
	}
	if e.events != nil {
		for _, ev := range c.events {
			e.events.Publish(ev)
		}
	}
	return nil
}

// view runs fn against a read-only snapshot under the same entry quota.
func (e *Engine) view(ctx context.Context, fn func(tx store.Tx, now time.Time) error) error {
	return e.store.View(ctx, func(tx store.Tx) error {
		return fn(store.WithBudget(tx, e.opts.Budget), e.opts.Clock())
	})
}

func (e *Engine) observe(op string, start time.Time, err error) {
	metrics.CallLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	result := "ok"
	if err != nil {
		result = string(Category(err))
	}
	metrics.CallsTotal.WithLabelValues(op, result).Inc()

	switch {
	case errors.Is(err, store.ErrReadBudgetExceeded):
		metrics.QuotaAborts.WithLabelValues("read").Inc()
	case errors.Is(err, store.ErrWriteBudgetExceeded):
		metrics.QuotaAborts.WithLabelValues("write").Inc()
	}
	if Category(err) == CategoryInternal {
		slog.Error("ledger call failed", "op", op, "err", err)
	}
}

// --- Shared loaders ---

func loadConfig(tx store.Tx) (model.Config, error) {
	var cfg model.Config
	if _, err := tx.Get(store.ConfigKey, &cfg); err != nil {
		return cfg, err
	}
	if !cfg.Initialized {
		return cfg, ErrNotInitialized
	}
	return cfg, nil
}

func requireNotPaused(tx store.Tx) error {
	var paused bool
	if _, err := tx.Get(store.PausedKey, &paused); err != nil {
		return err
	}
	if paused {
		return ErrPaused
	}
	return nil
}

// requireRole fails unless caller holds one of roles. Rejections are
// counted and logged as alerts.
func requireRole(tx store.Tx, op, caller string, roles ...model.Role) error {
	var ac model.AccessControl
	if _, err := tx.Get(store.AccessControlKey, &ac); err != nil {
		return err
	}
	for _, r := range roles {
		if ac.Has(caller, r) {
			return nil
		}
	}
	metrics.UnauthorizedAttempts.WithLabelValues(op).Inc()
	slog.Warn("unauthorized ledger call", "op", op, "caller", caller)
	return fmt.Errorf("%w: %s on %s", ErrUnauthorized, caller, op)
}

func loadPool(tx store.Tx, id uint64) (*model.Pool, error) {
	var p model.Pool
	ok, err := tx.Get(store.PoolKey(id), &p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrPoolNotFound, id)
	}
	return &p, nil
}

// loadStakes reads the authoritative OutcomeStakes sequence, falling back
// to the legacy per-outcome entries when the batch form is absent.
func loadStakes(tx store.Tx, p *model.Pool) ([]decimal.Decimal, error) {
	var stakes []decimal.Decimal
	ok, err := tx.Get(store.OutcomeStakesKey(p.ID), &stakes)
	if err != nil {
		return nil, err
	}
	if ok && len(stakes) == int(p.OptionsCount) {
		return stakes, nil
	}

	stakes = make([]decimal.Decimal, p.OptionsCount)
	for i := range stakes {
		var s decimal.Decimal
		if _, err := tx.Get(store.OutcomeStakeKey(p.ID, uint32(i+1)), &s); err != nil {
			return nil, err
		}
		stakes[i] = s
	}
	return stakes, nil
}

// putStakes writes the batch sequence and mirrors the given outcomes to
// their legacy entries in the same unit.
func putStakes(tx store.Tx, poolID uint64, stakes []decimal.Decimal, changed ...uint32) error {
	if err := tx.Put(store.OutcomeStakesKey(poolID), stakes); err != nil {
		return err
	}
	for _, o := range changed {
		if err := tx.Put(store.OutcomeStakeKey(poolID, o), stakes[o-1]); err != nil {
			return err
		}
	}
	return nil
}

// renew extends each key's lifetime when it is close to lapsing.
func (e *Engine) renew(c *call, keys ...store.Key) error {
	threshold := c.now.Add(e.opts.LifetimeThreshold)
	until := c.now.Add(e.opts.LifetimeExtendTo)
	for _, k := range keys {
		if err := c.tx.Extend(k, threshold, until); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) transfer(tx store.Tx, token, from, to string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return nil
	}
	if err := e.tokens.Transfer(tx, token, from, to, amount); err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	return nil
}

func ptr[T any](v T) *T { return &v }
