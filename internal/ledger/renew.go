package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/predifi/pool-ledger/internal/metrics"
	"github.com/predifi/pool-ledger/internal/model"
	"github.com/predifi/pool-ledger/internal/store"
)

// RenewPools walks pools starting at fromID and extends the lifetime of
// each open pool's Pool and OutcomeStakes entries. It visits at most
// maxPools pools (0 for no limit), further capped so the call stays inside
// the read quota. It returns the id to resume from, or 0 once the last pool
// has been visited.
func (e *Engine) RenewPools(ctx context.Context, fromID uint64, maxPools int) (next uint64, visited int, err error) {
	// One read for the counter, two per pool.
	limit := (e.opts.Budget.MaxReads - 1) / 2
	if e.opts.Budget.MaxReads <= 0 {
		limit = MaxPageSize
	}
	if maxPools > 0 && maxPools < limit {
		limit = maxPools
	}

	err = e.update(ctx, "renew_pools", func(c *call) error {
		var count uint64
		if _, err := c.tx.Get(store.PoolIDCounterKey, &count); err != nil {
			return err
		}
		visited = 0
		next = 0
		id := fromID
		for ; id < count && visited < limit; id++ {
			var pool model.Pool
			ok, err := c.tx.Get(store.PoolKey(id), &pool)
			if err != nil {
				return err
			}
			visited++
			if !ok || pool.Status != model.StatusOpen {
				continue
			}
			if err := e.renew(c, store.PoolKey(id), store.OutcomeStakesKey(id)); err != nil {
				return err
			}
		}
		if id < count {
			next = id
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	metrics.RenewalChecks.Add(float64(visited))
	return next, visited, nil
}

// RunRenewer calls RenewPools every interval, cycling through all pools,
// until ctx is canceled.
func (e *Engine) RunRenewer(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var cursor uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		next, visited, err := e.RenewPools(ctx, cursor, 0)
		if err != nil {
			slog.Error("pool renewal failed", "from", cursor, "err", err)
			continue
		}
		if visited > 0 {
			slog.Debug("pools renewed", "from", cursor, "visited", visited, "next", next)
		}
		cursor = next
	}
}
