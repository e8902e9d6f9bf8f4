package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/predifi/pool-ledger/internal/metadata"
	"github.com/predifi/pool-ledger/internal/metrics"
	"github.com/predifi/pool-ledger/internal/model"
	"github.com/predifi/pool-ledger/internal/store"
)

// CreatePoolParams describes a new pool.
type CreatePoolParams struct {
	Creator          string
	Token            string
	EndTime          time.Time
	OptionsCount     uint32
	Metadata         model.Metadata
	InitialLiquidity decimal.Decimal
	FeeBps           *uint32 // nil takes the configured default
}

// CreatePool registers a pool and returns its id. Ids are allocated
// sequentially from zero; allocation commits with the pool, so a failed
// call never consumes an id.
func (e *Engine) CreatePool(ctx context.Context, p CreatePoolParams) (uint64, error) {
	if p.Creator == "" {
		return 0, ErrInvalidIdentity
	}
	meta, err := metadata.Normalize(p.Metadata)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidMetadata, err)
	}

	var id uint64
	err = e.update(ctx, "create_pool", func(c *call) error {
		if err := requireNotPaused(c.tx); err != nil {
			return err
		}
		cfg, err := loadConfig(c.tx)
		if err != nil {
			return err
		}
		if p.OptionsCount < 1 || p.OptionsCount > e.opts.MaxOptions {
			return fmt.Errorf("%w: %d (allowed 1..%d)", ErrInvalidOptionsCount, p.OptionsCount, e.opts.MaxOptions)
		}
		ok, err := isWhitelisted(c.tx, p.Token)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %q", ErrTokenNotWhitelisted, p.Token)
		}
		if !p.EndTime.After(c.now) || p.EndTime.Before(c.now.Add(e.opts.MinPoolDuration)) {
			return fmt.Errorf("%w: %s", ErrInvalidEndTime, p.EndTime.Format(time.RFC3339))
		}
		feeBps := cfg.FeeBps
		if p.FeeBps != nil {
			feeBps = *p.FeeBps
		}
		if feeBps > 10_000 {
			return fmt.Errorf("%w: %d", ErrInvalidFee, feeBps)
		}
		liquidity := p.InitialLiquidity
		if liquidity.IsNegative() || !model.IsWhole(liquidity) || liquidity.GreaterThan(e.opts.MaxInitialLiquidity) {
			return fmt.Errorf("%w: initial liquidity %s", ErrInvalidAmount, liquidity)
		}

		if _, err := c.tx.Get(store.PoolIDCounterKey, &id); err != nil {
			return err
		}

		pool := model.Pool{
			ID:               id,
			Creator:          p.Creator,
			Token:            p.Token,
			EndTime:          p.EndTime.UTC(),
			OptionsCount:     p.OptionsCount,
			Status:           model.StatusOpen,
			TotalStake:       decimal.Zero,
			FeeBps:           feeBps,
			FeeAmount:        decimal.Zero,
			Metadata:         meta,
			InitialLiquidity: liquidity,
			CreatedAt:        c.now,
		}
		stakes := make([]decimal.Decimal, p.OptionsCount)
		for i := range stakes {
			stakes[i] = decimal.Zero
		}

		if err := c.tx.Put(store.PoolKey(id), pool); err != nil {
			return err
		}
		if err := putStakes(c.tx, id, stakes); err != nil {
			return err
		}
		if err := appendCategory(c.tx, meta.Category, id); err != nil {
			return err
		}
		if err := c.tx.Put(store.PoolIDCounterKey, id+1); err != nil {
			return err
		}
		if err := e.transfer(c.tx, p.Token, p.Creator, e.opts.Custody, liquidity); err != nil {
			return err
		}
		if err := e.renew(c, store.PoolKey(id), store.OutcomeStakesKey(id)); err != nil {
			return err
		}

		c.emit(model.Event{
			Type:   model.EventPoolCreated,
			PoolID: ptr(id),
			Actor:  p.Creator,
			Amount: ptr(liquidity),
			Detail: meta.Category,
		})
		return nil
	})
	if err != nil {
		return 0, err
	}

	metrics.OpenPools.Inc()
	slog.Info("pool created",
		"pool_id", id,
		"creator", p.Creator,
		"token", p.Token,
		"options", p.OptionsCount,
		"end_time", p.EndTime.UTC(),
		"category", meta.Category,
		"initial_liquidity", p.InitialLiquidity.String(),
	)
	return id, nil
}

func appendCategory(tx store.Tx, category string, id uint64) error {
	var n uint32
	if _, err := tx.Get(store.CategoryPoolCountKey(category), &n); err != nil {
		return err
	}
	if err := tx.Put(store.CategoryPoolIndexKey(category, n), id); err != nil {
		return err
	}
	return tx.Put(store.CategoryPoolCountKey(category), n+1)
}

// CancelPool moves an open pool to Canceled. Allowed for admins and the
// pool's creator. The creator's initial liquidity is returned at once;
// stakers reclaim their stake through ClaimWinnings.
func (e *Engine) CancelPool(ctx context.Context, caller string, poolID uint64) error {
	err := e.update(ctx, "cancel_pool", func(c *call) error {
		if err := requireNotPaused(c.tx); err != nil {
			return err
		}
		pool, err := loadPool(c.tx, poolID)
		if err != nil {
			return err
		}
		if pool.Creator != caller {
			if err := requireRole(c.tx, "cancel_pool", caller, model.RoleAdmin); err != nil {
				return err
			}
		}
		switch pool.Status {
		case model.StatusResolved:
			return fmt.Errorf("%w: %d", ErrPoolAlreadyResolved, poolID)
		case model.StatusCanceled:
			return fmt.Errorf("%w: %d", ErrPoolCanceled, poolID)
		}

		pool.Status = model.StatusCanceled
		if err := c.tx.Put(store.PoolKey(poolID), pool); err != nil {
			return err
		}
		if err := e.transfer(c.tx, pool.Token, e.opts.Custody, pool.Creator, pool.InitialLiquidity); err != nil {
			return err
		}
		if err := e.renew(c, store.PoolKey(poolID)); err != nil {
			return err
		}
		c.emit(model.Event{Type: model.EventPoolCanceled, PoolID: ptr(poolID), Actor: caller})
		return nil
	})
	if err != nil {
		return err
	}

	metrics.OpenPools.Dec()
	slog.Info("pool canceled", "pool_id", poolID, "caller", caller)
	return nil
}

// MarkPoolReady publishes a ready event once an open pool can be resolved.
// Anyone may call it.
func (e *Engine) MarkPoolReady(ctx context.Context, poolID uint64) error {
	return e.update(ctx, "mark_pool_ready", func(c *call) error {
		pool, err := loadPool(c.tx, poolID)
		if err != nil {
			return err
		}
		if err := requireOpen(pool); err != nil {
			return err
		}
		cfg, err := loadConfig(c.tx)
		if err != nil {
			return err
		}
		if c.now.Before(pool.EndTime.Add(cfg.ResolutionDelay)) {
			return fmt.Errorf("%w: ready at %s", ErrResolutionDelayNotMet,
				pool.EndTime.Add(cfg.ResolutionDelay).Format(time.RFC3339))
		}
		c.emit(model.Event{Type: model.EventPoolReady, PoolID: ptr(poolID)})
		return nil
	})
}

func requireOpen(p *model.Pool) error {
	switch p.Status {
	case model.StatusResolved:
		return fmt.Errorf("%w: %d", ErrPoolAlreadyResolved, p.ID)
	case model.StatusCanceled:
		return fmt.Errorf("%w: %d", ErrPoolCanceled, p.ID)
	}
	return nil
}

// GetPool returns the pool record.
func (e *Engine) GetPool(ctx context.Context, poolID uint64) (*model.Pool, error) {
	var pool *model.Pool
	err := e.view(ctx, func(tx store.Tx, _ time.Time) error {
		var err error
		pool, err = loadPool(tx, poolID)
		return err
	})
	return pool, err
}

// PoolCount returns how many pools have been created.
func (e *Engine) PoolCount(ctx context.Context) (uint64, error) {
	var n uint64
	err := e.view(ctx, func(tx store.Tx, _ time.Time) error {
		_, err := tx.Get(store.PoolIDCounterKey, &n)
		return err
	})
	return n, err
}

// GetPoolsByCategory pages through a category's pools, newest first.
// limit is clamped to MaxPageSize.
func (e *Engine) GetPoolsByCategory(ctx context.Context, category string, offset, limit uint32) ([]uint64, error) {
	if err := metadata.ValidateCategory(category); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMetadata, err)
	}
	if category == "" {
		category = metadata.DefaultCategory
	}
	limit = min(limit, MaxPageSize)

	ids := []uint64{}
	err := e.view(ctx, func(tx store.Tx, _ time.Time) error {
		var count uint32
		if _, err := tx.Get(store.CategoryPoolCountKey(category), &count); err != nil {
			return err
		}
		if offset >= count || limit == 0 {
			return nil
		}
		n := min(limit, count-offset)
		for i := uint32(0); i < n; i++ {
			var id uint64
			if _, err := tx.Get(store.CategoryPoolIndexKey(category, count-1-offset-i), &id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	return ids, err
}
