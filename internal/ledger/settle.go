package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/predifi/pool-ledger/internal/metrics"
	"github.com/predifi/pool-ledger/internal/model"
	"github.com/predifi/pool-ledger/internal/odds"
	"github.com/predifi/pool-ledger/internal/store"
)

// ResolvePool finalizes a pool to winningOutcome. The caller must hold the
// admin or operator role. The protocol fee is taken here, once.
func (e *Engine) ResolvePool(ctx context.Context, caller string, poolID uint64, winningOutcome uint32) error {
	return e.resolve(ctx, "resolve_pool", caller, poolID, winningOutcome, "",
		model.RoleAdmin, model.RoleOperator)
}

// OracleResolve is ResolvePool for oracle-role callers. The proof is kept
// on the pool record.
func (e *Engine) OracleResolve(ctx context.Context, oracle string, poolID uint64, outcome uint32, proof string) error {
	if proof == "" {
		return ErrInvalidProof
	}
	return e.resolve(ctx, "oracle_resolve", oracle, poolID, outcome, proof, model.RoleOracle)
}

func (e *Engine) resolve(ctx context.Context, op, caller string, poolID uint64, outcome uint32, proof string, roles ...model.Role) error {
	var fee, winning decimal.Decimal
	err := e.update(ctx, op, func(c *call) error {
		if err := requireNotPaused(c.tx); err != nil {
			return err
		}
		cfg, err := loadConfig(c.tx)
		if err != nil {
			return err
		}
		if err := requireRole(c.tx, op, caller, roles...); err != nil {
			return err
		}
		pool, err := loadPool(c.tx, poolID)
		if err != nil {
			return err
		}
		if err := requireOpen(pool); err != nil {
			return err
		}
		if c.now.Before(pool.EndTime) {
			return fmt.Errorf("%w: pool %d ends %s", ErrPoolNotExpired, poolID, pool.EndTime.Format(time.RFC3339))
		}
		if c.now.Before(pool.EndTime.Add(cfg.ResolutionDelay)) {
			return fmt.Errorf("%w: resolvable at %s", ErrResolutionDelayNotMet,
				pool.EndTime.Add(cfg.ResolutionDelay).Format(time.RFC3339))
		}
		if outcome < 1 || outcome > pool.OptionsCount {
			return fmt.Errorf("%w: %d (allowed 1..%d)", ErrInvalidOutcome, outcome, pool.OptionsCount)
		}

		stakes, err := loadStakes(c.tx, pool)
		if err != nil {
			return err
		}
		winning = stakes[outcome-1]

		fee = odds.Fee(pool.TotalStake, pool.FeeBps)
		if err := e.transfer(c.tx, pool.Token, e.opts.Custody, cfg.Treasury, fee); err != nil {
			return err
		}

		pool.Status = model.StatusResolved
		pool.WinningOutcome = ptr(outcome)
		pool.FeeAmount = fee
		pool.ResolutionProof = proof
		pool.ResolvedAt = ptr(c.now)
		if err := c.tx.Put(store.PoolKey(poolID), pool); err != nil {
			return err
		}
		if err := e.renew(c, store.PoolKey(poolID), store.OutcomeStakesKey(poolID)); err != nil {
			return err
		}

		c.emit(model.Event{
			Type:    model.EventPoolResolved,
			PoolID:  ptr(poolID),
			Actor:   caller,
			Outcome: ptr(outcome),
			Amount:  ptr(fee),
			Detail:  fmt.Sprintf("total_stake=%s winning_stake=%s", pool.TotalStake, winning),
		})
		return nil
	})
	if err != nil {
		return err
	}

	metrics.OpenPools.Dec()
	slog.Info("pool resolved",
		"pool_id", poolID,
		"via", op,
		"caller", caller,
		"outcome", outcome,
		"winning_stake", winning.String(),
		"fee", fee.String(),
	)
	return nil
}

// ClaimResult reports a settled claim.
type ClaimResult struct {
	PoolID   uint64          `json:"pool_id"`
	Amount   decimal.Decimal `json:"amount"`
	Refunded bool            `json:"refunded"` // pool was canceled; stake returned
}

// ClaimWinnings pays user's share of a resolved pool, or refunds the stake
// of a canceled one. Payout is floor(stake × distributable / winningStake);
// the remainder stays in custody. A losing prediction fails with
// ErrLosingOutcome and leaves no claim marker.
func (e *Engine) ClaimWinnings(ctx context.Context, user string, poolID uint64) (*ClaimResult, error) {
	var res *ClaimResult
	err := e.update(ctx, "claim_winnings", func(c *call) error {
		if err := requireNotPaused(c.tx); err != nil {
			return err
		}
		pool, err := loadPool(c.tx, poolID)
		if err != nil {
			return err
		}
		if pool.Status == model.StatusOpen {
			return fmt.Errorf("%w: %d", ErrPoolNotResolved, poolID)
		}

		var pred model.Prediction
		ok, err := c.tx.Get(store.PredictionKey(user, poolID), &pred)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s on pool %d", ErrNoPredictionFound, user, poolID)
		}

		claimed, err := c.tx.Has(store.HasClaimedKey(user, poolID))
		if err != nil {
			return err
		}
		if claimed {
			slog.Warn("repeated claim attempt", "pool_id", poolID, "user", user)
			return fmt.Errorf("%w: %s on pool %d", ErrAlreadyClaimed, user, poolID)
		}

		res = &ClaimResult{PoolID: poolID}
		typ := model.EventWinningsClaimed
		if pool.Status == model.StatusCanceled {
			res.Amount = pred.Stake
			res.Refunded = true
			typ = model.EventStakeRefunded
		} else {
			if pool.WinningOutcome == nil || pred.Outcome != *pool.WinningOutcome {
				return fmt.Errorf("%w: %s picked %d on pool %d", ErrLosingOutcome, user, pred.Outcome, poolID)
			}
			stakes, err := loadStakes(c.tx, pool)
			if err != nil {
				return err
			}
			res.Amount, err = payout(pred.Stake, pool.Distributable(), stakes[pred.Outcome-1])
			if err != nil {
				return err
			}
		}

		if err := e.transfer(c.tx, pool.Token, e.opts.Custody, user, res.Amount); err != nil {
			return err
		}
		if err := c.tx.Put(store.HasClaimedKey(user, poolID), true); err != nil {
			return err
		}
		if err := e.renew(c, store.HasClaimedKey(user, poolID)); err != nil {
			return err
		}

		c.emit(model.Event{
			Type:    typ,
			PoolID:  ptr(poolID),
			Actor:   user,
			Outcome: ptr(pred.Outcome),
			Amount:  ptr(res.Amount),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("claim settled",
		"pool_id", poolID,
		"user", user,
		"amount", res.Amount.String(),
		"refund", res.Refunded,
	)
	return res, nil
}

// HasClaimed reports whether user has settled their claim on a pool.
func (e *Engine) HasClaimed(ctx context.Context, user string, poolID uint64) (bool, error) {
	var claimed bool
	err := e.view(ctx, func(tx store.Tx, _ time.Time) error {
		var err error
		claimed, err = tx.Has(store.HasClaimedKey(user, poolID))
		return err
	})
	return claimed, err
}
