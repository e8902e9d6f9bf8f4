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

// PlaceResult reports what a PlacePrediction call did.
type PlaceResult struct {
	PoolID     uint64            `json:"pool_id"`
	Stake      decimal.Decimal   `json:"stake"`
	Outcome    uint32            `json:"outcome"`
	TotalStake decimal.Decimal   `json:"total_stake"`
	FirstStake bool              `json:"first_stake"`        // an index entry was appended
	Replaced   *model.Prediction `json:"replaced,omitempty"` // the prediction this one overwrote
	Charged    decimal.Decimal   `json:"charged"`            // moved user to custody
	Refunded   decimal.Decimal   `json:"refunded"`           // moved custody to user
}

// PlacePrediction records user's stake of amount on outcome (1-based).
//
// A repeat call for the same pool replaces the earlier prediction. The
// aggregates move by the difference: the old stake leaves its outcome, the
// new stake joins the chosen one, and only the net amount is transferred.
// This keeps sum(OutcomeStakes) == TotalStake == Σ current stakes.
func (e *Engine) PlacePrediction(ctx context.Context, user string, poolID uint64, amount decimal.Decimal, outcome uint32) (*PlaceResult, error) {
	if user == "" {
		return nil, ErrInvalidIdentity
	}
	if err := validStake(amount); err != nil {
		return nil, err
	}

	var res *PlaceResult
	var highValue bool
	err := e.update(ctx, "place_prediction", func(c *call) error {
		if err := requireNotPaused(c.tx); err != nil {
			return err
		}
		pool, err := loadPool(c.tx, poolID)
		if err != nil {
			return err
		}
		if err := requireOpen(pool); err != nil {
			return err
		}
		if !c.now.Before(pool.EndTime) {
			return fmt.Errorf("%w: pool %d ended %s", ErrPoolExpired, poolID, pool.EndTime.Format(time.RFC3339))
		}
		if outcome < 1 || outcome > pool.OptionsCount {
			return fmt.Errorf("%w: %d (allowed 1..%d)", ErrInvalidOutcome, outcome, pool.OptionsCount)
		}

		stakes, err := loadStakes(c.tx, pool)
		if err != nil {
			return err
		}

		var prev model.Prediction
		hadPrev, err := c.tx.Get(store.PredictionKey(user, poolID), &prev)
		if err != nil {
			return err
		}

		res = &PlaceResult{PoolID: poolID, Stake: amount, Outcome: outcome, FirstStake: !hadPrev}
		changed := []uint32{outcome}
		total := pool.TotalStake
		if hadPrev {
			res.Replaced = &prev
			if prev.Outcome >= 1 && prev.Outcome <= pool.OptionsCount {
				if stakes[prev.Outcome-1], err = checkedSub(stakes[prev.Outcome-1], prev.Stake); err != nil {
					return err
				}
				if prev.Outcome != outcome {
					changed = append(changed, prev.Outcome)
				}
			}
			if total, err = checkedSub(total, prev.Stake); err != nil {
				return err
			}
		}
		if stakes[outcome-1], err = checkedAdd(stakes[outcome-1], amount); err != nil {
			return err
		}
		if total, err = checkedAdd(total, amount); err != nil {
			return err
		}
		pool.TotalStake = total
		res.TotalStake = total

		// Move only the net difference.
		delta := amount.Sub(prev.Stake)
		switch delta.Sign() {
		case 1:
			res.Charged = delta
			err = e.transfer(c.tx, pool.Token, user, e.opts.Custody, delta)
		case -1:
			res.Refunded = delta.Neg()
			err = e.transfer(c.tx, pool.Token, e.opts.Custody, user, delta.Neg())
		}
		if err != nil {
			return err
		}

		pred := model.Prediction{Stake: amount, Outcome: outcome, Timestamp: c.now}
		if err := c.tx.Put(store.PredictionKey(user, poolID), pred); err != nil {
			return err
		}
		if err := c.tx.Put(store.PoolKey(poolID), pool); err != nil {
			return err
		}
		if err := putStakes(c.tx, poolID, stakes, changed...); err != nil {
			return err
		}
		if !hadPrev {
			if err := appendUserIndex(c.tx, user, poolID); err != nil {
				return err
			}
		}
		if err := e.renew(c, store.PoolKey(poolID), store.OutcomeStakesKey(poolID), store.PredictionKey(user, poolID)); err != nil {
			return err
		}

		c.emit(model.Event{
			Type:    model.EventPredictionPlaced,
			PoolID:  ptr(poolID),
			Actor:   user,
			Outcome: ptr(outcome),
			Amount:  ptr(amount),
		})
		if amount.GreaterThanOrEqual(e.opts.HighValueThreshold) {
			highValue = true
			c.emit(model.Event{
				Type:    model.EventHighValueStake,
				PoolID:  ptr(poolID),
				Actor:   user,
				Outcome: ptr(outcome),
				Amount:  ptr(amount),
				Detail:  "threshold=" + e.opts.HighValueThreshold.String(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	branch := "first"
	if !res.FirstStake {
		branch = "replaced"
	}
	metrics.PredictionsTotal.WithLabelValues(branch).Inc()
	if highValue {
		metrics.HighValuePredictions.Inc()
		slog.Warn("high value prediction", "pool_id", poolID, "user", user, "amount", amount.String())
	}
	slog.Info("prediction placed",
		"pool_id", poolID,
		"user", user,
		"outcome", outcome,
		"stake", amount.String(),
		"branch", branch,
		"total_stake", res.TotalStake.String(),
	)
	return res, nil
}

func appendUserIndex(tx store.Tx, user string, poolID uint64) error {
	var n uint32
	if _, err := tx.Get(store.UserPredictionCountKey(user), &n); err != nil {
		return err
	}
	if err := tx.Put(store.UserPredictionIndexKey(user, n), poolID); err != nil {
		return err
	}
	return tx.Put(store.UserPredictionCountKey(user), n+1)
}

// --- Queries ---

// GetPrediction returns user's current prediction on a pool.
func (e *Engine) GetPrediction(ctx context.Context, user string, poolID uint64) (*model.Prediction, error) {
	var pred model.Prediction
	err := e.view(ctx, func(tx store.Tx, _ time.Time) error {
		ok, err := tx.Get(store.PredictionKey(user, poolID), &pred)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s on pool %d", ErrNoPredictionFound, user, poolID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &pred, nil
}

// GetPoolOutcomeStakes returns the aggregate stake per outcome, index
// outcome-1.
func (e *Engine) GetPoolOutcomeStakes(ctx context.Context, poolID uint64) ([]decimal.Decimal, error) {
	var stakes []decimal.Decimal
	err := e.view(ctx, func(tx store.Tx, _ time.Time) error {
		pool, err := loadPool(tx, poolID)
		if err != nil {
			return err
		}
		stakes, err = loadStakes(tx, pool)
		return err
	})
	return stakes, err
}

// GetOutcomeStake returns one outcome's aggregate stake. Unknown pools and
// out-of-range outcomes read as zero.
func (e *Engine) GetOutcomeStake(ctx context.Context, poolID uint64, outcome uint32) (decimal.Decimal, error) {
	stake := decimal.Zero
	err := e.view(ctx, func(tx store.Tx, _ time.Time) error {
		var pool model.Pool
		ok, err := tx.Get(store.PoolKey(poolID), &pool)
		if err != nil || !ok {
			return err
		}
		if outcome < 1 || outcome > pool.OptionsCount {
			return nil
		}
		stakes, err := loadStakes(tx, &pool)
		if err != nil {
			return err
		}
		stake = stakes[outcome-1]
		return nil
	})
	return stake, err
}

// GetUserPredictions pages through the pools user has staked in, in the
// order they were first staked. limit is clamped to MaxPageSize.
func (e *Engine) GetUserPredictions(ctx context.Context, user string, offset, limit uint32) ([]model.UserPredictionDetail, error) {
	limit = min(limit, MaxPageSize)

	out := []model.UserPredictionDetail{}
	err := e.view(ctx, func(tx store.Tx, _ time.Time) error {
		var count uint32
		if _, err := tx.Get(store.UserPredictionCountKey(user), &count); err != nil {
			return err
		}
		if offset >= count || limit == 0 {
			return nil
		}
		end := min(offset+limit, count)
		for i := offset; i < end; i++ {
			var poolID uint64
			ok, err := tx.Get(store.UserPredictionIndexKey(user, i), &poolID)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("ledger: user index %s/%d missing", user, i)
			}
			var pred model.Prediction
			if ok, err = tx.Get(store.PredictionKey(user, poolID), &pred); err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("ledger: prediction %s/%d missing", user, poolID)
			}
			pool, err := loadPool(tx, poolID)
			if err != nil {
				return err
			}
			out = append(out, model.UserPredictionDetail{
				PoolID:         poolID,
				Stake:          pred.Stake,
				UserOutcome:    pred.Outcome,
				PoolEndTime:    pool.EndTime,
				PoolStatus:     pool.Status,
				WinningOutcome: pool.WinningOutcome,
			})
		}
		return nil
	})
	return out, err
}

// Odds prices every outcome of a pool from its current stakes.
func (e *Engine) Odds(ctx context.Context, poolID uint64) (*odds.Book, error) {
	var book *odds.Book
	err := e.view(ctx, func(tx store.Tx, _ time.Time) error {
		pool, err := loadPool(tx, poolID)
		if err != nil {
			return err
		}
		stakes, err := loadStakes(tx, pool)
		if err != nil {
			return err
		}
		book, err = odds.NewBook(stakes, pool.FeeBps, pool.InitialLiquidity)
		return err
	})
	return book, err
}
