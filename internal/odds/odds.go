// Package odds derives parimutuel pricing from a pool's per-outcome stakes:
// implied probabilities, payout multipliers, and payout quotes for a
// prospective stake.
//
// All monetary values use shopspring/decimal, never float64 for money.
// Probabilities and multipliers are rounded to Scale places; payout quotes
// are floored to whole units, matching settlement.
package odds

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrNoOutcomes is returned for an empty stake sequence.
	ErrNoOutcomes = errors.New("odds: pool has no outcomes")

	// ErrInvalidOutcome is returned when an outcome is outside 1..len(stakes).
	ErrInvalidOutcome = errors.New("odds: outcome out of range")

	// ErrInvalidAmount is returned for a non-positive quote amount.
	ErrInvalidAmount = errors.New("odds: amount must be positive")

	// Scale is the number of decimal places for probabilities and multipliers.
	Scale int32 = 8

	bpsDenominator = decimal.NewFromInt(10_000)
)

// OutcomeOdds is the current pricing of one outcome.
type OutcomeOdds struct {
	Outcome     uint32          `json:"outcome"`
	Stake       decimal.Decimal `json:"stake"`
	Probability decimal.Decimal `json:"probability"`
	Multiplier  decimal.Decimal `json:"multiplier"` // zero when nobody has staked on the outcome
}

// Book prices a pool. It is stateless; stakes are passed in, not stored.
type Book struct {
	stakes    []decimal.Decimal
	feeBps    uint32
	liquidity decimal.Decimal
}

// NewBook creates a pricing view over stakes (index outcome-1) for a pool
// charging feeBps at resolution and seeded with liquidity.
func NewBook(stakes []decimal.Decimal, feeBps uint32, liquidity decimal.Decimal) (*Book, error) {
	if len(stakes) == 0 {
		return nil, ErrNoOutcomes
	}
	return &Book{stakes: stakes, feeBps: feeBps, liquidity: liquidity}, nil
}

// Total returns the sum of all outcome stakes.
func (b *Book) Total() decimal.Decimal {
	return sum(b.stakes)
}

// Distributable is what winners would share if the pool resolved now.
func (b *Book) Distributable() decimal.Decimal {
	return distributable(b.Total(), b.feeBps, b.liquidity)
}

// Probability is the outcome's share of total stake. With no stake at all
// every outcome is equally likely.
func (b *Book) Probability(outcome uint32) (decimal.Decimal, error) {
	stake, err := b.stake(outcome)
	if err != nil {
		return decimal.Zero, err
	}
	total := b.Total()
	if !total.IsPositive() {
		return decimal.NewFromInt(1).DivRound(decimal.NewFromInt(int64(len(b.stakes))), Scale), nil
	}
	return stake.DivRound(total, Scale), nil
}

// Multiplier is the gross return per unit staked on outcome if it wins now.
func (b *Book) Multiplier(outcome uint32) (decimal.Decimal, error) {
	stake, err := b.stake(outcome)
	if err != nil {
		return decimal.Zero, err
	}
	if !stake.IsPositive() {
		return decimal.Zero, nil
	}
	return b.Distributable().DivRound(stake, Scale), nil
}

// Quote returns the payout a new stake of amount on outcome would receive
// if the pool resolved to it immediately after.
func (b *Book) Quote(outcome uint32, amount decimal.Decimal) (decimal.Decimal, error) {
	stake, err := b.stake(outcome)
	if err != nil {
		return decimal.Zero, err
	}
	if !amount.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	dist := distributable(b.Total().Add(amount), b.feeBps, b.liquidity)
	q, _ := amount.Mul(dist).QuoRem(stake.Add(amount), 0)
	return q, nil
}

// All returns the pricing of every outcome in order.
func (b *Book) All() []OutcomeOdds {
	out := make([]OutcomeOdds, len(b.stakes))
	for i, s := range b.stakes {
		outcome := uint32(i + 1)
		p, _ := b.Probability(outcome)
		m, _ := b.Multiplier(outcome)
		out[i] = OutcomeOdds{Outcome: outcome, Stake: s, Probability: p, Multiplier: m}
	}
	return out
}

func (b *Book) stake(outcome uint32) (decimal.Decimal, error) {
	if outcome < 1 || int(outcome) > len(b.stakes) {
		return decimal.Zero, ErrInvalidOutcome
	}
	return b.stakes[outcome-1], nil
}

// Fee is the protocol cut of total at feeBps, floored to whole units.
func Fee(total decimal.Decimal, feeBps uint32) decimal.Decimal {
	q, _ := total.Mul(decimal.NewFromInt(int64(feeBps))).QuoRem(bpsDenominator, 0)
	return q
}

func distributable(total decimal.Decimal, feeBps uint32, liquidity decimal.Decimal) decimal.Decimal {
	return total.Sub(Fee(total, feeBps)).Add(liquidity)
}

func sum(xs []decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, x := range xs {
		total = total.Add(x)
	}
	return total
}
