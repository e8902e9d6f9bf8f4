package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/predifi/pool-ledger/internal/model"
)

// checkedAdd returns a+b, failing if the result leaves the 128-bit range.
func checkedAdd(a, b decimal.Decimal) (decimal.Decimal, error) {
	s := a.Add(b)
	if !model.InRange(s) {
		return decimal.Zero, fmt.Errorf("%w: %s + %s", ErrOverflow, a, b)
	}
	return s, nil
}

// checkedSub returns a-b, failing if the result leaves the 128-bit range.
func checkedSub(a, b decimal.Decimal) (decimal.Decimal, error) {
	s := a.Sub(b)
	if !model.InRange(s) {
		return decimal.Zero, fmt.Errorf("%w: %s - %s", ErrOverflow, a, b)
	}
	return s, nil
}

// payout is floor(stake * distributable / winningStake). The product is
// computed at full precision before the division; any remainder stays in
// custody. A zero winning stake pays nothing.
func payout(stake, distributable, winningStake decimal.Decimal) (decimal.Decimal, error) {
	if !winningStake.IsPositive() || !stake.IsPositive() || !distributable.IsPositive() {
		return decimal.Zero, nil
	}
	q, _ := stake.Mul(distributable).QuoRem(winningStake, 0)
	if !model.InRange(q) {
		return decimal.Zero, fmt.Errorf("%w: payout %s", ErrOverflow, q)
	}
	return q, nil
}

// validStake reports whether amount is a positive whole number in range.
func validStake(amount decimal.Decimal) error {
	if !amount.IsPositive() || !model.IsWhole(amount) || !model.InRange(amount) {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	return nil
}
