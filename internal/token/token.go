// Package token is a store-backed value-transfer capability. Balances live in
// the same key space as the pool ledger, so a transfer commits or rolls back
// together with the ledger call that issued it.
package token

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/predifi/pool-ledger/internal/model"
	"github.com/predifi/pool-ledger/internal/store"
)

var (
	// ErrInsufficientBalance is returned when the sender cannot cover a transfer.
	ErrInsufficientBalance = errors.New("token: insufficient balance")

	// ErrInvalidAmount is returned for negative, fractional, or out-of-range amounts.
	ErrInvalidAmount = errors.New("token: invalid amount")
)

// Ledger moves balances between accounts. It holds no state of its own.
type Ledger struct{}

// NewLedger creates a balance ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// Balance returns account's balance of token. Absent balances are zero.
func (l *Ledger) Balance(tx store.Tx, token, account string) (decimal.Decimal, error) {
	var bal decimal.Decimal
	if _, err := tx.Get(store.BalanceKey(token, account), &bal); err != nil {
		return decimal.Zero, err
	}
	return bal, nil
}

// Transfer moves amount of token from one account to another. A zero
// amount or a self-transfer is a no-op.
func (l *Ledger) Transfer(tx store.Tx, token, from, to string, amount decimal.Decimal) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if amount.IsZero() || from == to {
		return nil
	}

	fromBal, err := l.Balance(tx, token, from)
	if err != nil {
		return err
	}
	if fromBal.LessThan(amount) {
		return fmt.Errorf("%w: %s holds %s %s, needs %s", ErrInsufficientBalance, from, fromBal, token, amount)
	}
	toBal, err := l.Balance(tx, token, to)
	if err != nil {
		return err
	}
	toBal = toBal.Add(amount)
	if !model.InRange(toBal) {
		return fmt.Errorf("%w: balance of %s would overflow", ErrInvalidAmount, to)
	}

	if err := tx.Put(store.BalanceKey(token, from), fromBal.Sub(amount)); err != nil {
		return err
	}
	return tx.Put(store.BalanceKey(token, to), toBal)
}

// Mint credits amount of token to account out of thin air. Used to fund
// accounts in development and tests.
func (l *Ledger) Mint(tx store.Tx, token, account string, amount decimal.Decimal) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	bal, err := l.Balance(tx, token, account)
	if err != nil {
		return err
	}
	bal = bal.Add(amount)
	if !model.InRange(bal) {
		return fmt.Errorf("%w: balance of %s would overflow", ErrInvalidAmount, account)
	}
	return tx.Put(store.BalanceKey(token, account), bal)
}

func checkAmount(amount decimal.Decimal) error {
	if amount.IsNegative() || !model.IsWhole(amount) || !model.InRange(amount) {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	return nil
}

// Accounts runs balance reads and mints as standalone store calls, outside
// any ledger call.
type Accounts struct {
	store  store.Store
	ledger *Ledger
}

// NewAccounts binds l to st.
func NewAccounts(st store.Store, l *Ledger) *Accounts {
	return &Accounts{store: st, ledger: l}
}

// Balance returns account's committed balance of token.
func (a *Accounts) Balance(ctx context.Context, token, account string) (decimal.Decimal, error) {
	var bal decimal.Decimal
	err := a.store.View(ctx, func(tx store.Tx) error {
		var err error
		bal, err = a.ledger.Balance(tx, token, account)
		return err
	})
	return bal, err
}

// Mint credits account in its own atomic call.
func (a *Accounts) Mint(ctx context.Context, token, account string, amount decimal.Decimal) error {
	return a.store.Update(ctx, func(tx store.Tx) error {
		return a.ledger.Mint(tx, token, account, amount)
	})
}
