package token_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/predifi/pool-ledger/internal/model"
	"github.com/predifi/pool-ledger/internal/store"
	"github.com/predifi/pool-ledger/internal/token"
)

func d(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}

func balance(t *testing.T, ms store.Store, tok, account string) decimal.Decimal {
	t.Helper()
	var bal decimal.Decimal
	err := ms.View(context.Background(), func(tx store.Tx) error {
		var err error
		bal, err = token.NewLedger().Balance(tx, tok, account)
		return err
	})
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return bal
}

func TestTransfer_MovesBalance(t *testing.T) {
	ms := store.NewMemoryStore()
	l := token.NewLedger()

	err := ms.Update(context.Background(), func(tx store.Tx) error {
		if err := l.Mint(tx, "USDC", "alice", d(100)); err != nil {
			return err
		}
		return l.Transfer(tx, "USDC", "alice", "bob", d(40))
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	if got := balance(t, ms, "USDC", "alice"); !got.Equal(d(60)) {
		t.Errorf("alice: expected 60, got %s", got)
	}
	if got := balance(t, ms, "USDC", "bob"); !got.Equal(d(40)) {
		t.Errorf("bob: expected 40, got %s", got)
	}
}

func TestTransfer_InsufficientBalance(t *testing.T) {
	ms := store.NewMemoryStore()
	l := token.NewLedger()

	err := ms.Update(context.Background(), func(tx store.Tx) error {
		if err := l.Mint(tx, "USDC", "alice", d(10)); err != nil {
			return err
		}
		return l.Transfer(tx, "USDC", "alice", "bob", d(11))
	})
	if !errors.Is(err, token.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	// The mint in the same unit rolled back too.
	if got := balance(t, ms, "USDC", "alice"); !got.IsZero() {
		t.Errorf("expected rollback to zero, got %s", got)
	}
}

func TestTransfer_RejectsBadAmounts(t *testing.T) {
	ms := store.NewMemoryStore()
	l := token.NewLedger()

	for _, amt := range []decimal.Decimal{d(-1), decimal.RequireFromString("1.5"), model.MaxAmount.Add(d(1))} {
		err := ms.Update(context.Background(), func(tx store.Tx) error {
			return l.Transfer(tx, "USDC", "alice", "bob", amt)
		})
		if !errors.Is(err, token.ErrInvalidAmount) {
			t.Errorf("amount %s: expected ErrInvalidAmount, got %v", amt, err)
		}
	}
}

func TestMint_Overflow(t *testing.T) {
	ms := store.NewMemoryStore()
	l := token.NewLedger()

	err := ms.Update(context.Background(), func(tx store.Tx) error {
		if err := l.Mint(tx, "USDC", "alice", model.MaxAmount); err != nil {
			return err
		}
		return l.Mint(tx, "USDC", "alice", d(1))
	})
	if !errors.Is(err, token.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestTransfer_TokensAreIsolated(t *testing.T) {
	ms := store.NewMemoryStore()
	l := token.NewLedger()

	err := ms.Update(context.Background(), func(tx store.Tx) error {
		if err := l.Mint(tx, "USDC", "alice", d(5)); err != nil {
			return err
		}
		return l.Transfer(tx, "XLM", "alice", "bob", d(1))
	})
	if !errors.Is(err, token.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestAccounts_MintAndBalance(t *testing.T) {
	ms := store.NewMemoryStore()
	acc := token.NewAccounts(ms, token.NewLedger())
	ctx := context.Background()

	if err := acc.Mint(ctx, "USDC", "alice", d(250)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := acc.Mint(ctx, "USDC", "alice", d(-1)); !errors.Is(err, token.ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
	bal, err := acc.Balance(ctx, "USDC", "alice")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !bal.Equal(d(250)) {
		t.Errorf("expected 250, got %s", bal)
	}
	if bal, _ := acc.Balance(ctx, "XLM", "alice"); !bal.IsZero() {
		t.Errorf("expected zero for untouched token, got %s", bal)
	}
}
