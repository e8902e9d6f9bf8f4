package main

import (
	"context"
	"reflect"
	"testing"

	"github.com/predifi/pool-ledger/internal/config"
	"github.com/predifi/pool-ledger/internal/ledger"
	"github.com/predifi/pool-ledger/internal/model"
	"github.com/predifi/pool-ledger/internal/store"
	"github.com/predifi/pool-ledger/internal/token"
)

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Ledger.Admin = "ops"
	cfg.Ledger.Treasury = "treasury"
	cfg.Ledger.Tokens = []string{"USDC", "XLM"}
	return &cfg
}

func whitelist(t *testing.T, eng *ledger.Engine) []string {
	t.Helper()
	list, err := eng.Whitelist(context.Background())
	if err != nil {
		t.Fatalf("whitelist: %v", err)
	}
	return list
}

func TestBootstrap_FreshLedger(t *testing.T) {
	eng := ledger.New(store.NewMemoryStore(), token.NewLedger(), nil, ledger.Options{})
	if err := bootstrap(context.Background(), eng, testConfig()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if got := whitelist(t, eng); !reflect.DeepEqual(got, []string{"USDC", "XLM"}) {
		t.Errorf("expected [USDC XLM], got %v", got)
	}
}

func TestBootstrap_CompletesWhitelistOnRestart(t *testing.T) {
	ctx := context.Background()
	eng := ledger.New(store.NewMemoryStore(), token.NewLedger(), nil, ledger.Options{})

	// A previous start initialized the ledger but whitelisted nothing.
	if err := eng.Init(ctx, "ops", "treasury", 0, 0); err != nil {
		t.Fatalf("init: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := bootstrap(ctx, eng, testConfig()); err != nil {
			t.Fatalf("bootstrap #%d: %v", i+1, err)
		}
	}
	if got := whitelist(t, eng); !reflect.DeepEqual(got, []string{"USDC", "XLM"}) {
		t.Errorf("expected [USDC XLM], got %v", got)
	}
}

func TestBootstrap_RevokedAdminDoesNotBlockStart(t *testing.T) {
	ctx := context.Background()
	eng := ledger.New(store.NewMemoryStore(), token.NewLedger(), nil, ledger.Options{})
	if err := eng.Init(ctx, "root", "treasury", 0, 0); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := eng.GrantRole(ctx, "root", "ops", model.RoleOperator); err != nil {
		t.Fatalf("grant: %v", err)
	}

	if err := bootstrap(ctx, eng, testConfig()); err != nil {
		t.Fatalf("expected start to proceed, got %v", err)
	}
	if got := whitelist(t, eng); len(got) != 0 {
		t.Errorf("expected nothing whitelisted by a non-admin, got %v", got)
	}
}
