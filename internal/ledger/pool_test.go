package ledger_test

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/predifi/pool-ledger/internal/ledger"
	"github.com/predifi/pool-ledger/internal/model"
	"github.com/predifi/pool-ledger/internal/store"
)

func TestCreatePool_SequentialIDs(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	for want := uint64(0); want < 50; want++ {
		got := env.createPool(t, 2)
		if got != want {
			t.Fatalf("expected id %d, got %d", want, got)
		}
	}
	n, err := env.eng.PoolCount(ctx)
	if err != nil {
		t.Fatalf("pool count: %v", err)
	}
	if n != 50 {
		t.Errorf("expected 50 pools, got %d", n)
	}
}

func TestCreatePool_Validation(t *testing.T) {
	env := newTestEnv(t, 0)
	env.fund(t, "creator", d(10))
	ctx := context.Background()
	end := t0.Add(time.Hour)

	valid := func() ledger.CreatePoolParams {
		return ledger.CreatePoolParams{
			Creator:      "creator",
			Token:        tok,
			EndTime:      end,
			OptionsCount: 2,
			Metadata:     model.Metadata{Description: "ok"},
		}
	}
	fee := uint32(10_001)

	tests := []struct {
		name   string
		mutate func(p *ledger.CreatePoolParams)
		want   error
	}{
		{"zero options", func(p *ledger.CreatePoolParams) { p.OptionsCount = 0 }, ledger.ErrInvalidOptionsCount},
		{"too many options", func(p *ledger.CreatePoolParams) { p.OptionsCount = 101 }, ledger.ErrInvalidOptionsCount},
		{"token not whitelisted", func(p *ledger.CreatePoolParams) { p.Token = "DOGE" }, ledger.ErrTokenNotWhitelisted},
		{"end time in past", func(p *ledger.CreatePoolParams) { p.EndTime = t0.Add(-time.Second) }, ledger.ErrInvalidEndTime},
		{"end time now", func(p *ledger.CreatePoolParams) { p.EndTime = t0 }, ledger.ErrInvalidEndTime},
		{"fee too high", func(p *ledger.CreatePoolParams) { p.FeeBps = &fee }, ledger.ErrInvalidFee},
		{"negative liquidity", func(p *ledger.CreatePoolParams) { p.InitialLiquidity = d(-1) }, ledger.ErrInvalidAmount},
		{"fractional liquidity", func(p *ledger.CreatePoolParams) { p.InitialLiquidity = decimal.RequireFromString("1.5") }, ledger.ErrInvalidAmount},
		{"liquidity above cap", func(p *ledger.CreatePoolParams) { p.InitialLiquidity = decimal.New(1, 15) }, ledger.ErrInvalidAmount},
		{"liquidity unfunded", func(p *ledger.CreatePoolParams) { p.InitialLiquidity = d(11) }, ledger.ErrTransferFailed},
		{"description too long", func(p *ledger.CreatePoolParams) { p.Metadata.Description = strings.Repeat("x", 257) }, ledger.ErrInvalidMetadata},
		{"bad category", func(p *ledger.CreatePoolParams) { p.Metadata.Category = "no spaces" }, ledger.ErrInvalidMetadata},
		{"bad url", func(p *ledger.CreatePoolParams) { p.Metadata.URL = "ftp://example.com" }, ledger.ErrInvalidMetadata},
		{"empty creator", func(p *ledger.CreatePoolParams) { p.Creator = "" }, ledger.ErrInvalidIdentity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid()
			tt.mutate(&p)
			env.expectUnchanged(t, tt.want, func() error {
				_, err := env.eng.CreatePool(ctx, p)
				return err
			})
		})
	}

	// None of the failures consumed an id.
	if id := env.createPool(t, 2); id != 0 {
		t.Errorf("expected first id 0, got %d", id)
	}
	if n := len(env.events.ofType(model.EventPoolCreated)); n != 1 {
		t.Errorf("expected 1 pool_created event, got %d", n)
	}
}

func TestCreatePool_NotInitialized(t *testing.T) {
	env := newBareEnv(t, ledger.Options{})
	env.expectUnchanged(t, ledger.ErrNotInitialized, func() error {
		_, err := env.eng.CreatePool(context.Background(), ledger.CreatePoolParams{
			Creator: "creator", Token: tok, EndTime: t0.Add(time.Hour), OptionsCount: 2,
		})
		return err
	})
}

func TestCreatePool_MinDuration(t *testing.T) {
	env := newBareEnv(t, ledger.Options{MinPoolDuration: time.Hour})
	ctx := context.Background()
	if err := env.eng.Init(ctx, admin, treasury, 0, 0); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := env.eng.AddTokenToWhitelist(ctx, admin, tok); err != nil {
		t.Fatalf("whitelist: %v", err)
	}

	p := ledger.CreatePoolParams{Creator: "creator", Token: tok, EndTime: t0.Add(59 * time.Minute), OptionsCount: 2}
	if _, err := env.eng.CreatePool(ctx, p); !errors.Is(err, ledger.ErrInvalidEndTime) {
		t.Fatalf("expected ErrInvalidEndTime, got %v", err)
	}
	p.EndTime = t0.Add(time.Hour)
	if _, err := env.eng.CreatePool(ctx, p); err != nil {
		t.Fatalf("expected success at exactly the minimum, got %v", err)
	}
}

func TestCreatePool_Record(t *testing.T) {
	env := newTestEnv(t, 150)
	env.fund(t, "creator", d(1_000))
	ctx := context.Background()

	id, err := env.eng.CreatePool(ctx, ledger.CreatePoolParams{
		Creator:          "creator",
		Token:            tok,
		EndTime:          t0.Add(48 * time.Hour),
		OptionsCount:     4,
		Metadata:         model.Metadata{Description: "  Who wins?  ", URL: "https://example.com/q"},
		InitialLiquidity: d(400),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	pool, err := env.eng.GetPool(ctx, id)
	if err != nil {
		t.Fatalf("get pool: %v", err)
	}
	if pool.Status != model.StatusOpen {
		t.Errorf("expected open, got %s", pool.Status)
	}
	if pool.FeeBps != 150 {
		t.Errorf("expected default fee 150, got %d", pool.FeeBps)
	}
	if !pool.TotalStake.IsZero() {
		t.Errorf("expected zero total stake, got %s", pool.TotalStake)
	}
	if pool.Metadata.Description != "Who wins?" {
		t.Errorf("expected trimmed description, got %q", pool.Metadata.Description)
	}
	if pool.Metadata.Category != "general" {
		t.Errorf("expected default category, got %q", pool.Metadata.Category)
	}
	if !pool.InitialLiquidity.Equal(d(400)) {
		t.Errorf("expected liquidity 400, got %s", pool.InitialLiquidity)
	}

	stakes, _ := env.eng.GetPoolOutcomeStakes(ctx, id)
	if len(stakes) != 4 {
		t.Fatalf("expected 4 outcome stakes, got %d", len(stakes))
	}
	for i, s := range stakes {
		if !s.IsZero() {
			t.Errorf("outcome %d: expected 0, got %s", i+1, s)
		}
	}

	if got := env.balance(t, "creator"); !got.Equal(d(600)) {
		t.Errorf("expected creator balance 600, got %s", got)
	}
	if got := env.balance(t, custody); !got.Equal(d(400)) {
		t.Errorf("expected custody balance 400, got %s", got)
	}
	if got := env.ms.LiveUntil(store.PoolKey(id)); !got.Equal(t0.Add(30 * 24 * time.Hour)) {
		t.Errorf("expected pool lifetime %s, got %s", t0.Add(30*24*time.Hour), got)
	}
}

func TestGetPool_NotFound(t *testing.T) {
	env := newTestEnv(t, 0)
	if _, err := env.eng.GetPool(context.Background(), 7); !errors.Is(err, ledger.ErrPoolNotFound) {
		t.Errorf("expected ErrPoolNotFound, got %v", err)
	}
}

func TestGetPoolsByCategory_NewestFirst(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		env.createPool(t, 2) // category "sports"
	}
	other, err := env.eng.CreatePool(ctx, ledger.CreatePoolParams{
		Creator: "creator", Token: tok, EndTime: t0.Add(time.Hour), OptionsCount: 2,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	tests := []struct {
		category      string
		offset, limit uint32
		want          []uint64
	}{
		{"sports", 0, 2, []uint64{4, 3}},
		{"sports", 2, 2, []uint64{2, 1}},
		{"sports", 4, 10, []uint64{0}},
		{"sports", 5, 10, []uint64{}},
		{"sports", 0, 0, []uint64{}},
		{"", 0, 10, []uint64{other}},
		{"general", 0, 10, []uint64{other}},
		{"politics", 0, 10, []uint64{}},
	}
	for _, tt := range tests {
		got, err := env.eng.GetPoolsByCategory(ctx, tt.category, tt.offset, tt.limit)
		if err != nil {
			t.Fatalf("%s/%d/%d: %v", tt.category, tt.offset, tt.limit, err)
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%s/%d/%d: expected %v, got %v", tt.category, tt.offset, tt.limit, tt.want, got)
		}
	}

	if _, err := env.eng.GetPoolsByCategory(ctx, "no-dashes", 0, 10); !errors.Is(err, ledger.ErrInvalidMetadata) {
		t.Errorf("expected ErrInvalidMetadata, got %v", err)
	}
}

func TestGetPoolsByCategory_LimitClamped(t *testing.T) {
	env := newTestEnv(t, 0)
	for i := 0; i < ledger.MaxPageSize+5; i++ {
		env.createPool(t, 2)
	}
	got, err := env.eng.GetPoolsByCategory(context.Background(), "sports", 0, 1000)
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if len(got) != ledger.MaxPageSize {
		t.Errorf("expected %d ids, got %d", ledger.MaxPageSize, len(got))
	}
}

func TestCancelPool(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	env.fund(t, "creator", d(300))
	env.fund(t, "alice", d(100))

	id, err := env.eng.CreatePool(ctx, ledger.CreatePoolParams{
		Creator: "creator", Token: tok, EndTime: t0.Add(time.Hour), OptionsCount: 2,
		InitialLiquidity: d(300),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	env.predict(t, "alice", id, d(100), 1)

	env.expectUnchanged(t, ledger.ErrUnauthorized, func() error {
		return env.eng.CancelPool(ctx, "mallory", id)
	})
	if err := env.eng.CancelPool(ctx, "creator", id); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := env.balance(t, "creator"); !got.Equal(d(300)) {
		t.Errorf("expected liquidity refunded to creator, balance %s", got)
	}

	env.expectUnchanged(t, ledger.ErrPoolCanceled, func() error {
		return env.eng.CancelPool(ctx, admin, id)
	})
	env.expectUnchanged(t, ledger.ErrPoolCanceled, func() error {
		_, err := env.eng.PlacePrediction(ctx, "alice", id, d(10), 2)
		return err
	})
	env.clock.Advance(2 * time.Hour)
	env.expectUnchanged(t, ledger.ErrPoolCanceled, func() error {
		return env.eng.ResolvePool(ctx, admin, id, 1)
	})

	res, err := env.eng.ClaimWinnings(ctx, "alice", id)
	if err != nil {
		t.Fatalf("claim refund: %v", err)
	}
	if !res.Refunded || !res.Amount.Equal(d(100)) {
		t.Errorf("expected refund of 100, got %+v", res)
	}
	if got := env.balance(t, "alice"); !got.Equal(d(100)) {
		t.Errorf("expected alice balance 100, got %s", got)
	}
	if got := env.balance(t, custody); !got.IsZero() {
		t.Errorf("expected empty custody, got %s", got)
	}
	if n := len(env.events.ofType(model.EventStakeRefunded)); n != 1 {
		t.Errorf("expected 1 refund event, got %d", n)
	}

	env.expectUnchanged(t, ledger.ErrAlreadyClaimed, func() error {
		_, err := env.eng.ClaimWinnings(ctx, "alice", id)
		return err
	})
}

func TestCancelPool_AdminAfterResolveFails(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	id := env.createPool(t, 2)
	env.clock.Advance(25 * time.Hour)
	if err := env.eng.ResolvePool(ctx, admin, id, 2); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	env.expectUnchanged(t, ledger.ErrPoolAlreadyResolved, func() error {
		return env.eng.CancelPool(ctx, admin, id)
	})
}

func TestMarkPoolReady(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	if err := env.eng.SetResolutionDelay(ctx, admin, time.Hour); err != nil {
		t.Fatalf("set delay: %v", err)
	}
	id := env.createPool(t, 2)

	env.clock.Advance(24 * time.Hour)
	if err := env.eng.MarkPoolReady(ctx, id); !errors.Is(err, ledger.ErrResolutionDelayNotMet) {
		t.Fatalf("expected ErrResolutionDelayNotMet, got %v", err)
	}
	env.clock.Advance(time.Hour)
	if err := env.eng.MarkPoolReady(ctx, id); err != nil {
		t.Fatalf("mark ready: %v", err)
	}
	if n := len(env.events.ofType(model.EventPoolReady)); n != 1 {
		t.Errorf("expected 1 ready event, got %d", n)
	}
}

func TestQuota_ReadBudgetAbortsCall(t *testing.T) {
	env := newBareEnv(t, ledger.Options{Budget: store.Budget{MaxReads: 6, MaxWrites: 25}})
	ctx := context.Background()
	if err := env.eng.Init(ctx, admin, treasury, 0, 0); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := env.eng.AddTokenToWhitelist(ctx, admin, tok); err != nil {
		t.Fatalf("whitelist: %v", err)
	}

	var err error
	env.expectUnchanged(t, store.ErrReadBudgetExceeded, func() error {
		_, err = env.eng.CreatePool(ctx, ledger.CreatePoolParams{
			Creator: "creator", Token: tok, EndTime: t0.Add(time.Hour), OptionsCount: 2,
		})
		return err
	})
	if ledger.Category(err) != ledger.CategoryResource {
		t.Errorf("expected resource category, got %q", ledger.Category(err))
	}
	if n, _ := env.eng.PoolCount(ctx); n != 0 {
		t.Errorf("expected no pool allocated, got %d", n)
	}
}

func TestQuota_WriteBudgetAbortsCall(t *testing.T) {
	env := newBareEnv(t, ledger.Options{Budget: store.Budget{MaxReads: 100, MaxWrites: 3}})
	ctx := context.Background()
	if err := env.eng.Init(ctx, admin, treasury, 0, 0); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := env.eng.AddTokenToWhitelist(ctx, admin, tok); err != nil {
		t.Fatalf("whitelist: %v", err)
	}

	env.expectUnchanged(t, store.ErrWriteBudgetExceeded, func() error {
		_, err := env.eng.CreatePool(ctx, ledger.CreatePoolParams{
			Creator: "creator", Token: tok, EndTime: t0.Add(time.Hour), OptionsCount: 2,
		})
		return err
	})
	if n := len(env.events.ofType(model.EventPoolCreated)); n != 0 {
		t.Errorf("expected no events from aborted call, got %d", n)
	}
}
