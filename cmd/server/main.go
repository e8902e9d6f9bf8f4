package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/predifi/pool-ledger/internal/api"
	"github.com/predifi/pool-ledger/internal/config"
	"github.com/predifi/pool-ledger/internal/ledger"
	"github.com/predifi/pool-ledger/internal/metrics"
	"github.com/predifi/pool-ledger/internal/store"
	"github.com/predifi/pool-ledger/internal/token"
)

func main() {
	configPath := flag.String("config", os.Getenv("LEDGER_CONFIG"), "path to a TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	if err := run(cfg); err != nil {
		slog.Error("pool-ledger exited", "err", err)
		os.Exit(1)
	}
	fmt.Println("pool-ledger stopped")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	st, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	// --- Ledger engine ---
	tokens := token.NewLedger()
	wsHub := api.NewWSHub()
	eng := ledger.New(st, tokens, wsHub, cfg.LedgerOptions())

	if err := bootstrap(ctx, eng, cfg); err != nil {
		return err
	}

	svc := api.NewService(eng, token.NewAccounts(st, tokens), api.Options{
		Hub:     wsHub,
		DevMint: cfg.Server.DevMint,
	})
	if cfg.Server.DevMint {
		slog.Warn("dev mint enabled, any caller can fund accounts")
	}

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)
	r.Use(cors(cfg.Server.CORSOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"pool-ledger"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.Server.RequestTimeout.Duration))
		svc.Routes(r)
	})

	// --- Server ---
	addr := ":" + strconv.Itoa(cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.Server.RequestTimeout.Duration + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return wsHub.Run(gctx) })
	g.Go(func() error { return eng.RunRenewer(gctx, cfg.Ledger.RenewInterval.Duration) })
	g.Go(func() error {
		slog.Info("pool-ledger listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down pool-ledger...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// openStore picks the backend: PostgreSQL (optionally behind Redis) when a
// database URL is configured, otherwise memory.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	var cleanup []func()
	closeAll := func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}

	if cfg.Database.URL == "" {
		slog.Warn("database url not set, using in-memory store (data will not persist)")
		return store.NewMemoryStore(), closeAll, nil
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("database: parse url: %w", err)
	}
	if cfg.Database.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.Database.MaxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("database: connect: %w", err)
	}
	cleanup = append(cleanup, pool.Close)

	pg := store.NewPostgresStore(pool)
	if cfg.Database.RunMigrations {
		if err := pg.RunMigrations(ctx); err != nil {
			closeAll()
			return nil, nil, err
		}
	}
	slog.Info("connected to PostgreSQL", "max_conns", poolCfg.MaxConns)

	var st store.Store = pg
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("redis: parse url: %w", err)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, cfg.Redis.CacheTTL.Duration)
		slog.Info("Redis cache enabled", "ttl", cfg.Redis.CacheTTL.Duration)
	}
	return st, closeAll, nil
}

// bootstrap initializes a fresh ledger from the configured admin, then
// whitelists the configured tokens. Whitelisting runs on every start so a
// partial first run is completed later; on an already initialized ledger
// its failures are logged rather than fatal.
func bootstrap(ctx context.Context, eng *ledger.Engine, cfg *config.Config) error {
	l := cfg.Ledger
	if l.Admin == "" {
		return nil
	}
	fresh := true
	err := eng.Init(ctx, l.Admin, l.Treasury, uint32(l.FeeBps), l.ResolutionDelay.Duration)
	switch {
	case errors.Is(err, ledger.ErrAlreadyInitialized):
		fresh = false
		slog.Info("ledger already initialized, skipping init")
	case err != nil:
		return fmt.Errorf("bootstrap: %w", err)
	}

	for _, t := range l.Tokens {
		err := eng.AddTokenToWhitelist(ctx, l.Admin, t)
		if err == nil {
			continue
		}
		if fresh {
			return fmt.Errorf("bootstrap: whitelist %s: %w", t, err)
		}
		slog.Warn("bootstrap whitelist failed", "token", t, "admin", l.Admin, "err", err)
	}
	slog.Info("ledger bootstrapped", "admin", l.Admin, "tokens", len(l.Tokens), "fresh", fresh)
	return nil
}

// cors allows the configured origins. "*" allows any.
func cors(origins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case allowed["*"]:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case origin != "" && allowed[origin]:
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", strings.Join([]string{"Content-Type", "Authorization", api.CallerHeader}, ", "))
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
