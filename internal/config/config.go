// Package config loads server configuration from a TOML file, an optional
// .env file, and LEDGER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/predifi/pool-ledger/internal/ledger"
	"github.com/predifi/pool-ledger/internal/store"
)

// Config is the full server configuration.
type Config struct {
	LogLevel string         `toml:"log_level"`
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	Ledger   LedgerConfig   `toml:"ledger"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	RequestTimeout  duration `toml:"request_timeout"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
	// DevMint exposes POST /api/v1/dev/mint for funding test accounts.
	DevMint bool `toml:"dev_mint"`
}

// DatabaseConfig selects the PostgreSQL backend. An empty URL means the
// in-memory store.
type DatabaseConfig struct {
	URL           string `toml:"url"`
	MaxConns      int    `toml:"max_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig enables the read-through cache in front of PostgreSQL.
type RedisConfig struct {
	URL      string   `toml:"url"`
	CacheTTL duration `toml:"cache_ttl"`
}

// LedgerConfig holds engine tuning and first-run bootstrap values.
type LedgerConfig struct {
	// Bootstrap: when Admin is set and the ledger is uninitialized, the
	// server initializes it and whitelists Tokens on startup.
	Admin           string   `toml:"admin"`
	Treasury        string   `toml:"treasury"`
	FeeBps          int      `toml:"fee_bps"`
	ResolutionDelay duration `toml:"resolution_delay"`
	Tokens          []string `toml:"tokens"`

	MaxOptions          int      `toml:"max_options"`
	MinPoolDuration     duration `toml:"min_pool_duration"`
	MaxInitialLiquidity int64    `toml:"max_initial_liquidity"`
	HighValueThreshold  int64    `toml:"high_value_threshold"`
	MaxReads            int      `toml:"max_reads"`
	MaxWrites           int      `toml:"max_writes"`
	LifetimeThreshold   duration `toml:"lifetime_threshold"`
	LifetimeExtendTo    duration `toml:"lifetime_extend_to"`
	Custody             string   `toml:"custody"`
	RenewInterval       duration `toml:"renew_interval"`
}

// duration is a wrapper around time.Duration that decodes TOML strings
// such as "5m" or "336h".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with the reference values.
func Defaults() Config {
	opts := ledger.DefaultOptions()
	return Config{
		LogLevel: "info",
		Server: ServerConfig{
			Port:            8080,
			CORSOrigins:     []string{"*"},
			RequestTimeout:  duration{30 * time.Second},
			ShutdownTimeout: duration{5 * time.Second},
		},
		Database: DatabaseConfig{
			MaxConns:      10,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			CacheTTL: duration{30 * time.Second},
		},
		Ledger: LedgerConfig{
			Tokens:              []string{},
			MaxOptions:          int(opts.MaxOptions),
			MaxInitialLiquidity: opts.MaxInitialLiquidity.IntPart(),
			HighValueThreshold:  opts.HighValueThreshold.IntPart(),
			MaxReads:            opts.Budget.MaxReads,
			MaxWrites:           opts.Budget.MaxWrites,
			LifetimeThreshold:   duration{opts.LifetimeThreshold},
			LifetimeExtendTo:    duration{opts.LifetimeExtendTo},
			Custody:             opts.Custody,
			RenewInterval:       duration{time.Hour},
		},
	}
}

var validLogLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// Validate checks Config for invalid values and returns a combined error
// describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if _, ok := validLogLevels[strings.ToLower(c.LogLevel)]; !ok {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be in 1..65535, got %d", c.Server.Port))
	}
	if c.Server.RequestTimeout.Duration <= 0 {
		errs = append(errs, "server: request_timeout must be positive")
	}
	if c.Server.ShutdownTimeout.Duration <= 0 {
		errs = append(errs, "server: shutdown_timeout must be positive")
	}

	if c.Redis.URL != "" && c.Database.URL == "" {
		errs = append(errs, "redis: url requires database.url (the cache fronts PostgreSQL)")
	}

	l := c.Ledger
	if l.Admin != "" && l.Treasury == "" {
		errs = append(errs, "ledger: treasury is required when admin is set")
	}
	if l.FeeBps < 0 || l.FeeBps > 10_000 {
		errs = append(errs, fmt.Sprintf("ledger: fee_bps must be in 0..10000, got %d", l.FeeBps))
	}
	if l.ResolutionDelay.Duration < 0 {
		errs = append(errs, "ledger: resolution_delay must not be negative")
	}
	if l.MaxOptions < 1 || l.MaxOptions > ledger.MaxOptionsLimit {
		errs = append(errs, fmt.Sprintf("ledger: max_options must be in 1..%d, got %d", ledger.MaxOptionsLimit, l.MaxOptions))
	}
	if l.MinPoolDuration.Duration < 0 {
		errs = append(errs, "ledger: min_pool_duration must not be negative")
	}
	if l.MaxInitialLiquidity <= 0 {
		errs = append(errs, "ledger: max_initial_liquidity must be positive")
	}
	if l.HighValueThreshold <= 0 {
		errs = append(errs, "ledger: high_value_threshold must be positive")
	}
	// A full page of user predictions reads three entries per item plus
	// the count.
	if l.MaxReads < 3*ledger.MaxPageSize+1 {
		errs = append(errs, fmt.Sprintf("ledger: max_reads must be at least %d", 3*ledger.MaxPageSize+1))
	}
	if l.MaxWrites < 10 {
		errs = append(errs, "ledger: max_writes must be at least 10")
	}
	if l.LifetimeThreshold.Duration <= 0 || l.LifetimeExtendTo.Duration < l.LifetimeThreshold.Duration {
		errs = append(errs, "ledger: lifetime_extend_to must be at least lifetime_threshold, both positive")
	}
	if l.RenewInterval.Duration <= 0 {
		errs = append(errs, "ledger: renew_interval must be positive")
	}

	if len(errs) > 0 {
		return errors.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

// SlogLevel returns the configured log level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	if lvl, ok := validLogLevels[strings.ToLower(c.LogLevel)]; ok {
		return lvl
	}
	return slog.LevelInfo
}

// LedgerOptions converts the ledger section into engine options.
func (c *Config) LedgerOptions() ledger.Options {
	l := c.Ledger
	return ledger.Options{
		MaxOptions:          uint32(l.MaxOptions),
		MinPoolDuration:     l.MinPoolDuration.Duration,
		MaxInitialLiquidity: decimal.NewFromInt(l.MaxInitialLiquidity),
		HighValueThreshold:  decimal.NewFromInt(l.HighValueThreshold),
		Budget:              store.Budget{MaxReads: l.MaxReads, MaxWrites: l.MaxWrites},
		LifetimeThreshold:   l.LifetimeThreshold.Duration,
		LifetimeExtendTo:    l.LifetimeExtendTo.Duration,
		Custody:             l.Custody,
	}
}
