package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads the TOML file at path (skipped when path is empty) on top of
// Defaults, loads .env if present, and applies environment overrides. The
// result is not validated; call Validate after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Missing .env is fine.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides overwrites fields from LEDGER_* variables, then falls
// back to the conventional PORT, DATABASE_URL and REDIS_URL names.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.LogLevel, "LEDGER_LOG_LEVEL")

	// ── Server ──
	setInt(&cfg.Server.Port, "LEDGER_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "LEDGER_SERVER_CORS_ORIGINS")
	setDuration(&cfg.Server.RequestTimeout, "LEDGER_SERVER_REQUEST_TIMEOUT")
	setDuration(&cfg.Server.ShutdownTimeout, "LEDGER_SERVER_SHUTDOWN_TIMEOUT")
	setBool(&cfg.Server.DevMint, "LEDGER_SERVER_DEV_MINT")

	// ── Storage ──
	setStr(&cfg.Database.URL, "LEDGER_DATABASE_URL")
	setInt(&cfg.Database.MaxConns, "LEDGER_DATABASE_MAX_CONNS")
	setBool(&cfg.Database.RunMigrations, "LEDGER_DATABASE_RUN_MIGRATIONS")
	setStr(&cfg.Redis.URL, "LEDGER_REDIS_URL")
	setDuration(&cfg.Redis.CacheTTL, "LEDGER_REDIS_CACHE_TTL")

	// ── Ledger ──
	setStr(&cfg.Ledger.Admin, "LEDGER_ADMIN")
	setStr(&cfg.Ledger.Treasury, "LEDGER_TREASURY")
	setInt(&cfg.Ledger.FeeBps, "LEDGER_FEE_BPS")
	setDuration(&cfg.Ledger.ResolutionDelay, "LEDGER_RESOLUTION_DELAY")
	setStringSlice(&cfg.Ledger.Tokens, "LEDGER_TOKENS")
	setInt(&cfg.Ledger.MaxOptions, "LEDGER_MAX_OPTIONS")
	setDuration(&cfg.Ledger.MinPoolDuration, "LEDGER_MIN_POOL_DURATION")
	setInt64(&cfg.Ledger.MaxInitialLiquidity, "LEDGER_MAX_INITIAL_LIQUIDITY")
	setInt64(&cfg.Ledger.HighValueThreshold, "LEDGER_HIGH_VALUE_THRESHOLD")
	setInt(&cfg.Ledger.MaxReads, "LEDGER_MAX_READS")
	setInt(&cfg.Ledger.MaxWrites, "LEDGER_MAX_WRITES")
	setDuration(&cfg.Ledger.LifetimeThreshold, "LEDGER_LIFETIME_THRESHOLD")
	setDuration(&cfg.Ledger.LifetimeExtendTo, "LEDGER_LIFETIME_EXTEND_TO")
	setStr(&cfg.Ledger.Custody, "LEDGER_CUSTODY")
	setDuration(&cfg.Ledger.RenewInterval, "LEDGER_RENEW_INTERVAL")

	// ── Platform fallbacks ──
	if os.Getenv("LEDGER_SERVER_PORT") == "" {
		setInt(&cfg.Server.Port, "PORT")
	}
	if cfg.Database.URL == "" {
		setStr(&cfg.Database.URL, "DATABASE_URL")
	}
	if cfg.Redis.URL == "" {
		setStr(&cfg.Redis.URL, "REDIS_URL")
	}
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the variable is
// present, non-empty and parses.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
