package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ledgerLockID is the advisory lock key that serializes ledger calls across
// every process sharing the database.
const ledgerLockID int64 = 0x5072656469666931

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Entries live in one key/value table; values are stored as the exact bytes
// the ledger encoded so a rolled-back call leaves them byte-identical.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = pgTx.Rollback(ctx) }()

	if _, err := pgTx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, ledgerLockID); err != nil {
		return fmt.Errorf("postgres: advisory lock: %w", err)
	}

	tx := newStagedTx(reader(ctx, pgTx), false)
	if err := fn(tx); err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, k := range tx.keys() {
		c := tx.changes[k]
		if c.deleted {
			batch.Queue(`DELETE FROM ledger_state WHERE key = $1`, k)
			continue
		}
		batch.Queue(
			`INSERT INTO ledger_state (key, value, live_until, updated_at)
			 VALUES ($1, $2, $3, NOW())
			 ON CONFLICT (key) DO UPDATE
			 SET value = EXCLUDED.value, live_until = EXCLUDED.live_until, updated_at = NOW()`,
			k, c.value, nullTime(c.liveUntil),
		)
	}
	if batch.Len() > 0 {
		if err := pgTx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("postgres: apply writes: %w", err)
		}
	}

	if err := pgTx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func (s *PostgresStore) View(ctx context.Context, fn func(tx Tx) error) error {
	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = pgTx.Rollback(ctx) }()

	return fn(newStagedTx(reader(ctx, pgTx), true))
}

func reader(ctx context.Context, q pgx.Tx) readFunc {
	return func(k string) (*Entry, error) {
		var e Entry
		var liveUntil *time.Time
		err := q.QueryRow(ctx,
			`SELECT value, live_until FROM ledger_state WHERE key = $1`, k).
			Scan(&e.Value, &liveUntil)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("postgres: get %s: %w", k, err)
		}
		if liveUntil != nil {
			e.LiveUntil = liveUntil.UTC()
		}
		return &e, nil
	}
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// RunMigrations reads embedded SQL files from the migrations/ directory,
// applies them in lexicographic order, and tracks applied migrations in a
// schema_migrations table.
func (s *PostgresStore) RunMigrations(ctx context.Context) error {
	const createTracker = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`
	if _, err := s.pool.Exec(ctx, createTracker); err != nil {
		return fmt.Errorf("postgres: create schema_migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("postgres: read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var exists bool
		err := s.pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE filename = $1)",
			entry.Name(),
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("postgres: check migration %s: %w", entry.Name(), err)
		}
		if exists {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("postgres: read migration %s: %w", entry.Name(), err)
		}

		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("postgres: begin tx for %s: %w", entry.Name(), err)
		}
		if _, err := tx.Exec(ctx, string(data)); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("postgres: exec migration %s: %w", entry.Name(), err)
		}
		if _, err := tx.Exec(ctx,
			"INSERT INTO schema_migrations (filename) VALUES ($1)", entry.Name(),
		); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("postgres: record migration %s: %w", entry.Name(), err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("postgres: commit migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}
