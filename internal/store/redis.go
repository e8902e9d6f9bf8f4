package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Updates go to the primary store and invalidate every key they
// wrote once the primary has committed; View reads check Redis first then
// fall back to the primary.
//
// Reads inside Update always go to the primary so a call never acts on a
// stale cached value.
//
// Every invalidation also bumps a generation counter in Redis. A View
// records the generation before it reads the primary and only fills the
// cache if the generation is still the same under WATCH, so a value read
// before a concurrent commit is never written back after its invalidation.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	var touched []string
	err := s.primary.Update(ctx, func(tx Tx) error {
		rt := &recordingTx{Tx: tx, seen: make(map[string]struct{})}
		if err := fn(rt); err != nil {
			return err
		}
		touched = rt.keys
		return nil
	})
	if err != nil {
		return err
	}
	if len(touched) > 0 {
		cacheKeys := make([]string, len(touched))
		for i, k := range touched {
			cacheKeys[i] = cacheKey(k)
		}
		// Invalidate; next read will re-populate.
		_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Incr(ctx, generationKey)
			pipe.Del(ctx, cacheKeys...)
			return nil
		})
		if err != nil {
			slog.Warn("cache invalidation failed", "keys", len(cacheKeys), "err", err)
		}
	}
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) View(ctx context.Context, fn func(tx Tx) error) error {
	gen, err := s.generation(ctx, s.rdb)
	fill := err == nil
	return s.primary.View(ctx, func(tx Tx) error {
		return fn(&cachedTx{Tx: tx, ctx: ctx, s: s, gen: gen, fill: fill})
	})
}

// generation returns the invalidation counter. Absent reads as zero.
func (s *CachedStore) generation(ctx context.Context, c redis.Cmdable) (int64, error) {
	gen, err := c.Get(ctx, generationKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// recordingTx remembers every key a call mutated.
type recordingTx struct {
	Tx
	seen map[string]struct{}
	keys []string
}

func (r *recordingTx) note(key Key) {
	k := key.String()
	if _, ok := r.seen[k]; ok {
		return
	}
	r.seen[k] = struct{}{}
	r.keys = append(r.keys, k)
}

func (r *recordingTx) Put(key Key, value any) error {
	if err := r.Tx.Put(key, value); err != nil {
		return err
	}
	r.note(key)
	return nil
}

func (r *recordingTx) Delete(key Key) error {
	if err := r.Tx.Delete(key); err != nil {
		return err
	}
	r.note(key)
	return nil
}

// cachedTx serves Get from Redis when possible. gen is the generation
// observed before the primary was read.
type cachedTx struct {
	Tx
	ctx  context.Context
	s    *CachedStore
	gen  int64
	fill bool
}

func (c *cachedTx) Get(key Key, dst any) (bool, error) {
	ck := cacheKey(key.String())

	// Try cache.
	data, err := c.s.rdb.Get(c.ctx, ck).Bytes()
	if err == nil && json.Unmarshal(data, dst) == nil {
		return true, nil
	}

	// Cache miss: read from primary.
	ok, err := c.Tx.Get(key, dst)
	if err != nil || !ok {
		return ok, err
	}
	if data, err := json.Marshal(dst); err == nil {
		c.populate(ck, data)
	}
	return true, nil
}

var errStaleFill = errors.New("store: cache generation moved")

// populate caches data unless a commit invalidated the cache since this
// View started.
func (c *cachedTx) populate(ck string, data []byte) {
	if !c.fill {
		return
	}
	err := c.s.rdb.Watch(c.ctx, func(rtx *redis.Tx) error {
		gen, err := c.s.generation(c.ctx, rtx)
		if err != nil {
			return err
		}
		if gen != c.gen {
			return errStaleFill
		}
		_, err = rtx.TxPipelined(c.ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(c.ctx, ck, data, c.s.ttl)
			return nil
		})
		return err
	}, generationKey)
	if err != nil {
		// A later View will fill the key.
		c.fill = false
	}
}

// --- Cache helpers ---

// generationKey counts committed invalidations.
const generationKey = "ledger_cache_generation"

func cacheKey(k string) string { return fmt.Sprintf("ledger:%s", k) }
