// Package cache memoizes match results in Redis. Concurrent misses for the
// same key are collapsed into one computation with singleflight.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/internal/matcher"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/pkg/redis"
	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"
)

const keyPrefix = "match:"

// Store is the key-value surface the cache needs; *redis.Client implements
// it. A missing key must be reported with an error redis.IsNilError accepts.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

type MatchCache struct {
	store       Store
	fingerprint string
	ttl    time.Duration
	group  singleflight.Group
	logger *slog.Logger
	hits   atomic.Int64
	misses atomic.Int64
	// OnHit and OnMiss, when set, are called alongside the internal counters.
	OnHit  func()
	OnMiss func()
}

// New builds a cache for results computed against the forest identified by
// fingerprint (see Fingerprint). Entries written for another forest are never
// read back.
func New(store Store, fingerprint string, ttl time.Duration) *MatchCache {
	return &MatchCache{
		store:       store,
		fingerprint: fingerprint,
		ttl:    ttl,
		logger: slog.Default().With("component", "match-cache"),
	}
}

func (c *MatchCache) get(ctx context.Context, key string) ([]matcher.Match[string], bool) {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		return nil, false
	}
	var result []matcher.Match[string]
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		return nil, false
	}
	return result, true
}

func (c *MatchCache) set(ctx context.Context, key string, result []matcher.Match[string]) {
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.store.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached matches for (items, allowed) or runs
// compute and caches its result. The bool reports a cache hit. Cache errors
// only degrade to a miss; compute errors are returned and nothing is cached.
func (c *MatchCache) GetOrCompute(
	ctx context.Context,
	items []string,
	allowed int,
	compute func() ([]matcher.Match[string], error),
) ([]matcher.Match[string], bool, error) {
	key := Key(c.fingerprint, items, allowed)
	if result, ok := c.get(ctx, key); ok {
		c.hit()
		return result, true, nil
	}
	c.miss()
	val, err, _ := c.group.Do(key, func() (any, error) {
		if result, ok := c.get(ctx, key); ok {
			return result, nil
		}
		result, err := compute()
		if err != nil {
			return nil, err
		}
		c.set(ctx, key, result)
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.([]matcher.Match[string]), false, nil
}

func (c *MatchCache) Invalidate(ctx context.Context) (int64, error) {
	deleted, err := c.store.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return deleted, fmt.Errorf("invalidating match cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return deleted, nil
}

func (c *MatchCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *MatchCache) hit() {
	c.hits.Add(1)
	if c.OnHit != nil {
		c.OnHit()
	}
}

func (c *MatchCache) miss() {
	c.misses.Add(1)
	if c.OnMiss != nil {
		c.OnMiss()
	}
}

// Key is "match:<fingerprint>:<hash>", where the hash covers the allowance
// and the normalized transaction. Item order and duplicates do not change it.
func Key(fingerprint string, items []string, allowed int) string {
	h := xxhash.New()
	h.WriteString(strconv.Itoa(allowed))
	for _, item := range matcher.Normalize(matcher.Ordered[string](), items) {
		h.Write([]byte{0})
		h.WriteString(item)
	}
	return keyPrefix + fingerprint + ":" + strconv.FormatUint(h.Sum64(), 16)
}

// Fingerprint identifies the contents of f: two forests share a fingerprint
// only if they index the same item sets.
func Fingerprint(f *matcher.Forest[string]) string {
	h := xxhash.New()
	f.Walk(func(items []string) bool {
		for _, item := range items {
			h.WriteString(item)
			h.Write([]byte{0})
		}
		h.Write([]byte{1})
		return true
	})
	return strconv.FormatUint(h.Sum64(), 16)
}
