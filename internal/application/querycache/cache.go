// Package querycache is the shared cache for per-user read queries.
// Entries are keyed "user:<id>:<query>" so a user's entries share a prefix.
package querycache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog/log"

	"welfare/internal/adapters/http/perf"
)

// Defaults used when Options leave them unset.
const (
	DefaultSize = 1024
	DefaultTTL  = time.Minute
)

type entry struct {
	value     any
	stale     bool
	fetchedAt time.Time
}

// Options configures a Cache.
type Options struct {
	Size    int
	TTL     time.Duration
	Retries int // extra attempts after a failed fetch; 0 selects 1
	Metrics *perf.Metrics
	Now     func() time.Time
}

// Cache is an LRU-bounded query cache with explicit invalidation.
// Safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	lru     *lru.Cache
	ttl     time.Duration
	retries int
	metrics *perf.Metrics
	now     func() time.Time
}

// New creates a cache.
// PRE: opts.Size >= 0
// POST: Returns an empty cache
func New(opts Options) (*Cache, error) {
	if opts.Size <= 0 {
		opts.Size = DefaultSize
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Retries <= 0 {
		opts.Retries = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	l, err := lru.New(opts.Size)
	if err != nil {
		return nil, fmt.Errorf("query cache: %w", err)
	}
	return &Cache{lru: l, ttl: opts.TTL, retries: opts.Retries, metrics: opts.Metrics, now: opts.Now}, nil
}

// UserKey builds the cache key of a user-scoped query.
func UserKey(userID, query string) string {
	return UserPrefix(userID) + query
}

// UserPrefix is the key prefix shared by every query of a user.
func UserPrefix(userID string) string {
	return "user:" + userID + ":"
}

// Fetch returns the cached value of key when fresh, otherwise runs fn, retrying
// once on error, and caches a successful result.
// PRE: fn is safe to call more than once
// POST: A fresh value is cached on success; the cache is unchanged on failure
func Fetch[T any](ctx context.Context, c *Cache, key string, fn func(context.Context) (T, error)) (T, error) {
	if v, ok := c.lookup(key); ok {
		if typed, ok := v.(T); ok {
			return typed, nil
		}
	}

	var (
		val T
		err error
	)
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			if ctx.Err() != nil {
				break
			}
			log.Debug().Str("key", key).Int("attempt", attempt).Err(err).Msg("query_retry")
		}
		if val, err = fn(ctx); err == nil {
			break
		}
	}
	if err != nil {
		var zero T
		return zero, err
	}

	c.mu.Lock()
	c.lru.Add(key, entry{value: val, fetchedAt: c.now()})
	c.mu.Unlock()
	return val, nil
}

func (c *Cache) lookup(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.lru.Get(key)
	if !ok {
		c.metrics.CacheLookup(perf.CacheMiss)
		return nil, false
	}
	e := raw.(entry)
	if e.stale || c.now().Sub(e.fetchedAt) >= c.ttl {
		c.metrics.CacheLookup(perf.CacheStale)
		return nil, false
	}
	c.metrics.CacheLookup(perf.CacheHit)
	return e.value, true
}

// Invalidate marks every entry whose key starts with prefix stale, so the
// next Fetch re-runs its query.
// POST: Returns the number of entries marked
func (c *Cache) Invalidate(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, k := range c.keysLocked(prefix) {
		raw, ok := c.lru.Peek(k)
		if !ok {
			continue
		}
		e := raw.(entry)
		e.stale = true
		c.lru.Add(k, e)
		n++
	}
	return n
}

// InvalidateAll marks every entry stale.
func (c *Cache) InvalidateAll() int {
	return c.Invalidate("")
}

// Reset drops every entry whose key starts with prefix.
// POST: Returns the number of entries removed
func (c *Cache) Reset(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := c.keysLocked(prefix)
	for _, k := range keys {
		c.lru.Remove(k)
	}
	return len(keys)
}

// ResetAll empties the cache.
func (c *Cache) ResetAll() {
	c.mu.Lock()
	c.lru.Purge()
	c.mu.Unlock()
}

// Len returns the number of entries, stale ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *Cache) keysLocked(prefix string) []string {
	var keys []string
	for _, k := range c.lru.Keys() {
		if s, ok := k.(string); ok && strings.HasPrefix(s, prefix) {
			keys = append(keys, s)
		}
	}
	return keys
}
