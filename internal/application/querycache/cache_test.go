package querycache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"welfare/internal/adapters/http/perf"
	"welfare/internal/application/querycache"
)

func newCache(t *testing.T, opts querycache.Options) *querycache.Cache {
	t.Helper()
	c, err := querycache.New(opts)
	require.NoError(t, err)
	return c
}

func counter(calls *atomic.Int32, val string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) {
		calls.Add(1)
		return val, nil
	}
}

func TestFetch_CachesFreshValue(t *testing.T) {
	ctx := context.Background()
	c := newCache(t, querycache.Options{})
	var calls atomic.Int32
	key := querycache.UserKey("u1", "memberProfile")

	for range 3 {
		v, err := querycache.Fetch(ctx, c, key, counter(&calls, "profile"))
		require.NoError(t, err)
		assert.Equal(t, "profile", v)
	}
	assert.EqualValues(t, 1, calls.Load())
}

func TestFetch_InvalidateReissuesQuery(t *testing.T) {
	ctx := context.Background()
	c := newCache(t, querycache.Options{})
	var calls atomic.Int32
	key := querycache.UserKey("u1", "memberProfile")

	_, err := querycache.Fetch(ctx, c, key, counter(&calls, "v1"))
	require.NoError(t, err)

	assert.Equal(t, 1, c.Invalidate(querycache.UserPrefix("u1")))
	v, err := querycache.Fetch(ctx, c, key, counter(&calls, "v2"))
	require.NoError(t, err)
	assert.Equal(t, "v2", v)
	assert.EqualValues(t, 2, calls.Load())

	c.InvalidateAll()
	_, err = querycache.Fetch(ctx, c, key, counter(&calls, "v3"))
	require.NoError(t, err)
	assert.EqualValues(t, 3, calls.Load())
}

func TestFetch_RetriesOnce(t *testing.T) {
	ctx := context.Background()
	c := newCache(t, querycache.Options{})
	boom := errors.New("boom")

	var calls atomic.Int32
	v, err := querycache.Fetch(ctx, c, "k", func(context.Context) (int, error) {
		if calls.Add(1) == 1 {
			return 0, boom
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.EqualValues(t, 2, calls.Load())

	calls.Store(0)
	_, err = querycache.Fetch(ctx, c, "always-fails", func(context.Context) (int, error) {
		calls.Add(1)
		return 0, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.EqualValues(t, 2, calls.Load(), "one try plus one retry")
	assert.Equal(t, 1, c.Len(), "failures are not cached")
}

func TestFetch_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	c := newCache(t, querycache.Options{TTL: time.Minute, Now: clock})
	var calls atomic.Int32

	_, _ = querycache.Fetch(ctx, c, "k", counter(&calls, "a"))
	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()
	_, _ = querycache.Fetch(ctx, c, "k", counter(&calls, "a"))
	assert.EqualValues(t, 2, calls.Load())
}

func TestReset_ScopedToPrefix(t *testing.T) {
	ctx := context.Background()
	c := newCache(t, querycache.Options{})
	var calls atomic.Int32
	for _, k := range []string{
		querycache.UserKey("u1", "memberProfile"),
		querycache.UserKey("u1", "roles"),
		querycache.UserKey("u2", "memberProfile"),
	} {
		_, err := querycache.Fetch(ctx, c, k, counter(&calls, "x"))
		require.NoError(t, err)
	}

	assert.Equal(t, 2, c.Reset(querycache.UserPrefix("u1")))
	assert.Equal(t, 1, c.Len())

	c.ResetAll()
	assert.Zero(t, c.Len())
}

func TestFetch_Metrics(t *testing.T) {
	ctx := context.Background()
	m := perf.NewMetrics()
	c := newCache(t, querycache.Options{Metrics: m})
	var calls atomic.Int32

	_, _ = querycache.Fetch(ctx, c, "k", counter(&calls, "x"))
	_, _ = querycache.Fetch(ctx, c, "k", counter(&calls, "x"))
	c.Invalidate("k")
	_, _ = querycache.Fetch(ctx, c, "k", counter(&calls, "x"))

	count, err := testutil.GatherAndCount(m.Registry(), "welfare_query_cache_lookups_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count, "one series per result label")
}

func TestCache_ConcurrentUse(t *testing.T) {
	ctx := context.Background()
	c := newCache(t, querycache.Options{Size: 8})
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := querycache.UserKey(string(rune('a'+i%4)), "q")
			_, _ = querycache.Fetch(ctx, c, key, func(context.Context) (int, error) { return i, nil })
			c.Invalidate(querycache.UserPrefix("a"))
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 8)
}
