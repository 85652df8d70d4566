package redis

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/muzlik-gm/Portfolio-sub000/internal/adapter/metrics"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unreachableClient points at a port nothing listens on, so every command
// fails fast with a dial error.
func unreachableClient(t *testing.T) *goredis.Client {
	t.Helper()
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func newTestCache(t *testing.T, rdb goredis.Cmdable, cfg CacheConfig) *Cache {
	t.Helper()
	c := NewCache(rdb, cfg, metrics.NewCacheMetrics(prometheus.NewRegistry()))
	t.Cleanup(c.Close)
	return c
}

func TestCache_RedisDown_ReadsMiss(t *testing.T) {
	c := newTestCache(t, unreachableClient(t), CacheConfig{})

	value, ok := c.Get(context.Background(), "missing")
	assert.False(t, ok)
	assert.Nil(t, value)
}

func TestCache_RedisDown_ServesFromMemory(t *testing.T) {
	c := newTestCache(t, unreachableClient(t), CacheConfig{})
	ctx := context.Background()

	err := c.Set(ctx, "stats", []byte(`{"n":1}`), time.Minute)
	require.Error(t, err)

	value, ok := c.Get(ctx, "stats")
	require.True(t, ok)
	assert.Equal(t, []byte(`{"n":1}`), value)

	require.Error(t, c.Delete(ctx, "stats"))
	_, ok = c.Get(ctx, "stats")
	assert.False(t, ok)
}

func TestCache_DegradesAfterConsecutiveFailures(t *testing.T) {
	c := newTestCache(t, unreachableClient(t), CacheConfig{FailureThreshold: 3, OpenTimeout: time.Hour})
	ctx := context.Background()

	assert.False(t, c.Degraded())
	for range 3 {
		c.Get(ctx, "k")
	}
	assert.True(t, c.Degraded())

	// Open breaker: reads still answer from memory without touching Redis.
	_ = c.Set(ctx, "k", []byte("v"), 0)
	value, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), value)
}

func TestCache_GetOrLoad_CollapsesConcurrentLoads(t *testing.T) {
	c := newTestCache(t, unreachableClient(t), CacheConfig{FailureThreshold: 1, OpenTimeout: time.Hour})
	ctx := context.Background()

	var calls atomic.Int32
	release := make(chan struct{})
	load := func(context.Context) ([]byte, error) {
		calls.Add(1)
		<-release
		return []byte("loaded"), nil
	}

	var wg sync.WaitGroup
	results := make([][]byte, 10)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.GetOrLoad(ctx, "shared", time.Minute, load)
			assert.NoError(t, err)
			results[i] = v
		}()
	}

	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, []byte("loaded"), r)
	}
}

func TestCache_GetOrLoad_ReturnsLoadError(t *testing.T) {
	c := newTestCache(t, unreachableClient(t), CacheConfig{})
	boom := errors.New("boom")

	_, err := c.GetOrLoad(context.Background(), "k", 0, func(context.Context) ([]byte, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	_, ok := c.Get(context.Background(), "k")
	assert.False(t, ok)
}

func TestGetOrLoadJSON(t *testing.T) {
	c := newTestCache(t, unreachableClient(t), CacheConfig{})
	ctx := context.Background()

	type stats struct {
		Connections int `json:"connections"`
	}

	var calls int
	load := func(context.Context) (stats, error) {
		calls++
		return stats{Connections: 7}, nil
	}

	got, err := GetOrLoadJSON(ctx, c, "stats", time.Minute, load)
	require.NoError(t, err)
	assert.Equal(t, 7, got.Connections)

	got, err = GetOrLoadJSON(ctx, c, "stats", time.Minute, load)
	require.NoError(t, err)
	assert.Equal(t, 7, got.Connections)
	assert.Equal(t, 1, calls)
}

func TestCacheConfig_Defaults(t *testing.T) {
	cfg := CacheConfig{Prefix: "x"}.withDefaults()
	d := DefaultCacheConfig()

	assert.Equal(t, "x", cfg.Prefix)
	assert.Equal(t, d.DefaultTTL, cfg.DefaultTTL)
	assert.Equal(t, d.OpTimeout, cfg.OpTimeout)
	assert.Equal(t, d.LocalTTL, cfg.LocalTTL)
	assert.Equal(t, d.FailureThreshold, cfg.FailureThreshold)
}

func TestCache_Integration_RoundTrip(t *testing.T) {
	rdb := setupTestClient(t)
	c := newTestCache(t, rdb, CacheConfig{Prefix: "test"})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "greeting", []byte("hello"), time.Minute))

	raw, err := rdb.Get(ctx, "test:greeting").Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), raw)

	value, ok := c.Get(ctx, "greeting")
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), value)

	ttl, err := rdb.TTL(ctx, "test:greeting").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 50*time.Second)

	require.NoError(t, c.Delete(ctx, "greeting"))
	_, ok = c.Get(ctx, "greeting")
	assert.False(t, ok)
	assert.False(t, c.Degraded())
}

func TestCache_Integration_SeesWritesFromOtherNodes(t *testing.T) {
	rdb := setupTestClient(t)
	c := newTestCache(t, rdb, CacheConfig{Prefix: "test"})
	ctx := context.Background()

	require.NoError(t, rdb.Set(ctx, "test:revoked:jti-1", "1", time.Minute).Err())

	_, ok := c.Get(ctx, "revoked:jti-1")
	assert.True(t, ok)
}
