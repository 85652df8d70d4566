package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/muzlik-gm/Portfolio-sub000/internal/adapter/metrics"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"
)

const (
	layerRedis  = "redis"
	layerMemory = "memory"
)

// CacheConfig tunes the cache. Zero fields take the defaults.
type CacheConfig struct {
	Prefix           string
	DefaultTTL       time.Duration
	OpTimeout        time.Duration
	LocalTTL         time.Duration
	LocalCapacity    uint64
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Prefix:           "portfolio_live",
		DefaultTTL:       5 * time.Minute,
		OpTimeout:        500 * time.Millisecond,
		LocalTTL:         time.Minute,
		LocalCapacity:    10_000,
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
	}
}

func (c CacheConfig) withDefaults() CacheConfig {
	d := DefaultCacheConfig()
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = d.DefaultTTL
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = d.OpTimeout
	}
	if c.LocalTTL <= 0 {
		c.LocalTTL = d.LocalTTL
	}
	if c.LocalCapacity == 0 {
		c.LocalCapacity = d.LocalCapacity
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = d.OpenTimeout
	}
	return c
}

// Cache is a Redis cache that keeps working when Redis does not. Reads fall
// back to an in-memory copy of recent values and report a miss rather than
// an error; after FailureThreshold consecutive failures Redis is skipped
// entirely until OpenTimeout has passed.
type Cache struct {
	rdb     goredis.Cmdable
	cfg     CacheConfig
	breaker *gobreaker.CircuitBreaker
	local   *ttlcache.Cache[string, []byte]
	group   singleflight.Group
	metrics *metrics.CacheMetrics
}

func NewCache(rdb goredis.Cmdable, cfg CacheConfig, cacheMetrics *metrics.CacheMetrics) *Cache {
	cfg = cfg.withDefaults()

	c := &Cache{
		rdb: rdb,
		cfg: cfg,
		local: ttlcache.New(
			ttlcache.WithTTL[string, []byte](cfg.LocalTTL),
			ttlcache.WithCapacity[string, []byte](cfg.LocalCapacity),
			ttlcache.WithDisableTouchOnHit[string, []byte](),
		),
		metrics: cacheMetrics,
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis-cache",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, goredis.Nil)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Cache breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			if to == gobreaker.StateClosed {
				cacheMetrics.Degraded.Set(0)
			} else {
				cacheMetrics.Degraded.Set(1)
			}
		},
	})

	go c.local.Start()
	return c
}

// Close stops the in-memory layer's expiry loop.
func (c *Cache) Close() {
	c.local.Stop()
}

// Degraded reports whether Redis is currently being skipped.
func (c *Cache) Degraded() bool {
	return c.breaker.State() != gobreaker.StateClosed
}

// Get returns the value for key. A Redis failure is reported as a miss
// unless the in-memory layer still holds the value.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	k := c.key(key)

	result, err := c.breaker.Execute(func() (any, error) {
		opCtx, cancel := context.WithTimeout(ctx, c.cfg.OpTimeout)
		defer cancel()
		return c.rdb.Get(opCtx, k).Bytes()
	})

	switch {
	case err == nil:
		value := result.([]byte)
		c.local.Set(k, value, ttlcache.DefaultTTL)
		c.metrics.Hits.WithLabelValues(layerRedis).Inc()
		return value, true
	case errors.Is(err, goredis.Nil):
		c.local.Delete(k)
		c.metrics.Misses.WithLabelValues(layerRedis).Inc()
		return nil, false
	}

	c.failed("get", key, err)
	if item := c.local.Get(k); item != nil {
		c.metrics.Hits.WithLabelValues(layerMemory).Inc()
		return item.Value(), true
	}
	c.metrics.Misses.WithLabelValues(layerMemory).Inc()
	return nil, false
}

// Set stores value under key. ttl <= 0 uses the default TTL. The in-memory
// layer is always updated; the returned error only reports the Redis write.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}
	k := c.key(key)
	c.local.Set(k, value, min(ttl, c.cfg.LocalTTL))

	_, err := c.breaker.Execute(func() (any, error) {
		opCtx, cancel := context.WithTimeout(ctx, c.cfg.OpTimeout)
		defer cancel()
		return nil, c.rdb.Set(opCtx, k, value, ttl).Err()
	})
	if err != nil {
		c.failed("set", key, err)
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	k := c.key(key)
	c.local.Delete(k)

	_, err := c.breaker.Execute(func() (any, error) {
		opCtx, cancel := context.WithTimeout(ctx, c.cfg.OpTimeout)
		defer cancel()
		return nil, c.rdb.Del(opCtx, k).Err()
	})
	if err != nil {
		c.failed("delete", key, err)
		return fmt.Errorf("cache delete %s: %w", key, err)
	}
	return nil
}

// GetOrLoad returns the cached value or calls load and caches its result.
// Concurrent callers for the same key share one load.
func (c *Cache) GetOrLoad(ctx context.Context, key string, ttl time.Duration, load func(context.Context) ([]byte, error)) ([]byte, error) {
	if value, ok := c.Get(ctx, key); ok {
		return value, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		value, err := load(ctx)
		if err != nil {
			return nil, err
		}
		// The value is still good even if Redis refused it.
		_ = c.Set(ctx, key, value, ttl)
		return value, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// GetOrLoadJSON is GetOrLoad for JSON-encoded values.
func GetOrLoadJSON[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	var out T
	raw, err := c.GetOrLoad(ctx, key, ttl, func(ctx context.Context) ([]byte, error) {
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return out, nil
}

func (c *Cache) key(key string) string {
	if c.cfg.Prefix == "" {
		return key
	}
	return c.cfg.Prefix + ":" + key
}

func (c *Cache) failed(op, key string, err error) {
	c.metrics.Errors.Inc()
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return
	}
	slog.Warn("Cache operation failed", "op", op, "key", key, "error", err)
}
