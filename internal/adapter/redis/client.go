// Package redis holds the Redis-backed pieces of the service: the cross-node
// event relay and the degradable cache.
package redis

import (
	"context"
	"fmt"

	"github.com/muzlik-gm/Portfolio-sub000/internal/adapter/metrics"
	goredis "github.com/redis/go-redis/v9"
)

// NewClient parses url, installs the metrics and circuit-breaker hooks and
// verifies the connection.
func NewClient(ctx context.Context, url string, redisMetrics *metrics.RedisMetrics) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	rdb := goredis.NewClient(opts)
	rdb.AddHook(&metricsHook{metrics: redisMetrics})
	rdb.AddHook(newCircuitBreakerHook(redisMetrics))

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}
