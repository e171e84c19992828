// Package redis holds the Redis client and the distributed rate limiter of the
// public endpoints.
package redis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/LAAOUAFIFATIHA/taskstream/internal/adapter/metrics"
	goredis "github.com/redis/go-redis/v9"
)

// NewClient parses redisURL, installs the metrics and circuit breaker hooks
// and verifies the connection.
func NewClient(ctx context.Context, redisURL string, m *metrics.RedisMetrics, breaker *CircuitBreakerHook) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	rdb := goredis.NewClient(opts)
	if m != nil {
		rdb.AddHook(NewMetricsHook(m))
	}
	if breaker != nil {
		rdb.AddHook(breaker)
	}

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	slog.Info("Redis connected", "addr", opts.Addr, "db", opts.DB)
	return rdb, nil
}
