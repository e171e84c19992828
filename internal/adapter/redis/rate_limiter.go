package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/LAAOUAFIFATIHA/taskstream/internal/adapter/metrics"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
)

const rateLimitKeyPrefix = "rate_limit:"

// tokenBucketScript atomically refills a bucket for the time elapsed since
// its last use, then tries to take one token.
// KEYS: [1]=bucket. ARGV: [1]=now_ms, [2]=capacity, [3]=tokens per minute.
// Returns 1 when a token was taken, 0 when the bucket is empty.
var tokenBucketScript = goredis.NewScript(`
local now = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local per_minute = tonumber(ARGV[3])
local state = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(state[1]) or capacity
local ts = tonumber(state[2]) or now
if now > ts then
  tokens = math.min(capacity, tokens + (now - ts) * per_minute / 60000)
  ts = now
end
local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end
redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'ts', tostring(ts))
redis.call('PEXPIRE', KEYS[1], math.ceil(capacity * 60000 / per_minute) + 1000)
return allowed
`)

// RateLimiter is a token bucket per key shared by every server instance.
type RateLimiter struct {
	rdb       goredis.Scripter
	clock     clockwork.Clock
	capacity  int
	perMinute int
	metrics   *metrics.RedisMetrics
}

// NewRateLimiter allows bursts of capacity and a sustained perMinute rate per key. m may be nil.
func NewRateLimiter(rdb goredis.Scripter, clock clockwork.Clock, capacity, perMinute int, m *metrics.RedisMetrics) *RateLimiter {
	return &RateLimiter{
		rdb:       rdb,
		clock:     clock,
		capacity:  capacity,
		perMinute: perMinute,
		metrics:   m,
	}
}

// Allow takes a token for key. It reports false when the bucket is empty.
func (l *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	result, err := tokenBucketScript.Run(ctx, l.rdb, []string{rateLimitKeyPrefix + key},
		l.clock.Now().UnixMilli(),
		l.capacity,
		l.perMinute,
	).Int()
	if err != nil {
		l.record("error")
		return false, fmt.Errorf("rate limit check failed: %w", err)
	}

	if result == 1 {
		l.record("allowed")
		return true, nil
	}
	l.record("limited")
	return false, nil
}

// RetryAfter is the time until one token refills.
func (l *RateLimiter) RetryAfter() time.Duration {
	return time.Minute / time.Duration(l.perMinute)
}

func (l *RateLimiter) record(result string) {
	if l.metrics != nil {
		l.metrics.RateLimitDecisions.WithLabelValues(result).Inc()
	}
}
