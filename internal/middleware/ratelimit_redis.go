package middleware

import (
	"context"
	"fmt"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter shares buckets between replicas through Redis using the
// GCRA implementation of redis_rate.
type RedisRateLimiter struct {
	client  *redis.Client
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
	prefix  string
}

// NewRedisRateLimiter connects to url (redis://host:port/db) and verifies the
// connection before returning.
func NewRedisRateLimiter(ctx context.Context, url string, cfg RateLimitConfig) (*RedisRateLimiter, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	limit := redis_rate.PerMinute(cfg.RequestsPerMinute)
	if cfg.BurstSize > 0 {
		limit.Burst = cfg.BurstSize
	}
	return &RedisRateLimiter{
		client:  client,
		limiter: redis_rate.NewLimiter(client),
		limit:   limit,
		prefix:  "apkr:ratelimit:",
	}, nil
}

// Take consumes one request for key.
func (l *RedisRateLimiter) Take(ctx context.Context, key string) (Decision, error) {
	res, err := l.limiter.Allow(ctx, l.prefix+key, l.limit)
	if err != nil {
		return Decision{}, err
	}
	return Decision{
		Allowed:    res.Allowed > 0,
		Remaining:  res.Remaining,
		RetryAfter: res.RetryAfter,
	}, nil
}

// Limit returns the sustained requests per minute.
func (l *RedisRateLimiter) Limit() int { return l.limit.Rate }

// Close releases the Redis connection pool.
func (l *RedisRateLimiter) Close() error { return l.client.Close() }
