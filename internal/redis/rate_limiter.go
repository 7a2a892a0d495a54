package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter bounds how often a requester may trigger task creation.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Limit() int
}

// slidingWindowLimiter counts events per key in a Redis sorted set scored
// by nanosecond timestamp, trimming everything older than the window.
type slidingWindowLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

// NewRateLimiter returns a limiter allowing at most limit events per
// window for each key.
func NewRateLimiter(client *redis.Client, limit int, window time.Duration) RateLimiter {
	return &slidingWindowLimiter{client: client, limit: limit, window: window}
}

func (r *slidingWindowLimiter) Limit() int { return r.limit }

func rateKey(key string) string { return "ratelimit:" + key }

// Allow records the event and reports whether the key is still under its
// per-window budget.
func (r *slidingWindowLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := time.Now().UnixNano()
	cutoff := strconv.FormatInt(now-r.window.Nanoseconds(), 10)
	stamp := strconv.FormatInt(now, 10)
	rkey := rateKey(key)

	pipe := r.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, rkey, "0", cutoff)
	pipe.ZAdd(ctx, rkey, redis.Z{Score: float64(now), Member: stamp})
	count := pipe.ZCard(ctx, rkey)
	pipe.Expire(ctx, rkey, r.window*2)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limiter pipeline for %q: %w", key, err)
	}
	return count.Val() <= int64(r.limit), nil
}
