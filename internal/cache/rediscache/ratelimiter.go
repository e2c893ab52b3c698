package rediscache

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RateLimiter is a fixed-window counter shared by every process calling a marketplace.
type RateLimiter struct {
	c *redis.Client
}

func NewRateLimiterWithClient(c *redis.Client) *RateLimiter {
	return &RateLimiter{c: c}
}

// MinuteKey is the per-minute counter key for a marketplace, e.g.
// rl:marketplace:mercadolibre:202506011504.
func MinuteKey(service string, now time.Time) string {
	return fmt.Sprintf("rl:marketplace:%s:%s", service, now.UTC().Format("200601021504"))
}

// Allow increments key and refreshes its TTL in one transaction.
// Returns whether the count is still within limit, and the count.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	pipe := rl.c.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, errors.Wrap(err, "redis ratelimit")
	}
	n := incr.Val()
	return n <= limit, n, nil
}
