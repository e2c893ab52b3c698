package rediscache

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/OrderBox/internal/cache"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

var (
	_ cache.BytesCache  = (*RedisCache)(nil)
	_ cache.RateLimiter = (*RateLimiter)(nil)
)

func TestRedisCache_GetSetDelete(t *testing.T) {
	mr := miniredis.RunT(t)
	c := NewWithClient(NewClient(Options{Addr: mr.Addr()}))

	ctx := context.Background()
	_, ok, err := c.Get(ctx, "order:1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Set(ctx, "order:1", []byte(`{"id":"1"}`), time.Minute))

	b, ok, err := c.Get(ctx, "order:1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte(`{"id":"1"}`), b)
	require.True(t, mr.Exists("orderbox:order:1"))
	require.False(t, mr.Exists("order:1"))

	require.NoError(t, c.Delete(ctx, "order:1", "order:2"))
	_, ok, _ = c.Get(ctx, "order:1")
	require.False(t, ok)

	require.NoError(t, c.Ping(ctx))
}

func TestRedisCache_TTLExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	c := NewWithClient(NewClient(Options{Addr: mr.Addr()}))
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "ml:access_token", []byte("tok"), time.Minute))
	mr.FastForward(2 * time.Minute)

	_, ok, err := c.Get(ctx, "ml:access_token")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisCache_WithPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	client := NewClient(Options{Addr: mr.Addr()})
	ctx := context.Background()

	staging := NewWithClient(client).WithPrefix("staging:")
	prod := NewWithClient(client)
	require.NoError(t, staging.Set(ctx, "ml:access_token", []byte("a"), time.Minute))
	require.NoError(t, prod.Set(ctx, "ml:access_token", []byte("b"), time.Minute))

	b, _, err := staging.Get(ctx, "ml:access_token")
	require.NoError(t, err)
	require.Equal(t, []byte("a"), b)
	require.True(t, mr.Exists("staging:ml:access_token"))

	require.NoError(t, NewWithClient(client).WithPrefix("").Set(ctx, "raw", []byte("x"), time.Minute))
	require.True(t, mr.Exists("raw"))
}

func TestRateLimiter_Allow(t *testing.T) {
	mr := miniredis.RunT(t)
	rl := NewRateLimiterWithClient(NewClient(Options{Addr: mr.Addr()}))

	ctx := context.Background()
	key := MinuteKey("mercadolibre", time.Date(2025, 6, 1, 15, 4, 59, 0, time.UTC))
	require.Equal(t, "rl:marketplace:mercadolibre:202506011504", key)

	ok, n, err := rl.Allow(ctx, key, 2, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1), n)

	ok, n, _ = rl.Allow(ctx, key, 2, time.Minute)
	require.True(t, ok)
	require.Equal(t, int64(2), n)

	ok, n, _ = rl.Allow(ctx, key, 2, time.Minute)
	require.False(t, ok)
	require.Equal(t, int64(3), n)
}
