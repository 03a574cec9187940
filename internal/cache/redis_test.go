package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type entry struct {
	Token string `json:"token"`
}

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := New(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestRedisCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)

	require.NoError(t, c.Set(ctx, "device:token:1", entry{Token: "abc"}, time.Minute))
	assert.True(t, mr.Exists("device:token:1"))

	var got entry
	require.NoError(t, c.Get(ctx, "device:token:1", &got))
	assert.Equal(t, "abc", got.Token)

	require.NoError(t, c.Delete(ctx, "device:token:1"))
	assert.ErrorIs(t, c.Get(ctx, "device:token:1", &got), ErrMiss)
}

func TestRedisCacheExpiry(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)

	require.NoError(t, c.Set(ctx, "k", entry{Token: "abc"}, time.Minute))
	mr.FastForward(2 * time.Minute)

	var got entry
	assert.ErrorIs(t, c.Get(ctx, "k", &got), ErrMiss)
}

func TestRedisCacheDisabled(t *testing.T) {
	ctx := context.Background()

	c, err := Connect(ctx, "", zap.NewNop())
	require.NoError(t, err)
	assert.False(t, c.Enabled())

	assert.NoError(t, c.Set(ctx, "k", entry{}, time.Minute))
	var got entry
	assert.ErrorIs(t, c.Get(ctx, "k", &got), ErrMiss)
	assert.NoError(t, c.Delete(ctx, "k"))
	assert.NoError(t, c.Close())

	var nilCache *RedisCache
	assert.ErrorIs(t, nilCache.Get(ctx, "k", &got), ErrMiss)
}

func TestConnect(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	c, err := Connect(ctx, "redis://"+mr.Addr()+"/0", zap.NewNop())
	require.NoError(t, err)
	defer c.Close()
	assert.True(t, c.Enabled())

	_, err = Connect(ctx, "://bad", zap.NewNop())
	assert.Error(t, err)
}
