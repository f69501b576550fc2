package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewRedisCacheWithClient(client, DefaultCacheConfig())
	t.Cleanup(func() { _ = cache.Close() })

	return cache, mr
}

func TestNewRedisCacheWithConfig(t *testing.T) {
	mr := miniredis.RunT(t)

	config := DefaultRedisConfig()
	config.Addr = mr.Addr()

	cache, err := NewRedisCacheWithConfig(config)
	require.NoError(t, err)
	defer cache.Close()
}

func TestNewRedisCacheWithConfig_ConnectionError(t *testing.T) {
	config := DefaultRedisConfig()
	config.Addr = "localhost:1"
	config.DialTimeout = 200 * time.Millisecond

	_, err := NewRedisCacheWithConfig(config)
	assert.Error(t, err)
}

func TestRedisCache_SetGetDelete(t *testing.T) {
	cache, mr := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "k", []byte("v"), time.Minute))
	assert.True(t, mr.Exists("qc:k"))

	got, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	require.NoError(t, cache.Delete(ctx, "k"))
	_, err = cache.Get(ctx, "k")
	assert.True(t, IsCacheMiss(err))
}

func TestRedisCache_TTLExpiration(t *testing.T) {
	cache, mr := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "k", []byte("v"), time.Second))
	mr.FastForward(2 * time.Second)

	ok, err := cache.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache_DefaultTTL(t *testing.T) {
	cache, mr := setupTestRedis(t)

	require.NoError(t, cache.Set(context.Background(), "k", []byte("v"), 0))
	assert.Equal(t, DefaultCacheConfig().DefaultTTL, mr.TTL("qc:k"))
}

func TestRedisCache_Clear(t *testing.T) {
	cache, mr := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("other:key", "keep"))
	require.NoError(t, cache.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, cache.Set(ctx, "b", []byte("2"), time.Minute))

	require.NoError(t, cache.Clear(ctx))

	assert.False(t, mr.Exists("qc:a"))
	assert.False(t, mr.Exists("qc:b"))
	assert.True(t, mr.Exists("other:key"))
}

func TestRedisCache_ServerDown(t *testing.T) {
	cache, mr := setupTestRedis(t)
	mr.Close()

	_, err := cache.Get(context.Background(), "k")
	assert.Error(t, err)
	assert.False(t, IsCacheMiss(err))
}
