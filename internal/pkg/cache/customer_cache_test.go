package cache

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PayMirror/internal/pkg/env"
)

const isolatedCacheTestRedisDB = 13

// testRedis connects to the cache from CACHE_HOST/CACHE_PORT and skips when
// no server is reachable.
func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:     net.JoinHostPort(env.GetEnv("CACHE_HOST", "localhost"), env.GetEnv("CACHE_PORT", "6379")),
		Password: env.GetEnv("CACHE_PASSWORD", ""),
		DB:       isolatedCacheTestRedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestCustomerCacheRoundTrip(t *testing.T) {
	client := testRedis(t)
	c := NewCustomerCache(client, time.Minute)
	ctx := context.Background()
	userID := uuid.NewString()
	t.Cleanup(func() { _ = c.Forget(ctx, userID) })

	_, ok, err := c.GetCustomerID(ctx, userID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.SetCustomerID(ctx, userID, "cus_123"))
	id, ok, err := c.GetCustomerID(ctx, userID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "cus_123", id)

	ttl, err := client.TTL(ctx, customerKey(userID)).Result()
	require.NoError(t, err)
	assert.True(t, ttl > 0 && ttl <= time.Minute)

	require.NoError(t, c.Forget(ctx, userID))
	_, ok, err = c.GetCustomerID(ctx, userID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCustomerCacheDefaultTTL(t *testing.T) {
	c := NewCustomerCache(redis.NewClient(&redis.Options{Addr: "localhost:0"}), 0)
	assert.Equal(t, defaultCustomerTTL, c.ttl)
	assert.Equal(t, "paymirror:customer:u1", customerKey("u1"))
}

func TestCustomerCacheUnreachableServerReturnsError(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	c := NewCustomerCache(client, time.Minute)

	_, ok, err := c.GetCustomerID(context.Background(), "u1")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestNewLimiterStorageRejectsBadAddress(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "no-port"})
	t.Cleanup(func() { _ = client.Close() })

	_, err := NewLimiterStorage(client)
	assert.Error(t, err)
}
