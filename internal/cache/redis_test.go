package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bussulac/access-gateway/internal/config"
	"github.com/bussulac/access-gateway/internal/models"
)

func setupTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(func() { mr.Close() })

	cfg := config.RedisConnection{
		AddressRedis: mr.Addr(),
	}

	cache, err := InitServer(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	return cache, mr
}

func TestSetAndGetEntitlement(t *testing.T) {
	cache, _ := setupTestCache(t)
	ctx := context.Background()

	end := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	expected := models.Entitlement{
		UserUID:            "u-1",
		SubscriptionStatus: models.SubscriptionTrial,
		TrialEndDate:       &end,
		FreeSessionsUsed:   1,
		FreeSessionsLimit:  3,
		TokenBalance:       40,
	}
	require.NoError(t, cache.Set(ctx, EntitlementKey("u-1"), expected, time.Minute))

	var actual models.Entitlement
	found, err := cache.Get(ctx, EntitlementKey("u-1"), &actual)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, expected.UserUID, actual.UserUID)
	assert.Equal(t, expected.SubscriptionStatus, actual.SubscriptionStatus)
	require.NotNil(t, actual.TrialEndDate)
	assert.True(t, end.Equal(*actual.TrialEndDate))
	assert.Equal(t, int64(40), actual.TokenBalance)
}

func TestGetNotFound(t *testing.T) {
	cache, _ := setupTestCache(t)

	var out models.Entitlement
	found, err := cache.Get(context.Background(), "no_such_key", &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestInvalidate(t *testing.T) {
	cache, _ := setupTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "key", "value", time.Minute))
	require.NoError(t, cache.Invalidate(ctx, "key"))

	var out string
	found, err := cache.Get(ctx, "key", &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestEntryExpires(t *testing.T) {
	cache, mr := setupTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "key", 1, 30*time.Second))
	mr.FastForward(31 * time.Second)

	var out int
	found, err := cache.Get(ctx, "key", &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestGetInvalidJSON(t *testing.T) {
	cache, _ := setupTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Db.Set(ctx, "bad", []byte("not-json"), time.Minute).Err())

	var out models.Entitlement
	found, err := cache.Get(ctx, "bad", &out)
	assert.False(t, found)
	assert.Error(t, err)
}

func TestGetAfterServerClosed(t *testing.T) {
	cache, mr := setupTestCache(t)
	mr.Close()

	var out models.Entitlement
	found, err := cache.Get(context.Background(), "key", &out)
	assert.False(t, found)
	assert.Error(t, err)
}

func TestInitServerInvalidAddr(t *testing.T) {
	cfg := config.RedisConnection{
		AddressRedis: "127.0.0.1:1",
		DialTimeout:  200 * time.Millisecond,
	}

	cache, err := InitServer(context.Background(), cfg)
	assert.Nil(t, cache)
	assert.Error(t, err)
}
