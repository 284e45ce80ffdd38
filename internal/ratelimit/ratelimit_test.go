package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()
	mini := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mini.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mini, client
}

func TestLockerMutualExclusion(t *testing.T) {
	_, client := setupRedis(t)
	locker := NewLocker(client)
	ctx := context.Background()

	token, ok, err := locker.TryLock(ctx, "locks:test", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, token)

	_, ok, err = locker.TryLock(ctx, "locks:test", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must not acquire a held lock")

	require.NoError(t, locker.Release(ctx, "locks:test", token))

	_, ok, err = locker.TryLock(ctx, "locks:test", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockerReleaseIgnoresStaleToken(t *testing.T) {
	mini, client := setupRedis(t)
	locker := NewLocker(client)
	ctx := context.Background()

	_, ok, err := locker.TryLock(ctx, "locks:test", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mini.FastForward(2 * time.Second)

	token2, ok, err := locker.TryLock(ctx, "locks:test", time.Minute)
	require.NoError(t, err)
	require.True(t, ok, "expired lock must be reacquirable")

	// The first holder's release must not free the new holder's lock.
	require.NoError(t, locker.Release(ctx, "locks:test", "stale-token"))
	_, ok, err = locker.TryLock(ctx, "locks:test", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, locker.Release(ctx, "locks:test", token2))
}

func TestTokenBucketExhaustsBurst(t *testing.T) {
	_, client := setupRedis(t)
	bucket := NewTokenBucket(client)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, err := bucket.Allow(ctx, "bucket:test", 1, 3)
		require.NoError(t, err)
		assert.True(t, result.Allowed, "request %d within burst", i)
	}

	result, err := bucket.Allow(ctx, "bucket:test", 1, 3)
	require.NoError(t, err)
	assert.False(t, result.Allowed, "burst exhausted")
}

func TestTokenBucketValidatesArguments(t *testing.T) {
	_, client := setupRedis(t)
	bucket := NewTokenBucket(client)
	ctx := context.Background()

	_, err := bucket.Allow(ctx, "", 1, 1)
	assert.Error(t, err)
	_, err = bucket.Allow(ctx, "k", 0, 1)
	assert.Error(t, err)
	_, err = bucket.Allow(ctx, "k", 1, 0)
	assert.Error(t, err)
}

func TestIngestLimiter(t *testing.T) {
	_, client := setupRedis(t)

	var disabled *IngestLimiter
	ok, err := disabled.Allow(context.Background(), "src")
	require.NoError(t, err)
	assert.True(t, ok, "nil limiter allows everything")

	limiter := NewIngestLimiter(client, 1, 2)
	require.True(t, limiter.Enabled())

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		ok, err := limiter.Allow(ctx, "distro-a")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err = limiter.Allow(ctx, "distro-a")
	require.NoError(t, err)
	assert.False(t, ok)

	// Other sources keep their own budget.
	ok, err = limiter.Allow(ctx, "distro-b")
	require.NoError(t, err)
	assert.True(t, ok)
}
