package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisLocker(client), mr
}

func TestRedisLocker_ExclusiveUntilRelease(t *testing.T) {
	locker, mr := newRedisLocker(t)
	ctx := context.Background()

	first, err := locker.Obtain(ctx, LeadKey(7), time.Minute)
	require.NoError(t, err)
	assert.True(t, mr.Exists("lock:lead:7"))

	_, err = locker.Obtain(ctx, LeadKey(7), time.Minute)
	assert.ErrorIs(t, err, ErrNotObtained)

	require.NoError(t, first.Release(ctx))
	assert.False(t, mr.Exists("lock:lead:7"))

	second, err := locker.Obtain(ctx, LeadKey(7), time.Minute)
	require.NoError(t, err)
	require.NoError(t, second.Release(ctx))
}

func TestRedisLocker_ExpiredHolderCannotReleaseNewOwner(t *testing.T) {
	locker, mr := newRedisLocker(t)
	ctx := context.Background()

	stale, err := locker.Obtain(ctx, LeadKey(1), time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	fresh, err := locker.Obtain(ctx, LeadKey(1), time.Minute)
	require.NoError(t, err)

	require.NoError(t, stale.Release(ctx))
	assert.True(t, mr.Exists("lock:lead:1"), "stale release must not delete the new owner's key")
	require.NoError(t, fresh.Release(ctx))
}

func TestRedisLocker_BackendDown(t *testing.T) {
	locker, mr := newRedisLocker(t)
	mr.Close()

	_, err := locker.Obtain(context.Background(), LeadKey(1), time.Second)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotObtained)
}

func TestLocalLocker(t *testing.T) {
	locker := NewLocalLocker()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	locker.now = func() time.Time { return now }
	ctx := context.Background()

	held, err := locker.Obtain(ctx, "a", time.Minute)
	require.NoError(t, err)
	_, err = locker.Obtain(ctx, "a", time.Minute)
	assert.ErrorIs(t, err, ErrNotObtained)

	_, err = locker.Obtain(ctx, "b", time.Minute)
	assert.NoError(t, err)

	now = now.Add(2 * time.Minute)
	again, err := locker.Obtain(ctx, "a", time.Minute)
	require.NoError(t, err)

	require.NoError(t, held.Release(ctx))
	_, err = locker.Obtain(ctx, "a", time.Minute)
	assert.ErrorIs(t, err, ErrNotObtained, "expired holder must not free the new owner")
	require.NoError(t, again.Release(ctx))
}

func TestNoopLocker(t *testing.T) {
	var locker NoopLocker
	a, err := locker.Obtain(context.Background(), "x", time.Second)
	require.NoError(t, err)
	_, err = locker.Obtain(context.Background(), "x", time.Second)
	require.NoError(t, err)
	assert.NoError(t, a.Release(context.Background()))
}
