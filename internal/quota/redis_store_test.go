package quota

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client), mr
}

func TestRedisStore_IncrementSetsExpiry(t *testing.T) {
	store, mr := setupRedisStore(t)
	ctx := context.Background()
	expireAt := time.Now().Add(time.Hour)

	values, err := store.Increment(ctx, Counter{Key: "a", ExpireAt: expireAt}, Counter{Key: "b", ExpireAt: expireAt})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 1}, values)

	values, err = store.Increment(ctx, Counter{Key: "a", ExpireAt: expireAt})
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, values)

	assert.True(t, mr.TTL("a") > 0)
	assert.True(t, mr.TTL("a") <= time.Hour)
}

func TestRedisStore_DecrementFloorsAtZero(t *testing.T) {
	store, mr := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("busy", "2"))
	require.NoError(t, store.Decrement(ctx, "busy", "idle"))
	require.NoError(t, store.Decrement(ctx, "busy"))
	require.NoError(t, store.Decrement(ctx, "busy"))

	values, err := store.Get(ctx, "busy", "idle", "never-set")
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 0, 0}, values)
	assert.NoError(t, store.Decrement(ctx))
}

func TestRedisStore_GetRejectsCorruptValue(t *testing.T) {
	store, mr := setupRedisStore(t)
	require.NoError(t, mr.Set("bad", "not-a-number"))

	_, err := store.Get(context.Background(), "bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-integer")
}

func TestLimiter_WithRedisStore(t *testing.T) {
	store, mr := setupRedisStore(t)
	cfg := DefaultConfig()
	cfg.Limits = Limits{Daily: 10, Hourly: 10, Concurrent: 2}
	l := NewLimiter(store, cfg)
	ctx := context.Background()

	a1, err := l.CheckAndAdmit(ctx, tenantA)
	require.NoError(t, err)
	a2, err := l.CheckAndAdmit(ctx, tenantA)
	require.NoError(t, err)

	_, err = l.CheckAndAdmit(ctx, tenantA)
	require.Error(t, err)
	seconds, _ := RetryAfterSeconds(err)
	assert.Equal(t, int64(5), seconds)

	concurrent, err := mr.Get("ratelimit:" + tenantA + ":concurrent")
	require.NoError(t, err)
	assert.Equal(t, "2", concurrent)

	a1.Release(ctx)
	a2.Release(ctx)

	q, err := l.Usage(ctx, tenantA)
	require.NoError(t, err)
	assert.Equal(t, int64(0), q.Used.Concurrent)
	assert.Equal(t, int64(2), q.Used.Daily)
	assert.Equal(t, int64(8), q.Remaining.Daily)
	assert.NoError(t, l.Ping(ctx))
}

func TestLimiter_RedisOutageFailsOpen(t *testing.T) {
	store, mr := setupRedisStore(t)
	l := NewLimiter(store, DefaultConfig())
	ctx := context.Background()

	mr.Close()

	a, err := l.CheckAndAdmit(ctx, tenantA)
	require.NoError(t, err)
	assert.False(t, a.Quota.Counted)
	a.Release(ctx)

	assert.Error(t, l.Ping(ctx))
}
