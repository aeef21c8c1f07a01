package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRedis keeps keys in memory. Only the commands the guard uses are
// implemented.
type fakeRedis struct {
	redis.Cmdable
	keys map[string]time.Duration
	err  error
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}
	if _, ok := f.keys[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.keys[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := f.keys[k]; ok {
			delete(f.keys, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestNotificationGuardFirstSeen(t *testing.T) {
	rdb := &fakeRedis{keys: map[string]time.Duration{}}
	guard := NewNotificationGuard(rdb, time.Hour)
	ctx := context.Background()

	first, err := guard.FirstSeen(ctx, "ipn:globee:abc:completed")
	require.NoError(t, err)
	assert.True(t, first)
	assert.Equal(t, time.Hour, rdb.keys["notification:ipn:globee:abc:completed"])

	again, err := guard.FirstSeen(ctx, "ipn:globee:abc:completed")
	require.NoError(t, err)
	assert.False(t, again)

	require.NoError(t, guard.Forget(ctx, "ipn:globee:abc:completed"))
	retried, err := guard.FirstSeen(ctx, "ipn:globee:abc:completed")
	require.NoError(t, err)
	assert.True(t, retried)
}

func TestNotificationGuardRedisDown(t *testing.T) {
	down := errors.New("connection refused")
	guard := NewNotificationGuard(&fakeRedis{keys: map[string]time.Duration{}, err: down}, time.Hour)

	first, err := guard.FirstSeen(context.Background(), "ipn:globee:abc:completed")
	assert.False(t, first)
	assert.ErrorIs(t, err, down)
}
