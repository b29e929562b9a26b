package lease

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLeaseAcquireRelease(t *testing.T) {
	l := NewMemoryLease()
	ctx := context.Background()

	acquired, err := l.Acquire(ctx, "bot-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)

	// A second holder is refused while the lease is live.
	acquired, err = l.Acquire(ctx, "bot-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired)

	// A different bot is unaffected.
	acquired, err = l.Acquire(ctx, "bot-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)

	require.NoError(t, l.Release(ctx, "bot-1"))

	acquired, err = l.Acquire(ctx, "bot-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestMemoryLeaseExpires(t *testing.T) {
	l := NewMemoryLease()
	ctx := context.Background()

	acquired, err := l.Acquire(ctx, "bot-1", 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, acquired)

	time.Sleep(20 * time.Millisecond)

	acquired, err = l.Acquire(ctx, "bot-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func newRedisLease(t *testing.T) (*RedisLease, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisLease(client), mr
}

func TestRedisLeaseAcquireRelease(t *testing.T) {
	l, _ := newRedisLease(t)
	ctx := context.Background()

	acquired, err := l.Acquire(ctx, "bot-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)

	acquired, err = l.Acquire(ctx, "bot-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired)

	require.NoError(t, l.Release(ctx, "bot-1"))

	acquired, err = l.Acquire(ctx, "bot-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestRedisLeaseExpires(t *testing.T) {
	l, mr := newRedisLease(t)
	ctx := context.Background()

	acquired, err := l.Acquire(ctx, "bot-1", time.Second)
	require.NoError(t, err)
	require.True(t, acquired)

	// Redis evicts the key once its ttl elapses.
	mr.FastForward(2 * time.Second)

	acquired, err = l.Acquire(ctx, "bot-1", time.Second)
	require.NoError(t, err)
	assert.True(t, acquired)
}
