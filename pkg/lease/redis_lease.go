package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// leaseKeyPrefix namespaces lease keys in Redis
const leaseKeyPrefix = "botrunner:lease:"

// RedisLease implements Lease on Redis so overlapping sweeps from
// multiple instances still dispatch each bot at most once. The lock is
// a single SET NX PX; expiry is handled by Redis.
type RedisLease struct {
	client *redis.Client
}

// NewRedisLease creates a Redis-backed lease
func NewRedisLease(client *redis.Client) *RedisLease {
	return &RedisLease{client: client}
}

// Acquire attempts to take the lease for a bot for ttl
func (l *RedisLease) Acquire(ctx context.Context, botID string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, leaseKeyPrefix+botID, time.Now().UTC().Format(time.RFC3339Nano), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease for bot %s: %w", botID, err)
	}
	return ok, nil
}

// Release gives the lease back before its ttl expires
func (l *RedisLease) Release(ctx context.Context, botID string) error {
	if err := l.client.Del(ctx, leaseKeyPrefix+botID).Err(); err != nil {
		return fmt.Errorf("failed to release lease for bot %s: %w", botID, err)
	}
	return nil
}
