package redis

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

const sweepLockKey = "order_expiration_sweep_lock"

// SweepLock keeps overlapping expiration scheduler instances from sweeping
// the same tick twice. It is only a de-duplication optimization: if two
// instances do sweep concurrently, the order store's version check still
// admits a single cancellation per order.
type SweepLock struct {
	Client *redis.Client
}

// Acquire takes the sweep lock for the given TTL. Returns false when
// another instance holds it.
func (l *SweepLock) Acquire(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	return l.Client.SetNX(ctx, sweepLockKey, owner, ttl).Result()
}

// Release drops the lock if this owner still holds it.
func (l *SweepLock) Release(ctx context.Context, owner string) error {
	val, err := l.Client.Get(ctx, sweepLockKey).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	if val == owner {
		return l.Client.Del(ctx, sweepLockKey).Err()
	}
	return nil
}
