package claim

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Locker hands out short-lived claims over follow-up steps so a manual
// "send now" and the periodic executor cannot both dispatch an event
// for the same step. A claim that cannot be acquired means another
// writer owns the step this instant; callers skip without error.
type Locker interface {
	Acquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// StepKey is the claim key for one (estimate, step) pair. Every
// dispatch path must key its claim through this so the manual and
// periodic writers actually contend.
func StepKey(estimateID int64, stepIndex int) string {
	return strconv.FormatInt(estimateID, 10) + ":" + strconv.Itoa(stepIndex)
}

type RedisLocker struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisLocker(rdb *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisLocker{rdb: rdb, prefix: "claim:step:", ttl: ttl}
}

var _ Locker = (*RedisLocker)(nil)

func (l *RedisLocker) Acquire(ctx context.Context, key string) (bool, error) {
	return l.rdb.SetNX(ctx, l.prefix+key, 1, l.ttl).Result()
}

func (l *RedisLocker) Release(ctx context.Context, key string) error {
	return l.rdb.Del(ctx, l.prefix+key).Err()
}
