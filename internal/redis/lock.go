package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrLockNotAcquired = errors.New("reservation lock not acquired")

// Locker guards the reservation critical section for one scheduling key.
// The key identifies a (clinic, doctor-or-room, date) tuple so that bookings
// for unrelated slots never contend.
type Locker interface {
	WithReservationLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

type redisReservationLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewReservationLocker creates a locker backed by a per-key Redis SetNX lease.
func NewReservationLocker(client *redis.Client, ttl time.Duration) Locker {
	return &redisReservationLocker{
		client: client,
		ttl:    ttl,
	}
}

func (l *redisReservationLocker) WithReservationLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	lockKey := fmt.Sprintf("lock:resv:%s", key)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, lockKey, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire reservation lock: %w", err)
	}
	if !ok {
		return ErrLockNotAcquired
	}

	defer func() {
		_ = l.release(ctx, lockKey, token)
	}()

	// The critical section must not outlive the lease.
	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisReservationLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release reservation lock: %w", err)
	}
	return nil
}
