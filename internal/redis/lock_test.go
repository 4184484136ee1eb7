package redisclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) (*miniredis.Miniredis, Locker) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewReservationLocker(client, 5*time.Second)
}

func TestWithReservationLockRunsCriticalSection(t *testing.T) {
	mr, locker := newTestLocker(t)

	ran := false
	err := locker.WithReservationLock(context.Background(), "clinic:doc:d1:2026-06-01", func(ctx context.Context) error {
		ran = true
		// The lease exists while the critical section runs.
		assert.True(t, mr.Exists("lock:resv:clinic:doc:d1:2026-06-01"))
		return nil
	})

	require.NoError(t, err)
	assert.True(t, ran)
	// Released on the way out.
	assert.False(t, mr.Exists("lock:resv:clinic:doc:d1:2026-06-01"))
}

func TestWithReservationLockContention(t *testing.T) {
	mr, locker := newTestLocker(t)

	// Someone else holds the lease.
	require.NoError(t, mr.Set("lock:resv:busy-key", "other-token"))

	err := locker.WithReservationLock(context.Background(), "busy-key", func(ctx context.Context) error {
		t.Fatal("critical section must not run while the lock is held")
		return nil
	})
	assert.ErrorIs(t, err, ErrLockNotAcquired)
}

func TestWithReservationLockPropagatesError(t *testing.T) {
	mr, locker := newTestLocker(t)

	sentinel := errors.New("slot taken")
	err := locker.WithReservationLock(context.Background(), "k", func(ctx context.Context) error {
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	// Still released after a failed critical section.
	assert.False(t, mr.Exists("lock:resv:k"))
}

func TestReleaseLeavesForeignLease(t *testing.T) {
	mr, locker := newTestLocker(t)

	err := locker.WithReservationLock(context.Background(), "expiring", func(ctx context.Context) error {
		// Simulate the lease expiring mid-section and another booking
		// acquiring it. The compare-and-delete release must not remove the
		// new holder's lease.
		mr.Del("lock:resv:expiring")
		require.NoError(t, mr.Set("lock:resv:expiring", "other-token"))
		return nil
	})

	require.NoError(t, err)
	val, err := mr.Get("lock:resv:expiring")
	require.NoError(t, err)
	assert.Equal(t, "other-token", val)
}

func TestUnrelatedKeysDoNotContend(t *testing.T) {
	_, locker := newTestLocker(t)

	err := locker.WithReservationLock(context.Background(), "clinic:doc:a:2026-06-01", func(ctx context.Context) error {
		return locker.WithReservationLock(ctx, "clinic:doc:b:2026-06-01", func(ctx context.Context) error {
			return nil
		})
	})
	assert.NoError(t, err)
}
