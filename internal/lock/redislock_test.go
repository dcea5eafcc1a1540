package lock_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/retail-pos/internal/common"
	"github.com/noah-isme/retail-pos/internal/lock"
)

func newLocker(t *testing.T, maxWait time.Duration) (lock.Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond, MaxWait: maxWait}, mr
}

func TestWithLockSerialisesTills(t *testing.T) {
	locker, _ := newLocker(t, 2*time.Second)
	ctx := context.Background()

	var held, overlaps, commits atomic.Int32
	errs := make(chan error, 8)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- locker.WithLock(ctx, locker.Key("cart", "till-7"), time.Second, func(context.Context) error {
				if held.Add(1) != 1 {
					overlaps.Add(1)
				}
				time.Sleep(2 * time.Millisecond)
				commits.Add(1)
				held.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Zero(t, overlaps.Load())
	require.EqualValues(t, 8, commits.Load())
}

func TestWithLockHonoursContext(t *testing.T) {
	locker, mr := newLocker(t, time.Minute)
	require.NoError(t, mr.Set("lock:cart:till-9", "other"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := locker.WithLock(ctx, locker.Key("cart", "till-9"), time.Second, func(context.Context) error {
		t.Fatal("callback must not run")
		return nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWithLockGivesUpAfterMaxWait(t *testing.T) {
	locker, mr := newLocker(t, 30*time.Millisecond)
	key := locker.Key("debt", "open", "sale-1")
	require.Equal(t, "lock:debt:open:sale-1", key)
	require.NoError(t, mr.Set(key, "someone-else"))

	called := false
	err := locker.WithLock(context.Background(), key, time.Second, func(context.Context) error {
		called = true
		return nil
	})
	require.False(t, called)
	require.True(t, errors.Is(err, lock.ErrNotAcquired))
	require.True(t, errors.Is(err, common.ErrConflict))
}

func TestWithLockReleasesOnlyOwnToken(t *testing.T) {
	locker, mr := newLocker(t, time.Second)
	err := locker.WithLock(context.Background(), "k", time.Second, func(context.Context) error {
		require.True(t, mr.Exists("k"))
		return errors.New("callback failed")
	})
	require.EqualError(t, err, "callback failed")
	require.False(t, mr.Exists("k"))
}
