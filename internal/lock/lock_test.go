package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLockerExclusive(t *testing.T, locker Locker) {
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "hash:abc")
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "hash:abc")
	assert.ErrorIs(t, err, ErrLocked)

	other, err := locker.Acquire(ctx, "hash:def")
	require.NoError(t, err)
	other()

	release()
	release()

	again, err := locker.Acquire(ctx, "hash:abc")
	require.NoError(t, err)
	again()
}

func testLockerConcurrent(t *testing.T, locker Locker) {
	var (
		wg      sync.WaitGroup
		winners atomic.Int32
		start   = make(chan struct{})
		hold    = make(chan struct{})
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			release, err := locker.Acquire(context.Background(), "doc:1")
			if err != nil {
				return
			}
			winners.Add(1)
			<-hold
			release()
		}()
	}
	close(start)
	time.Sleep(50 * time.Millisecond)
	close(hold)
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
}

func TestLocalLocker(t *testing.T) {
	testLockerExclusive(t, NewLocalLocker())
	testLockerConcurrent(t, NewLocalLocker())
}

func TestLocalLocker_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewLocalLocker().Acquire(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}

func newRedisLocker(t *testing.T, ttl time.Duration) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLocker(client, "docingest:lock:", ttl), mr
}

func TestRedisLocker(t *testing.T) {
	locker, mr := newRedisLocker(t, time.Minute)
	testLockerExclusive(t, locker)
	testLockerConcurrent(t, locker)
	assert.False(t, mr.Exists("docingest:lock:hash:abc"))
}

func TestRedisLocker_ExpiredLeaseIsNotReleasedByOldOwner(t *testing.T) {
	locker, mr := newRedisLocker(t, time.Second)
	ctx := context.Background()

	oldRelease, err := locker.Acquire(ctx, "doc:1")
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	newRelease, err := locker.Acquire(ctx, "doc:1")
	require.NoError(t, err)

	oldRelease()
	assert.True(t, mr.Exists("docingest:lock:doc:1"))

	newRelease()
	assert.False(t, mr.Exists("docingest:lock:doc:1"))
}
