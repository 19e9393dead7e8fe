package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := NewLocker(client, time.Second, nil)
	locker.retry = time.Millisecond
	return locker, mr
}

func TestLockerExcludesSecondHolder(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "stipend:student:1:lock")
	require.NoError(t, err)
	require.True(t, mr.Exists("stipend:student:1:lock"))

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(waitCtx, "stipend:student:1:lock")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()
	require.False(t, mr.Exists("stipend:student:1:lock"))

	again, err := locker.Lock(ctx, "stipend:student:1:lock")
	require.NoError(t, err)
	again()
}

func TestLockerReleaseKeepsForeignToken(t *testing.T) {
	locker, mr := newTestLocker(t)

	unlock, err := locker.Lock(context.Background(), "k")
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)
	require.NoError(t, mr.Set("k", "someone-else"))
	unlock()

	v, err := mr.Get("k")
	require.NoError(t, err)
	require.Equal(t, "someone-else", v)
	require.ErrorIs(t, locker.release("k", "stale-token"), ErrLockLost)
}

func TestLockerSerialisesConcurrentHolders(t *testing.T) {
	locker, _ := newTestLocker(t)
	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(context.Background(), "shared")
			if err != nil {
				return
			}
			mu.Lock()
			inside++
			maxSeen = max(maxSeen, inside)
			mu.Unlock()
			time.Sleep(2 * time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	require.Equal(t, 1, maxSeen)
}
