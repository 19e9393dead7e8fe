package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockLost indicates the lock expired before it was released.
var ErrLockLost = errors.New("platform/cache: lock lost")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker is a Redis SET NX lock shared by every process talking to the same
// Redis. Keys expire after ttl so a crashed holder cannot wedge a student.
type Locker struct {
	client redis.UniversalClient
	ttl    time.Duration
	retry  time.Duration
	logger *slog.Logger
}

// NewLocker constructs a Locker.
func NewLocker(client redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *Locker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Locker{client: client, ttl: ttl, retry: 25 * time.Millisecond, logger: logger}
}

// Lock polls until key is acquired or ctx is done.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("platform/cache: lock %s: %w", key, err)
		}
		if ok {
			break
		}
		timer.Reset(l.retry)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := l.release(key, token); err != nil {
				l.logger.Warn("release lock", slog.String("key", key), slog.Any("error", err))
			}
		})
	}, nil
}

func (l *Locker) release(key, token string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	n, err := releaseScript.Run(ctx, l.client, []string{key}, token).Int()
	if err != nil {
		return fmt.Errorf("platform/cache: unlock %s: %w", key, err)
	}
	if n == 0 {
		return ErrLockLost
	}
	return nil
}
