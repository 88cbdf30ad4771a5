package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"

	"github.com/iho/transferengine/internal/usecase"
)

// LockManager implements usecase.LockManager with redsync.
type LockManager struct {
	rs     *redsync.Redsync
	prefix string
}

// NewLockManager creates a lock manager backed by client.
func NewLockManager(client redis.UniversalClient) *LockManager {
	return &LockManager{
		rs:     redsync.New(goredis.NewPool(client)),
		prefix: "transferengine:lock:",
	}
}

// WithLock runs fn while holding key. If another holder has it,
// usecase.ErrLockNotAcquired is returned without waiting.
func (m *LockManager) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	mutex := m.rs.NewMutex(m.prefix+key,
		redsync.WithExpiry(ttl),
		redsync.WithTries(1),
	)

	if err := mutex.LockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		if errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) {
			return usecase.ErrLockNotAcquired
		}
		return fmt.Errorf("acquire lock %s: %w", key, err)
	}

	defer func() {
		// A fresh context so cancellation of ctx still releases the lock.
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _ = mutex.UnlockContext(unlockCtx)
	}()

	return fn(ctx)
}
