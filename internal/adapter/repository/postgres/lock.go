package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iho/transferengine/internal/usecase"
)

// AdvisoryLockManager implements usecase.LockManager with transaction-scoped
// Postgres advisory locks. The lock lives as long as its transaction, so a
// crashed holder releases it when its connection drops.
type AdvisoryLockManager struct {
	pool   pgxPool
	prefix string
}

// NewAdvisoryLockManager creates a lock manager on pool.
func NewAdvisoryLockManager(pool *pgxpool.Pool) *AdvisoryLockManager {
	return newAdvisoryLockManagerWithPool(pool)
}

func newAdvisoryLockManagerWithPool(pool pgxPool) *AdvisoryLockManager {
	return &AdvisoryLockManager{pool: pool, prefix: "transferengine:lock:"}
}

// WithLock runs fn while holding key. ttl is ignored; the lock is released
// when fn returns.
func (m *AdvisoryLockManager) WithLock(ctx context.Context, key string, _ time.Duration, fn func(ctx context.Context) error) error {
	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin lock transaction: %w", mapError(err))
	}
	defer func() {
		rollbackCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tx.Rollback(rollbackCtx)
	}()

	var acquired bool
	if err := tx.QueryRow(ctx, `SELECT pg_try_advisory_xact_lock(hashtext($1))`, m.prefix+key).Scan(&acquired); err != nil {
		return fmt.Errorf("acquire lock %s: %w", key, mapError(err))
	}
	if !acquired {
		return usecase.ErrLockNotAcquired
	}

	return fn(ctx)
}
