// Package memory is a process-local storage backend. Transactions buffer
// their writes until Commit and hold row locks until they end, which gives
// the same isolation the usecases rely on from Postgres.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/iho/transferengine/internal/domain"
	"github.com/iho/transferengine/internal/usecase"
)

// Store holds committed state for every repository in this package.
type Store struct {
	mu sync.RWMutex

	accounts  map[string]*domain.Account
	transfers map[string]*domain.Transfer
	entries   []*domain.Entry
	// entryKeys enforces one entry per (transfer, account).
	entryKeys   map[string]struct{}
	idempotency map[string]*domain.IdempotencyRecord
	outbox      []*domain.OutboxEvent
	audit       []*domain.AuditLog

	locksMu sync.Mutex
	locks   map[string]chan struct{}
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		accounts:    make(map[string]*domain.Account),
		transfers:   make(map[string]*domain.Transfer),
		entryKeys:   make(map[string]struct{}),
		idempotency: make(map[string]*domain.IdempotencyRecord),
		locks:       make(map[string]chan struct{}),
	}
}

func (s *Store) rowLock(key string) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	ch, ok := s.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[key] = ch
	}
	return ch
}

// TxManager implements usecase.TransactionManager.
type TxManager struct {
	store *Store
}

// NewTxManager creates a new TxManager.
func NewTxManager(store *Store) *TxManager {
	return &TxManager{store: store}
}

// Begin starts a new transaction.
func (m *TxManager) Begin(ctx context.Context) (usecase.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	return &Tx{
		store:     m.store,
		held:      make(map[string]struct{}),
		accounts:  make(map[string]*domain.Account),
		transfers: make(map[string]*domain.Transfer),
		entryKeys: make(map[string]struct{}),
	}, nil
}

// Tx buffers writes and holds row locks until Commit or Rollback.
type Tx struct {
	store *Store

	mu   sync.Mutex
	done bool
	held map[string]struct{}
	ops  []func(*Store)

	// Uncommitted rows visible to this transaction only.
	accounts  map[string]*domain.Account
	transfers map[string]*domain.Transfer
	entryKeys map[string]struct{}
}

// lock blocks until the row lock for key is held by t or ctx ends.
func (t *Tx) lock(ctx context.Context, key string) error {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return errTxDone
	}
	if _, ok := t.held[key]; ok {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	ch := t.store.rowLock(key)
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("%w: waiting for lock: %v", domain.ErrStorageUnavailable, ctx.Err())
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		<-ch
		return errTxDone
	}
	t.held[key] = struct{}{}
	return nil
}

func (t *Tx) enqueue(op func(*Store)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return errTxDone
	}
	t.ops = append(t.ops, op)
	return nil
}

// Commit applies buffered writes atomically and releases locks.
func (t *Tx) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return errTxDone
	}
	if err := ctx.Err(); err != nil {
		t.finish()
		return fmt.Errorf("%w: commit: %v", domain.ErrStorageUnavailable, err)
	}

	t.store.mu.Lock()
	for _, op := range t.ops {
		op(t.store)
	}
	t.store.mu.Unlock()

	t.finish()
	return nil
}

// Rollback discards buffered writes. It is a no-op after Commit.
func (t *Tx) Rollback(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil
	}
	t.finish()
	return nil
}

func (t *Tx) finish() {
	t.done = true
	t.ops = nil
	for key := range t.held {
		<-t.store.rowLock(key)
	}
	t.held = nil
}

func asTx(tx usecase.Transaction) (*Tx, error) {
	mtx, ok := tx.(*Tx)
	if !ok || mtx == nil {
		return nil, errForeignTx
	}
	return mtx, nil
}

var (
	errTxDone    = fmt.Errorf("%w: transaction already finished", domain.ErrStorageUnavailable)
	errForeignTx = errors.New("memory: transaction was not started by this store")
)

func accountLockKey(id string) string  { return "account:" + id }
func transferLockKey(id string) string { return "transfer:" + id }
func idempotencyKey(source, key string) string {
	return source + "\x00" + key
}
