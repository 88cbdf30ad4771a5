package memory

import (
	"context"
	"time"

	"github.com/iho/transferengine/internal/domain"
	"github.com/iho/transferengine/internal/usecase"
)

// IdempotencyRepository implements usecase.IdempotencyRepository.
type IdempotencyRepository struct {
	store *Store
}

// NewIdempotencyRepository creates a new IdempotencyRepository.
func NewIdempotencyRepository(store *Store) *IdempotencyRepository {
	return &IdempotencyRepository{store: store}
}

// Insert reserves (source, key) for tx. A concurrent insert of the same
// pair waits until tx ends and then sees the committed record.
func (r *IdempotencyRepository) Insert(ctx context.Context, tx usecase.Transaction, record *domain.IdempotencyRecord) (bool, error) {
	mtx, err := asTx(tx)
	if err != nil {
		return false, err
	}

	key := idempotencyKey(record.SourceAccountID, record.Key)
	if err := mtx.lock(ctx, "idempotency:"+key); err != nil {
		return false, err
	}

	r.store.mu.RLock()
	_, exists := r.store.idempotency[key]
	r.store.mu.RUnlock()
	if exists {
		return false, nil
	}

	row := *record
	if err := mtx.enqueue(func(s *Store) {
		committed := row
		s.idempotency[key] = &committed
	}); err != nil {
		return false, err
	}
	return true, nil
}

// Get returns the committed record for (source, key).
func (r *IdempotencyRepository) Get(_ context.Context, sourceAccountID, key string) (*domain.IdempotencyRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	rec, ok := r.store.idempotency[idempotencyKey(sourceAccountID, key)]
	if !ok {
		return nil, domain.ErrIdempotencyNotFound
	}
	out := *rec
	return &out, nil
}

// PruneTerminal deletes records first seen before cutoff whose transfer is terminal.
func (r *IdempotencyRepository) PruneTerminal(_ context.Context, before time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var pruned int64
	for key, rec := range r.store.idempotency {
		if !rec.FirstSeenAt.Before(before) {
			continue
		}
		t, ok := r.store.transfers[rec.TransferID]
		if ok && !t.State.IsTerminal() {
			continue
		}
		delete(r.store.idempotency, key)
		pruned++
	}
	return pruned, nil
}
