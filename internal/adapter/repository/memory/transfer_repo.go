package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/iho/transferengine/internal/domain"
	"github.com/iho/transferengine/internal/usecase"
)

// TransferRepository implements usecase.TransferRepository and
// risk.HistoryProvider.
type TransferRepository struct {
	store *Store
}

// NewTransferRepository creates a new TransferRepository.
func NewTransferRepository(store *Store) *TransferRepository {
	return &TransferRepository{store: store}
}

// Create inserts a transfer when tx commits.
func (r *TransferRepository) Create(ctx context.Context, tx usecase.Transaction, transfer *domain.Transfer) error {
	mtx, err := asTx(tx)
	if err != nil {
		return err
	}
	if err := mtx.lock(ctx, transferLockKey(transfer.ID)); err != nil {
		return err
	}

	r.store.mu.RLock()
	_, exists := r.store.transfers[transfer.ID]
	r.store.mu.RUnlock()
	if exists {
		return fmt.Errorf("transfer %s already exists", transfer.ID)
	}

	return r.stage(mtx, transfer)
}

// GetByID returns the committed transfer.
func (r *TransferRepository) GetByID(_ context.Context, id string) (*domain.Transfer, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	t, ok := r.store.transfers[id]
	if !ok {
		return nil, domain.ErrTransferNotFound
	}
	out := *t
	return &out, nil
}

// UpdateState stores transfer if its state as seen by tx is still from.
func (r *TransferRepository) UpdateState(ctx context.Context, tx usecase.Transaction, transfer *domain.Transfer, from domain.TransferState) error {
	mtx, err := asTx(tx)
	if err != nil {
		return err
	}
	if err := mtx.lock(ctx, transferLockKey(transfer.ID)); err != nil {
		return err
	}

	mtx.mu.Lock()
	current, ok := mtx.transfers[transfer.ID]
	mtx.mu.Unlock()
	if !ok {
		r.store.mu.RLock()
		current, ok = r.store.transfers[transfer.ID]
		r.store.mu.RUnlock()
	}
	if !ok {
		return domain.ErrTransferNotFound
	}
	if current.State != from {
		return domain.ErrStaleTransferState
	}

	return r.stage(mtx, transfer)
}

func (r *TransferRepository) stage(mtx *Tx, transfer *domain.Transfer) error {
	row := *transfer
	mtx.mu.Lock()
	mtx.transfers[row.ID] = &row
	mtx.mu.Unlock()

	return mtx.enqueue(func(s *Store) {
		committed := row
		s.transfers[row.ID] = &committed
	})
}

// ListByAccount returns transfers touching the account, newest first.
func (r *TransferRepository) ListByAccount(_ context.Context, accountID string, limit, offset int) ([]*domain.Transfer, error) {
	out := r.filter(func(t *domain.Transfer) bool {
		return t.SourceAccountID == accountID || t.DestAccountID == accountID
	})
	sort.Slice(out, func(i, j int) bool { return newer(out[i], out[j]) })
	return page(out, limit, offset), nil
}

// ListStale returns transfers in state last updated before cutoff, oldest first.
func (r *TransferRepository) ListStale(_ context.Context, state domain.TransferState, before time.Time, limit int) ([]*domain.Transfer, error) {
	out := r.filter(func(t *domain.Transfer) bool {
		return t.State == state && t.UpdatedAt.Before(before)
	})
	sort.Slice(out, func(i, j int) bool { return newer(out[j], out[i]) })
	return page(out, limit, 0), nil
}

// SourceActivity counts and sums non-rejected transfers created by source
// in [since, until).
func (r *TransferRepository) SourceActivity(_ context.Context, sourceAccountID string, since, until time.Time, excludeTransferID string) (int, int64, error) {
	var (
		count int
		total int64
	)
	for _, t := range r.filter(func(t *domain.Transfer) bool {
		return t.SourceAccountID == sourceAccountID &&
			t.ID != excludeTransferID &&
			t.State != domain.TransferStateRejected &&
			!t.CreatedAt.Before(since) && t.CreatedAt.Before(until)
	}) {
		count++
		total += t.Amount
	}
	return count, total, nil
}

// HasSettledTransfer reports whether source paid dest before until.
func (r *TransferRepository) HasSettledTransfer(_ context.Context, sourceAccountID, destAccountID string, until time.Time) (bool, error) {
	found := r.filter(func(t *domain.Transfer) bool {
		return t.SourceAccountID == sourceAccountID && t.DestAccountID == destAccountID && settledBefore(t, until)
	})
	return len(found) > 0, nil
}

// SettledAmounts returns up to limit settled amounts of source, newest first.
func (r *TransferRepository) SettledAmounts(_ context.Context, sourceAccountID string, until time.Time, limit int) ([]int64, error) {
	settled := r.filter(func(t *domain.Transfer) bool {
		return t.SourceAccountID == sourceAccountID && settledBefore(t, until)
	})
	sort.Slice(settled, func(i, j int) bool {
		return settled[i].ResolvedAt.After(*settled[j].ResolvedAt)
	})
	settled = page(settled, limit, 0)

	amounts := make([]int64, 0, len(settled))
	for _, t := range settled {
		amounts = append(amounts, t.Amount)
	}
	return amounts, nil
}

func (r *TransferRepository) filter(keep func(*domain.Transfer) bool) []*domain.Transfer {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []*domain.Transfer
	for _, t := range r.store.transfers {
		if keep(t) {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out
}

func settledBefore(t *domain.Transfer, until time.Time) bool {
	return t.State == domain.TransferStateSettled && t.ResolvedAt != nil && t.ResolvedAt.Before(until)
}

func newer(a, b *domain.Transfer) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID > b.ID
	}
	return a.CreatedAt.After(b.CreatedAt)
}
