package memory

import (
	"context"
	"sort"
	"time"

	"github.com/iho/transferengine/internal/domain"
	"github.com/iho/transferengine/internal/usecase"
)

// EntryRepository implements usecase.EntryRepository.
type EntryRepository struct {
	store *Store
}

// NewEntryRepository creates a new EntryRepository.
func NewEntryRepository(store *Store) *EntryRepository {
	return &EntryRepository{store: store}
}

// Create appends an entry when tx commits. A second entry for the same
// transfer and account means the transfer was already posted.
func (r *EntryRepository) Create(_ context.Context, tx usecase.Transaction, entry *domain.Entry) error {
	mtx, err := asTx(tx)
	if err != nil {
		return err
	}

	key := entry.TransferID + "\x00" + entry.AccountID

	r.store.mu.RLock()
	_, committed := r.store.entryKeys[key]
	r.store.mu.RUnlock()

	mtx.mu.Lock()
	_, staged := mtx.entryKeys[key]
	if !committed && !staged {
		mtx.entryKeys[key] = struct{}{}
	}
	mtx.mu.Unlock()

	if committed || staged {
		return domain.ErrStaleTransferState
	}

	row := *entry
	return mtx.enqueue(func(s *Store) {
		s.entries = append(s.entries, &row)
		s.entryKeys[key] = struct{}{}
	})
}

// GetByTransfer returns the entries of a transfer.
func (r *EntryRepository) GetByTransfer(_ context.Context, transferID string) ([]*domain.Entry, error) {
	return r.filter(func(e *domain.Entry) bool { return e.TransferID == transferID }), nil
}

// GetByAccount returns an account's entries, newest first.
func (r *EntryRepository) GetByAccount(_ context.Context, accountID string, limit, offset int) ([]*domain.Entry, error) {
	entries := r.filter(func(e *domain.Entry) bool { return e.AccountID == accountID })
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].AccountVersion > entries[j].AccountVersion
	})
	return page(entries, limit, offset), nil
}

// GetBalanceAtTime returns the balance after the last entry at or before at.
func (r *EntryRepository) GetBalanceAtTime(_ context.Context, accountID string, at time.Time) (int64, error) {
	var (
		balance int64
		version int64 = -1
	)
	for _, e := range r.filter(func(e *domain.Entry) bool {
		return e.AccountID == accountID && !e.CreatedAt.After(at)
	}) {
		if e.AccountVersion > version {
			version = e.AccountVersion
			balance = e.AccountCurrentBalance
		}
	}
	return balance, nil
}

// SumByAccount sums the signed amounts of an account's entries.
func (r *EntryRepository) SumByAccount(_ context.Context, accountID string) (int64, error) {
	var sum int64
	for _, e := range r.filter(func(e *domain.Entry) bool { return e.AccountID == accountID }) {
		sum += e.Amount
	}
	return sum, nil
}

func (r *EntryRepository) filter(keep func(*domain.Entry) bool) []*domain.Entry {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []*domain.Entry
	for _, e := range r.store.entries {
		if keep(e) {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out
}
