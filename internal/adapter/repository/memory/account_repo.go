package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/iho/transferengine/internal/domain"
	"github.com/iho/transferengine/internal/usecase"
)

// AccountRepository implements usecase.AccountRepository.
type AccountRepository struct {
	store *Store
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(store *Store) *AccountRepository {
	return &AccountRepository{store: store}
}

// Create inserts an account when tx commits.
func (r *AccountRepository) Create(ctx context.Context, tx usecase.Transaction, account *domain.Account) error {
	mtx, err := asTx(tx)
	if err != nil {
		return err
	}
	if err := mtx.lock(ctx, accountLockKey(account.ID)); err != nil {
		return err
	}

	r.store.mu.RLock()
	_, exists := r.store.accounts[account.ID]
	r.store.mu.RUnlock()
	if exists {
		return fmt.Errorf("account %s already exists", account.ID)
	}

	row := *account
	mtx.mu.Lock()
	mtx.accounts[row.ID] = &row
	mtx.mu.Unlock()

	return mtx.enqueue(func(s *Store) {
		committed := row
		s.accounts[row.ID] = &committed
	})
}

// GetByID returns the committed account.
func (r *AccountRepository) GetByID(_ context.Context, id string) (*domain.Account, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	acc, ok := r.store.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	out := *acc
	return &out, nil
}

// GetByIDForUpdate locks the account row for the rest of tx.
func (r *AccountRepository) GetByIDForUpdate(ctx context.Context, tx usecase.Transaction, id string) (*domain.Account, error) {
	mtx, err := asTx(tx)
	if err != nil {
		return nil, err
	}
	if err := mtx.lock(ctx, accountLockKey(id)); err != nil {
		return nil, err
	}

	acc, ok := r.visible(mtx, id)
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return acc, nil
}

// GetByIDsForUpdate locks the accounts in the order given and returns the
// ones that exist.
func (r *AccountRepository) GetByIDsForUpdate(ctx context.Context, tx usecase.Transaction, ids []string) ([]*domain.Account, error) {
	mtx, err := asTx(tx)
	if err != nil {
		return nil, err
	}

	accounts := make([]*domain.Account, 0, len(ids))
	for _, id := range ids {
		if err := mtx.lock(ctx, accountLockKey(id)); err != nil {
			return nil, err
		}
		if acc, ok := r.visible(mtx, id); ok {
			accounts = append(accounts, acc)
		}
	}
	return accounts, nil
}

// UpdateBalance writes balance if the version still equals expectedVersion.
func (r *AccountRepository) UpdateBalance(ctx context.Context, tx usecase.Transaction, id string, balance, expectedVersion int64, updatedAt time.Time) error {
	return r.update(ctx, tx, id, expectedVersion, func(acc *domain.Account) {
		acc.Balance = balance
		acc.UpdatedAt = updatedAt
	})
}

// UpdateStatus writes status if the version still equals expectedVersion.
func (r *AccountRepository) UpdateStatus(ctx context.Context, tx usecase.Transaction, id string, status domain.AccountStatus, expectedVersion int64, updatedAt time.Time) error {
	return r.update(ctx, tx, id, expectedVersion, func(acc *domain.Account) {
		acc.Status = status
		acc.UpdatedAt = updatedAt
	})
}

func (r *AccountRepository) update(ctx context.Context, tx usecase.Transaction, id string, expectedVersion int64, apply func(*domain.Account)) error {
	mtx, err := asTx(tx)
	if err != nil {
		return err
	}
	if err := mtx.lock(ctx, accountLockKey(id)); err != nil {
		return err
	}

	acc, ok := r.visible(mtx, id)
	if !ok {
		return domain.ErrAccountNotFound
	}
	if acc.Version != expectedVersion {
		return domain.ErrConcurrencyConflict
	}

	apply(acc)
	acc.Version++

	row := *acc
	mtx.mu.Lock()
	mtx.accounts[id] = &row
	mtx.mu.Unlock()

	return mtx.enqueue(func(s *Store) {
		committed := row
		s.accounts[id] = &committed
	})
}

// List returns committed accounts ordered by creation time.
func (r *AccountRepository) List(_ context.Context, limit, offset int) ([]*domain.Account, error) {
	return r.list(func(*domain.Account) bool { return true }, limit, offset), nil
}

// ListByOwner returns the committed accounts of ownerID ordered by creation time.
func (r *AccountRepository) ListByOwner(_ context.Context, ownerID string, limit, offset int) ([]*domain.Account, error) {
	return r.list(func(acc *domain.Account) bool { return acc.OwnerID == ownerID }, limit, offset), nil
}

func (r *AccountRepository) list(keep func(*domain.Account) bool, limit, offset int) []*domain.Account {
	r.store.mu.RLock()
	all := make([]*domain.Account, 0, len(r.store.accounts))
	for _, acc := range r.store.accounts {
		if !keep(acc) {
			continue
		}
		out := *acc
		all = append(all, &out)
	}
	r.store.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	return page(all, limit, offset)
}

// visible returns a copy of the account as tx sees it.
func (r *AccountRepository) visible(mtx *Tx, id string) (*domain.Account, bool) {
	mtx.mu.Lock()
	own, ok := mtx.accounts[id]
	mtx.mu.Unlock()
	if ok {
		out := *own
		return &out, true
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	acc, ok := r.store.accounts[id]
	if !ok {
		return nil, false
	}
	out := *acc
	return &out, true
}

func page[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}
