package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/iho/transferengine/internal/domain"
	"github.com/iho/transferengine/internal/usecase"
)

const accountColumns = `id, name, owner_id, currency, type, status, balance, version, allow_overdraft, created_at, updated_at`

// AccountRepository implements usecase.AccountRepository.
type AccountRepository struct {
	db DB
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(db DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create inserts a new account.
func (r *AccountRepository) Create(ctx context.Context, tx usecase.Transaction, account *domain.Account) error {
	q, err := txDB(tx)
	if err != nil {
		return err
	}

	_, err = q.Exec(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		account.ID, account.Name, account.OwnerID, account.Currency, string(account.Type), string(account.Status),
		account.Balance, account.Version, account.AllowOverdraft, account.CreatedAt, account.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert account: %w", mapError(err))
	}
	return nil
}

// GetByID retrieves an account by ID.
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	row := r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return scanAccountRow(row)
}

// GetByIDForUpdate retrieves an account with a row lock.
func (r *AccountRepository) GetByIDForUpdate(ctx context.Context, tx usecase.Transaction, id string) (*domain.Account, error) {
	q, err := txDB(tx)
	if err != nil {
		return nil, err
	}

	row := q.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id)
	return scanAccountRow(row)
}

// GetByIDsForUpdate locks several accounts. Rows are locked in id order,
// which matches the order callers pass, so concurrent postings touching
// the same pair never wait on each other in a cycle.
func (r *AccountRepository) GetByIDsForUpdate(ctx context.Context, tx usecase.Transaction, ids []string) ([]*domain.Account, error) {
	q, err := txDB(tx)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, fmt.Errorf("lock accounts: %w", mapError(err))
	}
	defer rows.Close()

	byID := make(map[string]*domain.Account, len(ids))
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		byID[acc.ID] = acc
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lock accounts: %w", mapError(err))
	}

	accounts := make([]*domain.Account, 0, len(ids))
	for _, id := range ids {
		acc, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, id)
		}
		accounts = append(accounts, acc)
	}
	return accounts, nil
}

// UpdateBalance writes balance if the stored version still matches.
func (r *AccountRepository) UpdateBalance(ctx context.Context, tx usecase.Transaction, id string, balance, expectedVersion int64, updatedAt time.Time) error {
	q, err := txDB(tx)
	if err != nil {
		return err
	}

	tag, err := q.Exec(ctx, `
		UPDATE accounts SET balance = $2, version = version + 1, updated_at = $4
		WHERE id = $1 AND version = $3`,
		id, balance, expectedVersion, updatedAt,
	)
	if err != nil {
		if isCheckViolation(err, "accounts_balance_check") {
			return domain.ErrInsufficientFunds
		}
		return fmt.Errorf("update balance: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return r.conflictOrMissing(ctx, q, id)
	}
	return nil
}

// UpdateStatus writes status if the stored version still matches.
func (r *AccountRepository) UpdateStatus(ctx context.Context, tx usecase.Transaction, id string, status domain.AccountStatus, expectedVersion int64, updatedAt time.Time) error {
	q, err := txDB(tx)
	if err != nil {
		return err
	}

	tag, err := q.Exec(ctx, `
		UPDATE accounts SET status = $2, version = version + 1, updated_at = $4
		WHERE id = $1 AND version = $3`,
		id, string(status), expectedVersion, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("update status: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return r.conflictOrMissing(ctx, q, id)
	}
	return nil
}

func (r *AccountRepository) conflictOrMissing(ctx context.Context, q DB, id string) error {
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, id).Scan(&exists); err != nil {
		return mapError(err)
	}
	if !exists {
		return domain.ErrAccountNotFound
	}
	return domain.ErrConcurrencyConflict
}

// List returns accounts in creation order.
func (r *AccountRepository) List(ctx context.Context, limit, offset int) ([]*domain.Account, error) {
	return r.list(ctx,
		`SELECT `+accountColumns+` FROM accounts ORDER BY created_at, id LIMIT $1 OFFSET $2`, limit, offset)
}

// ListByOwner returns the accounts of ownerID in creation order.
func (r *AccountRepository) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*domain.Account, error) {
	return r.list(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE owner_id = $1 ORDER BY created_at, id LIMIT $2 OFFSET $3`,
		ownerID, limit, offset)
}

func (r *AccountRepository) list(ctx context.Context, query string, args ...any) ([]*domain.Account, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", mapError(err))
	}
	defer rows.Close()

	var accounts []*domain.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list accounts: %w", mapError(err))
	}
	return accounts, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(s scanner) (*domain.Account, error) {
	var (
		acc            domain.Account
		accType, state string
	)
	err := s.Scan(&acc.ID, &acc.Name, &acc.OwnerID, &acc.Currency, &accType, &state,
		&acc.Balance, &acc.Version, &acc.AllowOverdraft, &acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	acc.Type = domain.AccountType(accType)
	acc.Status = domain.AccountStatus(state)
	return &acc, nil
}

func scanAccountRow(row pgx.Row) (*domain.Account, error) {
	acc, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account: %w", mapError(err))
	}
	return acc, nil
}
