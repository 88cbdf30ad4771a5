package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/iho/transferengine/internal/domain"
	"github.com/iho/transferengine/internal/usecase"
)

const entryColumns = `id, transfer_id, account_id, currency, amount,
	account_previous_balance, account_current_balance, account_version, created_at`

// EntryRepository implements usecase.EntryRepository.
type EntryRepository struct {
	db DB
}

// NewEntryRepository creates a new EntryRepository.
func NewEntryRepository(db DB) *EntryRepository {
	return &EntryRepository{db: db}
}

// Create inserts an entry. A second entry for the same transfer and
// account means the transfer was already posted.
func (r *EntryRepository) Create(ctx context.Context, tx usecase.Transaction, entry *domain.Entry) error {
	q, err := txDB(tx)
	if err != nil {
		return err
	}

	_, err = q.Exec(ctx, `
		INSERT INTO entries (`+entryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.TransferID, entry.AccountID, entry.Currency, entry.Amount,
		entry.AccountPreviousBalance, entry.AccountCurrentBalance, entry.AccountVersion, entry.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrStaleTransferState
		}
		return fmt.Errorf("insert entry: %w", mapError(err))
	}
	return nil
}

// GetByTransfer returns the entries of a transfer.
func (r *EntryRepository) GetByTransfer(ctx context.Context, transferID string) ([]*domain.Entry, error) {
	return r.list(ctx, `SELECT `+entryColumns+` FROM entries WHERE transfer_id = $1 ORDER BY amount`, transferID)
}

// GetByAccount returns an account's entries, newest first.
func (r *EntryRepository) GetByAccount(ctx context.Context, accountID string, limit, offset int) ([]*domain.Entry, error) {
	return r.list(ctx, `
		SELECT `+entryColumns+` FROM entries
		WHERE account_id = $1
		ORDER BY account_version DESC
		LIMIT $2 OFFSET $3`, accountID, limit, offset)
}

// GetBalanceAtTime returns the balance after the last entry at or before at.
func (r *EntryRepository) GetBalanceAtTime(ctx context.Context, accountID string, at time.Time) (int64, error) {
	var balance int64
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE((
			SELECT account_current_balance FROM entries
			WHERE account_id = $1 AND created_at <= $2
			ORDER BY account_version DESC
			LIMIT 1
		), 0)`, accountID, at).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("balance at time: %w", mapError(err))
	}
	return balance, nil
}

// SumByAccount sums the signed amounts of an account's entries.
func (r *EntryRepository) SumByAccount(ctx context.Context, accountID string) (int64, error) {
	var sum int64
	err := r.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0)::BIGINT FROM entries WHERE account_id = $1`, accountID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum entries: %w", mapError(err))
	}
	return sum, nil
}

func (r *EntryRepository) list(ctx context.Context, sql string, args ...any) ([]*domain.Entry, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", mapError(err))
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.Entry, error) {
		var e domain.Entry
		err := row.Scan(&e.ID, &e.TransferID, &e.AccountID, &e.Currency, &e.Amount,
			&e.AccountPreviousBalance, &e.AccountCurrentBalance, &e.AccountVersion, &e.CreatedAt)
		return &e, err
	})
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", mapError(err))
	}
	return entries, nil
}
