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

// IdempotencyRepository implements usecase.IdempotencyRepository.
type IdempotencyRepository struct {
	db DB
}

// NewIdempotencyRepository creates a new IdempotencyRepository.
func NewIdempotencyRepository(db DB) *IdempotencyRepository {
	return &IdempotencyRepository{db: db}
}

// Insert reserves (source, key). A concurrent insert of the same pair
// blocks on the primary key until the first transaction ends and then
// inserts nothing.
func (r *IdempotencyRepository) Insert(ctx context.Context, tx usecase.Transaction, record *domain.IdempotencyRecord) (bool, error) {
	q, err := txDB(tx)
	if err != nil {
		return false, err
	}

	tag, err := q.Exec(ctx, `
		INSERT INTO idempotency_records (source_account_id, key, transfer_id, fingerprint, first_seen_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (source_account_id, key) DO NOTHING`,
		record.SourceAccountID, record.Key, record.TransferID, record.Fingerprint, record.FirstSeenAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert idempotency record: %w", mapError(err))
	}
	return tag.RowsAffected() == 1, nil
}

// Get returns the committed record for (source, key).
func (r *IdempotencyRepository) Get(ctx context.Context, sourceAccountID, key string) (*domain.IdempotencyRecord, error) {
	var rec domain.IdempotencyRecord
	err := r.db.QueryRow(ctx, `
		SELECT source_account_id, key, transfer_id, fingerprint, first_seen_at
		FROM idempotency_records
		WHERE source_account_id = $1 AND key = $2`,
		sourceAccountID, key,
	).Scan(&rec.SourceAccountID, &rec.Key, &rec.TransferID, &rec.Fingerprint, &rec.FirstSeenAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrIdempotencyNotFound
		}
		return nil, fmt.Errorf("get idempotency record: %w", mapError(err))
	}
	return &rec, nil
}

// PruneTerminal deletes records first seen before cutoff whose transfer
// reached SETTLED or REJECTED.
func (r *IdempotencyRepository) PruneTerminal(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM idempotency_records r
		USING transfers t
		WHERE r.transfer_id = t.id
			AND r.first_seen_at < $1
			AND t.state IN ($2, $3)`,
		before, string(domain.TransferStateSettled), string(domain.TransferStateRejected),
	)
	if err != nil {
		return 0, fmt.Errorf("prune idempotency records: %w", mapError(err))
	}
	return tag.RowsAffected(), nil
}
