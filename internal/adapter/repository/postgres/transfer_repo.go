package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/iho/transferengine/internal/domain"
	"github.com/iho/transferengine/internal/usecase"
)

const transferColumns = `id, idempotency_key, source_account_id, dest_account_id, amount, currency,
	reference, state, risk_decision, review_decision, reject_reason, reviewer_id,
	fingerprint, verdict, event_seq, created_at, updated_at, resolved_at`

// TransferRepository implements usecase.TransferRepository and the
// history queries the risk rules run.
type TransferRepository struct {
	db DB
}

// NewTransferRepository creates a new TransferRepository.
func NewTransferRepository(db DB) *TransferRepository {
	return &TransferRepository{db: db}
}

// Create inserts a new transfer.
func (r *TransferRepository) Create(ctx context.Context, tx usecase.Transaction, transfer *domain.Transfer) error {
	q, err := txDB(tx)
	if err != nil {
		return err
	}

	verdict, err := marshalVerdict(transfer.Verdict)
	if err != nil {
		return err
	}

	_, err = q.Exec(ctx, `
		INSERT INTO transfers (`+transferColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		transfer.ID, transfer.IdempotencyKey, transfer.SourceAccountID, transfer.DestAccountID,
		transfer.Amount, transfer.Currency, transfer.Reference, string(transfer.State),
		string(transfer.RiskDecision), string(transfer.ReviewDecision), transfer.RejectReason,
		transfer.ReviewerID, transfer.Fingerprint, verdict, transfer.EventSeq,
		transfer.CreatedAt, transfer.UpdatedAt, transfer.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transfer: %w", mapError(err))
	}
	return nil
}

// GetByID retrieves a transfer by ID.
func (r *TransferRepository) GetByID(ctx context.Context, id string) (*domain.Transfer, error) {
	t, err := scanTransfer(r.db.QueryRow(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTransferNotFound
		}
		return nil, fmt.Errorf("get transfer: %w", mapError(err))
	}
	return t, nil
}

// UpdateState persists the mutable columns if the stored state is still from.
func (r *TransferRepository) UpdateState(ctx context.Context, tx usecase.Transaction, transfer *domain.Transfer, from domain.TransferState) error {
	q, err := txDB(tx)
	if err != nil {
		return err
	}

	verdict, err := marshalVerdict(transfer.Verdict)
	if err != nil {
		return err
	}

	tag, err := q.Exec(ctx, `
		UPDATE transfers SET
			state = $2, risk_decision = $3, review_decision = $4, reject_reason = $5,
			reviewer_id = $6, verdict = $7, event_seq = $8, updated_at = $9, resolved_at = $10
		WHERE id = $1 AND state = $11`,
		transfer.ID, string(transfer.State), string(transfer.RiskDecision),
		string(transfer.ReviewDecision), transfer.RejectReason, transfer.ReviewerID,
		verdict, transfer.EventSeq, transfer.UpdatedAt, transfer.ResolvedAt, string(from),
	)
	if err != nil {
		return fmt.Errorf("update transfer: %w", mapError(err))
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM transfers WHERE id = $1)`, transfer.ID).Scan(&exists); err != nil {
		return mapError(err)
	}
	if !exists {
		return domain.ErrTransferNotFound
	}
	return domain.ErrStaleTransferState
}

// ListByAccount returns transfers touching the account, newest first.
func (r *TransferRepository) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*domain.Transfer, error) {
	return r.list(ctx, `
		SELECT `+transferColumns+` FROM transfers
		WHERE source_account_id = $1 OR dest_account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`, accountID, limit, offset)
}

// ListStale returns transfers in state last updated before cutoff, oldest first.
func (r *TransferRepository) ListStale(ctx context.Context, state domain.TransferState, before time.Time, limit int) ([]*domain.Transfer, error) {
	return r.list(ctx, `
		SELECT `+transferColumns+` FROM transfers
		WHERE state = $1 AND updated_at < $2
		ORDER BY updated_at, id
		LIMIT $3`, string(state), before, limit)
}

// SourceActivity counts and sums non-rejected transfers created by source
// in [since, until).
func (r *TransferRepository) SourceActivity(ctx context.Context, sourceAccountID string, since, until time.Time, excludeTransferID string) (int, int64, error) {
	var (
		count int
		total int64
	)
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(amount), 0)::BIGINT FROM transfers
		WHERE source_account_id = $1 AND created_at >= $2 AND created_at < $3
			AND id <> $4 AND state <> $5`,
		sourceAccountID, since, until, excludeTransferID, string(domain.TransferStateRejected),
	).Scan(&count, &total)
	if err != nil {
		return 0, 0, fmt.Errorf("source activity: %w", mapError(err))
	}
	return count, total, nil
}

// HasSettledTransfer reports whether source paid dest before until.
func (r *TransferRepository) HasSettledTransfer(ctx context.Context, sourceAccountID, destAccountID string, until time.Time) (bool, error) {
	var found bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM transfers
			WHERE source_account_id = $1 AND dest_account_id = $2
				AND state = $3 AND resolved_at < $4
		)`,
		sourceAccountID, destAccountID, string(domain.TransferStateSettled), until,
	).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("settled transfer lookup: %w", mapError(err))
	}
	return found, nil
}

// SettledAmounts returns up to limit settled amounts of source, newest first.
func (r *TransferRepository) SettledAmounts(ctx context.Context, sourceAccountID string, until time.Time, limit int) ([]int64, error) {
	rows, err := r.db.Query(ctx, `
		SELECT amount FROM transfers
		WHERE source_account_id = $1 AND state = $2 AND resolved_at < $3
		ORDER BY resolved_at DESC
		LIMIT $4`,
		sourceAccountID, string(domain.TransferStateSettled), until, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("settled amounts: %w", mapError(err))
	}

	amounts, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("settled amounts: %w", mapError(err))
	}
	return amounts, nil
}

func (r *TransferRepository) list(ctx context.Context, sql string, args ...any) ([]*domain.Transfer, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", mapError(err))
	}
	defer rows.Close()

	var transfers []*domain.Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list transfers: %w", mapError(err))
	}
	return transfers, nil
}

func scanTransfer(s scanner) (*domain.Transfer, error) {
	var (
		t                                   domain.Transfer
		state, riskDecision, reviewDecision string
		verdict                             []byte
	)
	err := s.Scan(&t.ID, &t.IdempotencyKey, &t.SourceAccountID, &t.DestAccountID, &t.Amount,
		&t.Currency, &t.Reference, &state, &riskDecision, &reviewDecision, &t.RejectReason,
		&t.ReviewerID, &t.Fingerprint, &verdict, &t.EventSeq, &t.CreatedAt, &t.UpdatedAt,
		&t.ResolvedAt)
	if err != nil {
		return nil, err
	}

	t.State = domain.TransferState(state)
	t.RiskDecision = domain.Decision(riskDecision)
	t.ReviewDecision = domain.Decision(reviewDecision)
	if len(verdict) > 0 {
		t.Verdict = &domain.RiskVerdict{}
		if err := json.Unmarshal(verdict, t.Verdict); err != nil {
			return nil, fmt.Errorf("decode verdict of %s: %w", t.ID, err)
		}
	}
	return &t, nil
}

func marshalVerdict(v *domain.RiskVerdict) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode verdict: %w", err)
	}
	return b, nil
}
