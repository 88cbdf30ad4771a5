package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/iho/transferengine/internal/domain"
	"github.com/iho/transferengine/internal/usecase"
)

const outboxColumns = `id, aggregate_type, aggregate_id, event_type, payload, sequence, created_at, published, published_at`

// OutboxRepository implements usecase.OutboxRepository. Events are read
// back in commit order using the seq column.
type OutboxRepository struct {
	db DB
}

// NewOutboxRepository creates a new OutboxRepository.
func NewOutboxRepository(db DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Create inserts an event in the same transaction as the state change
// that produced it.
func (r *OutboxRepository) Create(ctx context.Context, tx usecase.Transaction, event *domain.OutboxEvent) error {
	q, err := txDB(tx)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("encode outbox payload: %w", err)
	}

	_, err = q.Exec(ctx, `
		INSERT INTO outbox_events (id, aggregate_type, aggregate_id, event_type, payload, sequence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.ID, event.AggregateType, event.AggregateID, event.EventType, payload, event.Sequence, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", mapError(err))
	}
	return nil
}

// GetUnpublished returns up to limit unpublished events in commit order.
func (r *OutboxRepository) GetUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEvent, error) {
	return r.list(ctx, `
		SELECT `+outboxColumns+` FROM outbox_events
		WHERE NOT published
		ORDER BY seq
		LIMIT $1`, limit)
}

// MarkPublished marks an event as published.
func (r *OutboxRepository) MarkPublished(ctx context.Context, id string, publishedAt time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE outbox_events SET published = TRUE, published_at = $2 WHERE id = $1`, id, publishedAt)
	if err != nil {
		return fmt.Errorf("mark outbox event published: %w", mapError(err))
	}
	return nil
}

// GetByAggregate returns the events of one aggregate in commit order.
func (r *OutboxRepository) GetByAggregate(ctx context.Context, aggregateType, aggregateID string, limit, offset int) ([]*domain.OutboxEvent, error) {
	return r.list(ctx, `
		SELECT `+outboxColumns+` FROM outbox_events
		WHERE aggregate_type = $1 AND aggregate_id = $2
		ORDER BY seq
		LIMIT $3 OFFSET $4`, aggregateType, aggregateID, limit, offset)
}

// DeletePublished removes events published before cutoff.
func (r *OutboxRepository) DeletePublished(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM outbox_events WHERE published AND published_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("delete published outbox events: %w", mapError(err))
	}
	return tag.RowsAffected(), nil
}

func (r *OutboxRepository) list(ctx context.Context, sql string, args ...any) ([]*domain.OutboxEvent, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list outbox events: %w", mapError(err))
	}

	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.OutboxEvent, error) {
		var (
			e       domain.OutboxEvent
			payload []byte
		)
		if err := row.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &e.EventType, &payload,
			&e.Sequence, &e.CreatedAt, &e.Published, &e.PublishedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(payload, &e.Payload); err != nil {
			return nil, fmt.Errorf("decode outbox payload of %s: %w", e.ID, err)
		}
		return &e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("list outbox events: %w", mapError(err))
	}
	return events, nil
}
