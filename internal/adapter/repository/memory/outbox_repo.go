package memory

import (
	"context"
	"time"

	"github.com/iho/transferengine/internal/domain"
	"github.com/iho/transferengine/internal/usecase"
)

// OutboxRepository implements usecase.OutboxRepository. Events are kept in
// commit order.
type OutboxRepository struct {
	store *Store
}

// NewOutboxRepository creates a new OutboxRepository.
func NewOutboxRepository(store *Store) *OutboxRepository {
	return &OutboxRepository{store: store}
}

// Create appends the event when tx commits.
func (r *OutboxRepository) Create(_ context.Context, tx usecase.Transaction, event *domain.OutboxEvent) error {
	mtx, err := asTx(tx)
	if err != nil {
		return err
	}
	row := *event
	return mtx.enqueue(func(s *Store) {
		s.outbox = append(s.outbox, &row)
	})
}

// GetUnpublished returns up to limit unpublished events in commit order.
func (r *OutboxRepository) GetUnpublished(_ context.Context, limit int) ([]*domain.OutboxEvent, error) {
	return page(r.filter(func(e *domain.OutboxEvent) bool { return !e.Published }), limit, 0), nil
}

// MarkPublished marks an event as published.
func (r *OutboxRepository) MarkPublished(_ context.Context, id string, publishedAt time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	for _, e := range r.store.outbox {
		if e.ID == id {
			at := publishedAt
			e.Published = true
			e.PublishedAt = &at
			return nil
		}
	}
	return nil
}

// GetByAggregate returns the events of one aggregate in commit order.
func (r *OutboxRepository) GetByAggregate(_ context.Context, aggregateType, aggregateID string, limit, offset int) ([]*domain.OutboxEvent, error) {
	events := r.filter(func(e *domain.OutboxEvent) bool {
		return e.AggregateType == aggregateType && e.AggregateID == aggregateID
	})
	return page(events, limit, offset), nil
}

// DeletePublished removes events published before cutoff.
func (r *OutboxRepository) DeletePublished(_ context.Context, before time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	kept := r.store.outbox[:0]
	var deleted int64
	for _, e := range r.store.outbox {
		if e.Published && e.PublishedAt != nil && e.PublishedAt.Before(before) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	r.store.outbox = kept
	return deleted, nil
}

func (r *OutboxRepository) filter(keep func(*domain.OutboxEvent) bool) []*domain.OutboxEvent {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []*domain.OutboxEvent
	for _, e := range r.store.outbox {
		if keep(e) {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out
}
