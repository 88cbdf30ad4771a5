// Package eventpublisher delivers outbox events to external sinks.
package eventpublisher

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/transferengine/internal/domain"
	"github.com/iho/transferengine/internal/infrastructure/metrics"
	"github.com/iho/transferengine/internal/usecase"
)

// EventPublisher polls the outbox and hands events to a Publisher. Delivery
// is at-least-once: an event is marked published only after the sink
// accepted it, so a crash in between redelivers it.
type EventPublisher struct {
	outboxRepo usecase.OutboxRepository
	publisher  Publisher
	logger     zerolog.Logger
	metrics    *metrics.Metrics
	batchSize  int
	interval   time.Duration
	retention  time.Duration
	locks      usecase.LockManager
	lockTTL    time.Duration
	now        func() time.Time
}

const publisherLockKey = "outbox-publisher"

// Publisher defines the interface for publishing events to external systems.
type Publisher interface {
	Publish(ctx context.Context, event *domain.OutboxEvent) error
}

// Config for EventPublisher.
type Config struct {
	OutboxRepo usecase.OutboxRepository
	Publisher  Publisher
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics // optional
	BatchSize  int              // Number of events to fetch per batch
	Interval   time.Duration    // Polling interval
	// Retention is how long published events are kept. Zero keeps them.
	Retention time.Duration
	// Locks makes one replica at a time deliver. Without it every replica
	// polls, and per-transfer order only holds within a process.
	Locks usecase.LockManager
}

// NewEventPublisher creates a new EventPublisher.
func NewEventPublisher(cfg Config) *EventPublisher {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.Interval == 0 {
		cfg.Interval = time.Second
	}

	return &EventPublisher{
		outboxRepo: cfg.OutboxRepo,
		publisher:  cfg.Publisher,
		logger:     cfg.Logger.With().Str("component", "event_publisher").Logger(),
		metrics:    cfg.Metrics,
		batchSize:  cfg.BatchSize,
		interval:   cfg.Interval,
		retention:  cfg.Retention,
		locks:      cfg.Locks,
		lockTTL:    max(30*time.Second, 10*cfg.Interval),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Start begins the event publishing worker.
// It runs continuously until the context is cancelled.
func (ep *EventPublisher) Start(ctx context.Context) error {
	ep.logger.Info().
		Int("batch_size", ep.batchSize).
		Dur("interval", ep.interval).
		Msg("event publisher started")

	ticker := time.NewTicker(ep.interval)
	defer ticker.Stop()

	ep.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			ep.logger.Info().Msg("event publisher shutting down")
			return ctx.Err()
		case <-ticker.C:
			ep.tick(ctx)
		}
	}
}

// tick runs one delivery pass, under the publisher lock when configured.
func (ep *EventPublisher) tick(ctx context.Context) {
	if ep.locks == nil {
		ep.deliver(ctx)
		return
	}

	err := ep.locks.WithLock(ctx, publisherLockKey, ep.lockTTL, func(ctx context.Context) error {
		// The pass must end well before the lock can expire, or another
		// replica could start delivering while a send is still in flight.
		ctx, cancel := context.WithTimeout(ctx, ep.lockTTL/2)
		defer cancel()
		ep.deliver(ctx)
		return nil
	})
	switch {
	case errors.Is(err, usecase.ErrLockNotAcquired):
		ep.logger.Debug().Msg("outbox owned by another replica")
	case err != nil:
		ep.logger.Error().Err(err).Msg("failed to acquire publisher lock")
	}
}

func (ep *EventPublisher) deliver(ctx context.Context) {
	if err := ep.processEvents(ctx); err != nil {
		ep.logger.Error().Err(err).Msg("error processing events")
	}
	if ep.retention > 0 {
		deleted, err := ep.outboxRepo.DeletePublished(ctx, ep.now().Add(-ep.retention))
		if err != nil {
			ep.logger.Error().Err(err).Msg("failed to delete published events")
		} else if deleted > 0 {
			ep.logger.Debug().Int64("deleted", deleted).Msg("published events deleted")
		}
	}
}

// processEvents fetches and publishes a batch of unpublished events. Once
// an event of a transfer fails, the later events of that transfer wait for
// the next poll so consumers never see them out of order.
func (ep *EventPublisher) processEvents(ctx context.Context) error {
	events, err := ep.outboxRepo.GetUnpublished(ctx, ep.batchSize)
	if err != nil {
		return err
	}

	if len(events) == 0 {
		return nil
	}

	ep.logger.Debug().Int("count", len(events)).Msg("processing events")

	blocked := make(map[string]struct{})
	for _, event := range events {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		key := event.AggregateType + "/" + event.AggregateID
		if _, skip := blocked[key]; skip {
			continue
		}

		if err := ep.publisher.Publish(ctx, event); err != nil {
			blocked[key] = struct{}{}
			ep.failed(event, err, "failed to publish event")
			continue
		}

		if err := ep.outboxRepo.MarkPublished(ctx, event.ID, ep.now()); err != nil {
			// The event will be delivered again; hold back its successors
			// so the redelivery still precedes them.
			blocked[key] = struct{}{}
			ep.failed(event, err, "failed to mark event as published")
			continue
		}

		if ep.metrics != nil {
			ep.metrics.EventsPublished.WithLabelValues(event.EventType).Inc()
		}
		ep.logger.Debug().
			Str("event_id", event.ID).
			Str("event_type", event.EventType).
			Str("aggregate_id", event.AggregateID).
			Int64("sequence", event.Sequence).
			Msg("event published")
	}

	return nil
}

func (ep *EventPublisher) failed(event *domain.OutboxEvent, err error, msg string) {
	if ep.metrics != nil {
		ep.metrics.EventPublishFailures.WithLabelValues(event.EventType).Inc()
	}
	ep.logger.Error().
		Err(err).
		Str("event_id", event.ID).
		Str("event_type", event.EventType).
		Str("aggregate_id", event.AggregateID).
		Int64("sequence", event.Sequence).
		Msg(msg)
}
