package eventpublisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/transferengine/internal/domain"
)

// Envelope is the wire form of an outbox event.
type Envelope struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	AggregateID string         `json:"aggregate_id"`
	Sequence    int64          `json:"sequence"`
	OccurredAt  time.Time      `json:"occurred_at"`
	Payload     map[string]any `json:"payload"`
}

func encodeEvent(event *domain.OutboxEvent) ([]byte, error) {
	body, err := json.Marshal(Envelope{
		ID:          event.ID,
		Type:        event.EventType,
		AggregateID: event.AggregateID,
		Sequence:    event.Sequence,
		OccurredAt:  event.CreatedAt,
		Payload:     event.Payload,
	})
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", event.ID, err)
	}
	return body, nil
}

// LogPublisher is a simple publisher that logs events.
type LogPublisher struct {
	logger zerolog.Logger
}

// NewLogPublisher creates a new LogPublisher.
func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish logs the event.
func (p *LogPublisher) Publish(_ context.Context, event *domain.OutboxEvent) error {
	body, err := encodeEvent(event)
	if err != nil {
		return err
	}

	p.logger.Info().
		Str("event_id", event.ID).
		Str("event_type", event.EventType).
		Str("transfer_id", event.AggregateID).
		Int64("sequence", event.Sequence).
		RawJSON("event", body).
		Msg("event published")

	return nil
}

// FanoutPublisher delivers every event to all of its sinks. An event counts
// as published only when every sink accepted it.
type FanoutPublisher struct {
	sinks []Publisher
}

// NewFanoutPublisher creates a publisher over sinks.
func NewFanoutPublisher(sinks ...Publisher) *FanoutPublisher {
	return &FanoutPublisher{sinks: sinks}
}

// Publish sends event to each sink in order and joins their errors.
func (p *FanoutPublisher) Publish(ctx context.Context, event *domain.OutboxEvent) error {
	var errs []error
	for _, sink := range p.sinks {
		if err := sink.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
