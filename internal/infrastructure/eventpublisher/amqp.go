package eventpublisher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iho/transferengine/internal/domain"
)

// DefaultConfirmTimeout bounds the wait for a broker confirmation.
const DefaultConfirmTimeout = 5 * time.Second

var (
	// ErrPublishNacked is returned when the broker refuses a message.
	ErrPublishNacked = errors.New("broker did not acknowledge message")
	// ErrConfirmTimeout is returned when no confirmation arrives in time.
	ErrConfirmTimeout = errors.New("broker confirmation timed out")
	// ErrConfirmChannelClosed means the channel closed while waiting.
	ErrConfirmChannelClosed = errors.New("confirmation channel closed")
)

// ConfirmChannel is the part of *amqp.Channel the AMQP sink uses.
type ConfirmChannel interface {
	Confirm(noWait bool) error
	NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes events to a topic exchange and waits for a
// publisher confirm before reporting success. The routing key is the
// event type.
type AMQPPublisher struct {
	mu             sync.Mutex
	ch             ConfirmChannel
	confirms       chan amqp.Confirmation
	conn           *amqp.Connection
	exchange       string
	confirmTimeout time.Duration
	deliveryTag    uint64
}

// NewAMQPPublisher puts ch into confirm mode.
func NewAMQPPublisher(ch ConfirmChannel, exchange string, confirmTimeout time.Duration) (*AMQPPublisher, error) {
	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}
	if confirmTimeout <= 0 {
		confirmTimeout = DefaultConfirmTimeout
	}
	return &AMQPPublisher{
		ch:             ch,
		confirms:       ch.NotifyPublish(make(chan amqp.Confirmation, 1)),
		exchange:       exchange,
		confirmTimeout: confirmTimeout,
	}, nil
}

// DialAMQP connects to url, declares a durable topic exchange and returns
// a publisher on it.
func DialAMQP(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	pub, err := NewAMQPPublisher(ch, exchange, DefaultConfirmTimeout)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	pub.conn = conn
	return pub, nil
}

// Publish sends one event and blocks until the broker confirms it.
func (p *AMQPPublisher) Publish(ctx context.Context, event *domain.OutboxEvent) error {
	body, err := encodeEvent(event)
	if err != nil {
		return err
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Type:         event.EventType,
		Timestamp:    event.CreatedAt,
		Headers: amqp.Table{
			"transfer_id": event.AggregateID,
			"sequence":    event.Sequence,
		},
		Body: body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ch.PublishWithContext(ctx, p.exchange, event.EventType, false, false, msg); err != nil {
		return fmt.Errorf("publish %s: %w", event.ID, err)
	}
	p.deliveryTag++
	tag := p.deliveryTag

	timer := time.NewTimer(p.confirmTimeout)
	defer timer.Stop()

	for {
		select {
		case confirm, ok := <-p.confirms:
			if !ok {
				return ErrConfirmChannelClosed
			}
			// Late confirmation of a message that already timed out.
			if confirm.DeliveryTag < tag {
				continue
			}
			if !confirm.Ack {
				return fmt.Errorf("%w: %s", ErrPublishNacked, event.ID)
			}
			return nil
		case <-timer.C:
			return fmt.Errorf("%w: %s", ErrConfirmTimeout, event.ID)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close closes the channel and, when the publisher dialled it, the connection.
func (p *AMQPPublisher) Close() error {
	err := p.ch.Close()
	if p.conn != nil {
		err = errors.Join(err, p.conn.Close())
	}
	return err
}
