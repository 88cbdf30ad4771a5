package domain

import (
	"encoding/json"
	"time"
)

// Event types
const (
	EventTypeTransferSettled  = "transfer.settled"
	EventTypeTransferRejected = "transfer.rejected"
	EventTypeTransferHeld     = "transfer.held"
)

// Aggregate types
const (
	AggregateTypeTransfer = "transfer"
)

// OutboxEvent represents an event to be published. Sequence orders the
// events of one aggregate.
type OutboxEvent struct {
	ID            string
	AggregateID   string
	AggregateType string
	EventType     string
	Payload       map[string]any
	Sequence      int64
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Published     bool
}

// SettledAccounts names both sides of a settled transfer.
type SettledAccounts struct {
	Source string `json:"source"`
	Dest   string `json:"dest"`
}

// TransferSettledEvent payload
type TransferSettledEvent struct {
	TransferID  string          `json:"transfer_id"`
	Accounts    SettledAccounts `json:"accounts"`
	Amount      string          `json:"amount"`
	AmountMinor int64           `json:"amount_minor"`
	Currency    string          `json:"currency"`
	Reference   string          `json:"reference,omitempty"`
	Timestamp   string          `json:"timestamp"`
}

// TransferRejectedEvent payload
type TransferRejectedEvent struct {
	TransferID string `json:"transfer_id"`
	Reason     string `json:"reason"`
	Timestamp  string `json:"timestamp"`
}

// TransferHeldEvent payload
type TransferHeldEvent struct {
	TransferID     string   `json:"transfer_id"`
	TriggeredRules []string `json:"triggered_rules,omitempty"`
	Timestamp      string   `json:"timestamp"`
}

// NewTransferEvent builds the outbox event for the transfer's current state.
// It returns nil for states that publish nothing.
func NewTransferEvent(id string, t *Transfer, now time.Time) *OutboxEvent {
	ts := now.UTC().Format(time.RFC3339Nano)

	var (
		eventType string
		payload   any
	)

	switch t.State {
	case TransferStateSettled:
		eventType = EventTypeTransferSettled
		payload = TransferSettledEvent{
			TransferID:  t.ID,
			Accounts:    SettledAccounts{Source: t.SourceAccountID, Dest: t.DestAccountID},
			Amount:      FormatMinorUnits(t.Amount, t.Currency),
			AmountMinor: t.Amount,
			Currency:    t.Currency,
			Reference:   t.Reference,
			Timestamp:   ts,
		}
	case TransferStateRejected:
		eventType = EventTypeTransferRejected
		payload = TransferRejectedEvent{TransferID: t.ID, Reason: t.RejectReason, Timestamp: ts}
	case TransferStateHeld:
		held := TransferHeldEvent{TransferID: t.ID, Timestamp: ts}
		if t.Verdict != nil {
			held.TriggeredRules = t.Verdict.TriggeredRules
		}
		eventType = EventTypeTransferHeld
		payload = held
	default:
		return nil
	}

	t.EventSeq++

	return &OutboxEvent{
		ID:            id,
		AggregateID:   t.ID,
		AggregateType: AggregateTypeTransfer,
		EventType:     eventType,
		Payload:       toPayload(payload),
		Sequence:      t.EventSeq,
		CreatedAt:     now,
	}
}

func toPayload(v any) map[string]any {
	data, err := json.Marshal(v)
	if err != nil {
		return map[string]any{"error": "failed to marshal payload"}
	}

	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{"error": "failed to unmarshal payload"}
	}
	return out
}
