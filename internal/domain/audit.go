package domain

import (
	"encoding/json"
	"time"
)

// AuditLog represents an audit trail entry for compliance and debugging
type AuditLog struct {
	ID           string
	ActorID      string // Subject or system component that acted
	Action       string
	ResourceType string
	ResourceID   string
	RequestID    string
	BeforeState  JSON
	AfterState   JSON
	Status       string
	ErrorMessage string
	CreatedAt    time.Time
}

// JSON is a type alias for JSON data
type JSON map[string]any

// AuditAction represents different types of auditable actions
type AuditAction string

const (
	AuditActionAccountCreate   AuditAction = "account.create"
	AuditActionAccountFreeze   AuditAction = "account.freeze"
	AuditActionAccountUnfreeze AuditAction = "account.unfreeze"
	AuditActionAccountClose    AuditAction = "account.close"

	AuditActionTransferTransition AuditAction = "transfer.transition"
	AuditActionHoldResolve        AuditAction = "transfer.resolve_hold"
)

// AuditStatus represents the status of an audited action
type AuditStatus string

const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusFailure AuditStatus = "failure"
)

// SystemActor is recorded when no verified subject drove the action.
const SystemActor = "system"

// MarshalState converts a domain object to JSON for audit logging
func MarshalState(v any) JSON {
	if v == nil {
		return nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return JSON{"error": "failed to marshal state"}
	}

	var result JSON
	if err := json.Unmarshal(data, &result); err != nil {
		return JSON{"error": "failed to unmarshal state"}
	}

	return result
}

// TransferAuditState is the snapshot of a transfer kept in the audit trail.
func TransferAuditState(t *Transfer) JSON {
	if t == nil {
		return nil
	}
	state := JSON{
		"state":         string(t.State),
		"risk_decision": string(t.RiskDecision),
		"amount":        t.Amount,
		"currency":      t.Currency,
	}
	if t.RejectReason != "" {
		state["reject_reason"] = t.RejectReason
	}
	if t.ReviewerID != "" {
		state["reviewer_id"] = t.ReviewerID
	}
	return state
}
