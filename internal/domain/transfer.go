package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"
)

// TransferState is a node of the transfer state machine.
type TransferState string

const (
	TransferStateReceived TransferState = "RECEIVED"
	TransferStateScoring  TransferState = "SCORING"
	TransferStateAdmitted TransferState = "ADMITTED"
	TransferStateHeld     TransferState = "HELD"
	TransferStateSettled  TransferState = "SETTLED"
	TransferStateRejected TransferState = "REJECTED"
)

var transferTransitions = map[TransferState][]TransferState{
	TransferStateReceived: {TransferStateScoring, TransferStateHeld},
	TransferStateScoring:  {TransferStateAdmitted, TransferStateHeld, TransferStateRejected},
	TransferStateAdmitted: {TransferStateSettled, TransferStateRejected},
	TransferStateHeld:     {TransferStateAdmitted, TransferStateRejected},
}

// IsTerminal reports whether no further transitions are possible.
func (s TransferState) IsTerminal() bool {
	return s == TransferStateSettled || s == TransferStateRejected
}

// CanTransitionTo reports whether s -> next is an edge of the state machine.
func (s TransferState) CanTransitionTo(next TransferState) bool {
	for _, t := range transferTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Reject reasons recorded on REJECTED transfers and in TransferRejected events.
const (
	RejectReasonRisk              = "RiskRejected"
	RejectReasonInsufficientFunds = "InsufficientFunds"
	RejectReasonAccountNotActive  = "AccountNotActive"
	RejectReasonCurrencyMismatch  = "CurrencyMismatch"
	RejectReasonReviewer          = "ReviewerRejected"
	RejectReasonHoldExpired       = "HoldExpired"
)

// RejectReasonFor maps a ledger failure to the reason stored on the transfer.
func RejectReasonFor(err error) (string, bool) {
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		return RejectReasonInsufficientFunds, true
	case errors.Is(err, ErrAccountNotActive):
		return RejectReasonAccountNotActive, true
	case errors.Is(err, ErrCurrencyMismatch):
		return RejectReasonCurrencyMismatch, true
	}
	return "", false
}

// Transfer is a request to move Amount minor units from source to dest.
type Transfer struct {
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ResolvedAt      *time.Time
	Verdict         *RiskVerdict
	ID              string
	IdempotencyKey  string
	SourceAccountID string
	DestAccountID   string
	Currency        string
	Reference       string
	State           TransferState
	RiskDecision    Decision
	ReviewDecision  Decision
	RejectReason    string
	ReviewerID      string
	Fingerprint     string
	Amount          int64
	// EventSeq counts events emitted for this transfer; consumers order by it.
	EventSeq int64
}

// Validate validates transfer request.
func (t *Transfer) Validate() error {
	if t.IdempotencyKey == "" {
		return ErrMissingIdempotencyKey
	}
	if err := ValidateIdempotencyKey(t.IdempotencyKey); err != nil {
		return err
	}
	if t.SourceAccountID == "" || t.DestAccountID == "" {
		return ErrInvalidIDFormat
	}
	if t.SourceAccountID == t.DestAccountID {
		return ErrSameAccount
	}
	if err := ValidateAmount(t.Amount); err != nil {
		return err
	}
	if err := ValidateCurrency(t.Currency); err != nil {
		return err
	}
	return ValidateReference(t.Reference)
}

// TransitionTo moves the transfer to next, stamping timestamps.
func (t *Transfer) TransitionTo(next TransferState, now time.Time) error {
	if !t.State.CanTransitionTo(next) {
		return ErrInvalidTransition
	}
	t.State = next
	t.UpdatedAt = now
	if next.IsTerminal() {
		resolved := now
		t.ResolvedAt = &resolved
	}
	return nil
}

// ComputeFingerprint hashes the parameters that must match on idempotent retries.
func ComputeFingerprint(source, dest string, amount int64, currency, reference string) string {
	h := sha256.New()
	for _, part := range []string{source, dest, strconv.FormatInt(amount, 10), currency, reference} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Draft returns the view of the transfer that the risk engine scores.
func (t *Transfer) Draft() TransferDraft {
	return TransferDraft{
		TransferID:      t.ID,
		SourceAccountID: t.SourceAccountID,
		DestAccountID:   t.DestAccountID,
		Amount:          t.Amount,
		Currency:        t.Currency,
		AsOf:            t.CreatedAt,
	}
}
