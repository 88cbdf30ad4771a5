package domain

import (
	"errors"
	"fmt"
)

var (
	// Account errors
	ErrAccountNotFound     = errors.New("account not found")
	ErrAccountNotActive    = errors.New("account is not active")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrAccountHasBalance   = errors.New("account balance must be zero to close")
	ErrInvalidAccountState = errors.New("invalid account status transition")

	// Transfer errors
	ErrSameAccount            = errors.New("cannot transfer to same account")
	ErrInvalidAmount          = errors.New("amount must be positive")
	ErrCurrencyMismatch       = errors.New("cannot transfer between different currencies")
	ErrTransferNotFound       = errors.New("transfer not found")
	ErrInvalidTransition      = errors.New("invalid transfer state transition")
	ErrTransferNotHeld        = errors.New("transfer is not held")
	ErrHoldAlreadyResolved    = errors.New("hold already resolved with a different decision")
	ErrInvalidHoldDecision    = errors.New("hold decision must be ADMIT or REJECT")
	ErrMissingIdempotencyKey  = errors.New("idempotency key is required")
	ErrIdempotencyKeyConflict = errors.New("idempotency key reused with different transfer parameters")
	ErrIdempotencyNotFound    = errors.New("idempotency record not found")
	// ErrStaleTransferState means another writer moved the transfer first.
	ErrStaleTransferState = errors.New("transfer state changed concurrently")

	// Transient errors
	ErrConcurrencyConflict = errors.New("concurrent modification detected")
	ErrStorageUnavailable  = errors.New("storage unavailable")
	ErrScoringTimeout      = errors.New("risk scoring timed out")

	// Outcomes
	ErrTransferIndeterminate = errors.New("transfer outcome indeterminate")
	ErrTransferFailed        = errors.New("transfer failed")

	ErrInconsistentLedger = errors.New("ledger is inconsistent")
)

// ErrorKind classifies errors for retry and reporting decisions.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindPolicy     ErrorKind = "policy"
	KindResource   ErrorKind = "resource"
	KindTransient  ErrorKind = "transient"
	KindConflict   ErrorKind = "conflict"
	KindNotFound   ErrorKind = "not_found"
	KindAuth       ErrorKind = "auth"
	KindInternal   ErrorKind = "internal"
)

var kindOfSentinel = []struct {
	err  error
	kind ErrorKind
}{
	{ErrConcurrencyConflict, KindTransient},
	{ErrStorageUnavailable, KindTransient},
	{ErrScoringTimeout, KindTransient},
	{ErrTransferIndeterminate, KindTransient},
	{ErrIdempotencyKeyConflict, KindConflict},
	{ErrHoldAlreadyResolved, KindConflict},
	{ErrTransferNotHeld, KindConflict},
	{ErrStaleTransferState, KindConflict},
	{ErrInvalidTransition, KindConflict},
	{ErrInvalidAccountState, KindConflict},
	{ErrAccountHasBalance, KindConflict},
	{ErrInsufficientFunds, KindResource},
	{ErrAccountNotActive, KindResource},
	{ErrRiskRejected, KindPolicy},
	{ErrAccountNotFound, KindNotFound},
	{ErrTransferNotFound, KindNotFound},
	{ErrIdempotencyNotFound, KindNotFound},
	{ErrUnauthorized, KindAuth},
	{ErrInvalidToken, KindAuth},
	{ErrExpiredToken, KindAuth},
	{ErrInsufficientRole, KindAuth},
	{ErrForbidden, KindAuth},
	{ErrSameAccount, KindValidation},
	{ErrInvalidAmount, KindValidation},
	{ErrCurrencyMismatch, KindValidation},
	{ErrInvalidHoldDecision, KindValidation},
	{ErrMissingIdempotencyKey, KindValidation},
	{ErrInvalidAccountName, KindValidation},
	{ErrInvalidCurrency, KindValidation},
	{ErrAmountTooLarge, KindValidation},
	{ErrInvalidIDFormat, KindValidation},
	{ErrReferenceTooLong, KindValidation},
	{ErrInvalidAccountType, KindValidation},
	{ErrInvalidIdempotencyKey, KindValidation},
}

// KindOf returns the taxonomy kind of err. Unknown errors are KindInternal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var te *TransferError
	if errors.As(err, &te) && te.Kind != "" {
		return te.Kind
	}

	for _, s := range kindOfSentinel {
		if errors.Is(err, s.err) {
			return s.kind
		}
	}

	return KindInternal
}

// IsTransient reports whether err may succeed when retried.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

// TransferError attaches the transfer and the taxonomy kind to a failure.
type TransferError struct {
	TransferID string
	Kind       ErrorKind
	Err        error
}

func (e *TransferError) Error() string {
	if e.TransferID == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("transfer %s: %v", e.TransferID, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// NewIndeterminateError reports that retries were exhausted and the final
// state of the transfer must be reconciled externally.
func NewIndeterminateError(transferID string, cause error) *TransferError {
	return &TransferError{
		TransferID: transferID,
		Kind:       KindTransient,
		Err:        fmt.Errorf("%w: %w", ErrTransferIndeterminate, cause),
	}
}
