package domain

import "time"

// IdempotencyRecord maps a client key, scoped to the originating account,
// to exactly one transfer.
type IdempotencyRecord struct {
	FirstSeenAt     time.Time
	Key             string
	SourceAccountID string
	TransferID      string
	Fingerprint     string
}

// RegistrationOutcome says whether the caller owns the transfer.
type RegistrationOutcome int

const (
	// Reserved means this caller created the transfer and drives it.
	Reserved RegistrationOutcome = iota + 1
	// Existing means another request already owns the key.
	Existing
)

func (o RegistrationOutcome) String() string {
	switch o {
	case Reserved:
		return "reserved"
	case Existing:
		return "existing"
	}
	return "unknown"
}
