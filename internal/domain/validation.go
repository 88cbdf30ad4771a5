package domain

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// Validation errors
var (
	ErrInvalidAccountName    = errors.New("invalid account name")
	ErrInvalidAccountType    = errors.New("invalid account type")
	ErrInvalidCurrency       = errors.New("invalid currency code")
	ErrAmountTooLarge        = errors.New("amount exceeds maximum allowed")
	ErrInvalidIDFormat       = errors.New("invalid ID format")
	ErrReferenceTooLong      = errors.New("reference is too long")
	ErrInvalidIdempotencyKey = errors.New("invalid idempotency key")
)

// Validation constants
const (
	MaxAccountNameLength    = 255
	MinAccountNameLength    = 1
	MaxReferenceLength      = 140
	MaxIdempotencyKeyLength = 128
	// MaxTransferAmount is expressed in minor units.
	MaxTransferAmount int64 = 100_000_000_000_000
	DefaultPageSize         = 20
	MaxPageSize             = 100
)

// Valid currency codes (ISO 4217)
var validCurrencies = map[string]bool{
	"USD": true, "EUR": true, "GBP": true, "JPY": true,
	"CNY": true, "AUD": true, "CAD": true, "CHF": true,
	"SEK": true, "NZD": true, "KRW": true, "SGD": true,
	"NOK": true, "MXN": true, "INR": true, "BRL": true,
	"ZAR": true, "TRY": true, "HKD": true, "AED": true,
	"SAR": true, "EGP": true, "KWD": true, "BHD": true,
}

// ValidateAccountName validates account name
func ValidateAccountName(name string) error {
	name = strings.TrimSpace(name)

	if len(name) < MinAccountNameLength {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidAccountName)
	}

	if len(name) > MaxAccountNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidAccountName, MaxAccountNameLength)
	}

	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: contains control characters", ErrInvalidAccountName)
		}
	}

	return nil
}

// ValidateCurrency validates currency code
func ValidateCurrency(currency string) error {
	if !validCurrencies[currency] {
		return fmt.Errorf("%w: %q is not a supported ISO 4217 currency code", ErrInvalidCurrency, currency)
	}

	return nil
}

// NormalizeCurrency upper-cases and trims a currency code.
func NormalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}

// ValidateAmount validates a transfer amount in minor units.
func ValidateAmount(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	if amount > MaxTransferAmount {
		return fmt.Errorf("%w: maximum amount is %d minor units", ErrAmountTooLarge, MaxTransferAmount)
	}

	return nil
}

// ValidateReference validates the optional free-text transfer reference.
func ValidateReference(reference string) error {
	if len(reference) > MaxReferenceLength {
		return fmt.Errorf("%w: maximum is %d characters", ErrReferenceTooLong, MaxReferenceLength)
	}
	return nil
}

// ValidateIdempotencyKey validates a client supplied idempotency key.
func ValidateIdempotencyKey(key string) error {
	if key == "" {
		return ErrMissingIdempotencyKey
	}

	if len(key) > MaxIdempotencyKeyLength {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidIdempotencyKey, MaxIdempotencyKeyLength)
	}

	for _, r := range key {
		if r > unicode.MaxASCII || !unicode.IsPrint(r) || r == ' ' {
			return fmt.Errorf("%w: only printable ASCII without spaces is allowed", ErrInvalidIdempotencyKey)
		}
	}

	return nil
}

// ValidatePagination validates and limits pagination parameters
func ValidatePagination(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}

	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	if offset < 0 {
		offset = 0
	}

	return limit, offset
}
