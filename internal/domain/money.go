package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// currencyExponent lists currencies whose minor unit is not 1/100.
var currencyExponent = map[string]int32{
	"JPY": 0,
	"KRW": 0,
	"KWD": 3,
	"BHD": 3,
}

// CurrencyExponent returns the number of decimal places of the currency's minor unit.
func CurrencyExponent(currency string) int32 {
	if e, ok := currencyExponent[currency]; ok {
		return e
	}
	return 2
}

// ToMinorUnits converts a major-unit decimal amount to integer minor units.
// Amounts with more precision than the currency supports are rejected.
func ToMinorUnits(amount decimal.Decimal, currency string) (int64, error) {
	exp := CurrencyExponent(currency)
	scaled := amount.Shift(exp)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidAmount, amount.String(), exp)
	}
	if scaled.GreaterThan(decimal.NewFromInt(MaxTransferAmount)) {
		return 0, ErrAmountTooLarge
	}
	return scaled.IntPart(), nil
}

// ParseMinorUnits parses a decimal string in major units.
func ParseMinorUnits(amount, currency string) (int64, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a decimal number", ErrInvalidAmount, amount)
	}
	return ToMinorUnits(d, currency)
}

// FormatMinorUnits renders minor units as a fixed-point major-unit string.
func FormatMinorUnits(amount int64, currency string) string {
	exp := CurrencyExponent(currency)
	return decimal.New(amount, -exp).StringFixed(exp)
}
