package dto

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/iho/transferengine/internal/domain"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
	errValidate  error
)

func initValidator() (*validator.Validate, error) {
	vld := validator.New(validator.WithRequiredStructEnabled())

	// positive_amount accepts decimal strings in major units greater than zero.
	if err := vld.RegisterValidation("positive_amount", func(fl validator.FieldLevel) bool {
		str := fl.Field().String()
		if str == "" {
			return true
		}
		d, err := decimal.NewFromString(str)
		if err != nil {
			return false
		}
		return d.IsPositive()
	}); err != nil {
		return nil, fmt.Errorf("register positive_amount: %w", err)
	}

	return vld, nil
}

func getValidator() (*validator.Validate, error) {
	validateOnce.Do(func() {
		validate, errValidate = initValidator()
	})
	return validate, errValidate
}

// Validate checks a request against its struct tags. Failures wrap the
// domain sentinel that best describes the first offending field, so the
// HTTP layer maps them like any other validation error.
func Validate(req any) error {
	vld, err := getValidator()
	if err != nil {
		return err
	}

	if err := vld.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fieldError(verrs[0])
		}
		return err
	}
	return nil
}

func fieldError(fe validator.FieldError) error {
	field := strings.ToLower(fe.Field())

	var sentinel error
	switch field {
	case "amount":
		sentinel = domain.ErrInvalidAmount
	case "currency":
		sentinel = domain.ErrInvalidCurrency
	case "name":
		sentinel = domain.ErrInvalidAccountName
	case "type":
		sentinel = domain.ErrInvalidAccountType
	case "reference":
		sentinel = domain.ErrReferenceTooLong
	case "decision":
		sentinel = domain.ErrInvalidHoldDecision
	case "idempotencykey":
		sentinel = domain.ErrInvalidIdempotencyKey
	default:
		sentinel = domain.ErrInvalidIDFormat
	}

	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%w: %s is required", sentinel, field)
	case "oneof":
		return fmt.Errorf("%w: %s must be one of [%s]", sentinel, field, fe.Param())
	case "max", "len":
		return fmt.Errorf("%w: %s violates %s=%s", sentinel, field, fe.Tag(), fe.Param())
	default:
		return fmt.Errorf("%w: %s is invalid", sentinel, field)
	}
}
