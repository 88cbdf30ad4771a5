package dto

import (
	"strings"

	"github.com/iho/transferengine/internal/domain"
	"github.com/iho/transferengine/internal/usecase"
)

// CreateAccountRequest represents a request to create an account.
// OwnerID defaults to the caller.
type CreateAccountRequest struct {
	Name           string `json:"name"               validate:"required,max=100"`
	OwnerID        string `json:"owner_id,omitempty" validate:"omitempty,max=100"`
	Currency       string `json:"currency"           validate:"required,len=3"`
	Type           string `json:"type"               validate:"omitempty,oneof=CHECKING CARD FUNDING"`
	AllowOverdraft bool   `json:"allow_overdraft"`
}

// ToUseCaseInput converts to use case input.
func (r *CreateAccountRequest) ToUseCaseInput() usecase.CreateAccountInput {
	return usecase.CreateAccountInput{
		Name:           r.Name,
		OwnerID:        r.OwnerID,
		Currency:       r.Currency,
		Type:           domain.AccountType(r.Type),
		AllowOverdraft: r.AllowOverdraft,
	}
}

// CreateTransferRequest represents a request to move money between accounts.
// Amount is a decimal string in major units of Currency.
type CreateTransferRequest struct {
	IdempotencyKey  string `json:"idempotency_key,omitempty" validate:"omitempty,max=255"`
	SourceAccountID string `json:"source_account_id"         validate:"required"`
	DestAccountID   string `json:"dest_account_id"           validate:"required"`
	Amount          string `json:"amount"                    validate:"required,positive_amount"`
	Currency        string `json:"currency"                  validate:"required,len=3"`
	Reference       string `json:"reference,omitempty"       validate:"max=140"`
}

// ToUseCaseInput converts to use case input. The Idempotency-Key header,
// when present, takes precedence over the body field.
func (r *CreateTransferRequest) ToUseCaseInput(headerKey string) (usecase.SubmitTransferInput, error) {
	currency := domain.NormalizeCurrency(r.Currency)
	amount, err := domain.ParseMinorUnits(r.Amount, currency)
	if err != nil {
		return usecase.SubmitTransferInput{}, err
	}

	key := strings.TrimSpace(headerKey)
	if key == "" {
		key = r.IdempotencyKey
	}

	return usecase.SubmitTransferInput{
		IdempotencyKey:  key,
		SourceAccountID: r.SourceAccountID,
		DestAccountID:   r.DestAccountID,
		Currency:        currency,
		Reference:       r.Reference,
		Amount:          amount,
	}, nil
}

// ResolveHoldRequest carries a reviewer decision for a held transfer.
type ResolveHoldRequest struct {
	Decision string `json:"decision" validate:"required,oneof=ADMIT REJECT"`
}

// ToUseCaseInput converts to use case input.
func (r *ResolveHoldRequest) ToUseCaseInput(transferID, reviewerID string) usecase.ResolveHoldInput {
	return usecase.ResolveHoldInput{
		TransferID: transferID,
		Decision:   domain.Decision(r.Decision),
		ReviewerID: reviewerID,
	}
}
