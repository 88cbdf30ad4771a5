package domain

import (
	"time"
)

// AccountStatus is the lifecycle state of an account.
type AccountStatus string

const (
	AccountStatusActive AccountStatus = "ACTIVE"
	AccountStatusFrozen AccountStatus = "FROZEN"
	AccountStatusClosed AccountStatus = "CLOSED"
)

// AccountType distinguishes customer products from internal funding accounts.
type AccountType string

const (
	AccountTypeChecking AccountType = "CHECKING"
	AccountTypeCard     AccountType = "CARD"
	// AccountTypeFunding is the counterparty of external deposits. It always
	// allows overdraft so that per-currency balances still sum to zero.
	AccountTypeFunding AccountType = "FUNDING"
)

// IsValid reports whether t is a known account type.
func (t AccountType) IsValid() bool {
	switch t {
	case AccountTypeChecking, AccountTypeCard, AccountTypeFunding:
		return true
	}
	return false
}

// Account represents a ledger account. Balance is in integer minor units.
// OwnerID is the subject allowed to debit it.
type Account struct {
	ID             string
	Name           string
	OwnerID        string
	Currency       string
	Type           AccountType
	Status         AccountStatus
	Balance        int64
	Version        int64
	AllowOverdraft bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsActive reports whether the account may take part in transfers.
func (a *Account) IsActive() bool {
	return a.Status == AccountStatusActive
}

// ValidateDebit checks if account can be debited by amount.
func (a *Account) ValidateDebit(amount int64) error {
	if !a.IsActive() {
		return ErrAccountNotActive
	}
	if !a.AllowOverdraft && a.Balance-amount < 0 {
		return ErrInsufficientFunds
	}
	return nil
}

// ValidateCredit checks if account can be credited.
func (a *Account) ValidateCredit() error {
	if !a.IsActive() {
		return ErrAccountNotActive
	}
	return nil
}

// ApplyDebit returns new balance after debit.
func (a *Account) ApplyDebit(amount int64) int64 {
	return a.Balance - amount
}

// ApplyCredit returns new balance after credit.
func (a *Account) ApplyCredit(amount int64) int64 {
	return a.Balance + amount
}

var accountTransitions = map[AccountStatus][]AccountStatus{
	AccountStatusActive: {AccountStatusFrozen, AccountStatusClosed},
	AccountStatusFrozen: {AccountStatusActive, AccountStatusClosed},
}

// CanTransitionTo reports whether the lifecycle allows moving to next.
func (a *Account) CanTransitionTo(next AccountStatus) bool {
	for _, s := range accountTransitions[a.Status] {
		if s == next {
			return true
		}
	}
	return false
}

// Freeze blocks the account from transfers.
func (a *Account) Freeze() error {
	if !a.CanTransitionTo(AccountStatusFrozen) {
		return ErrInvalidAccountState
	}
	a.Status = AccountStatusFrozen
	return nil
}

// Unfreeze returns a frozen account to service.
func (a *Account) Unfreeze() error {
	if a.Status != AccountStatusFrozen {
		return ErrInvalidAccountState
	}
	a.Status = AccountStatusActive
	return nil
}

// Close permanently retires the account. The balance must be zero.
func (a *Account) Close() error {
	if !a.CanTransitionTo(AccountStatusClosed) {
		return ErrInvalidAccountState
	}
	if a.Balance != 0 {
		return ErrAccountHasBalance
	}
	a.Status = AccountStatusClosed
	return nil
}
