package dto

import (
	"time"

	"github.com/iho/transferengine/internal/domain"
	"github.com/iho/transferengine/internal/usecase"
)

// AccountResponse represents an account in API responses.
type AccountResponse struct {
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	OwnerID        string    `json:"owner_id"`
	Currency       string    `json:"currency"`
	Type           string    `json:"type"`
	Status         string    `json:"status"`
	Balance        string    `json:"balance"`
	BalanceMinor   int64     `json:"balance_minor"`
	Version        int64     `json:"version"`
	AllowOverdraft bool      `json:"allow_overdraft"`
}

// AccountFromDomain converts domain account to response.
func AccountFromDomain(a *domain.Account) *AccountResponse {
	return &AccountResponse{
		ID:             a.ID,
		Name:           a.Name,
		OwnerID:        a.OwnerID,
		Currency:       a.Currency,
		Type:           string(a.Type),
		Status:         string(a.Status),
		Balance:        domain.FormatMinorUnits(a.Balance, a.Currency),
		BalanceMinor:   a.Balance,
		Version:        a.Version,
		AllowOverdraft: a.AllowOverdraft,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

// AccountsFromDomain converts domain accounts to responses.
func AccountsFromDomain(accounts []*domain.Account) []*AccountResponse {
	result := make([]*AccountResponse, len(accounts))
	for i, a := range accounts {
		result[i] = AccountFromDomain(a)
	}
	return result
}

// ListAccountsResponse is a page of accounts.
type ListAccountsResponse struct {
	Accounts []*AccountResponse `json:"accounts"`
	Total    int64              `json:"total"`
}

// VerdictResponse is the risk verdict attached to a transfer.
type VerdictResponse struct {
	EvaluatedAt    time.Time           `json:"evaluated_at"`
	Decision       string              `json:"decision"`
	RulesetVersion string              `json:"ruleset_version"`
	TriggeredRules []string            `json:"triggered_rules"`
	Signals        []domain.RiskSignal `json:"signals,omitempty"`
	Score          float64             `json:"score"`
	Degraded       bool                `json:"degraded,omitempty"`
}

// TransferResponse represents a transfer in API responses.
type TransferResponse struct {
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
	ResolvedAt      *time.Time       `json:"resolved_at,omitempty"`
	Verdict         *VerdictResponse `json:"verdict,omitempty"`
	ID              string           `json:"id"`
	IdempotencyKey  string           `json:"idempotency_key"`
	SourceAccountID string           `json:"source_account_id"`
	DestAccountID   string           `json:"dest_account_id"`
	Amount          string           `json:"amount"`
	Currency        string           `json:"currency"`
	Reference       string           `json:"reference,omitempty"`
	State           string           `json:"state"`
	RiskDecision    string           `json:"risk_decision,omitempty"`
	RejectReason    string           `json:"reject_reason,omitempty"`
	ReviewDecision  string           `json:"review_decision,omitempty"`
	ReviewerID      string           `json:"reviewer_id,omitempty"`
	// Outcome is "indeterminate" when the ledger commit could not be confirmed.
	Outcome     string `json:"outcome,omitempty"`
	AmountMinor int64  `json:"amount_minor"`
	Replayed    bool   `json:"replayed,omitempty"`
}

// TransferFromDomain converts domain transfer to response.
func TransferFromDomain(t *domain.Transfer) *TransferResponse {
	resp := &TransferResponse{
		ID:              t.ID,
		IdempotencyKey:  t.IdempotencyKey,
		SourceAccountID: t.SourceAccountID,
		DestAccountID:   t.DestAccountID,
		Amount:          domain.FormatMinorUnits(t.Amount, t.Currency),
		AmountMinor:     t.Amount,
		Currency:        t.Currency,
		Reference:       t.Reference,
		State:           string(t.State),
		RiskDecision:    string(t.RiskDecision),
		RejectReason:    t.RejectReason,
		ReviewDecision:  string(t.ReviewDecision),
		ReviewerID:      t.ReviewerID,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
		ResolvedAt:      t.ResolvedAt,
	}

	if v := t.Verdict; v != nil {
		resp.Verdict = &VerdictResponse{
			EvaluatedAt:    v.EvaluatedAt,
			Decision:       string(v.Decision),
			RulesetVersion: v.RulesetVersion,
			TriggeredRules: v.TriggeredRules,
			Signals:        v.Signals,
			Score:          v.Score,
			Degraded:       v.Degraded,
		}
	}

	return resp
}

// TransfersFromDomain converts domain transfers to responses.
func TransfersFromDomain(transfers []*domain.Transfer) []*TransferResponse {
	result := make([]*TransferResponse, len(transfers))
	for i, t := range transfers {
		result[i] = TransferFromDomain(t)
	}
	return result
}

// EntryResponse represents an entry in API responses.
type EntryResponse struct {
	CreatedAt              time.Time `json:"created_at"`
	ID                     string    `json:"id"`
	AccountID              string    `json:"account_id"`
	TransferID             string    `json:"transfer_id"`
	Currency               string    `json:"currency"`
	Amount                 string    `json:"amount"`
	AmountMinor            int64     `json:"amount_minor"`
	AccountPreviousBalance int64     `json:"account_previous_balance_minor"`
	AccountCurrentBalance  int64     `json:"account_current_balance_minor"`
	AccountVersion         int64     `json:"account_version"`
}

// EntryFromDomain converts domain entry to response.
func EntryFromDomain(e *domain.Entry) *EntryResponse {
	return &EntryResponse{
		ID:                     e.ID,
		AccountID:              e.AccountID,
		TransferID:             e.TransferID,
		Currency:               e.Currency,
		Amount:                 domain.FormatMinorUnits(e.Amount, e.Currency),
		AmountMinor:            e.Amount,
		AccountPreviousBalance: e.AccountPreviousBalance,
		AccountCurrentBalance:  e.AccountCurrentBalance,
		AccountVersion:         e.AccountVersion,
		CreatedAt:              e.CreatedAt,
	}
}

// EntriesFromDomain converts domain entries to responses.
func EntriesFromDomain(entries []*domain.Entry) []*EntryResponse {
	result := make([]*EntryResponse, len(entries))
	for i, e := range entries {
		result[i] = EntryFromDomain(e)
	}
	return result
}

// BalanceResponse is an account balance at a point in time.
type BalanceResponse struct {
	At           time.Time `json:"at"`
	AccountID    string    `json:"account_id"`
	Currency     string    `json:"currency"`
	Balance      string    `json:"balance"`
	BalanceMinor int64     `json:"balance_minor"`
}

// NewBalanceResponse formats a historical balance in the account's currency.
func NewBalanceResponse(account *domain.Account, at time.Time, balance int64) *BalanceResponse {
	return &BalanceResponse{
		At:           at,
		AccountID:    account.ID,
		Currency:     account.Currency,
		Balance:      domain.FormatMinorUnits(balance, account.Currency),
		BalanceMinor: balance,
	}
}

// ReconciliationResponse compares stored and recomputed balances.
type ReconciliationResponse struct {
	LastChecked       time.Time `json:"last_checked"`
	AccountID         string    `json:"account_id"`
	Currency          string    `json:"currency"`
	RecordedBalance   int64     `json:"recorded_balance_minor"`
	CalculatedBalance int64     `json:"calculated_balance_minor"`
	Difference        int64     `json:"difference_minor"`
	IsReconciled      bool      `json:"is_reconciled"`
}

// ReconciliationFromResult converts a reconciliation result to response.
func ReconciliationFromResult(r *usecase.ReconciliationResult) *ReconciliationResponse {
	return &ReconciliationResponse{
		LastChecked:       r.LastChecked,
		AccountID:         r.AccountID,
		Currency:          r.Currency,
		RecordedBalance:   r.RecordedBalance,
		CalculatedBalance: r.CalculatedBalance,
		Difference:        r.Difference,
		IsReconciled:      r.IsReconciled,
	}
}

// CurrencyTotalsResponse is one currency line of a consistency report.
type CurrencyTotalsResponse struct {
	Currency     string `json:"currency"`
	TotalBalance int64  `json:"total_balance_minor"`
	TotalEntries int64  `json:"total_entries_minor"`
}

// ConsistencyResponse is the outcome of a ledger-wide check.
type ConsistencyResponse struct {
	Status              string                   `json:"status"`
	Currencies          []CurrencyTotalsResponse `json:"currencies"`
	UnbalancedTransfers []string                 `json:"unbalanced_transfers,omitempty"`
	Consistent          bool                     `json:"consistent"`
}

// ConsistencyFromReport converts a consistency report to response.
func ConsistencyFromReport(r *usecase.ConsistencyReport) *ConsistencyResponse {
	resp := &ConsistencyResponse{
		Status:              "consistent",
		Currencies:          make([]CurrencyTotalsResponse, len(r.Currencies)),
		UnbalancedTransfers: r.UnbalancedTransfers,
		Consistent:          r.Consistent,
	}
	if !r.Consistent {
		resp.Status = "inconsistent"
	}
	for i, c := range r.Currencies {
		resp.Currencies[i] = CurrencyTotalsResponse(c)
	}
	return resp
}

// ErrorResponse represents an error in API responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
}
