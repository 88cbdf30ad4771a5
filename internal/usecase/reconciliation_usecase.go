package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/iho/transferengine/internal/domain"
)

// ReconciliationUseCase compares stored balances with the entry log.
type ReconciliationUseCase struct {
	accountRepo AccountRepository
	entryRepo   EntryRepository
	ledger      *LedgerUseCase
	now         func() time.Time
}

// NewReconciliationUseCase creates a new reconciliation use case
func NewReconciliationUseCase(
	accountRepo AccountRepository,
	entryRepo EntryRepository,
	ledgerRepo LedgerRepository,
) *ReconciliationUseCase {
	return &ReconciliationUseCase{
		accountRepo: accountRepo,
		entryRepo:   entryRepo,
		ledger:      NewLedgerUseCase(ledgerRepo),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// ReconciliationResult represents the result of a reconciliation check
type ReconciliationResult struct {
	LastChecked       time.Time
	AccountID         string
	Currency          string
	RecordedBalance   int64
	CalculatedBalance int64
	Difference        int64
	IsReconciled      bool
}

// ReconcileAccount recomputes the balance from the account's entries and
// compares it with the stored balance.
func (uc *ReconciliationUseCase) ReconcileAccount(ctx context.Context, accountID string) (*ReconciliationResult, error) {
	account, err := uc.accountRepo.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	sum, err := uc.entryRepo.SumByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("sum entries for %s: %w", accountID, err)
	}

	return &ReconciliationResult{
		AccountID:         accountID,
		Currency:          account.Currency,
		RecordedBalance:   account.Balance,
		CalculatedBalance: sum,
		Difference:        account.Balance - sum,
		IsReconciled:      account.Balance == sum,
		LastChecked:       uc.now(),
	}, nil
}

// ReconcileAllAccounts reconciles every account, one page at a time.
func (uc *ReconciliationUseCase) ReconcileAllAccounts(ctx context.Context) ([]*ReconciliationResult, error) {
	var results []*ReconciliationResult

	for offset := 0; ; offset += domain.MaxPageSize {
		accounts, err := uc.accountRepo.List(ctx, domain.MaxPageSize, offset)
		if err != nil {
			return nil, err
		}

		for _, account := range accounts {
			result, err := uc.ReconcileAccount(ctx, account.ID)
			if err != nil {
				return nil, fmt.Errorf("failed to reconcile account %s: %w", account.ID, err)
			}
			results = append(results, result)
		}

		if len(accounts) < domain.MaxPageSize {
			return results, nil
		}
	}
}

// ReconciliationReport represents a full reconciliation report
type ReconciliationReport struct {
	CheckedAt          time.Time
	Ledger             *ConsistencyReport
	Discrepancies      []*ReconciliationResult
	TotalAccounts      int
	ReconciledAccounts int
	LedgerConsistent   bool
}

// GenerateReconciliationReport reconciles all accounts and checks ledger consistency.
func (uc *ReconciliationUseCase) GenerateReconciliationReport(ctx context.Context) (*ReconciliationReport, error) {
	results, err := uc.ReconcileAllAccounts(ctx)
	if err != nil {
		return nil, err
	}

	ledger, err := uc.ledger.CheckConsistency(ctx)
	if err != nil && ledger == nil {
		return nil, err
	}

	report := &ReconciliationReport{
		TotalAccounts:    len(results),
		Ledger:           ledger,
		Discrepancies:    make([]*ReconciliationResult, 0),
		LedgerConsistent: ledger.Consistent,
		CheckedAt:        uc.now(),
	}

	for _, result := range results {
		if result.IsReconciled {
			report.ReconciledAccounts++
		} else {
			report.Discrepancies = append(report.Discrepancies, result)
		}
	}

	return report, nil
}
