package usecase

import (
	"context"
	"fmt"

	"github.com/iho/transferengine/internal/domain"
)

// maxReportedUnbalanced caps the transfer ids returned by a consistency check.
const maxReportedUnbalanced = 100

// ConsistencyReport is the outcome of a ledger-wide check.
type ConsistencyReport struct {
	Currencies          []CurrencyTotals
	UnbalancedTransfers []string
	Consistent          bool
}

// LedgerUseCase handles ledger-wide operations.
type LedgerUseCase struct {
	ledgerRepo LedgerRepository
}

// NewLedgerUseCase creates a new LedgerUseCase.
func NewLedgerUseCase(ledgerRepo LedgerRepository) *LedgerUseCase {
	return &LedgerUseCase{
		ledgerRepo: ledgerRepo,
	}
}

// CheckConsistency verifies that, per currency, account balances and entry
// amounts both sum to zero and that every settled transfer has exactly one
// debit and one credit. A failed check returns the report together with
// domain.ErrInconsistentLedger.
func (uc *LedgerUseCase) CheckConsistency(ctx context.Context) (*ConsistencyReport, error) {
	totals, err := uc.ledgerRepo.Totals(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger totals: %w", err)
	}

	unbalanced, err := uc.ledgerRepo.UnbalancedTransfers(ctx, maxReportedUnbalanced)
	if err != nil {
		return nil, fmt.Errorf("unbalanced transfers: %w", err)
	}

	report := &ConsistencyReport{
		Currencies:          totals,
		UnbalancedTransfers: unbalanced,
		Consistent:          len(unbalanced) == 0,
	}
	for _, t := range totals {
		if t.TotalBalance != 0 || t.TotalEntries != 0 {
			report.Consistent = false
		}
	}

	if !report.Consistent {
		return report, domain.ErrInconsistentLedger
	}
	return report, nil
}
