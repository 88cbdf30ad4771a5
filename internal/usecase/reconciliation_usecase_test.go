package usecase_test

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/mock/gomock"

	"github.com/iho/transferengine/internal/domain"
	"github.com/iho/transferengine/internal/usecase"
	"github.com/iho/transferengine/internal/usecase/mocks"
)

func TestReconcileAccount(t *testing.T) {
	tests := []struct {
		name           string
		balance        int64
		entrySum       int64
		wantReconciled bool
		wantDiff       int64
	}{
		{name: "matching", balance: 500, entrySum: 500, wantReconciled: true},
		{name: "stored balance too high", balance: 510, entrySum: 500, wantDiff: 10},
		{name: "stored balance too low", balance: 0, entrySum: 30, wantDiff: -30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			accountRepo := mocks.NewMockAccountRepository(ctrl)
			entryRepo := mocks.NewMockEntryRepository(ctrl)
			ledgerRepo := mocks.NewMockLedgerRepository(ctrl)

			accountRepo.EXPECT().GetByID(gomock.Any(), "acc-1").
				Return(&domain.Account{ID: "acc-1", Currency: "USD", Balance: tt.balance}, nil)
			entryRepo.EXPECT().SumByAccount(gomock.Any(), "acc-1").Return(tt.entrySum, nil)

			uc := usecase.NewReconciliationUseCase(accountRepo, entryRepo, ledgerRepo)
			result, err := uc.ReconcileAccount(context.Background(), "acc-1")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.IsReconciled != tt.wantReconciled {
				t.Errorf("reconciled = %v", result.IsReconciled)
			}
			if result.Difference != tt.wantDiff {
				t.Errorf("difference = %d, want %d", result.Difference, tt.wantDiff)
			}
			if result.CalculatedBalance != tt.entrySum || result.RecordedBalance != tt.balance {
				t.Errorf("unexpected result %+v", result)
			}
		})
	}
}

func TestReconcileAccount_NotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	accountRepo := mocks.NewMockAccountRepository(ctrl)
	accountRepo.EXPECT().GetByID(gomock.Any(), "missing").Return(nil, domain.ErrAccountNotFound)

	uc := usecase.NewReconciliationUseCase(accountRepo, mocks.NewMockEntryRepository(ctrl), mocks.NewMockLedgerRepository(ctrl))
	if _, err := uc.ReconcileAccount(context.Background(), "missing"); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestGenerateReconciliationReport(t *testing.T) {
	ctrl := gomock.NewController(t)
	accountRepo := mocks.NewMockAccountRepository(ctrl)
	entryRepo := mocks.NewMockEntryRepository(ctrl)
	ledgerRepo := mocks.NewMockLedgerRepository(ctrl)

	accounts := []*domain.Account{
		{ID: "a", Currency: "USD", Balance: 100},
		{ID: "b", Currency: "USD", Balance: -100},
	}
	accountRepo.EXPECT().List(gomock.Any(), domain.MaxPageSize, 0).Return(accounts, nil)
	for _, acc := range accounts {
		accountRepo.EXPECT().GetByID(gomock.Any(), acc.ID).Return(acc, nil)
	}
	entryRepo.EXPECT().SumByAccount(gomock.Any(), "a").Return(int64(100), nil)
	entryRepo.EXPECT().SumByAccount(gomock.Any(), "b").Return(int64(-90), nil)
	ledgerRepo.EXPECT().Totals(gomock.Any()).Return([]usecase.CurrencyTotals{{Currency: "USD", TotalEntries: 10}}, nil)
	ledgerRepo.EXPECT().UnbalancedTransfers(gomock.Any(), gomock.Any()).Return(nil, nil)

	uc := usecase.NewReconciliationUseCase(accountRepo, entryRepo, ledgerRepo)
	report, err := uc.GenerateReconciliationReport(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if report.TotalAccounts != 2 || report.ReconciledAccounts != 1 {
		t.Errorf("totals = %d/%d", report.ReconciledAccounts, report.TotalAccounts)
	}
	if len(report.Discrepancies) != 1 || report.Discrepancies[0].AccountID != "b" {
		t.Errorf("discrepancies = %+v", report.Discrepancies)
	}
	if report.LedgerConsistent {
		t.Error("ledger should be reported inconsistent")
	}
}
