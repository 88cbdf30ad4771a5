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

func TestLedgerUseCase_CheckConsistency(t *testing.T) {
	tests := []struct {
		name       string
		totals     []usecase.CurrencyTotals
		unbalanced []string
		repoErr    error
		wantErr    error
		consistent bool
	}{
		{
			name:       "balanced ledger",
			totals:     []usecase.CurrencyTotals{{Currency: "USD"}, {Currency: "EUR"}},
			consistent: true,
		},
		{
			name:    "balances do not sum to zero",
			totals:  []usecase.CurrencyTotals{{Currency: "USD", TotalBalance: 5}},
			wantErr: domain.ErrInconsistentLedger,
		},
		{
			name:    "entries do not sum to zero",
			totals:  []usecase.CurrencyTotals{{Currency: "USD", TotalEntries: -1}},
			wantErr: domain.ErrInconsistentLedger,
		},
		{
			name:       "transfer with one entry",
			totals:     []usecase.CurrencyTotals{{Currency: "USD"}},
			unbalanced: []string{"t1"},
			wantErr:    domain.ErrInconsistentLedger,
		},
		{
			name:    "repository failure",
			repoErr: domain.ErrStorageUnavailable,
			wantErr: domain.ErrStorageUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			repo := mocks.NewMockLedgerRepository(ctrl)
			repo.EXPECT().Totals(gomock.Any()).Return(tt.totals, tt.repoErr)
			if tt.repoErr == nil {
				repo.EXPECT().UnbalancedTransfers(gomock.Any(), gomock.Any()).Return(tt.unbalanced, nil)
			}

			report, err := usecase.NewLedgerUseCase(repo).CheckConsistency(context.Background())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if tt.repoErr != nil {
				return
			}
			if report.Consistent != tt.consistent {
				t.Errorf("consistent = %v, want %v", report.Consistent, tt.consistent)
			}
			if len(report.UnbalancedTransfers) != len(tt.unbalanced) {
				t.Errorf("unbalanced = %v", report.UnbalancedTransfers)
			}
		})
	}
}
