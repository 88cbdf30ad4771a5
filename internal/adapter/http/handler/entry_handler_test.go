package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/iho/transferengine/internal/adapter/http/dto"
	"github.com/iho/transferengine/internal/domain"
	"github.com/iho/transferengine/internal/usecase"
)

type entryServiceStub struct {
	byAccountFn  func(ctx context.Context, input usecase.GetEntriesByAccountInput) ([]*domain.Entry, error)
	byTransferFn func(ctx context.Context, transferID string) ([]*domain.Entry, error)
	balanceFn    func(ctx context.Context, accountID string, at time.Time) (int64, error)
}

func (s *entryServiceStub) GetEntriesByAccount(ctx context.Context, input usecase.GetEntriesByAccountInput) ([]*domain.Entry, error) {
	return s.byAccountFn(ctx, input)
}

func (s *entryServiceStub) GetEntriesByTransfer(ctx context.Context, transferID string) ([]*domain.Entry, error) {
	return s.byTransferFn(ctx, transferID)
}

func (s *entryServiceStub) GetHistoricalBalance(ctx context.Context, accountID string, at time.Time) (int64, error) {
	return s.balanceFn(ctx, accountID, at)
}

func accountReader(acc *domain.Account) *accountServiceStub {
	return &accountServiceStub{
		getFn: func(ctx context.Context, id string) (*domain.Account, error) {
			if id != acc.ID {
				return nil, domain.ErrAccountNotFound
			}
			return acc, nil
		},
	}
}

func TestEntryHandler_ListByAccount(t *testing.T) {
	handler := NewEntryHandler(&entryServiceStub{
		byAccountFn: func(ctx context.Context, input usecase.GetEntriesByAccountInput) ([]*domain.Entry, error) {
			if input.AccountID != "acc-1" || input.Limit != 20 {
				t.Fatalf("unexpected input %+v", input)
			}
			return []*domain.Entry{{ID: "e-1", AccountID: "acc-1", Currency: "USD", Amount: -500}}, nil
		},
	}, nil)

	rec := httptest.NewRecorder()
	handler.ListByAccount(rec, withURLParams(httptest.NewRequest(http.MethodGet, "/accounts/acc-1/entries", nil), "id", "acc-1"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp []dto.EntryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp) != 1 || resp[0].Amount != "-5.00" {
		t.Fatalf("unexpected entries %+v", resp)
	}
}

func TestEntryHandler_ListByTransfer(t *testing.T) {
	handler := NewEntryHandler(&entryServiceStub{
		byTransferFn: func(ctx context.Context, transferID string) ([]*domain.Entry, error) {
			return []*domain.Entry{
				{ID: "e-1", TransferID: transferID, Currency: "USD", Amount: -100},
				{ID: "e-2", TransferID: transferID, Currency: "USD", Amount: 100},
			}, nil
		},
	}, nil)

	rec := httptest.NewRecorder()
	handler.ListByTransfer(rec, withURLParams(httptest.NewRequest(http.MethodGet, "/transfers/tr-1/entries", nil), "id", "tr-1"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestEntryHandler_Balance(t *testing.T) {
	updated := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	acc := &domain.Account{ID: "acc-1", Currency: "USD", Balance: 9900, UpdatedAt: updated}

	var askedAt time.Time
	handler := NewEntryHandler(&entryServiceStub{
		balanceFn: func(ctx context.Context, accountID string, at time.Time) (int64, error) {
			askedAt = at
			return 1234, nil
		},
	}, accountReader(acc))

	t.Run("current", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.Balance(rec, withURLParams(httptest.NewRequest(http.MethodGet, "/accounts/acc-1/balance", nil), "id", "acc-1"))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var resp dto.BalanceResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.BalanceMinor != 9900 || resp.Balance != "99.00" || !resp.At.Equal(updated) {
			t.Fatalf("unexpected balance %+v", resp)
		}
	})

	t.Run("historical", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/accounts/acc-1/balance?at=2024-01-02T03:04:05Z", nil)
		handler.Balance(rec, withURLParams(req, "id", "acc-1"))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if !askedAt.Equal(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)) {
			t.Fatalf("unexpected at %v", askedAt)
		}
		var resp dto.BalanceResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.BalanceMinor != 1234 || resp.Balance != "12.34" {
			t.Fatalf("unexpected balance %+v", resp)
		}
	})

	t.Run("bad timestamp", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/accounts/acc-1/balance?at=yesterday", nil)
		handler.Balance(rec, withURLParams(req, "id", "acc-1"))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("unknown account", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.Balance(rec, withURLParams(httptest.NewRequest(http.MethodGet, "/accounts/x/balance", nil), "id", "x"))
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
	})
}

type ledgerServiceStub struct {
	report *usecase.ConsistencyReport
	err    error
}

func (s *ledgerServiceStub) CheckConsistency(ctx context.Context) (*usecase.ConsistencyReport, error) {
	return s.report, s.err
}

type reconServiceStub struct {
	result *usecase.ReconciliationResult
	err    error
}

func (s *reconServiceStub) ReconcileAccount(ctx context.Context, accountID string) (*usecase.ReconciliationResult, error) {
	return s.result, s.err
}

func TestLedgerHandler_CheckConsistency(t *testing.T) {
	tests := []struct {
		name   string
		stub   *ledgerServiceStub
		status int
	}{
		{
			name:   "consistent",
			stub:   &ledgerServiceStub{report: &usecase.ConsistencyReport{Consistent: true}},
			status: http.StatusOK,
		},
		{
			name: "inconsistent",
			stub: &ledgerServiceStub{
				report: &usecase.ConsistencyReport{UnbalancedTransfers: []string{"tr-1"}},
				err:    domain.ErrInconsistentLedger,
			},
			status: http.StatusConflict,
		},
		{
			name:   "storage error",
			stub:   &ledgerServiceStub{err: domain.ErrStorageUnavailable},
			status: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewLedgerHandler(tt.stub, nil)
			rec := httptest.NewRecorder()
			handler.CheckConsistency(rec, httptest.NewRequest(http.MethodGet, "/ledger/consistency", nil))
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rec.Code)
			}
		})
	}
}

func TestLedgerHandler_Reconcile(t *testing.T) {
	handler := NewLedgerHandler(nil, &reconServiceStub{
		result: &usecase.ReconciliationResult{AccountID: "acc-1", Currency: "USD", RecordedBalance: 10, CalculatedBalance: 10, IsReconciled: true},
	})

	rec := httptest.NewRecorder()
	handler.Reconcile(rec, withURLParams(httptest.NewRequest(http.MethodGet, "/accounts/acc-1/reconcile", nil), "id", "acc-1"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp dto.ReconciliationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.IsReconciled || resp.AccountID != "acc-1" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestHealthHandler(t *testing.T) {
	ok := PingFunc(func(ctx context.Context) error { return nil })
	down := PingFunc(func(ctx context.Context) error { return errors.New("connection refused") })

	rec := httptest.NewRecorder()
	NewHealthHandler(nil).Liveness(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	NewHealthHandler(map[string]Pinger{"postgres": ok}).Readiness(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	NewHealthHandler(map[string]Pinger{"postgres": ok, "redis": down}).Readiness(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["postgres"] != "ok" || body["redis"] != "connection refused" || body["status"] != "unavailable" {
		t.Fatalf("unexpected body %+v", body)
	}
}
