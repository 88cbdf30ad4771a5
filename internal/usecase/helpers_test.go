package usecase_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/iho/transferengine/internal/adapter/repository/memory"
	"github.com/iho/transferengine/internal/domain"
	"github.com/iho/transferengine/internal/infrastructure/metrics"
	"github.com/iho/transferengine/internal/infrastructure/retry"
	"github.com/iho/transferengine/internal/usecase"
)

type seqIDs struct {
	n atomic.Int64
}

func (g *seqIDs) Generate() string {
	return fmt.Sprintf("id-%012d", g.n.Add(1))
}

// fakeRisk returns a fixed decision unless decide is set.
type fakeRisk struct {
	mu       sync.Mutex
	decision domain.Decision
	decide   func(domain.TransferDraft) domain.Decision
	block    chan struct{}
	calls    int
}

func (f *fakeRisk) Evaluate(ctx context.Context, draft domain.TransferDraft) *domain.RiskVerdict {
	f.mu.Lock()
	f.calls++
	decision, decide, block := f.decision, f.decide, f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil
		}
	}
	if decide != nil {
		decision = decide(draft)
	}
	if decision == "" {
		decision = domain.DecisionAdmit
	}

	score := 0.0
	switch decision {
	case domain.DecisionHold:
		score = 0.5
	case domain.DecisionReject:
		score = 0.9
	}

	return &domain.RiskVerdict{
		TransferID:     draft.TransferID,
		Decision:       decision,
		Score:          score,
		RulesetVersion: f.Version(),
		EvaluatedAt:    draft.AsOf,
	}
}

func (f *fakeRisk) Version() string { return "test-v1" }

func (f *fakeRisk) set(d domain.Decision) {
	f.mu.Lock()
	f.decision = d
	f.mu.Unlock()
}

func (f *fakeRisk) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type harness struct {
	store     *memory.Store
	txManager usecase.TransactionManager
	accounts  *memory.AccountRepository
	transfers *memory.TransferRepository
	entries   *memory.EntryRepository
	outbox    *memory.OutboxRepository
	audit     *memory.AuditRepository
	idemRepo  *memory.IdempotencyRepository
	ledgerRep *memory.LedgerRepository
	idGen     *seqIDs
	risk      *fakeRisk
	registry  *usecase.IdempotencyRegistry
	ledger    *usecase.LedgerStore
	uc        *usecase.TransferUseCase
	accountUC *usecase.AccountUseCase
	metrics   *metrics.Metrics
}

type harnessOption func(*usecase.TransferDependencies)

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	store := memory.NewStore()
	h := &harness{
		store:     store,
		txManager: memory.NewTxManager(store),
		accounts:  memory.NewAccountRepository(store),
		transfers: memory.NewTransferRepository(store),
		entries:   memory.NewEntryRepository(store),
		outbox:    memory.NewOutboxRepository(store),
		audit:     memory.NewAuditRepository(store),
		idemRepo:  memory.NewIdempotencyRepository(store),
		ledgerRep: memory.NewLedgerRepository(store),
		idGen:     &seqIDs{},
		risk:      &fakeRisk{},
		metrics:   metrics.NewWithRegisterer(prometheus.NewRegistry()),
	}

	logger := zerolog.Nop()
	h.registry = usecase.NewIdempotencyRegistry(h.txManager, h.idemRepo, h.transfers, nil, h.idGen, time.Hour, logger)
	h.ledger = usecase.NewLedgerStore(h.txManager, h.accounts, h.entries, h.idGen)

	deps := usecase.TransferDependencies{
		TxManager:    h.txManager,
		AccountRepo:  h.accounts,
		TransferRepo: h.transfers,
		OutboxRepo:   h.outbox,
		AuditRepo:    h.audit,
		Registry:     h.registry,
		Ledger:       h.ledger,
		Risk:         h.risk,
		Retrier: retry.New(retry.Config{
			MaxAttempts:     5,
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
			MaxElapsedTime:  2 * time.Second,
		}, logger),
		IDGen:   h.idGen,
		Logger:  logger,
		Metrics: h.metrics,
	}
	for _, opt := range opts {
		opt(&deps)
	}

	h.uc = usecase.NewTransferUseCase(deps, 200*time.Millisecond)
	h.accountUC = usecase.NewAccountUseCase(h.txManager, h.accounts, h.audit, h.idGen, logger, h.metrics)
	return h
}

func (h *harness) createAccount(t *testing.T, name, currency string, accType domain.AccountType) *domain.Account {
	t.Helper()
	acc, err := h.accountUC.CreateAccount(context.Background(), usecase.CreateAccountInput{
		Name:     name,
		Currency: currency,
		Type:     accType,
	})
	if err != nil {
		t.Fatalf("create account %s: %v", name, err)
	}
	return acc
}

// funded creates a checking account holding balance, paid in from a
// funding account so the ledger stays balanced.
func (h *harness) funded(t *testing.T, name string, balance int64) *domain.Account {
	t.Helper()
	acc := h.createAccount(t, name, "USD", domain.AccountTypeChecking)
	if balance == 0 {
		return acc
	}

	funding := h.createAccount(t, name+"-funding", "USD", domain.AccountTypeFunding)
	res, err := h.uc.SubmitTransfer(context.Background(), usecase.SubmitTransferInput{
		IdempotencyKey:  "fund-" + acc.ID,
		SourceAccountID: funding.ID,
		DestAccountID:   acc.ID,
		Amount:          balance,
		Currency:        "USD",
	})
	if err != nil {
		t.Fatalf("fund %s: %v", name, err)
	}
	if res.Transfer.State != domain.TransferStateSettled {
		t.Fatalf("fund %s: state %s", name, res.Transfer.State)
	}
	return acc
}

func (h *harness) balance(t *testing.T, id string) int64 {
	t.Helper()
	acc, err := h.accounts.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get account %s: %v", id, err)
	}
	return acc.Balance
}

func (h *harness) entriesOf(t *testing.T, transferID string) []*domain.Entry {
	t.Helper()
	entries, err := h.entries.GetByTransfer(context.Background(), transferID)
	if err != nil {
		t.Fatalf("get entries: %v", err)
	}
	return entries
}

func (h *harness) events(t *testing.T, transferID string) []*domain.OutboxEvent {
	t.Helper()
	events, err := h.outbox.GetByAggregate(context.Background(), domain.AggregateTypeTransfer, transferID, 100, 0)
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	return events
}

// flakyTxManager fails the first n Begin calls with a transient error.
type flakyTxManager struct {
	usecase.TransactionManager
	remaining atomic.Int64
}

func (m *flakyTxManager) Begin(ctx context.Context) (usecase.Transaction, error) {
	if m.remaining.Add(-1) >= 0 {
		return nil, domain.ErrStorageUnavailable
	}
	return m.TransactionManager.Begin(ctx)
}
