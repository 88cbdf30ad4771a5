package usecase

//go:generate mockgen -source=interfaces.go -destination=mocks/mock_interfaces.go -package=mocks

import (
	"context"
	"time"

	"github.com/iho/transferengine/internal/domain"
)

// AccountRepository defines data access for accounts.
type AccountRepository interface {
	Create(ctx context.Context, tx Transaction, account *domain.Account) error
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	GetByIDForUpdate(ctx context.Context, tx Transaction, id string) (*domain.Account, error)
	// GetByIDsForUpdate locks the accounts in the order given.
	GetByIDsForUpdate(ctx context.Context, tx Transaction, ids []string) ([]*domain.Account, error)
	// UpdateBalance writes balance and bumps the version if it still equals
	// expectedVersion, otherwise it returns domain.ErrConcurrencyConflict.
	UpdateBalance(ctx context.Context, tx Transaction, id string, balance, expectedVersion int64, updatedAt time.Time) error
	UpdateStatus(ctx context.Context, tx Transaction, id string, status domain.AccountStatus, expectedVersion int64, updatedAt time.Time) error
	List(ctx context.Context, limit, offset int) ([]*domain.Account, error)
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*domain.Account, error)
}

// TransferRepository defines data access for transfers.
type TransferRepository interface {
	Create(ctx context.Context, tx Transaction, transfer *domain.Transfer) error
	GetByID(ctx context.Context, id string) (*domain.Transfer, error)
	// UpdateState persists the transfer if its stored state still equals
	// from, otherwise it returns domain.ErrStaleTransferState.
	UpdateState(ctx context.Context, tx Transaction, transfer *domain.Transfer, from domain.TransferState) error
	ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*domain.Transfer, error)
	// ListStale returns transfers in state whose last update is before cutoff.
	ListStale(ctx context.Context, state domain.TransferState, before time.Time, limit int) ([]*domain.Transfer, error)
}

// EntryRepository defines data access for entries.
type EntryRepository interface {
	Create(ctx context.Context, tx Transaction, entry *domain.Entry) error
	GetByTransfer(ctx context.Context, transferID string) ([]*domain.Entry, error)
	GetByAccount(ctx context.Context, accountID string, limit, offset int) ([]*domain.Entry, error)
	GetBalanceAtTime(ctx context.Context, accountID string, at time.Time) (int64, error)
	SumByAccount(ctx context.Context, accountID string) (int64, error)
}

// CurrencyTotals aggregates one currency across the whole ledger.
type CurrencyTotals struct {
	Currency     string
	TotalBalance int64
	TotalEntries int64
}

// LedgerRepository defines data access for ledger-wide operations.
type LedgerRepository interface {
	Totals(ctx context.Context) ([]CurrencyTotals, error)
	// UnbalancedTransfers lists settled transfers whose entries are not
	// exactly one debit and one credit summing to zero.
	UnbalancedTransfers(ctx context.Context, limit int) ([]string, error)
}

// IdempotencyRepository stores idempotency records durably.
type IdempotencyRepository interface {
	// Insert stores the record unless (source account, key) exists. It
	// reports whether this call inserted it.
	Insert(ctx context.Context, tx Transaction, record *domain.IdempotencyRecord) (bool, error)
	Get(ctx context.Context, sourceAccountID, key string) (*domain.IdempotencyRecord, error)
	// PruneTerminal deletes records first seen before cutoff whose
	// transfer reached a terminal state.
	PruneTerminal(ctx context.Context, before time.Time) (int64, error)
}

// OutboxRepository defines data access for outbox events.
type OutboxRepository interface {
	Create(ctx context.Context, tx Transaction, event *domain.OutboxEvent) error
	GetUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEvent, error)
	MarkPublished(ctx context.Context, id string, publishedAt time.Time) error
	GetByAggregate(ctx context.Context, aggregateType, aggregateID string, limit, offset int) ([]*domain.OutboxEvent, error)
	DeletePublished(ctx context.Context, before time.Time) (int64, error)
}

// AuditRepository defines data access for audit logs.
type AuditRepository interface {
	CreateTx(ctx context.Context, tx Transaction, log *domain.AuditLog) error
	GetByResourceID(ctx context.Context, resourceType, resourceID string) ([]*domain.AuditLog, error)
}

// Transaction represents a database transaction.
type Transaction interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TransactionManager handles transaction lifecycle.
type TransactionManager interface {
	Begin(ctx context.Context) (Transaction, error)
}

// IDGenerator generates unique IDs.
type IDGenerator interface {
	Generate() string
}

// Cache defines caching operations.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Retrier re-runs an operation while it fails with a transient error.
type Retrier interface {
	Retry(ctx context.Context, operation func() error) error
}

// RiskEvaluator scores a transfer draft. It always returns a verdict.
type RiskEvaluator interface {
	Evaluate(ctx context.Context, draft domain.TransferDraft) *domain.RiskVerdict
	Version() string
}

// Ledger posts balanced debit/credit pairs.
type Ledger interface {
	ReserveAndCommit(ctx context.Context, req CommitRequest, hook CommitHook) (*CommitReceipt, error)
}

// LockManager runs fn while holding a named lock shared across replicas.
type LockManager interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error
}
