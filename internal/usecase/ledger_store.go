package usecase

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/iho/transferengine/internal/domain"
)

// CommitRequest describes one double-entry posting.
type CommitRequest struct {
	TransferID      string
	SourceAccountID string
	DestAccountID   string
	Currency        string
	Amount          int64
}

// CommitReceipt is returned after both entries are durable.
type CommitReceipt struct {
	CommittedAt time.Time
	TransferID  string
	Debit       *domain.Entry
	Credit      *domain.Entry
}

// CommitHook runs inside the commit transaction after the entries are
// written, so the caller's own writes share its atomicity.
type CommitHook func(ctx context.Context, tx Transaction, receipt *CommitReceipt) error

// LedgerStore owns account balances and the append-only entry log.
type LedgerStore struct {
	txManager   TransactionManager
	accountRepo AccountRepository
	entryRepo   EntryRepository
	idGen       IDGenerator
	now         func() time.Time
}

// NewLedgerStore creates a new LedgerStore.
func NewLedgerStore(
	txManager TransactionManager,
	accountRepo AccountRepository,
	entryRepo EntryRepository,
	idGen IDGenerator,
) *LedgerStore {
	return &LedgerStore{
		txManager:   txManager,
		accountRepo: accountRepo,
		entryRepo:   entryRepo,
		idGen:       idGen,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// ReserveAndCommit debits source and credits dest by amount in one atomic
// unit. Accounts are locked in ascending ID order and each balance write is
// conditional on the version read under that lock.
func (s *LedgerStore) ReserveAndCommit(ctx context.Context, req CommitRequest, hook CommitHook) (*CommitReceipt, error) {
	if req.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if req.SourceAccountID == req.DestAccountID {
		return nil, domain.ErrSameAccount
	}

	txCtx, cancel := context.WithTimeout(ctx, DefaultTransactionTimeout)
	defer cancel()

	tx, err := s.txManager.Begin(txCtx)
	if err != nil {
		return nil, fmt.Errorf("begin ledger transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(txCtx) }()

	ids := []string{req.SourceAccountID, req.DestAccountID}
	sort.Strings(ids)

	accounts, err := s.accountRepo.GetByIDsForUpdate(txCtx, tx, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*domain.Account, len(accounts))
	for _, acc := range accounts {
		byID[acc.ID] = acc
	}

	source, ok := byID[req.SourceAccountID]
	if !ok {
		return nil, fmt.Errorf("source %s: %w", req.SourceAccountID, domain.ErrAccountNotFound)
	}
	dest, ok := byID[req.DestAccountID]
	if !ok {
		return nil, fmt.Errorf("destination %s: %w", req.DestAccountID, domain.ErrAccountNotFound)
	}

	if source.Currency != req.Currency || dest.Currency != req.Currency {
		return nil, domain.ErrCurrencyMismatch
	}

	if err := source.ValidateDebit(req.Amount); err != nil {
		return nil, fmt.Errorf("source %s: %w", source.ID, err)
	}
	if err := dest.ValidateCredit(); err != nil {
		return nil, fmt.Errorf("destination %s: %w", dest.ID, err)
	}

	now := s.now()
	debit := &domain.Entry{
		ID:                     s.idGen.Generate(),
		AccountID:              source.ID,
		TransferID:             req.TransferID,
		Currency:               req.Currency,
		Amount:                 -req.Amount,
		AccountPreviousBalance: source.Balance,
		AccountCurrentBalance:  source.ApplyDebit(req.Amount),
		AccountVersion:         source.Version + 1,
		CreatedAt:              now,
	}
	credit := &domain.Entry{
		ID:                     s.idGen.Generate(),
		AccountID:              dest.ID,
		TransferID:             req.TransferID,
		Currency:               req.Currency,
		Amount:                 req.Amount,
		AccountPreviousBalance: dest.Balance,
		AccountCurrentBalance:  dest.ApplyCredit(req.Amount),
		AccountVersion:         dest.Version + 1,
		CreatedAt:              now,
	}

	for _, e := range []*domain.Entry{debit, credit} {
		if err := s.entryRepo.Create(txCtx, tx, e); err != nil {
			return nil, fmt.Errorf("create entry: %w", err)
		}
	}

	if err := s.accountRepo.UpdateBalance(txCtx, tx, source.ID, debit.AccountCurrentBalance, source.Version, now); err != nil {
		return nil, fmt.Errorf("update source balance: %w", err)
	}
	if err := s.accountRepo.UpdateBalance(txCtx, tx, dest.ID, credit.AccountCurrentBalance, dest.Version, now); err != nil {
		return nil, fmt.Errorf("update destination balance: %w", err)
	}

	receipt := &CommitReceipt{
		CommittedAt: now,
		TransferID:  req.TransferID,
		Debit:       debit,
		Credit:      credit,
	}

	if hook != nil {
		if err := hook(txCtx, tx, receipt); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(txCtx); err != nil {
		return nil, fmt.Errorf("commit ledger transaction: %w", err)
	}

	return receipt, nil
}
