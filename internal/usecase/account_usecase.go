package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/iho/transferengine/internal/domain"
	"github.com/iho/transferengine/internal/infrastructure/metrics"
)

// AccountUseCase handles account business logic.
type AccountUseCase struct {
	txManager   TransactionManager
	accountRepo AccountRepository
	auditRepo   AuditRepository
	idGen       IDGenerator
	logger      zerolog.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

// NewAccountUseCase creates a new AccountUseCase. m may be nil.
func NewAccountUseCase(
	txManager TransactionManager,
	accountRepo AccountRepository,
	auditRepo AuditRepository,
	idGen IDGenerator,
	logger zerolog.Logger,
	m *metrics.Metrics,
) *AccountUseCase {
	return &AccountUseCase{
		txManager:   txManager,
		accountRepo: accountRepo,
		auditRepo:   auditRepo,
		idGen:       idGen,
		logger:      logger,
		metrics:     m,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// CreateAccountInput represents input for creating an account. OwnerID
// defaults to the calling subject.
type CreateAccountInput struct {
	Name           string
	OwnerID        string
	Currency       string
	Type           domain.AccountType
	AllowOverdraft bool
}

// CreateAccount creates a new ACTIVE account with a zero balance.
func (uc *AccountUseCase) CreateAccount(ctx context.Context, input CreateAccountInput) (*domain.Account, error) {
	name := strings.TrimSpace(input.Name)
	if err := domain.ValidateAccountName(name); err != nil {
		return nil, err
	}

	currency := domain.NormalizeCurrency(input.Currency)
	if err := domain.ValidateCurrency(currency); err != nil {
		return nil, err
	}

	accType := input.Type
	if accType == "" {
		accType = domain.AccountTypeChecking
	}
	if !accType.IsValid() {
		return nil, domain.ErrInvalidAccountType
	}

	owner := strings.TrimSpace(input.OwnerID)
	if owner == "" {
		if s, ok := domain.SubjectFromContext(ctx); ok {
			owner = s.ID
		}
	}

	now := uc.now()
	account := &domain.Account{
		ID:             uc.idGen.Generate(),
		Name:           name,
		OwnerID:        owner,
		Currency:       currency,
		Type:           accType,
		Status:         domain.AccountStatusActive,
		AllowOverdraft: input.AllowOverdraft || accType == domain.AccountTypeFunding,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := uc.inTx(ctx, func(txCtx context.Context, tx Transaction) error {
		if err := uc.accountRepo.Create(txCtx, tx, account); err != nil {
			return fmt.Errorf("create account: %w", err)
		}
		return uc.audit(txCtx, tx, domain.AuditActionAccountCreate, account.ID, nil, account)
	})
	if err != nil {
		return nil, err
	}

	if uc.metrics != nil {
		uc.metrics.AccountsCreated.Inc()
	}
	uc.logger.Info().Str("account_id", account.ID).Str("owner_id", owner).Str("currency", currency).Str("type", string(accType)).Msg("account created")

	return account, nil
}

// GetAccount retrieves an account by ID.
func (uc *AccountUseCase) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	return uc.accountRepo.GetByID(ctx, id)
}

// ListAccountsInput represents input for listing accounts.
type ListAccountsInput struct {
	Limit  int
	Offset int
}

// ListAccounts lists accounts with pagination. Only admins see every
// account; other subjects see the accounts they own.
func (uc *AccountUseCase) ListAccounts(ctx context.Context, input ListAccountsInput) ([]*domain.Account, error) {
	limit, offset := domain.ValidatePagination(input.Limit, input.Offset)
	if s, ok := domain.SubjectFromContext(ctx); ok && !s.SeesAllAccounts() {
		return uc.accountRepo.ListByOwner(ctx, s.ID, limit, offset)
	}
	return uc.accountRepo.List(ctx, limit, offset)
}

// FreezeAccount blocks an ACTIVE account from transfers.
func (uc *AccountUseCase) FreezeAccount(ctx context.Context, id string) (*domain.Account, error) {
	return uc.changeStatus(ctx, id, domain.AuditActionAccountFreeze, (*domain.Account).Freeze)
}

// UnfreezeAccount returns a FROZEN account to service.
func (uc *AccountUseCase) UnfreezeAccount(ctx context.Context, id string) (*domain.Account, error) {
	return uc.changeStatus(ctx, id, domain.AuditActionAccountUnfreeze, (*domain.Account).Unfreeze)
}

// CloseAccount retires an account with a zero balance. CLOSED is final.
func (uc *AccountUseCase) CloseAccount(ctx context.Context, id string) (*domain.Account, error) {
	return uc.changeStatus(ctx, id, domain.AuditActionAccountClose, (*domain.Account).Close)
}

func (uc *AccountUseCase) changeStatus(ctx context.Context, id string, action domain.AuditAction, apply func(*domain.Account) error) (*domain.Account, error) {
	var updated *domain.Account

	err := uc.inTx(ctx, func(txCtx context.Context, tx Transaction) error {
		account, err := uc.accountRepo.GetByIDForUpdate(txCtx, tx, id)
		if err != nil {
			return err
		}

		before := *account
		if err := apply(account); err != nil {
			return err
		}

		now := uc.now()
		if err := uc.accountRepo.UpdateStatus(txCtx, tx, id, account.Status, before.Version, now); err != nil {
			return fmt.Errorf("update account status: %w", err)
		}
		account.Version = before.Version + 1
		account.UpdatedAt = now

		updated = account
		return uc.audit(txCtx, tx, action, id, &before, account)
	})
	if err != nil {
		return nil, err
	}

	if uc.metrics != nil {
		uc.metrics.AccountOperations.WithLabelValues(string(action)).Inc()
	}
	uc.logger.Info().Str("account_id", id).Str("status", string(updated.Status)).Msg("account status changed")

	return updated, nil
}

func (uc *AccountUseCase) inTx(ctx context.Context, fn func(context.Context, Transaction) error) error {
	txCtx, cancel := context.WithTimeout(ctx, DefaultTransactionTimeout)
	defer cancel()

	tx, err := uc.txManager.Begin(txCtx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(txCtx) }()

	if err := fn(txCtx, tx); err != nil {
		return err
	}

	return tx.Commit(txCtx)
}

func (uc *AccountUseCase) audit(ctx context.Context, tx Transaction, action domain.AuditAction, accountID string, before, after *domain.Account) error {
	log := &domain.AuditLog{
		ID:           uuid.NewString(),
		ActorID:      actorFrom(ctx),
		Action:       string(action),
		ResourceType: "account",
		ResourceID:   accountID,
		RequestID:    domain.RequestIDFromContext(ctx),
		AfterState:   domain.MarshalState(after),
		Status:       string(domain.AuditStatusSuccess),
		CreatedAt:    uc.now(),
	}
	if before != nil {
		log.BeforeState = domain.MarshalState(before)
	}
	if err := uc.auditRepo.CreateTx(ctx, tx, log); err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}
