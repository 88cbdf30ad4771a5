package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/iho/transferengine/internal/domain"
	"github.com/iho/transferengine/internal/infrastructure/metrics"
)

var tracer = otel.Tracer("github.com/iho/transferengine/internal/usecase")

// TransferDependencies groups the collaborators of TransferUseCase.
type TransferDependencies struct {
	TxManager    TransactionManager
	AccountRepo  AccountRepository
	TransferRepo TransferRepository
	OutboxRepo   OutboxRepository
	AuditRepo    AuditRepository
	Registry     *IdempotencyRegistry
	Ledger       Ledger
	Risk         RiskEvaluator
	Retrier      Retrier
	IDGen        IDGenerator
	Logger       zerolog.Logger
	Metrics      *metrics.Metrics
}

// TransferUseCase drives transfers through the state machine:
// RECEIVED -> SCORING -> ADMITTED -> SETTLED, with HELD and REJECTED branches.
type TransferUseCase struct {
	TransferDependencies
	scoringDeadline time.Duration
	now             func() time.Time
}

// NewTransferUseCase creates a new TransferUseCase.
func NewTransferUseCase(deps TransferDependencies, scoringDeadline time.Duration) *TransferUseCase {
	if scoringDeadline <= 0 {
		scoringDeadline = DefaultScoringDeadline
	}
	return &TransferUseCase{
		TransferDependencies: deps,
		scoringDeadline:      scoringDeadline,
		now:                  func() time.Time { return time.Now().UTC() },
	}
}

// SubmitTransferInput represents input for submitting a transfer.
type SubmitTransferInput struct {
	IdempotencyKey  string
	SourceAccountID string
	DestAccountID   string
	Currency        string
	Reference       string
	Amount          int64
}

// TransferResult is the state of the transfer at response time.
type TransferResult struct {
	Transfer *domain.Transfer
	// Replayed is true when the idempotency key was already registered.
	Replayed bool
}

// SubmitTransfer registers the request and, if this call owns the key,
// drives the transfer until it settles, is rejected, or is held.
// Retried requests receive the existing transfer without side effects.
func (uc *TransferUseCase) SubmitTransfer(ctx context.Context, input SubmitTransferInput) (*TransferResult, error) {
	ctx, span := tracer.Start(ctx, "transfer.Submit")
	defer span.End()

	draft := &domain.Transfer{
		IdempotencyKey:  strings.TrimSpace(input.IdempotencyKey),
		SourceAccountID: input.SourceAccountID,
		DestAccountID:   input.DestAccountID,
		Amount:          input.Amount,
		Currency:        domain.NormalizeCurrency(input.Currency),
		Reference:       strings.TrimSpace(input.Reference),
	}
	if err := draft.Validate(); err != nil {
		return nil, err
	}
	if err := uc.checkAccounts(ctx, draft); err != nil {
		return nil, err
	}

	draft.Fingerprint = domain.ComputeFingerprint(draft.SourceAccountID, draft.DestAccountID, draft.Amount, draft.Currency, draft.Reference)

	reg, err := uc.Registry.RegisterOrGet(ctx, draft)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.String("transfer.id", reg.Transfer.ID),
		attribute.String("idempotency.outcome", reg.Outcome.String()),
	)

	if reg.Outcome == domain.Existing {
		if uc.Metrics != nil {
			uc.Metrics.IdempotentReplays.Inc()
		}
		return &TransferResult{Transfer: reg.Transfer, Replayed: true}, nil
	}

	if uc.Metrics != nil {
		uc.Metrics.TransfersSubmitted.Inc()
		uc.Metrics.TransferAmount.Observe(float64(draft.Amount))
	}

	start := time.Now()
	// The owner of the key finishes the state machine even if the client goes away.
	t, err := uc.drive(context.WithoutCancel(ctx), reg.Transfer)
	if uc.Metrics != nil {
		uc.Metrics.TransferDuration.Observe(time.Since(start).Seconds())
	}

	return &TransferResult{Transfer: t}, err
}

// checkAccounts verifies both accounts exist in the transfer currency and
// that the calling subject may debit the source. Calls without a subject
// come from inside the process and are not checked.
func (uc *TransferUseCase) checkAccounts(ctx context.Context, draft *domain.Transfer) error {
	for _, id := range []string{draft.SourceAccountID, draft.DestAccountID} {
		acc, err := uc.AccountRepo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if acc.Currency != draft.Currency {
			return fmt.Errorf("%w: account %s holds %s", domain.ErrCurrencyMismatch, acc.ID, acc.Currency)
		}
		if id != draft.SourceAccountID {
			continue
		}
		if s, ok := domain.SubjectFromContext(ctx); ok && !s.CanDebit(acc) {
			return fmt.Errorf("%w: %s", domain.ErrForbidden, acc.ID)
		}
	}
	return nil
}

func (uc *TransferUseCase) drive(ctx context.Context, t *domain.Transfer) (*domain.Transfer, error) {
	if err := uc.transition(ctx, t, domain.TransferStateScoring, actorFrom(ctx), nil); err != nil {
		return uc.afterTransitionError(ctx, t, err)
	}

	verdict := uc.score(ctx, t)

	next := domain.TransferStateHeld
	switch verdict.Decision {
	case domain.DecisionAdmit:
		next = domain.TransferStateAdmitted
	case domain.DecisionReject:
		next = domain.TransferStateRejected
	}

	err := uc.transition(ctx, t, next, actorFrom(ctx), func(tr *domain.Transfer) {
		tr.Verdict = verdict
		tr.RiskDecision = verdict.Decision
		if next == domain.TransferStateRejected {
			tr.RejectReason = domain.RejectReasonRisk
		}
	})
	if err != nil {
		return uc.afterTransitionError(ctx, t, err)
	}

	if t.State == domain.TransferStateAdmitted {
		return uc.settle(ctx, t, actorFrom(ctx))
	}

	return t, nil
}

// score evaluates the draft under the scoring deadline. If the evaluator
// does not answer in time the transfer is held.
func (uc *TransferUseCase) score(ctx context.Context, t *domain.Transfer) *domain.RiskVerdict {
	ctx, span := tracer.Start(ctx, "transfer.Score")
	defer span.End()

	sctx, cancel := context.WithTimeout(ctx, uc.scoringDeadline)
	defer cancel()

	draft := t.Draft()
	done := make(chan *domain.RiskVerdict, 1)
	go func() {
		done <- uc.Risk.Evaluate(sctx, draft)
	}()

	select {
	case v := <-done:
		if v != nil {
			return v
		}
	case <-sctx.Done():
		uc.Logger.Warn().Str("transfer_id", t.ID).Dur("deadline", uc.scoringDeadline).Msg("risk scoring deadline exceeded")
	}

	return domain.ScoringTimeoutVerdict(draft, uc.Risk.Version())
}

// settle posts the ledger entries and marks the transfer SETTLED in the same
// transaction. Resource failures reject the transfer; exhausted transient
// failures leave it ADMITTED and report an indeterminate outcome.
func (uc *TransferUseCase) settle(ctx context.Context, t *domain.Transfer, actor string) (*domain.Transfer, error) {
	ctx, span := tracer.Start(ctx, "transfer.Settle")
	defer span.End()

	req := CommitRequest{
		TransferID:      t.ID,
		SourceAccountID: t.SourceAccountID,
		DestAccountID:   t.DestAccountID,
		Currency:        t.Currency,
		Amount:          t.Amount,
	}

	var settled domain.Transfer
	hook := func(ctx context.Context, tx Transaction, _ *CommitReceipt) error {
		settled = *t
		return uc.applyTransition(ctx, tx, &settled, domain.TransferStateSettled, actor)
	}

	err := uc.Retrier.Retry(ctx, func() error {
		_, err := uc.Ledger.ReserveAndCommit(ctx, req, hook)
		return err
	})

	switch {
	case err == nil:
		*t = settled
		uc.recordOutcome(t)
		return t, nil

	case errors.Is(err, domain.ErrStaleTransferState):
		return uc.TransferRepo.GetByID(ctx, t.ID)
	}

	if reason, ok := domain.RejectReasonFor(err); ok {
		uc.Logger.Info().Str("transfer_id", t.ID).Str("reason", reason).Msg("ledger refused transfer")
		terr := uc.transition(ctx, t, domain.TransferStateRejected, actor, func(tr *domain.Transfer) {
			tr.RejectReason = reason
		})
		if terr != nil {
			return uc.afterTransitionError(ctx, t, terr)
		}
		return t, nil
	}

	if domain.IsTransient(err) {
		if uc.Metrics != nil {
			uc.Metrics.Indeterminate.Inc()
		}
		uc.Logger.Error().Err(err).Str("transfer_id", t.ID).Msg("ledger commit retries exhausted")
		return t, domain.NewIndeterminateError(t.ID, err)
	}

	return nil, fmt.Errorf("settle transfer %s: %w", t.ID, err)
}

func (uc *TransferUseCase) afterTransitionError(ctx context.Context, t *domain.Transfer, err error) (*domain.Transfer, error) {
	if errors.Is(err, domain.ErrStaleTransferState) {
		return uc.TransferRepo.GetByID(ctx, t.ID)
	}
	if domain.IsTransient(err) {
		if uc.Metrics != nil {
			uc.Metrics.Indeterminate.Inc()
		}
		return t, domain.NewIndeterminateError(t.ID, err)
	}
	return nil, err
}

// transition persists t -> next in its own transaction, retrying transient
// storage failures. mutate may set fields that travel with the transition.
func (uc *TransferUseCase) transition(ctx context.Context, t *domain.Transfer, next domain.TransferState, actor string, mutate func(*domain.Transfer)) error {
	var updated domain.Transfer

	err := uc.Retrier.Retry(ctx, func() error {
		txCtx, cancel := context.WithTimeout(ctx, DefaultTransactionTimeout)
		defer cancel()

		tx, err := uc.TxManager.Begin(txCtx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(txCtx) }()

		updated = *t
		if mutate != nil {
			mutate(&updated)
		}

		if err := uc.applyTransition(txCtx, tx, &updated, next, actor); err != nil {
			return err
		}

		return tx.Commit(txCtx)
	})
	if err != nil {
		return err
	}

	*t = updated
	uc.recordOutcome(t)
	return nil
}

// applyTransition writes the new state, its event and its audit record
// using tx. The stored state must still be t's current state.
func (uc *TransferUseCase) applyTransition(ctx context.Context, tx Transaction, t *domain.Transfer, next domain.TransferState, actor string) error {
	from := t.State
	before := domain.TransferAuditState(t)
	now := uc.now()

	if err := t.TransitionTo(next, now); err != nil {
		return fmt.Errorf("%s -> %s: %w", from, next, err)
	}

	event := domain.NewTransferEvent(uc.IDGen.Generate(), t, now)

	if err := uc.TransferRepo.UpdateState(ctx, tx, t, from); err != nil {
		return err
	}

	if event != nil {
		if err := uc.OutboxRepo.Create(ctx, tx, event); err != nil {
			return fmt.Errorf("create outbox event: %w", err)
		}
	}

	if err := uc.AuditRepo.CreateTx(ctx, tx, &domain.AuditLog{
		ID:           uuid.NewString(),
		ActorID:      actor,
		Action:       string(domain.AuditActionTransferTransition),
		ResourceType: domain.AggregateTypeTransfer,
		ResourceID:   t.ID,
		RequestID:    domain.RequestIDFromContext(ctx),
		BeforeState:  before,
		AfterState:   domain.TransferAuditState(t),
		Status:       string(domain.AuditStatusSuccess),
		CreatedAt:    now,
	}); err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}

	uc.Logger.Info().
		Str("transfer_id", t.ID).
		Str("from", string(from)).
		Str("to", string(next)).
		Msg("transfer transition")

	return nil
}

func (uc *TransferUseCase) recordOutcome(t *domain.Transfer) {
	if uc.Metrics == nil {
		return
	}
	switch t.State {
	case domain.TransferStateSettled, domain.TransferStateRejected, domain.TransferStateHeld:
		uc.Metrics.TransferOutcomes.WithLabelValues(string(t.State)).Inc()
	}
}

// ResolveHoldInput represents a reviewer decision on a held transfer.
type ResolveHoldInput struct {
	TransferID string
	Decision   domain.Decision
	ReviewerID string
}

// ResolveHold applies a reviewer decision. ADMIT posts the ledger entries
// now; REJECT ends the transfer. Repeating the same decision returns the
// current transfer, a different one is a conflict.
func (uc *TransferUseCase) ResolveHold(ctx context.Context, input ResolveHoldInput) (*domain.Transfer, error) {
	if input.Decision != domain.DecisionAdmit && input.Decision != domain.DecisionReject {
		return nil, domain.ErrInvalidHoldDecision
	}
	if strings.TrimSpace(input.ReviewerID) == "" {
		return nil, fmt.Errorf("%w: reviewer_id is required", domain.ErrInvalidIDFormat)
	}

	ctx, span := tracer.Start(context.WithoutCancel(ctx), "transfer.ResolveHold")
	defer span.End()

	next := domain.TransferStateAdmitted
	if input.Decision == domain.DecisionReject {
		next = domain.TransferStateRejected
	}

	for attempt := 0; attempt < 2; attempt++ {
		t, err := uc.TransferRepo.GetByID(ctx, input.TransferID)
		if err != nil {
			return nil, err
		}

		if t.State != domain.TransferStateHeld {
			return uc.alreadyResolved(ctx, t, input)
		}

		err = uc.transition(ctx, t, next, input.ReviewerID, func(tr *domain.Transfer) {
			tr.ReviewerID = input.ReviewerID
			tr.ReviewDecision = input.Decision
			if next == domain.TransferStateRejected {
				tr.RejectReason = domain.RejectReasonReviewer
			}
		})
		if errors.Is(err, domain.ErrStaleTransferState) {
			continue
		}
		if err != nil {
			return nil, err
		}

		if uc.Metrics != nil {
			uc.Metrics.HoldsResolved.WithLabelValues(string(input.Decision), "reviewer").Inc()
		}

		if next == domain.TransferStateAdmitted {
			return uc.settle(ctx, t, input.ReviewerID)
		}
		return t, nil
	}

	t, err := uc.TransferRepo.GetByID(ctx, input.TransferID)
	if err != nil {
		return nil, err
	}
	return uc.alreadyResolved(ctx, t, input)
}

func (uc *TransferUseCase) alreadyResolved(ctx context.Context, t *domain.Transfer, input ResolveHoldInput) (*domain.Transfer, error) {
	if t.ReviewerID == "" {
		return nil, domain.ErrTransferNotHeld
	}
	if t.ReviewDecision != input.Decision {
		return nil, domain.ErrHoldAlreadyResolved
	}
	if t.State == domain.TransferStateAdmitted {
		return uc.settle(ctx, t, input.ReviewerID)
	}
	return t, nil
}

// ForceHold parks a transfer whose scoring never finished.
func (uc *TransferUseCase) ForceHold(ctx context.Context, t *domain.Transfer) error {
	return uc.transition(ctx, t, domain.TransferStateHeld, domain.SystemActor, func(tr *domain.Transfer) {
		if tr.Verdict == nil {
			tr.Verdict = domain.ScoringTimeoutVerdict(tr.Draft(), uc.Risk.Version())
		}
		tr.RiskDecision = domain.DecisionHold
	})
}

// ResumeSettlement retries the ledger commit of an ADMITTED transfer.
func (uc *TransferUseCase) ResumeSettlement(ctx context.Context, t *domain.Transfer) (*domain.Transfer, error) {
	return uc.settle(ctx, t, domain.SystemActor)
}

// ExpireHold rejects a transfer that stayed HELD past the auto-reject deadline.
func (uc *TransferUseCase) ExpireHold(ctx context.Context, t *domain.Transfer) error {
	err := uc.transition(ctx, t, domain.TransferStateRejected, domain.SystemActor, func(tr *domain.Transfer) {
		tr.RejectReason = domain.RejectReasonHoldExpired
	})
	if err == nil && uc.Metrics != nil {
		uc.Metrics.HoldsResolved.WithLabelValues(string(domain.DecisionReject), "expiry").Inc()
	}
	return err
}

// GetTransfer returns a transfer by ID.
func (uc *TransferUseCase) GetTransfer(ctx context.Context, id string) (*domain.Transfer, error) {
	return uc.TransferRepo.GetByID(ctx, id)
}

// ListTransfersByAccountInput represents input for listing an account's transfers.
type ListTransfersByAccountInput struct {
	AccountID string
	Limit     int
	Offset    int
}

// ListTransfersByAccount lists transfers where the account is source or destination.
func (uc *TransferUseCase) ListTransfersByAccount(ctx context.Context, input ListTransfersByAccountInput) ([]*domain.Transfer, error) {
	if _, err := uc.AccountRepo.GetByID(ctx, input.AccountID); err != nil {
		return nil, err
	}
	limit, offset := domain.ValidatePagination(input.Limit, input.Offset)
	return uc.TransferRepo.ListByAccount(ctx, input.AccountID, limit, offset)
}

func actorFrom(ctx context.Context) string {
	if s, ok := domain.SubjectFromContext(ctx); ok && s.ID != "" {
		return s.ID
	}
	return domain.SystemActor
}
