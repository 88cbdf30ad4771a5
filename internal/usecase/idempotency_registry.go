package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/transferengine/internal/domain"
)

// Registration is the outcome of RegisterOrGet.
type Registration struct {
	Outcome  domain.RegistrationOutcome
	Transfer *domain.Transfer
}

// IdempotencyRegistry deduplicates transfer submissions by
// (source account, idempotency key).
type IdempotencyRegistry struct {
	txManager       TransactionManager
	idempotencyRepo IdempotencyRepository
	transferRepo    TransferRepository
	cache           Cache
	idGen           IDGenerator
	retention       time.Duration
	logger          zerolog.Logger
	now             func() time.Time
}

// NewIdempotencyRegistry creates a registry. cache may be nil.
func NewIdempotencyRegistry(
	txManager TransactionManager,
	idempotencyRepo IdempotencyRepository,
	transferRepo TransferRepository,
	cache Cache,
	idGen IDGenerator,
	retention time.Duration,
	logger zerolog.Logger,
) *IdempotencyRegistry {
	if retention <= 0 {
		retention = DefaultIdempotencyRetention
	}
	return &IdempotencyRegistry{
		txManager:       txManager,
		idempotencyRepo: idempotencyRepo,
		transferRepo:    transferRepo,
		cache:           cache,
		idGen:           idGen,
		retention:       retention,
		logger:          logger,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// RegisterOrGet reserves draft's key and persists draft as a RECEIVED
// transfer in the same transaction. If the key is taken it returns the
// transfer that owns it, or ErrIdempotencyKeyConflict when the stored
// fingerprint differs from draft's.
func (r *IdempotencyRegistry) RegisterOrGet(ctx context.Context, draft *domain.Transfer) (*Registration, error) {
	if rec := r.cached(ctx, draft.SourceAccountID, draft.IdempotencyKey); rec != nil {
		return r.existing(ctx, rec, draft)
	}

	reg, err := r.reserve(ctx, draft)
	if err != nil || reg != nil {
		return reg, err
	}

	rec, err := r.idempotencyRepo.Get(ctx, draft.SourceAccountID, draft.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("load idempotency record: %w", err)
	}
	r.remember(ctx, rec)

	return r.existing(ctx, rec, draft)
}

// reserve returns nil, nil when another request already holds the key.
func (r *IdempotencyRegistry) reserve(ctx context.Context, draft *domain.Transfer) (*Registration, error) {
	txCtx, cancel := context.WithTimeout(ctx, DefaultTransactionTimeout)
	defer cancel()

	tx, err := r.txManager.Begin(txCtx)
	if err != nil {
		return nil, fmt.Errorf("begin reservation: %w", err)
	}
	defer func() { _ = tx.Rollback(txCtx) }()

	now := r.now()
	transferID := r.idGen.Generate()

	inserted, err := r.idempotencyRepo.Insert(txCtx, tx, &domain.IdempotencyRecord{
		Key:             draft.IdempotencyKey,
		SourceAccountID: draft.SourceAccountID,
		TransferID:      transferID,
		Fingerprint:     draft.Fingerprint,
		FirstSeenAt:     now,
	})
	if err != nil {
		return nil, fmt.Errorf("insert idempotency record: %w", err)
	}
	if !inserted {
		return nil, nil
	}

	draft.ID = transferID
	draft.State = domain.TransferStateReceived
	draft.CreatedAt = now
	draft.UpdatedAt = now

	if err := r.transferRepo.Create(txCtx, tx, draft); err != nil {
		return nil, fmt.Errorf("create transfer: %w", err)
	}

	if err := tx.Commit(txCtx); err != nil {
		return nil, fmt.Errorf("commit reservation: %w", err)
	}

	r.remember(ctx, &domain.IdempotencyRecord{
		Key:             draft.IdempotencyKey,
		SourceAccountID: draft.SourceAccountID,
		TransferID:      transferID,
		Fingerprint:     draft.Fingerprint,
		FirstSeenAt:     now,
	})

	return &Registration{Outcome: domain.Reserved, Transfer: draft}, nil
}

func (r *IdempotencyRegistry) existing(ctx context.Context, rec *domain.IdempotencyRecord, draft *domain.Transfer) (*Registration, error) {
	if rec.Fingerprint != draft.Fingerprint {
		return nil, domain.ErrIdempotencyKeyConflict
	}

	transfer, err := r.transferRepo.GetByID(ctx, rec.TransferID)
	if err != nil {
		return nil, fmt.Errorf("load transfer %s for idempotency key: %w", rec.TransferID, err)
	}

	return &Registration{Outcome: domain.Existing, Transfer: transfer}, nil
}

// Prune removes records older than the retention window whose transfer is
// terminal. In-flight transfers keep their records regardless of age.
func (r *IdempotencyRegistry) Prune(ctx context.Context) (int64, error) {
	return r.idempotencyRepo.PruneTerminal(ctx, r.now().Add(-r.retention))
}

func cacheKey(sourceAccountID, key string) string {
	return "idempotency:" + sourceAccountID + ":" + key
}

type cachedRecord struct {
	TransferID  string    `json:"transfer_id"`
	Fingerprint string    `json:"fingerprint"`
	FirstSeenAt time.Time `json:"first_seen_at"`
}

// cached returns a committed mapping from the cache, or nil.
func (r *IdempotencyRegistry) cached(ctx context.Context, sourceAccountID, key string) *domain.IdempotencyRecord {
	if r.cache == nil {
		return nil
	}

	data, err := r.cache.Get(ctx, cacheKey(sourceAccountID, key))
	if err != nil || data == nil {
		return nil
	}

	var c cachedRecord
	if err := json.Unmarshal(data, &c); err != nil {
		r.logger.Warn().Err(err).Msg("discarding malformed idempotency cache entry")
		return nil
	}

	return &domain.IdempotencyRecord{
		Key:             key,
		SourceAccountID: sourceAccountID,
		TransferID:      c.TransferID,
		Fingerprint:     c.Fingerprint,
		FirstSeenAt:     c.FirstSeenAt,
	}
}

// cacheTTL keeps a cached mapping from outliving its durable record. Once
// first_seen_at+retention has passed the record may be pruned and the key
// reused, so the entry must be gone by then.
func (r *IdempotencyRegistry) cacheTTL(rec *domain.IdempotencyRecord) time.Duration {
	ttl := min(idempotencyCacheTTL, r.retention)
	if left := rec.FirstSeenAt.Add(r.retention).Sub(r.now()); left < ttl {
		ttl = left
	}
	return ttl
}

func (r *IdempotencyRegistry) remember(ctx context.Context, rec *domain.IdempotencyRecord) {
	if r.cache == nil || rec == nil {
		return
	}

	data, err := json.Marshal(cachedRecord{
		TransferID:  rec.TransferID,
		Fingerprint: rec.Fingerprint,
		FirstSeenAt: rec.FirstSeenAt,
	})
	if err != nil {
		return
	}

	ttl := r.cacheTTL(rec)
	if ttl <= 0 {
		return
	}

	if err := r.cache.Set(ctx, cacheKey(rec.SourceAccountID, rec.Key), data, ttl); err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Warn().Err(err).Str("transfer_id", rec.TransferID).Msg("failed to cache idempotency record")
	}
}
