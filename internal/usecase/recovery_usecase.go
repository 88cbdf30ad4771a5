package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/transferengine/internal/domain"
	"github.com/iho/transferengine/internal/infrastructure/metrics"
)

// ErrLockNotAcquired is returned by LockManager when another holder owns the lock.
var ErrLockNotAcquired = errors.New("lock not acquired")

const recoveryLockKey = "recovery-sweep"

// RecoveryConfig tunes the recovery sweep.
type RecoveryConfig struct {
	// StaleAfter is how long a transfer may sit in RECEIVED, SCORING or
	// ADMITTED before the sweep takes it over.
	StaleAfter time.Duration
	// HoldAutoRejectAfter rejects HELD transfers older than this. Zero disables.
	HoldAutoRejectAfter time.Duration
	// PruneInterval spaces idempotency pruning. Zero prunes on every sweep.
	PruneInterval time.Duration
	BatchSize     int
}

// RecoveryStats counts what one sweep did.
type RecoveryStats struct {
	Held    int
	Resumed int
	Expired int
	Pruned  int64
}

// RecoveryUseCase finishes transfers whose owner went away.
type RecoveryUseCase struct {
	transfers    *TransferUseCase
	transferRepo TransferRepository
	registry     *IdempotencyRegistry
	locks        LockManager
	cfg          RecoveryConfig
	logger       zerolog.Logger
	metrics      *metrics.Metrics
	now          func() time.Time
	lastPrune    time.Time
}

// NewRecoveryUseCase creates a new RecoveryUseCase. locks and m may be nil;
// without locks every replica sweeps.
func NewRecoveryUseCase(
	transfers *TransferUseCase,
	transferRepo TransferRepository,
	registry *IdempotencyRegistry,
	locks LockManager,
	cfg RecoveryConfig,
	logger zerolog.Logger,
	m *metrics.Metrics,
) *RecoveryUseCase {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultScoringDeadline
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = recoveryBatchSize
	}
	return &RecoveryUseCase{
		transfers:    transfers,
		transferRepo: transferRepo,
		registry:     registry,
		locks:        locks,
		cfg:          cfg,
		logger:       logger,
		metrics:      m,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Start sweeps every interval until ctx is cancelled.
func (uc *RecoveryUseCase) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	uc.logger.Info().Dur("interval", interval).Msg("recovery worker started")

	for {
		select {
		case <-ctx.Done():
			uc.logger.Info().Msg("recovery worker stopped")
			return
		case <-ticker.C:
			if _, err := uc.sweep(ctx, interval); err != nil && !errors.Is(err, context.Canceled) {
				uc.logger.Error().Err(err).Msg("recovery sweep failed")
			}
		}
	}
}

func (uc *RecoveryUseCase) sweep(ctx context.Context, ttl time.Duration) (*RecoveryStats, error) {
	if uc.locks == nil {
		return uc.RunOnce(ctx)
	}

	var stats *RecoveryStats
	err := uc.locks.WithLock(ctx, recoveryLockKey, ttl, func(ctx context.Context) error {
		var err error
		stats, err = uc.RunOnce(ctx)
		return err
	})
	if errors.Is(err, ErrLockNotAcquired) {
		uc.logger.Debug().Msg("recovery sweep owned by another replica")
		return &RecoveryStats{}, nil
	}
	return stats, err
}

// RunOnce performs a single sweep. Failures on individual transfers are
// logged and skipped so one bad row cannot stall the rest.
func (uc *RecoveryUseCase) RunOnce(ctx context.Context) (*RecoveryStats, error) {
	stats := &RecoveryStats{}
	now := uc.now()
	cutoff := now.Add(-uc.cfg.StaleAfter)

	for _, state := range []domain.TransferState{domain.TransferStateReceived, domain.TransferStateScoring} {
		stale, err := uc.transferRepo.ListStale(ctx, state, cutoff, uc.cfg.BatchSize)
		if err != nil {
			return stats, err
		}
		for _, t := range stale {
			if err := uc.transfers.ForceHold(ctx, t); err != nil {
				uc.skip(t, "hold", err)
				continue
			}
			stats.Held++
			uc.record("hold")
		}
	}

	admitted, err := uc.transferRepo.ListStale(ctx, domain.TransferStateAdmitted, cutoff, uc.cfg.BatchSize)
	if err != nil {
		return stats, err
	}
	for _, t := range admitted {
		if _, err := uc.transfers.ResumeSettlement(ctx, t); err != nil {
			uc.skip(t, "resume", err)
			continue
		}
		stats.Resumed++
		uc.record("resume")
	}

	if uc.cfg.HoldAutoRejectAfter > 0 {
		held, err := uc.transferRepo.ListStale(ctx, domain.TransferStateHeld, now.Add(-uc.cfg.HoldAutoRejectAfter), uc.cfg.BatchSize)
		if err != nil {
			return stats, err
		}
		for _, t := range held {
			if err := uc.transfers.ExpireHold(ctx, t); err != nil {
				uc.skip(t, "expire", err)
				continue
			}
			stats.Expired++
			uc.record("expire")
		}
	}

	if uc.lastPrune.IsZero() || now.Sub(uc.lastPrune) >= uc.cfg.PruneInterval {
		pruned, err := uc.registry.Prune(ctx)
		if err != nil {
			return stats, err
		}
		uc.lastPrune = now
		stats.Pruned = pruned
		if pruned > 0 && uc.metrics != nil {
			uc.metrics.RecoveryActions.WithLabelValues("prune").Add(float64(pruned))
		}
	}

	if stats.Held+stats.Resumed+stats.Expired > 0 || stats.Pruned > 0 {
		uc.logger.Info().
			Int("held", stats.Held).
			Int("resumed", stats.Resumed).
			Int("expired", stats.Expired).
			Int64("pruned", stats.Pruned).
			Msg("recovery sweep")
	}

	return stats, nil
}

func (uc *RecoveryUseCase) skip(t *domain.Transfer, action string, err error) {
	if errors.Is(err, domain.ErrStaleTransferState) {
		return
	}
	uc.logger.Warn().Err(err).Str("transfer_id", t.ID).Str("action", action).Msg("recovery action failed")
}

func (uc *RecoveryUseCase) record(action string) {
	if uc.metrics != nil {
		uc.metrics.RecoveryActions.WithLabelValues(action).Inc()
	}
}
