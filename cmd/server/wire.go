package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/iho/transferengine/internal/adapter/http/handler"
	"github.com/iho/transferengine/internal/adapter/repository/memory"
	postgresRepo "github.com/iho/transferengine/internal/adapter/repository/postgres"
	redisRepo "github.com/iho/transferengine/internal/adapter/repository/redis"
	"github.com/iho/transferengine/internal/infrastructure/config"
	"github.com/iho/transferengine/internal/infrastructure/eventpublisher"
	"github.com/iho/transferengine/internal/infrastructure/metrics"
	"github.com/iho/transferengine/internal/infrastructure/postgres"
	"github.com/iho/transferengine/internal/infrastructure/redis"
	"github.com/iho/transferengine/internal/infrastructure/retry"
	"github.com/iho/transferengine/internal/risk"
	"github.com/iho/transferengine/internal/usecase"
)

// storage bundles the repositories of one backend.
type storage struct {
	txManager    usecase.TransactionManager
	accounts     usecase.AccountRepository
	transfers    usecase.TransferRepository
	history      risk.HistoryProvider
	entries      usecase.EntryRepository
	ledger       usecase.LedgerRepository
	idempotency  usecase.IdempotencyRepository
	outbox       usecase.OutboxRepository
	audit        usecase.AuditRepository
	// locks is nil for the memory backend, which serves one process.
	locks        usecase.LockManager
	checks       map[string]handler.Pinger
	close        func()
}

func newStorage(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*storage, error) {
	switch cfg.StorageBackend {
	case config.StorageMemory:
		logger.Warn().Msg("using in-memory storage; data is lost on restart")
		store := memory.NewStore()
		transfers := memory.NewTransferRepository(store)
		return &storage{
			txManager:   memory.NewTxManager(store),
			accounts:    memory.NewAccountRepository(store),
			transfers:   transfers,
			history:     transfers,
			entries:     memory.NewEntryRepository(store),
			ledger:      memory.NewLedgerRepository(store),
			idempotency: memory.NewIdempotencyRepository(store),
			outbox:      memory.NewOutboxRepository(store),
			audit:       memory.NewAuditRepository(store),
			checks:      map[string]handler.Pinger{},
			close:       func() {},
		}, nil

	case config.StoragePostgres:
		if cfg.AutoMigrate {
			if err := postgres.RunMigrations(cfg.DatabaseURL, logger); err != nil {
				return nil, fmt.Errorf("run migrations: %w", err)
			}
		}

		connectCtx, cancel := context.WithTimeout(ctx, cfg.DatabaseTimeout)
		defer cancel()

		pool, err := postgres.NewPoolWithConfig(connectCtx, postgres.PoolConfig{
			DatabaseURL: cfg.DatabaseURL,
			MaxConns:    cfg.DatabaseMaxConns,
			MinConns:    cfg.DatabaseMinConns,
		})
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		logger.Info().Msg("connected to postgres")

		transfers := postgresRepo.NewTransferRepository(pool)
		return &storage{
			txManager:   postgresRepo.NewTxManager(pool),
			accounts:    postgresRepo.NewAccountRepository(pool),
			transfers:   transfers,
			history:     transfers,
			entries:     postgresRepo.NewEntryRepository(pool),
			ledger:      postgresRepo.NewLedgerRepository(pool),
			idempotency: postgresRepo.NewIdempotencyRepository(pool),
			outbox:      postgresRepo.NewOutboxRepository(pool),
			audit:       postgresRepo.NewAuditRepository(pool),
			locks:       postgresRepo.NewAdvisoryLockManager(pool),
			checks:      map[string]handler.Pinger{"postgres": pool},
			close:       pool.Close,
		}, nil
	}

	return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
}

// coordination holds the optional Redis-backed cache and leader lock.
// Both fields are nil interfaces when Redis is not configured; leaderLock
// then falls back to the storage backend's lock.
type coordination struct {
	cache usecase.Cache
	locks usecase.LockManager
	close func()
}

func newCoordination(ctx context.Context, cfg *config.Config, checks map[string]handler.Pinger, logger zerolog.Logger) (*coordination, error) {
	if cfg.RedisURL == "" {
		logger.Info().Msg("redis not configured; idempotency cache and leader lock disabled")
		return &coordination{close: func() {}}, nil
	}

	client, err := redis.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info().Msg("connected to redis")

	checks["redis"] = handler.PingFunc(func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})

	return &coordination{
		cache: redisRepo.NewCache(client),
		locks: redisRepo.NewLockManager(client),
		close: func() { closeRedis(client, logger) },
	}, nil
}

// leaderLock picks the lock that elects the replica running the recovery
// sweep and the outbox publisher.
func leaderLock(coord *coordination, store *storage) usecase.LockManager {
	if coord.locks != nil {
		return coord.locks
	}
	return store.locks
}

func closeRedis(client goredis.UniversalClient, logger zerolog.Logger) {
	if err := client.Close(); err != nil {
		logger.Warn().Err(err).Msg("close redis client")
	}
}

// newRiskEngine builds the rule pipeline in its fixed order: velocity,
// destination, amount, anomaly, external.
func newRiskEngine(cfg config.RiskConfig, history risk.HistoryProvider, logger zerolog.Logger, m *metrics.Metrics) (*risk.Engine, error) {
	rules := []risk.WeightedRule{
		{Rule: risk.NewVelocityRule(history, cfg.VelocityWindow, cfg.VelocityMaxCount, cfg.VelocityMaxAmount), Weight: cfg.WeightVelocity},
		{Rule: risk.NewDestinationRule(history, cfg.DestinationAllowlist, cfg.DestinationUnknownScore), Weight: cfg.WeightDestination},
		{Rule: risk.NewAmountRule(cfg.AmountSoftLimit, cfg.AmountHardLimit), Weight: cfg.WeightAmount},
		{Rule: risk.NewAnomalyRule(history, cfg.AnomalySampleSize, cfg.AnomalyMinSamples), Weight: cfg.WeightAnomaly},
	}

	if cfg.ExternalScorerURL != "" {
		scorer := risk.NewHTTPScorer(cfg.ExternalScorerURL, &http.Client{Timeout: cfg.RuleTimeout})
		rules = append(rules, risk.WeightedRule{
			Rule:   risk.NewExternalRule(scorer, risk.DefaultBreakerConfig(), logger),
			Weight: cfg.WeightExternal,
		})
	}

	return risk.NewEngine(risk.Config{
		Version:     cfg.RulesetVersion,
		Thresholds:  risk.Thresholds{Hold: cfg.HoldThreshold, Reject: cfg.RejectThreshold},
		RuleTimeout: cfg.RuleTimeout,
		Logger:      logger.With().Str("component", "risk").Logger(),
		Metrics:     m,
	}, rules...)
}

// newEventSink returns the log sink, fanned out to AMQP when configured.
// The returned close func releases the broker connection.
func newEventSink(cfg *config.Config, logger zerolog.Logger) (eventpublisher.Publisher, func(), error) {
	logSink := eventpublisher.NewLogPublisher(logger.With().Str("component", "event_sink").Logger())
	if cfg.AMQPURL == "" {
		return logSink, func() {}, nil
	}

	amqpSink, err := eventpublisher.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to amqp: %w", err)
	}
	logger.Info().Str("exchange", cfg.AMQPExchange).Msg("publishing events to amqp")

	closeFn := func() {
		if err := amqpSink.Close(); err != nil {
			logger.Warn().Err(err).Msg("close amqp publisher")
		}
	}
	return eventpublisher.NewFanoutPublisher(logSink, amqpSink), closeFn, nil
}

// commitRetryConfig bounds the whole retry loop at twice the sum of its
// maximum backoffs.
func commitRetryConfig(cfg *config.Config) retry.Config {
	return retry.Config{
		MaxAttempts:     cfg.CommitMaxAttempts,
		InitialInterval: cfg.CommitInitialBackoff,
		MaxInterval:     cfg.CommitMaxBackoff,
		MaxElapsedTime:  time.Duration(cfg.CommitMaxAttempts) * cfg.CommitMaxBackoff * 2,
	}
}
