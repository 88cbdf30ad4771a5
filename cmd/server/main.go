package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	httpAdapter "github.com/iho/transferengine/internal/adapter/http"
	"github.com/iho/transferengine/internal/adapter/http/handler"
	"github.com/iho/transferengine/internal/adapter/http/middleware"
	postgresRepo "github.com/iho/transferengine/internal/adapter/repository/postgres"
	"github.com/iho/transferengine/internal/infrastructure/auth"
	"github.com/iho/transferengine/internal/infrastructure/config"
	"github.com/iho/transferengine/internal/infrastructure/eventpublisher"
	"github.com/iho/transferengine/internal/infrastructure/logger"
	"github.com/iho/transferengine/internal/infrastructure/metrics"
	"github.com/iho/transferengine/internal/infrastructure/retry"
	"github.com/iho/transferengine/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Service: "transferengine",
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if err := run(ctx, cfg, log, reg); err != nil {
		log.Fatal().Err(err).Msg("server exited with error")
	}
	log.Info().Msg("server stopped")
}

// app is the fully wired service.
type app struct {
	cfg       *config.Config
	logger    zerolog.Logger
	handler   http.Handler
	publisher *eventpublisher.EventPublisher
	recovery  *usecase.RecoveryUseCase
	limiter   *middleware.RateLimiter
	closers   []func()
}

// newApp wires storage, risk scoring, the orchestrator, its background
// workers and the HTTP router. Callers must call close.
func newApp(ctx context.Context, cfg *config.Config, log zerolog.Logger, reg *prometheus.Registry) (_ *app, err error) {
	a := &app{cfg: cfg, logger: log}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	m := metrics.NewWithRegisterer(reg)

	store, err := newStorage(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store.close)

	coord, err := newCoordination(ctx, cfg, store.checks, log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, coord.close)

	locks := leaderLock(coord, store)

	engine, err := newRiskEngine(cfg.Risk, store.history, log, m)
	if err != nil {
		return nil, fmt.Errorf("build risk engine: %w", err)
	}

	idGen := postgresRepo.NewULIDGenerator()
	retrier := retry.New(commitRetryConfig(cfg), log, retry.WithOnRetry(m.CommitRetries.Inc))

	registry := usecase.NewIdempotencyRegistry(
		store.txManager, store.idempotency, store.transfers, coord.cache, idGen,
		cfg.IdempotencyRetention, log.With().Str("component", "idempotency").Logger(),
	)
	ledgerStore := usecase.NewLedgerStore(store.txManager, store.accounts, store.entries, idGen)

	transferUC := usecase.NewTransferUseCase(usecase.TransferDependencies{
		TxManager:    store.txManager,
		AccountRepo:  store.accounts,
		TransferRepo: store.transfers,
		OutboxRepo:   store.outbox,
		AuditRepo:    store.audit,
		Registry:     registry,
		Ledger:       ledgerStore,
		Risk:         engine,
		Retrier:      retrier,
		IDGen:        idGen,
		Logger:       log.With().Str("component", "orchestrator").Logger(),
		Metrics:      m,
	}, cfg.ScoringDeadline)
	accountUC := usecase.NewAccountUseCase(store.txManager, store.accounts, store.audit, idGen, log, m)
	entryUC := usecase.NewEntryUseCase(store.accounts, store.entries)
	ledgerUC := usecase.NewLedgerUseCase(store.ledger)
	reconUC := usecase.NewReconciliationUseCase(store.accounts, store.entries, store.ledger)

	a.recovery = usecase.NewRecoveryUseCase(transferUC, store.transfers, registry, locks, usecase.RecoveryConfig{
		StaleAfter:          cfg.ScoringDeadline,
		HoldAutoRejectAfter: cfg.HoldAutoRejectAfter,
		PruneInterval:       cfg.IdempotencyPruneInterval,
		BatchSize:           cfg.OutboxBatchSize,
	}, log.With().Str("component", "recovery").Logger(), m)

	sink, closeSink, err := newEventSink(cfg, log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeSink)

	a.publisher = eventpublisher.NewEventPublisher(eventpublisher.Config{
		OutboxRepo: store.outbox,
		Publisher:  sink,
		Logger:     log.With().Str("component", "publisher").Logger(),
		Metrics:    m,
		BatchSize:  cfg.OutboxBatchSize,
		Interval:   cfg.OutboxPollInterval,
		Retention:  cfg.OutboxRetention,
		Locks:      locks,
	})

	var verifier middleware.TokenVerifier
	if cfg.AuthEnabled {
		verifier = auth.NewJWTManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTExpiration)
	} else {
		log.Warn().Msg("authentication disabled; every request acts as admin")
	}

	if cfg.RateLimitRPS > 0 {
		a.limiter = middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, m)
	}

	a.handler = httpAdapter.NewRouter(httpAdapter.RouterConfig{
		AccountHandler:  handler.NewAccountHandler(accountUC),
		TransferHandler: handler.NewTransferHandler(transferUC),
		EntryHandler:    handler.NewEntryHandler(entryUC, accountUC),
		LedgerHandler:   handler.NewLedgerHandler(ledgerUC, reconUC),
		HealthHandler:   handler.NewHealthHandler(store.checks),
		MetricsHandler:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		Verifier:        verifier,
		RateLimiter:     a.limiter,
		Metrics:         m,
		Logger:          log,
	})

	return a, nil
}

// close releases resources in reverse acquisition order.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// serve runs the HTTP server and background workers on ln until ctx is
// cancelled, then drains in-flight requests.
func (a *app) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      a.handler,
		ReadTimeout:  a.cfg.HTTPReadTimeout,
		WriteTimeout: a.cfg.HTTPWriteTimeout,
		IdleTimeout:  a.cfg.HTTPIdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info().Str("addr", ln.Addr().String()).Msg("HTTP server listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := a.publisher.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("event publisher: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		a.recovery.Start(gctx, a.cfg.RecoveryInterval)
		return nil
	})

	if a.limiter != nil {
		g.Go(func() error {
			a.limiter.Run(gctx, time.Minute)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info().Msg("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTPShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger, reg *prometheus.Registry) error {
	a, err := newApp(ctx, cfg, log, reg)
	if err != nil {
		return err
	}
	defer a.close()

	ln, err := net.Listen("tcp", ":"+cfg.HTTPPort)
	if err != nil {
		return fmt.Errorf("listen on port %s: %w", cfg.HTTPPort, err)
	}

	return a.serve(ctx, ln)
}
