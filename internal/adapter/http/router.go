package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/iho/transferengine/internal/adapter/http/handler"
	"github.com/iho/transferengine/internal/adapter/http/middleware"
	"github.com/iho/transferengine/internal/domain"
	"github.com/iho/transferengine/internal/infrastructure/metrics"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	AccountHandler  *handler.AccountHandler
	TransferHandler *handler.TransferHandler
	EntryHandler    *handler.EntryHandler
	LedgerHandler   *handler.LedgerHandler
	HealthHandler   *handler.HealthHandler
	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler
	// Verifier authenticates API requests. Nil disables authentication and
	// every request acts as middleware.AnonymousSubject.
	Verifier    middleware.TokenVerifier
	RateLimiter *middleware.RateLimiter
	Metrics     *metrics.Metrics
	Logger      zerolog.Logger
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.NewLoggingMiddleware(cfg.Logger).Wrap)
	r.Use(middleware.Recovery(cfg.Logger))
	if cfg.Metrics != nil {
		r.Use(middleware.Metrics(cfg.Metrics))
	}

	// Health endpoints
	r.Get("/health", cfg.HealthHandler.Liveness)
	r.Get("/ready", cfg.HealthHandler.Readiness)
	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		if cfg.Verifier != nil {
			r.Use(middleware.AuthMiddleware(cfg.Verifier))
		} else {
			r.Use(middleware.NoAuth)
		}
		if cfg.RateLimiter != nil {
			r.Use(cfg.RateLimiter.Limit)
		}

		// Accounts
		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", cfg.AccountHandler.List)
			r.Get("/{id}", cfg.AccountHandler.Get)
			r.Get("/{id}/entries", cfg.EntryHandler.ListByAccount)
			r.Get("/{id}/transfers", cfg.TransferHandler.ListByAccount)
			r.Get("/{id}/balance", cfg.EntryHandler.Balance)
			r.Get("/{id}/reconcile", cfg.LedgerHandler.Reconcile)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(domain.Role.CanManageAccounts))
				r.Post("/", cfg.AccountHandler.Create)
				r.Post("/{id}/freeze", cfg.AccountHandler.Freeze)
				r.Post("/{id}/unfreeze", cfg.AccountHandler.Unfreeze)
				r.Post("/{id}/close", cfg.AccountHandler.Close)
			})
		})

		// Transfers
		r.Route("/transfers", func(r chi.Router) {
			r.Get("/{id}", cfg.TransferHandler.Get)
			r.Get("/{id}/entries", cfg.EntryHandler.ListByTransfer)
			r.With(middleware.RequireRole(domain.Role.CanTransfer)).Post("/", cfg.TransferHandler.Create)
			r.With(middleware.RequireRole(domain.Role.CanReview)).Post("/{id}/resolve", cfg.TransferHandler.Resolve)
		})

		r.Get("/ledger/consistency", cfg.LedgerHandler.CheckConsistency)
	})

	return r
}
