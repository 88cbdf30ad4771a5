package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Transfer metrics
	TransfersSubmitted prometheus.Counter
	TransferOutcomes   *prometheus.CounterVec
	TransferDuration   prometheus.Histogram
	TransferAmount     prometheus.Histogram
	IdempotentReplays  prometheus.Counter
	CommitRetries      prometheus.Counter
	Indeterminate      prometheus.Counter
	HoldsResolved      *prometheus.CounterVec

	// Risk metrics
	RiskScore        prometheus.Histogram
	RiskDecisions    *prometheus.CounterVec
	RiskRuleFailures *prometheus.CounterVec

	// Account metrics
	AccountsCreated   prometheus.Counter
	AccountOperations *prometheus.CounterVec

	// Outbox metrics
	EventsPublished      *prometheus.CounterVec
	EventPublishFailures *prometheus.CounterVec

	// Recovery metrics
	RecoveryActions *prometheus.CounterVec

	// API metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Rate limiting metrics
	RateLimitHits *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics with the default registerer.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer creates all metrics and registers them with reg.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		TransfersSubmitted: f.NewCounter(prometheus.CounterOpts{
			Name: "transferengine_transfers_submitted_total",
			Help: "Total number of transfer submissions that created a new transfer",
		}),
		TransferOutcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transferengine_transfer_outcomes_total",
				Help: "Transfers by state reached",
			},
			[]string{"state"},
		),
		TransferDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "transferengine_transfer_duration_seconds",
			Help:    "Duration of synchronous transfer processing",
			Buckets: prometheus.DefBuckets,
		}),
		TransferAmount: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "transferengine_transfer_amount_minor",
			Help:    "Transfer amounts in minor units",
			Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000, 100000000},
		}),
		IdempotentReplays: f.NewCounter(prometheus.CounterOpts{
			Name: "transferengine_idempotent_replays_total",
			Help: "Submissions answered from an existing idempotency record",
		}),
		CommitRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "transferengine_commit_retries_total",
			Help: "Ledger commit attempts retried after a transient failure",
		}),
		Indeterminate: f.NewCounter(prometheus.CounterOpts{
			Name: "transferengine_transfers_indeterminate_total",
			Help: "Transfers whose commit exhausted retries",
		}),
		HoldsResolved: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transferengine_holds_resolved_total",
				Help: "Held transfers resolved by decision and source",
			},
			[]string{"decision", "source"},
		),
		RiskScore: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "transferengine_risk_score",
			Help:    "Aggregated risk scores",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
		}),
		RiskDecisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transferengine_risk_decisions_total",
				Help: "Risk verdicts by decision",
			},
			[]string{"decision"},
		),
		RiskRuleFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transferengine_risk_rule_failures_total",
				Help: "Rule evaluations that produced no signal",
			},
			[]string{"rule"},
		),
		AccountsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "transferengine_accounts_created_total",
			Help: "Total number of accounts created",
		}),
		AccountOperations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transferengine_account_operations_total",
				Help: "Account lifecycle operations",
			},
			[]string{"operation"},
		),
		EventsPublished: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transferengine_events_published_total",
				Help: "Outbox events delivered by type",
			},
			[]string{"event_type"},
		),
		EventPublishFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transferengine_event_publish_failures_total",
				Help: "Outbox delivery failures by type",
			},
			[]string{"event_type"},
		),
		RecoveryActions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transferengine_recovery_actions_total",
				Help: "Actions taken by the recovery sweep",
			},
			[]string{"action"},
		),
		HTTPRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transferengine_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "transferengine_http_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		RateLimitHits: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transferengine_rate_limit_hits_total",
				Help: "Requests rejected by the rate limiter",
			},
			[]string{"client"},
		),
	}
}
