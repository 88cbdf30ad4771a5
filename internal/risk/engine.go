package risk

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/iho/transferengine/internal/domain"
	"github.com/iho/transferengine/internal/infrastructure/metrics"
)

var tracer = otel.Tracer("github.com/iho/transferengine/internal/risk")

// Thresholds split the score range into decisions:
// score < Hold is ADMIT, score < Reject is HOLD, otherwise REJECT.
type Thresholds struct {
	Hold   float64
	Reject float64
}

// DefaultThresholds returns the 0.3 / 0.7 bands.
func DefaultThresholds() Thresholds {
	return Thresholds{Hold: 0.3, Reject: 0.7}
}

// Validate checks that the bands are ordered and inside [0,1].
func (t Thresholds) Validate() error {
	if t.Hold < 0 || t.Reject > 1 || t.Hold >= t.Reject {
		return fmt.Errorf("invalid risk thresholds: hold=%v reject=%v", t.Hold, t.Reject)
	}
	return nil
}

// Decide maps a score to a decision.
func (t Thresholds) Decide(score float64) domain.Decision {
	switch {
	case score >= t.Reject:
		return domain.DecisionReject
	case score >= t.Hold:
		return domain.DecisionHold
	default:
		return domain.DecisionAdmit
	}
}

// WeightedRule is one pipeline stage.
type WeightedRule struct {
	Rule   Rule
	Weight float64
}

// Config holds engine settings.
type Config struct {
	Version     string
	Thresholds  Thresholds
	RuleTimeout time.Duration
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics
}

// Engine evaluates drafts against an ordered rule pipeline.
type Engine struct {
	rules       []WeightedRule
	version     string
	thresholds  Thresholds
	ruleTimeout time.Duration
	logger      zerolog.Logger
	metrics     *metrics.Metrics
}

// NewEngine creates an engine. Rules with a non-positive weight are dropped.
func NewEngine(cfg Config, rules ...WeightedRule) (*Engine, error) {
	if err := cfg.Thresholds.Validate(); err != nil {
		return nil, err
	}
	if cfg.RuleTimeout <= 0 {
		cfg.RuleTimeout = 500 * time.Millisecond
	}

	active := make([]WeightedRule, 0, len(rules))
	for _, r := range rules {
		if r.Rule != nil && r.Weight > 0 {
			active = append(active, r)
		}
	}
	if len(active) == 0 {
		return nil, errors.New("risk engine needs at least one weighted rule")
	}

	return &Engine{
		rules:       active,
		version:     cfg.Version,
		thresholds:  cfg.Thresholds,
		ruleTimeout: cfg.RuleTimeout,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
	}, nil
}

// Version returns the ruleset version stamped on verdicts.
func (e *Engine) Version() string {
	return e.version
}

type ruleResult struct {
	signal domain.RiskSignal
	err    error
}

// Evaluate runs every rule concurrently and aggregates their signals in
// pipeline order. A rule that errors or misses its deadline makes the
// verdict degraded, and a degraded verdict is never ADMIT.
func (e *Engine) Evaluate(ctx context.Context, draft domain.TransferDraft) *domain.RiskVerdict {
	ctx, span := tracer.Start(ctx, "risk.Evaluate")
	defer span.End()

	results := make([]ruleResult, len(e.rules))

	var g errgroup.Group
	for i, wr := range e.rules {
		g.Go(func() error {
			results[i] = e.runRule(ctx, wr.Rule, draft)
			return nil
		})
	}
	_ = g.Wait()

	verdict := e.aggregate(draft, results)

	span.SetAttributes(
		attribute.String("risk.decision", string(verdict.Decision)),
		attribute.Float64("risk.score", verdict.Score),
		attribute.Bool("risk.degraded", verdict.Degraded),
	)

	if e.metrics != nil {
		e.metrics.RiskScore.Observe(verdict.Score)
		e.metrics.RiskDecisions.WithLabelValues(string(verdict.Decision)).Inc()
	}

	return verdict
}

func (e *Engine) runRule(ctx context.Context, rule Rule, draft domain.TransferDraft) ruleResult {
	rctx, cancel := context.WithTimeout(ctx, e.ruleTimeout)
	defer cancel()

	done := make(chan ruleResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- ruleResult{err: fmt.Errorf("rule %s panicked: %v", rule.ID(), r)}
			}
		}()
		s, err := rule.Evaluate(rctx, draft)
		done <- ruleResult{signal: s, err: err}
	}()

	select {
	case res := <-done:
		return res
	case <-rctx.Done():
		return ruleResult{err: fmt.Errorf("%w: rule %s: %v", domain.ErrScoringTimeout, rule.ID(), rctx.Err())}
	}
}

func (e *Engine) aggregate(draft domain.TransferDraft, results []ruleResult) *domain.RiskVerdict {
	var (
		weighted  float64
		weightSum float64
		triggered []string
		failed    []string
		signals   = make([]domain.RiskSignal, 0, len(results))
	)

	for i, res := range results {
		id := e.rules[i].Rule.ID()
		if res.err != nil {
			failed = append(failed, "rule_failed:"+id)
			e.logger.Warn().Err(res.err).Str("rule", id).Str("transfer_id", draft.TransferID).Msg("risk rule failed")
			if e.metrics != nil {
				e.metrics.RiskRuleFailures.WithLabelValues(id).Inc()
			}
			continue
		}

		s := res.signal
		s.RuleID = id
		s.Score = clamp01(s.Score)
		signals = append(signals, s)

		weighted += e.rules[i].Weight * s.Score
		weightSum += e.rules[i].Weight
		if s.Score > 0 {
			triggered = append(triggered, id)
		}
	}

	score := 0.0
	if weightSum > 0 {
		score = math.Round(clamp01(weighted/weightSum)*1e6) / 1e6
	}

	decision := e.thresholds.Decide(score)
	degraded := len(failed) > 0
	if degraded && decision == domain.DecisionAdmit {
		decision = domain.DecisionHold
	}

	return &domain.RiskVerdict{
		EvaluatedAt:    draft.AsOf,
		TransferID:     draft.TransferID,
		Decision:       decision,
		RulesetVersion: e.version,
		TriggeredRules: append(triggered, failed...),
		Signals:        signals,
		Score:          score,
		Degraded:       degraded,
	}
}
