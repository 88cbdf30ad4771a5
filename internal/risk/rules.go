package risk

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/iho/transferengine/internal/domain"
)

// Rule identifiers, also used as triggered rule names in verdicts.
const (
	RuleVelocity    = "velocity"
	RuleDestination = "destination"
	RuleAmount      = "amount"
	RuleAnomaly     = "anomaly"
	RuleExternal    = "external"
)

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// VelocityRule scores how close the source is to its per-window limits,
// counting the draft itself. The score starts rising at half the limit.
type VelocityRule struct {
	history   HistoryProvider
	window    time.Duration
	maxCount  int
	maxAmount int64
}

// NewVelocityRule creates a velocity rule.
func NewVelocityRule(history HistoryProvider, window time.Duration, maxCount int, maxAmount int64) *VelocityRule {
	return &VelocityRule{history: history, window: window, maxCount: maxCount, maxAmount: maxAmount}
}

func (r *VelocityRule) ID() string { return RuleVelocity }

func (r *VelocityRule) Evaluate(ctx context.Context, draft domain.TransferDraft) (domain.RiskSignal, error) {
	count, total, err := r.history.SourceActivity(ctx, draft.SourceAccountID, draft.AsOf.Add(-r.window), draft.AsOf, draft.TransferID)
	if err != nil {
		return domain.RiskSignal{}, fmt.Errorf("velocity history: %w", err)
	}

	ratio := 0.0
	if r.maxCount > 0 {
		ratio = float64(count+1) / float64(r.maxCount)
	}
	if r.maxAmount > 0 {
		ratio = math.Max(ratio, float64(total+draft.Amount)/float64(r.maxAmount))
	}

	return domain.RiskSignal{
		RuleID: RuleVelocity,
		Score:  clamp01((ratio - 0.5) / 0.5),
		Detail: fmt.Sprintf("count=%d total=%d window=%s", count+1, total+draft.Amount, r.window),
	}, nil
}

// DestinationRule flags destinations the source has never paid before,
// unless the destination is explicitly allowlisted.
type DestinationRule struct {
	history      HistoryProvider
	allowlist    map[string]struct{}
	unknownScore float64
}

// NewDestinationRule creates a destination rule.
func NewDestinationRule(history HistoryProvider, allowlist []string, unknownScore float64) *DestinationRule {
	set := make(map[string]struct{}, len(allowlist))
	for _, id := range allowlist {
		set[id] = struct{}{}
	}
	return &DestinationRule{history: history, allowlist: set, unknownScore: clamp01(unknownScore)}
}

func (r *DestinationRule) ID() string { return RuleDestination }

func (r *DestinationRule) Evaluate(ctx context.Context, draft domain.TransferDraft) (domain.RiskSignal, error) {
	if _, ok := r.allowlist[draft.DestAccountID]; ok {
		return domain.RiskSignal{RuleID: RuleDestination, Detail: "allowlisted"}, nil
	}

	known, err := r.history.HasSettledTransfer(ctx, draft.SourceAccountID, draft.DestAccountID, draft.AsOf)
	if err != nil {
		return domain.RiskSignal{}, fmt.Errorf("destination history: %w", err)
	}
	if known {
		return domain.RiskSignal{RuleID: RuleDestination, Detail: "known"}, nil
	}

	return domain.RiskSignal{RuleID: RuleDestination, Score: r.unknownScore, Detail: "first payment to destination"}, nil
}

// AmountRule scores linearly between a soft and a hard amount limit.
type AmountRule struct {
	softLimit int64
	hardLimit int64
}

// NewAmountRule creates an amount threshold rule. Limits are minor units.
func NewAmountRule(softLimit, hardLimit int64) *AmountRule {
	return &AmountRule{softLimit: softLimit, hardLimit: hardLimit}
}

func (r *AmountRule) ID() string { return RuleAmount }

func (r *AmountRule) Evaluate(_ context.Context, draft domain.TransferDraft) (domain.RiskSignal, error) {
	var score float64
	switch {
	case draft.Amount <= r.softLimit:
		score = 0
	case draft.Amount >= r.hardLimit || r.hardLimit <= r.softLimit:
		score = 1
	default:
		score = float64(draft.Amount-r.softLimit) / float64(r.hardLimit-r.softLimit)
	}

	return domain.RiskSignal{
		RuleID: RuleAmount,
		Score:  clamp01(score),
		Detail: fmt.Sprintf("amount=%d soft=%d hard=%d", draft.Amount, r.softLimit, r.hardLimit),
	}, nil
}

// AnomalyRule compares the amount with the source's settled history using a
// z-score. Scoring starts at z=2 and saturates at z=4.
type AnomalyRule struct {
	history    HistoryProvider
	sampleSize int
	minSamples int
}

// NewAnomalyRule creates an anomaly rule over the last sampleSize settled transfers.
func NewAnomalyRule(history HistoryProvider, sampleSize, minSamples int) *AnomalyRule {
	return &AnomalyRule{history: history, sampleSize: sampleSize, minSamples: minSamples}
}

func (r *AnomalyRule) ID() string { return RuleAnomaly }

func (r *AnomalyRule) Evaluate(ctx context.Context, draft domain.TransferDraft) (domain.RiskSignal, error) {
	amounts, err := r.history.SettledAmounts(ctx, draft.SourceAccountID, draft.AsOf, r.sampleSize)
	if err != nil {
		return domain.RiskSignal{}, fmt.Errorf("anomaly history: %w", err)
	}

	if len(amounts) < r.minSamples {
		return domain.RiskSignal{RuleID: RuleAnomaly, Detail: "insufficient history"}, nil
	}

	var sum float64
	for _, a := range amounts {
		sum += float64(a)
	}
	mean := sum / float64(len(amounts))

	var sq float64
	for _, a := range amounts {
		d := float64(a) - mean
		sq += d * d
	}
	stddev := math.Sqrt(sq / float64(len(amounts)))

	amount := float64(draft.Amount)
	var z float64
	switch {
	case stddev > 0:
		z = (amount - mean) / stddev
	case amount > mean:
		// Constant history: any larger amount is maximally unusual.
		z = math.Inf(1)
	}

	score := 1.0
	if !math.IsInf(z, 1) {
		score = clamp01((z - 2) / 2)
	}

	return domain.RiskSignal{
		RuleID: RuleAnomaly,
		Score:  score,
		Detail: fmt.Sprintf("mean=%.2f stddev=%.2f samples=%d", mean, stddev, len(amounts)),
	}, nil
}
