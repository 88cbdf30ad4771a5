package risk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/iho/transferengine/internal/domain"
)

// BreakerConfig tunes the circuit breaker around the external scorer.
type BreakerConfig struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

// DefaultBreakerConfig returns conservative breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         1,
		Interval:            time.Minute,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// ExternalRule asks an external model for a score. While the breaker is
// open the rule fails fast, which the engine turns into a HOLD.
type ExternalRule struct {
	scorer  ExternalScorer
	breaker *gobreaker.CircuitBreaker
}

// NewExternalRule wraps scorer in a circuit breaker.
func NewExternalRule(scorer ExternalScorer, cfg BreakerConfig, logger zerolog.Logger) *ExternalRule {
	settings := gobreaker.Settings{
		Name:        "risk-external-scorer",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	}

	return &ExternalRule{scorer: scorer, breaker: gobreaker.NewCircuitBreaker(settings)}
}

func (r *ExternalRule) ID() string { return RuleExternal }

// State exposes the breaker state for health reporting.
func (r *ExternalRule) State() string {
	return r.breaker.State().String()
}

func (r *ExternalRule) Evaluate(ctx context.Context, draft domain.TransferDraft) (domain.RiskSignal, error) {
	res, err := r.breaker.Execute(func() (interface{}, error) {
		return r.scorer.Score(ctx, draft)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return domain.RiskSignal{}, fmt.Errorf("%w: %v", ErrRuleUnavailable, err)
		}
		return domain.RiskSignal{}, fmt.Errorf("external scorer: %w", err)
	}

	score, _ := res.(float64)
	return domain.RiskSignal{RuleID: RuleExternal, Score: clamp01(score)}, nil
}

// HTTPScorer posts the draft as JSON and reads {"score": <0..1>}.
type HTTPScorer struct {
	url    string
	client *http.Client
}

// NewHTTPScorer creates a scorer for url. A nil client uses a 2s timeout.
func NewHTTPScorer(url string, client *http.Client) *HTTPScorer {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Second}
	}
	return &HTTPScorer{url: url, client: client}
}

type scoreRequest struct {
	TransferID      string `json:"transfer_id"`
	SourceAccountID string `json:"source_account_id"`
	DestAccountID   string `json:"dest_account_id"`
	Amount          int64  `json:"amount_minor"`
	Currency        string `json:"currency"`
	AsOf            string `json:"as_of"`
}

type scoreResponse struct {
	Score *float64 `json:"score"`
}

func (s *HTTPScorer) Score(ctx context.Context, draft domain.TransferDraft) (float64, error) {
	body, err := json.Marshal(scoreRequest{
		TransferID:      draft.TransferID,
		SourceAccountID: draft.SourceAccountID,
		DestAccountID:   draft.DestAccountID,
		Amount:          draft.Amount,
		Currency:        draft.Currency,
		AsOf:            draft.AsOf.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return 0, fmt.Errorf("encode score request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build score request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("call scorer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("scorer returned status %d", resp.StatusCode)
	}

	var out scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode score response: %w", err)
	}
	if out.Score == nil {
		return 0, errors.New("scorer response missing score")
	}

	return *out.Score, nil
}
