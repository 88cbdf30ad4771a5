package domain

import (
	"errors"
	"time"
)

// ErrRiskRejected is the policy outcome of a REJECT verdict.
var ErrRiskRejected = errors.New("transfer rejected by risk policy")

// Decision is the outcome of risk evaluation.
type Decision string

const (
	DecisionAdmit  Decision = "ADMIT"
	DecisionHold   Decision = "HOLD"
	DecisionReject Decision = "REJECT"
)

// IsValid reports whether d is one of the three known decisions.
func (d Decision) IsValid() bool {
	return d == DecisionAdmit || d == DecisionHold || d == DecisionReject
}

// TransferDraft is the input of risk evaluation. AsOf bounds every history
// lookup so that re-evaluating the same draft yields the same verdict.
type TransferDraft struct {
	AsOf            time.Time
	TransferID      string
	SourceAccountID string
	DestAccountID   string
	Currency        string
	Amount          int64
}

// RiskSignal is the partial score one rule contributes.
type RiskSignal struct {
	RuleID string  `json:"rule_id"`
	Score  float64 `json:"score"`
	Detail string  `json:"detail,omitempty"`
}

// RiskVerdict is issued once per transfer and never changes afterwards.
type RiskVerdict struct {
	EvaluatedAt    time.Time    `json:"evaluated_at"`
	TransferID     string       `json:"transfer_id"`
	Decision       Decision     `json:"decision"`
	RulesetVersion string       `json:"ruleset_version"`
	TriggeredRules []string     `json:"triggered_rules"`
	Signals        []RiskSignal `json:"signals"`
	Score          float64      `json:"score"`
	Degraded       bool         `json:"degraded"`
}

// RuleScoringTimeout marks verdicts issued because scoring never completed.
const RuleScoringTimeout = "scoring_timeout"

// ScoringTimeoutVerdict is recorded when evaluation missed its deadline.
func ScoringTimeoutVerdict(draft TransferDraft, version string) *RiskVerdict {
	return &RiskVerdict{
		EvaluatedAt:    draft.AsOf,
		TransferID:     draft.TransferID,
		Decision:       DecisionHold,
		RulesetVersion: version,
		TriggeredRules: []string{RuleScoringTimeout},
		Degraded:       true,
	}
}
