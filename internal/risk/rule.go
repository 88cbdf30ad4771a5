// Package risk scores transfer drafts with a fixed pipeline of rules and
// turns the weighted score into an ADMIT, HOLD or REJECT decision.
package risk

//go:generate mockgen -source=rule.go -destination=mocks/mock_rule.go -package=mocks

import (
	"context"
	"errors"
	"time"

	"github.com/iho/transferengine/internal/domain"
)

// ErrRuleUnavailable is returned by rules whose dependency cannot answer.
var ErrRuleUnavailable = errors.New("risk rule dependency unavailable")

// Rule produces one partial signal. Rules never see each other's output.
type Rule interface {
	ID() string
	Evaluate(ctx context.Context, draft domain.TransferDraft) (domain.RiskSignal, error)
}

// HistoryProvider answers questions about a source account's past activity.
// Every query is bounded by until so results do not change once written.
type HistoryProvider interface {
	// SourceActivity counts and sums transfers created by the source in
	// [since, until), ignoring excludeTransferID.
	SourceActivity(ctx context.Context, sourceAccountID string, since, until time.Time, excludeTransferID string) (int, int64, error)
	// HasSettledTransfer reports whether source paid dest in a transfer
	// settled before until.
	HasSettledTransfer(ctx context.Context, sourceAccountID, destAccountID string, until time.Time) (bool, error)
	// SettledAmounts returns up to limit amounts of the source's transfers
	// settled before until, newest first.
	SettledAmounts(ctx context.Context, sourceAccountID string, until time.Time, limit int) ([]int64, error)
}

// ExternalScorer is a pluggable scoring model outside the process.
type ExternalScorer interface {
	Score(ctx context.Context, draft domain.TransferDraft) (float64, error)
}
