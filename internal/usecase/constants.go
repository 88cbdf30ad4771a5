package usecase

import "time"

const (
	// DefaultTransactionTimeout is the maximum duration for a database transaction
	// This prevents long-running transactions from blocking tables
	DefaultTransactionTimeout = 10 * time.Second

	// DefaultIdempotencyRetention is how long idempotency records are kept
	// once their transfer is terminal.
	DefaultIdempotencyRetention = 24 * time.Hour

	// DefaultScoringDeadline bounds risk evaluation of a single transfer.
	DefaultScoringDeadline = 2 * time.Second

	recoveryBatchSize = 100
	// idempotencyCacheTTL caps cache entries; retention may shorten it.
	idempotencyCacheTTL = time.Hour
)
