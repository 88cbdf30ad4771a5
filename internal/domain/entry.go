package domain

import "time"

// Entry is one immutable side of a double-entry posting. Amount is signed:
// negative for the debited account, positive for the credited one.
type Entry struct {
	CreatedAt              time.Time
	ID                     string
	AccountID              string
	TransferID             string
	Currency               string
	Amount                 int64
	AccountPreviousBalance int64
	AccountCurrentBalance  int64
	AccountVersion         int64
}
