package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/iho/transferengine/internal/domain"
	"github.com/iho/transferengine/internal/usecase"
)

// LedgerRepository implements usecase.LedgerRepository.
type LedgerRepository struct {
	db DB
}

// NewLedgerRepository creates a new LedgerRepository.
func NewLedgerRepository(db DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Totals sums balances and entries per currency.
func (r *LedgerRepository) Totals(ctx context.Context) ([]usecase.CurrencyTotals, error) {
	rows, err := r.db.Query(ctx, `
		SELECT currency,
			COALESCE(SUM(balance), 0)::BIGINT,
			COALESCE(SUM(entry_amount), 0)::BIGINT
		FROM (
			SELECT currency, balance, 0::BIGINT AS entry_amount FROM accounts
			UNION ALL
			SELECT currency, 0::BIGINT, amount FROM entries
		) totals
		GROUP BY currency
		ORDER BY currency`)
	if err != nil {
		return nil, fmt.Errorf("ledger totals: %w", mapError(err))
	}

	totals, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (usecase.CurrencyTotals, error) {
		var t usecase.CurrencyTotals
		err := row.Scan(&t.Currency, &t.TotalBalance, &t.TotalEntries)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("ledger totals: %w", mapError(err))
	}
	return totals, nil
}

// UnbalancedTransfers lists transfers whose entries are not one debit and
// one credit of the transfer amount, or that have entries without being
// SETTLED.
func (r *LedgerRepository) UnbalancedTransfers(ctx context.Context, limit int) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT t.id
		FROM transfers t
		LEFT JOIN entries e ON e.transfer_id = t.id
		GROUP BY t.id, t.state, t.amount
		HAVING (t.state = $1 AND (
				COUNT(e.id) <> 2
				OR MIN(e.amount) <> -t.amount
				OR MAX(e.amount) <> t.amount))
			OR (t.state <> $1 AND COUNT(e.id) > 0)
		ORDER BY t.id
		LIMIT $2`, string(domain.TransferStateSettled), limit)
	if err != nil {
		return nil, fmt.Errorf("unbalanced transfers: %w", mapError(err))
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("unbalanced transfers: %w", mapError(err))
	}
	return ids, nil
}
