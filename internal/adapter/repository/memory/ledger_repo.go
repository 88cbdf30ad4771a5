package memory

import (
	"context"
	"sort"

	"github.com/iho/transferengine/internal/domain"
	"github.com/iho/transferengine/internal/usecase"
)

// LedgerRepository implements usecase.LedgerRepository.
type LedgerRepository struct {
	store *Store
}

// NewLedgerRepository creates a new LedgerRepository.
func NewLedgerRepository(store *Store) *LedgerRepository {
	return &LedgerRepository{store: store}
}

// Totals sums balances and entries per currency.
func (r *LedgerRepository) Totals(_ context.Context) ([]usecase.CurrencyTotals, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	byCurrency := make(map[string]*usecase.CurrencyTotals)
	get := func(currency string) *usecase.CurrencyTotals {
		t, ok := byCurrency[currency]
		if !ok {
			t = &usecase.CurrencyTotals{Currency: currency}
			byCurrency[currency] = t
		}
		return t
	}

	for _, acc := range r.store.accounts {
		get(acc.Currency).TotalBalance += acc.Balance
	}
	for _, e := range r.store.entries {
		get(e.Currency).TotalEntries += e.Amount
	}

	totals := make([]usecase.CurrencyTotals, 0, len(byCurrency))
	for _, t := range byCurrency {
		totals = append(totals, *t)
	}
	sort.Slice(totals, func(i, j int) bool { return totals[i].Currency < totals[j].Currency })
	return totals, nil
}

// UnbalancedTransfers lists transfers whose entries are not one debit and
// one credit of equal size, or that have entries without being SETTLED.
func (r *LedgerRepository) UnbalancedTransfers(_ context.Context, limit int) ([]string, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	byTransfer := make(map[string][]*domain.Entry)
	for _, e := range r.store.entries {
		byTransfer[e.TransferID] = append(byTransfer[e.TransferID], e)
	}

	var bad []string
	for id, t := range r.store.transfers {
		entries := byTransfer[id]
		delete(byTransfer, id)
		if t.State == domain.TransferStateSettled && balancedPair(entries, t.Amount) {
			continue
		}
		if t.State != domain.TransferStateSettled && len(entries) == 0 {
			continue
		}
		bad = append(bad, id)
	}
	for id := range byTransfer {
		bad = append(bad, id)
	}

	sort.Strings(bad)
	return page(bad, limit, 0), nil
}

func balancedPair(entries []*domain.Entry, amount int64) bool {
	if len(entries) != 2 {
		return false
	}
	a, b := entries[0].Amount, entries[1].Amount
	if a > b {
		a, b = b, a
	}
	return a == -amount && b == amount
}
