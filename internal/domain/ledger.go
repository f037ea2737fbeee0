package domain

import "fmt"

// ApplyDelta returns the balance after delta, refusing to go below zero
func ApplyDelta(key StockKey, balance, delta int64) (int64, error) {
	next := balance + delta
	if next < 0 {
		return balance, &InsufficientStockError{
			Key:       key,
			Available: balance,
			Requested: -delta,
		}
	}
	return next, nil
}

// Fold replays a history and returns the resulting balance.
// It fails if any prefix of the history would be negative.
func Fold(entries []*LedgerEntry) (int64, error) {
	var balance int64
	for i, entry := range entries {
		balance += entry.Delta
		if balance < 0 {
			return 0, fmt.Errorf("ledger entry %d (%s) drives %s negative: %d", i, entry.ID, entry.Key, balance)
		}
	}
	return balance, nil
}

// Reconciliation compares the stored balance with a replay of the history
type Reconciliation struct {
	Key           StockKey `json:"key"`
	StoredBalance int64    `json:"storedBalance"`
	FoldedBalance int64    `json:"foldedBalance"`
	EntryCount    int      `json:"entryCount"`
	Consistent    bool     `json:"consistent"`
}

// Reconcile checks a stored balance against the history it was derived from
func Reconcile(key StockKey, stored int64, history []*LedgerEntry) (*Reconciliation, error) {
	folded, err := Fold(history)
	if err != nil {
		return nil, err
	}
	return &Reconciliation{
		Key:           key,
		StoredBalance: stored,
		FoldedBalance: folded,
		EntryCount:    len(history),
		Consistent:    stored == folded,
	}, nil
}
