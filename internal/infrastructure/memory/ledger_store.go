package memory

import (
	"context"

	"github.com/sitestock/stock-ledger/internal/domain"
)

// LedgerStore implements domain.LedgerStore
type LedgerStore struct {
	db *DB
}

// NewLedgerStore creates a ledger store over db
func NewLedgerStore(db *DB) *LedgerStore {
	return &LedgerStore{db: db}
}

// Append implements domain.LedgerStore
func (s *LedgerStore) Append(ctx context.Context, entry *domain.LedgerEntry) (int64, error) {
	var balance int64
	err := s.db.write(ctx, func(_ context.Context, t *tx) error {
		var err error
		balance, err = s.appendLocked(t, entry)
		return err
	})
	return balance, err
}

// AppendBatch implements domain.LedgerStore
func (s *LedgerStore) AppendBatch(ctx context.Context, entries []*domain.LedgerEntry) ([]int64, error) {
	balances := make([]int64, 0, len(entries))
	err := s.db.write(ctx, func(_ context.Context, t *tx) error {
		for _, entry := range entries {
			balance, err := s.appendLocked(t, entry)
			if err != nil {
				return err
			}
			balances = append(balances, balance)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return balances, nil
}

func (s *LedgerStore) appendLocked(t *tx, entry *domain.LedgerEntry) (int64, error) {
	db := s.db
	key := entry.Key.String()

	ck := creditKey{relatedID: entry.RelatedID, kind: entry.Kind}
	if entry.Kind.IsReplenishment() {
		if _, exists := db.credits[ck]; exists {
			return 0, domain.ErrAlreadyCredited
		}
	}

	prev, hadBalance := db.balances[key]
	next, err := domain.ApplyDelta(entry.Key, prev, entry.Delta)
	if err != nil {
		return 0, err
	}

	db.seq++
	stored := *entry
	stored.Sequence = db.seq
	stored.BalanceAfter = next

	db.entries[key] = append(db.entries[key], &stored)
	db.balances[key] = next
	if entry.Kind.IsReplenishment() {
		db.credits[ck] = &stored
	}

	t.onRollback(func() {
		history := db.entries[key]
		db.entries[key] = history[:len(history)-1]
		if len(db.entries[key]) == 0 {
			delete(db.entries, key)
		}
		if hadBalance {
			db.balances[key] = prev
		} else {
			delete(db.balances, key)
		}
		if entry.Kind.IsReplenishment() {
			delete(db.credits, ck)
		}
	})

	entry.Sequence = stored.Sequence
	entry.BalanceAfter = next
	return next, nil
}

// CurrentBalance implements domain.LedgerStore
func (s *LedgerStore) CurrentBalance(ctx context.Context, key domain.StockKey) (int64, error) {
	var balance int64
	s.db.read(ctx, func() {
		balance = s.db.balances[key.String()]
	})
	return balance, nil
}

// History implements domain.LedgerStore
func (s *LedgerStore) History(ctx context.Context, key domain.StockKey) ([]*domain.LedgerEntry, error) {
	var history []*domain.LedgerEntry
	s.db.read(ctx, func() {
		stored := s.db.entries[key.String()]
		history = make([]*domain.LedgerEntry, len(stored))
		for i, e := range stored {
			cp := *e
			history[i] = &cp
		}
	})
	return history, nil
}

// FindCredit implements domain.LedgerStore
func (s *LedgerStore) FindCredit(ctx context.Context, relatedID string, kind domain.EntryKind) (*domain.LedgerEntry, error) {
	var found *domain.LedgerEntry
	s.db.read(ctx, func() {
		if e, ok := s.db.credits[creditKey{relatedID: relatedID, kind: kind}]; ok {
			cp := *e
			found = &cp
		}
	})
	return found, nil
}
