// Package memory implements the domain ports in process. It backs local runs
// and unit tests and gives the same transactional guarantees as the MongoDB
// stores: WithinTransaction holds the write lock and undoes every write on error.
package memory

import (
	"context"
	"sync"

	"github.com/sitestock/stock-ledger/internal/domain"
	"github.com/sitestock/stock-ledger/pkg/outbox"
)

type creditKey struct {
	relatedID string
	kind      domain.EntryKind
}

// DB is the shared state behind every memory store
type DB struct {
	mu sync.RWMutex

	items     map[string]*domain.StockItem
	entries   map[string][]*domain.LedgerEntry
	balances  map[string]int64
	credits   map[creditKey]*domain.LedgerEntry
	transfers map[string]*domain.TransferRequest
	usage     []*domain.UsageEntry
	outbox    []*outbox.OutboxEvent
	seq       int64
}

// NewDB creates an empty database
func NewDB() *DB {
	return &DB{
		items:     make(map[string]*domain.StockItem),
		entries:   make(map[string][]*domain.LedgerEntry),
		balances:  make(map[string]int64),
		credits:   make(map[creditKey]*domain.LedgerEntry),
		transfers: make(map[string]*domain.TransferRequest),
	}
}

type txKey struct{}

type tx struct {
	undo []func()
}

func (t *tx) onRollback(fn func()) {
	t.undo = append(t.undo, fn)
}

func (t *tx) mark() int {
	return len(t.undo)
}

// rollbackTo undoes writes made after mark, newest first
func (t *tx) rollbackTo(mark int) {
	for i := len(t.undo) - 1; i >= mark; i-- {
		t.undo[i]()
	}
	t.undo = t.undo[:mark]
}

func txFrom(ctx context.Context) (*tx, bool) {
	t, ok := ctx.Value(txKey{}).(*tx)
	return t, ok
}

// Transactor implements domain.Transactor for the memory stores
type Transactor struct {
	db *DB
}

// NewTransactor creates a transactor over db
func NewTransactor(db *DB) *Transactor {
	return &Transactor{db: db}
}

// WithinTransaction runs fn holding the write lock. A nested call joins the outer transaction.
func (t *Transactor) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := txFrom(ctx); ok {
		return fn(ctx)
	}
	return t.db.write(ctx, func(ctx context.Context, _ *tx) error {
		return fn(ctx)
	})
}

// write runs fn atomically: inside the caller's transaction when there is one,
// otherwise in its own. Every transaction holds the single DB lock, so writes to
// different stock keys are serialized here even though the guard lets them
// proceed concurrently; only the MongoDB backend commits them in parallel.
func (db *DB) write(ctx context.Context, fn func(ctx context.Context, t *tx) error) error {
	if t, ok := txFrom(ctx); ok {
		mark := t.mark()
		if err := fn(ctx, t); err != nil {
			t.rollbackTo(mark)
			return err
		}
		return nil
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	t := &tx{}
	if err := fn(context.WithValue(ctx, txKey{}, t), t); err != nil {
		t.rollbackTo(0)
		return err
	}
	return nil
}

// read runs fn against committed state, or against the caller's own writes
// when called inside a transaction
func (db *DB) read(ctx context.Context, fn func()) {
	if _, ok := txFrom(ctx); ok {
		fn()
		return
	}
	db.mu.RLock()
	defer db.mu.RUnlock()
	fn()
}
