// Package mongodb implements the domain ports on MongoDB. Every repository call
// made with the context handed out by Transactor joins its session transaction.
package mongodb

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"

	sharedmongo "github.com/sitestock/stock-ledger/pkg/mongodb"
)

// Collection names
const (
	StockItemsCollection    = "stock_items"
	LedgerEntriesCollection = "ledger_entries"
	BalancesCollection      = "stock_balances"
	TransfersCollection     = "transfers"
	UsageCollection         = "usage_entries"
)

// Transactor implements domain.Transactor with a multi-document transaction
type Transactor struct {
	client *sharedmongo.InstrumentedClient
}

// NewTransactor creates a new Transactor
func NewTransactor(client *sharedmongo.InstrumentedClient) *Transactor {
	return &Transactor{client: client}
}

// WithinTransaction runs fn in a session transaction. A nested call joins the
// outer session. fn may be retried on transient transaction errors.
func (t *Transactor) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if mongo.SessionFromContext(ctx) != nil {
		return fn(ctx)
	}
	return t.client.WithTransaction(ctx, func(sessCtx mongo.SessionContext) error {
		return fn(sessCtx)
	})
}
