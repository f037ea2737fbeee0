package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitestock/stock-ledger/internal/domain"
	"github.com/sitestock/stock-ledger/internal/guard"
	"github.com/sitestock/stock-ledger/internal/infrastructure/events"
	"github.com/sitestock/stock-ledger/internal/infrastructure/memory"
	"github.com/sitestock/stock-ledger/internal/infrastructure/projections"
	"github.com/sitestock/stock-ledger/pkg/cloudevents"
	apperrors "github.com/sitestock/stock-ledger/pkg/errors"
)

type serviceFixture struct {
	svc    *StockService
	db     *memory.DB
	ledger *memory.LedgerStore
	outbox *memory.OutboxRepository
}

func newServiceFixture(t *testing.T, opts Options) *serviceFixture {
	t.Helper()
	db := memory.NewDB()
	box := memory.NewOutboxRepository(db)
	stores := Stores{
		Transactor: memory.NewTransactor(db),
		Ledger:     memory.NewLedgerStore(db),
		Items:      memory.NewStockItemRepository(db),
		Transfers:  memory.NewTransferRepository(db),
		Usage:      memory.NewUsageRepository(db),
		StockView:  projections.NewMemoryLocationStockRepository(),
	}
	svc := NewStockService(stores, guard.NewLocal(time.Second, nil), events.NewOutboxRecorder(box), nil, nil, opts)
	return &serviceFixture{svc: svc, db: db, ledger: stores.Ledger.(*memory.LedgerStore), outbox: box}
}

func (f *serviceFixture) purchase(t *testing.T, id, name, location string, qty int64) *CreditResultDTO {
	t.Helper()
	res, err := f.svc.CreditFromPurchase(context.Background(), CreditReplenishmentCommand{
		SourceID: id,
		Name:     name,
		Location: location,
		Quantity: qty,
		Unit:     "bag",
		Category: "cement",
		ActorID:  "procurement-1",
	})
	require.NoError(t, err)
	return res
}

func (f *serviceFixture) balance(t *testing.T, name, location string) int64 {
	t.Helper()
	b, err := f.svc.GetBalance(context.Background(), StockKeyQuery{Name: name, Location: location})
	require.NoError(t, err)
	return b.Balance
}

func (f *serviceFixture) assertFoldMatches(t *testing.T, name, location string) {
	t.Helper()
	r, err := f.svc.Reconcile(context.Background(), StockKeyQuery{Name: name, Location: location})
	require.NoError(t, err)
	assert.True(t, r.Consistent, "stored %d folded %d", r.StoredBalance, r.FoldedBalance)
}

func (f *serviceFixture) outboxTypes(t *testing.T) []string {
	t.Helper()
	pending, err := f.outbox.FindUnpublished(context.Background(), 0)
	require.NoError(t, err)
	types := make([]string, 0, len(pending))
	for _, p := range pending {
		types = append(types, p.EventType)
	}
	return types
}

func requireAppCode(t *testing.T, err error, code string) *apperrors.AppError {
	t.Helper()
	require.Error(t, err)
	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok, "expected AppError, got %v", err)
	assert.Equal(t, code, appErr.Code)
	return appErr
}

func TestStockService_CementScenario(t *testing.T) {
	f := newServiceFixture(t, DefaultOptions())
	ctx := context.Background()

	f.purchase(t, "PO-1", "Cement", "site:S1", 100)

	transfer, err := f.svc.RequestTransfer(ctx, RequestTransferCommand{
		Name: "Cement", Quantity: 30, From: "site:S1", To: "company", ActorID: "site-engineer",
	})
	require.NoError(t, err)
	assert.Equal(t, string(domain.TransferRequested), transfer.Status)

	decision, err := f.svc.ApproveTransfer(ctx, DecideTransferCommand{TransferID: transfer.ID, ActorID: "manager"})
	require.NoError(t, err)
	assert.Equal(t, string(domain.TransferApproved), decision.Transfer.Status)
	assert.Equal(t, "manager", decision.Transfer.DecidedBy)
	assert.NotNil(t, decision.Transfer.DecidedAt)
	assert.Equal(t, int64(70), decision.FromBalance)
	assert.Equal(t, int64(30), decision.ToBalance)

	assert.Equal(t, int64(70), f.balance(t, "Cement", "site:S1"))
	assert.Equal(t, int64(30), f.balance(t, "Cement", "company"))

	// destination row inherits the source unit and category
	company, err := f.svc.GetBalance(ctx, StockKeyQuery{Name: "Cement", Location: "company"})
	require.NoError(t, err)
	assert.Equal(t, "bag", company.Unit)
	assert.Equal(t, "cement", company.Category)

	_, err = f.svc.LogUsage(ctx, LogUsageCommand{Name: "Cement", Location: "site:S1", Quantity: 80, ActorID: "site-engineer"})
	appErr := requireAppCode(t, err, apperrors.CodeInsufficientStock)
	assert.Equal(t, "70", appErr.Details["available"])
	assert.Equal(t, "80", appErr.Details["requested"])
	var insufficient *domain.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(70), insufficient.Available)
	assert.Equal(t, int64(70), f.balance(t, "Cement", "site:S1"))

	usage, err := f.svc.LogUsage(ctx, LogUsageCommand{Name: "Cement", Location: "site:S1", Quantity: 70, ActorID: "site-engineer"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), usage.Balance)
	assert.Equal(t, int64(0), f.balance(t, "Cement", "site:S1"))

	f.assertFoldMatches(t, "Cement", "site:S1")
	f.assertFoldMatches(t, "Cement", "company")

	assert.Equal(t, []string{
		cloudevents.StockCredited,
		cloudevents.TransferRequested,
		cloudevents.TransferApproved,
		cloudevents.StockUsed,
	}, f.outboxTypes(t))
}

func TestStockService_ConcurrentApprovalsFirstCommitterWins(t *testing.T) {
	f := newServiceFixture(t, DefaultOptions())
	ctx := context.Background()
	f.purchase(t, "PO-1", "Cement", "site:S1", 100)

	ids := make([]string, 2)
	for i := range ids {
		tr, err := f.svc.RequestTransfer(ctx, RequestTransferCommand{
			Name: "Cement", Quantity: 60, From: "site:S1", To: "site:S2", ActorID: "site-engineer",
		})
		require.NoError(t, err)
		ids[i] = tr.ID
	}

	errs := make([]error, len(ids))
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			<-start
			_, errs[i] = f.svc.ApproveTransfer(ctx, DecideTransferCommand{TransferID: id, ActorID: "manager"})
		}(i, id)
	}
	close(start)
	wg.Wait()

	succeeded, insufficient := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrInsufficientStock):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, insufficient)
	assert.Equal(t, int64(40), f.balance(t, "Cement", "site:S1"))
	assert.Equal(t, int64(60), f.balance(t, "Cement", "site:S2"))

	// the loser stays open
	pending, err := f.svc.ListTransfers(ctx, ListTransfersQuery{Status: string(domain.TransferRequested)})
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestStockService_DoubleApproveIsInvalidTransition(t *testing.T) {
	f := newServiceFixture(t, DefaultOptions())
	ctx := context.Background()
	f.purchase(t, "PO-1", "Cement", "company", 50)

	tr, err := f.svc.RequestTransfer(ctx, RequestTransferCommand{
		Name: "Cement", Quantity: 10, From: "company", To: "site:S1", ActorID: "site-engineer",
	})
	require.NoError(t, err)

	_, err = f.svc.ApproveTransfer(ctx, DecideTransferCommand{TransferID: tr.ID, ActorID: "manager"})
	require.NoError(t, err)
	history, _ := f.ledger.History(ctx, domain.StockKey{Name: "Cement", Location: domain.Company()})
	entriesBefore := len(history)

	_, err = f.svc.ApproveTransfer(ctx, DecideTransferCommand{TransferID: tr.ID, ActorID: "manager"})
	requireAppCode(t, err, apperrors.CodeInvalidTransition)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.svc.RejectTransfer(ctx, DecideTransferCommand{TransferID: tr.ID, ActorID: "manager"})
	requireAppCode(t, err, apperrors.CodeInvalidTransition)

	history, _ = f.ledger.History(ctx, domain.StockKey{Name: "Cement", Location: domain.Company()})
	assert.Len(t, history, entriesBefore)
	assert.Equal(t, int64(40), f.balance(t, "Cement", "company"))
}

func TestStockService_RejectHasNoLedgerEffect(t *testing.T) {
	f := newServiceFixture(t, DefaultOptions())
	ctx := context.Background()
	f.purchase(t, "PO-1", "Cement", "site:S1", 20)

	tr, err := f.svc.RequestTransfer(ctx, RequestTransferCommand{
		Name: "Cement", Quantity: 5, From: "site:S1", To: "company", ActorID: "site-engineer",
	})
	require.NoError(t, err)

	rejected, err := f.svc.RejectTransfer(ctx, DecideTransferCommand{TransferID: tr.ID, ActorID: "manager", Reason: " not needed "})
	require.NoError(t, err)
	assert.Equal(t, string(domain.TransferRejected), rejected.Status)
	assert.Equal(t, "not needed", rejected.RejectionReason)

	assert.Equal(t, int64(20), f.balance(t, "Cement", "site:S1"))
	_, err = f.svc.GetBalance(ctx, StockKeyQuery{Name: "Cement", Location: "company"})
	requireAppCode(t, err, apperrors.CodeNotFound)

	_, err = f.svc.ApproveTransfer(ctx, DecideTransferCommand{TransferID: tr.ID, ActorID: "manager"})
	requireAppCode(t, err, apperrors.CodeInvalidTransition)
}

func TestStockService_SeparationOfDuties(t *testing.T) {
	ctx := context.Background()

	f := newServiceFixture(t, DefaultOptions())
	f.purchase(t, "PO-1", "Cement", "site:S1", 20)
	tr, err := f.svc.RequestTransfer(ctx, RequestTransferCommand{
		Name: "Cement", Quantity: 5, From: "site:S1", To: "company", ActorID: "user-1",
	})
	require.NoError(t, err)

	_, err = f.svc.ApproveTransfer(ctx, DecideTransferCommand{TransferID: tr.ID, ActorID: "user-1"})
	requireAppCode(t, err, apperrors.CodeValidationError)
	assert.ErrorIs(t, err, domain.ErrSameDecider)
	assert.Equal(t, int64(20), f.balance(t, "Cement", "site:S1"))

	relaxed := newServiceFixture(t, Options{RequireDistinctApprover: false})
	relaxed.purchase(t, "PO-1", "Cement", "site:S1", 20)
	tr, err = relaxed.svc.RequestTransfer(ctx, RequestTransferCommand{
		Name: "Cement", Quantity: 5, From: "site:S1", To: "company", ActorID: "user-1",
	})
	require.NoError(t, err)
	_, err = relaxed.svc.ApproveTransfer(ctx, DecideTransferCommand{TransferID: tr.ID, ActorID: "user-1"})
	assert.NoError(t, err)
}

func TestStockService_ApproveWithoutSourceStock(t *testing.T) {
	f := newServiceFixture(t, DefaultOptions())
	ctx := context.Background()

	tr, err := f.svc.RequestTransfer(ctx, RequestTransferCommand{
		Name: "Rebar", Quantity: 5, From: "company", To: "site:S1", ActorID: "site-engineer",
	})
	require.NoError(t, err)

	_, err = f.svc.ApproveTransfer(ctx, DecideTransferCommand{TransferID: tr.ID, ActorID: "manager"})
	appErr := requireAppCode(t, err, apperrors.CodeInsufficientStock)
	assert.Equal(t, "0", appErr.Details["available"])

	got, err := f.svc.GetTransfer(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, string(domain.TransferRequested), got.Status)
}

func TestStockService_DuplicatePurchaseCreditsOnce(t *testing.T) {
	f := newServiceFixture(t, DefaultOptions())

	first := f.purchase(t, "PO-7", "Cement", "site:S1", 40)
	assert.False(t, first.AlreadyCredited)

	second := f.purchase(t, "PO-7", "Cement", "site:S1", 40)
	assert.True(t, second.AlreadyCredited)
	assert.Equal(t, first.Entry.ID, second.Entry.ID)
	assert.Equal(t, int64(40), second.Balance)

	assert.Equal(t, int64(40), f.balance(t, "Cement", "site:S1"))
	assert.Equal(t, []string{cloudevents.StockCredited}, f.outboxTypes(t))

	// a rental with the same source id is a different credit
	res, err := f.svc.CreditFromRental(context.Background(), CreditReplenishmentCommand{
		SourceID: "PO-7", Name: "Cement", Location: "site:S1", Quantity: 1, Unit: "bag", Category: "cement", ActorID: "procurement-1",
	})
	require.NoError(t, err)
	assert.False(t, res.AlreadyCredited)
	assert.Equal(t, int64(41), res.Balance)
}

func TestStockService_CreditValidation(t *testing.T) {
	f := newServiceFixture(t, DefaultOptions())
	ctx := context.Background()
	f.purchase(t, "PO-1", "Cement", "site:S1", 10)

	tests := []struct {
		name string
		cmd  CreditReplenishmentCommand
	}{
		{"zero quantity", CreditReplenishmentCommand{SourceID: "PO-2", Name: "Cement", Location: "site:S1", Quantity: 0, Unit: "bag", ActorID: "a"}},
		{"negative quantity", CreditReplenishmentCommand{SourceID: "PO-2", Name: "Cement", Location: "site:S1", Quantity: -3, Unit: "bag", ActorID: "a"}},
		{"missing source", CreditReplenishmentCommand{Name: "Cement", Location: "site:S1", Quantity: 1, Unit: "bag", ActorID: "a"}},
		{"bad location", CreditReplenishmentCommand{SourceID: "PO-2", Name: "Cement", Location: "warehouse", Quantity: 1, Unit: "bag", ActorID: "a"}},
		{"bad unit", CreditReplenishmentCommand{SourceID: "PO-2", Name: "Cement", Location: "site:S1", Quantity: 1, Unit: "crate", ActorID: "a"}},
		{"unit mismatch", CreditReplenishmentCommand{SourceID: "PO-2", Name: "Cement", Location: "site:S1", Quantity: 1, Unit: "kg", ActorID: "a"}},
		{"missing actor", CreditReplenishmentCommand{SourceID: "PO-2", Name: "Cement", Location: "site:S1", Quantity: 1, Unit: "bag"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreditFromPurchase(ctx, tt.cmd)
			requireAppCode(t, err, apperrors.CodeValidationError)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}

	assert.Equal(t, int64(10), f.balance(t, "Cement", "site:S1"))
}

func TestStockService_AddStockAndUsageRules(t *testing.T) {
	f := newServiceFixture(t, DefaultOptions())
	ctx := context.Background()

	res, err := f.svc.AddStock(ctx, AddStockCommand{
		Name: "Gravel", Location: "company", Quantity: 12, Unit: "m³", Category: "aggregate", ActorID: "admin",
	})
	require.NoError(t, err)
	assert.Equal(t, string(domain.EntryDirectCredit), res.Entry.Kind)
	assert.Equal(t, "m3", res.Item.Unit)
	assert.Contains(t, res.Entry.RelatedID, "ADD-")

	// usage is site-only
	_, err = f.svc.LogUsage(ctx, LogUsageCommand{Name: "Gravel", Location: "company", Quantity: 1, ActorID: "admin"})
	requireAppCode(t, err, apperrors.CodeValidationError)

	_, err = f.svc.LogUsage(ctx, LogUsageCommand{Name: "Gravel", Location: "site:S1", Quantity: 0, ActorID: "admin"})
	requireAppCode(t, err, apperrors.CodeValidationError)

	// never credited at this site
	_, err = f.svc.LogUsage(ctx, LogUsageCommand{Name: "Gravel", Location: "site:S1", Quantity: 1, ActorID: "admin"})
	requireAppCode(t, err, apperrors.CodeInsufficientStock)

	list, err := f.svc.ListUsage(ctx, "S1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestStockService_SeparatorInNameOrSiteKeepsKeysApart(t *testing.T) {
	f := newServiceFixture(t, DefaultOptions())
	ctx := context.Background()

	f.purchase(t, "PO-AT-1", "A@site:x", "company", 100)

	// "A" at "site:x@company" must not resolve to the row above
	_, err := f.svc.LogUsage(ctx, LogUsageCommand{Name: "A", Location: "site:x@company", Quantity: 40, ActorID: "foreman"})
	requireAppCode(t, err, apperrors.CodeInsufficientStock)

	assert.Equal(t, int64(100), f.balance(t, "A@site:x", "company"))
	_, err = f.svc.GetBalance(ctx, StockKeyQuery{Name: "A", Location: "site:x@company"})
	requireAppCode(t, err, apperrors.CodeNotFound)
}

func TestStockService_TransferConservesTotal(t *testing.T) {
	f := newServiceFixture(t, DefaultOptions())
	ctx := context.Background()
	f.purchase(t, "PO-1", "Cement", "site:S1", 90)
	f.purchase(t, "PO-2", "Cement", "site:S2", 10)

	total := func() int64 {
		return f.balance(t, "Cement", "site:S1") + f.balance(t, "Cement", "site:S2")
	}
	before := total()

	for _, qty := range []int64{25, 30, 5} {
		tr, err := f.svc.RequestTransfer(ctx, RequestTransferCommand{
			Name: "Cement", Quantity: qty, From: "site:S1", To: "site:S2", ActorID: "site-engineer",
		})
		require.NoError(t, err)
		_, err = f.svc.ApproveTransfer(ctx, DecideTransferCommand{TransferID: tr.ID, ActorID: "manager"})
		require.NoError(t, err)
	}

	assert.Equal(t, before, total())
	assert.Equal(t, int64(30), f.balance(t, "Cement", "site:S1"))
	f.assertFoldMatches(t, "Cement", "site:S1")
	f.assertFoldMatches(t, "Cement", "site:S2")
}

func TestStockService_Queries(t *testing.T) {
	f := newServiceFixture(t, DefaultOptions())
	ctx := context.Background()
	f.purchase(t, "PO-1", "Cement", "site:S1", 10)
	f.purchase(t, "PO-2", "Bricks", "site:S1", 500)
	f.purchase(t, "PO-3", "Cement", "site:S2", 3)

	_, err := f.svc.LogUsage(ctx, LogUsageCommand{Name: "Cement", Location: "site:S1", Quantity: 4, ActorID: "site-engineer", Note: "slab"})
	require.NoError(t, err)

	history, err := f.svc.History(ctx, StockKeyQuery{Name: "Cement", Location: "site:S1"})
	require.NoError(t, err)
	assert.Equal(t, int64(6), history.Balance)
	require.Len(t, history.Entries, 2)
	assert.Equal(t, int64(-4), history.Entries[1].Delta)

	stock, err := f.svc.ListStock(ctx, "site:S1")
	require.NoError(t, err)
	assert.Equal(t, "site:S1", stock.Location)
	require.Len(t, stock.Items, 2)
	assert.Equal(t, "Bricks", stock.Items[0].Name)
	assert.Equal(t, "Cement", stock.Items[1].Name)
	assert.Equal(t, int64(6), stock.Items[1].Balance)

	_, err = f.svc.ListStock(ctx, "nowhere")
	requireAppCode(t, err, apperrors.CodeValidationError)

	usage, err := f.svc.ListUsage(ctx, "S1")
	require.NoError(t, err)
	require.Len(t, usage, 1)
	assert.Equal(t, "slab", usage[0].Note)

	tr, err := f.svc.RequestTransfer(ctx, RequestTransferCommand{
		Name: "Cement", Quantity: 1, From: "site:S2", To: "company", ActorID: "site-engineer",
	})
	require.NoError(t, err)

	atS2, err := f.svc.ListTransfers(ctx, ListTransfersQuery{SiteID: "S2"})
	require.NoError(t, err)
	require.Len(t, atS2, 1)
	assert.Equal(t, tr.ID, atS2[0].ID)

	atS1, err := f.svc.ListTransfers(ctx, ListTransfersQuery{SiteID: "S1"})
	require.NoError(t, err)
	assert.Empty(t, atS1)

	_, err = f.svc.ListTransfers(ctx, ListTransfersQuery{Status: "Pending"})
	requireAppCode(t, err, apperrors.CodeValidationError)

	_, err = f.svc.GetTransfer(ctx, "TR-missing")
	requireAppCode(t, err, apperrors.CodeNotFound)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.ApproveTransfer(ctx, DecideTransferCommand{TransferID: "TR-missing", ActorID: "manager"})
	requireAppCode(t, err, apperrors.CodeNotFound)
}

type blockingGuard struct{}

func (blockingGuard) Acquire(context.Context, ...string) (guard.ReleaseFunc, error) {
	return nil, guard.ErrLockTimeout
}

func TestStockService_LockTimeoutIsRetryable(t *testing.T) {
	f := newServiceFixture(t, DefaultOptions())
	f.svc.guard = blockingGuard{}

	_, err := f.svc.LogUsage(context.Background(), LogUsageCommand{Name: "Cement", Location: "site:S1", Quantity: 1, ActorID: "a"})
	appErr := requireAppCode(t, err, apperrors.CodeLockTimeout)
	assert.True(t, appErr.Retryable)
	assert.ErrorIs(t, err, guard.ErrLockTimeout)
}
