package consumers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	contracts "github.com/sitestock/stock-ledger/api"
	"github.com/sitestock/stock-ledger/internal/application"
	"github.com/sitestock/stock-ledger/internal/guard"
	"github.com/sitestock/stock-ledger/internal/infrastructure/events"
	"github.com/sitestock/stock-ledger/internal/infrastructure/memory"
	"github.com/sitestock/stock-ledger/internal/infrastructure/projections"
	"github.com/sitestock/stock-ledger/pkg/cloudevents"
	"github.com/sitestock/stock-ledger/pkg/contracts/asyncapi"
	apperrors "github.com/sitestock/stock-ledger/pkg/errors"
	"github.com/sitestock/stock-ledger/pkg/idempotency"
	"github.com/sitestock/stock-ledger/pkg/kafka"
)

type recordingSubscriber struct {
	handlers map[string]kafka.EventHandler
}

func (r *recordingSubscriber) Subscribe(topic string, eventType string, handler kafka.EventHandler) {
	if r.handlers == nil {
		r.handlers = make(map[string]kafka.EventHandler)
	}
	r.handlers[topic+"/"+eventType] = handler
}

func newService() *application.StockService {
	db := memory.NewDB()
	stores := application.Stores{
		Transactor: memory.NewTransactor(db),
		Ledger:     memory.NewLedgerStore(db),
		Items:      memory.NewStockItemRepository(db),
		Transfers:  memory.NewTransferRepository(db),
		Usage:      memory.NewUsageRepository(db),
		StockView:  projections.NewMemoryLocationStockRepository(),
	}
	recorder := events.NewOutboxRecorder(memory.NewOutboxRepository(db))
	return application.NewStockService(stores, guard.NewLocal(time.Second, nil), recorder, nil, nil, application.DefaultOptions())
}

func verifiedEvent(id, eventType string, data cloudevents.ReplenishmentVerifiedData) *cloudevents.CloudEvent {
	return &cloudevents.CloudEvent{
		SpecVersion:     cloudevents.SpecVersion,
		Type:            eventType,
		Source:          cloudevents.SourceProcurement,
		ID:              id,
		Time:            time.Now().UTC(),
		DataContentType: "application/json",
		// events read from Kafka carry their data as a generic map
		Data: map[string]interface{}{
			"sourceId":   data.SourceID,
			"name":       data.Name,
			"location":   data.Location,
			"quantity":   data.Quantity,
			"unit":       data.Unit,
			"category":   data.Category,
			"verifiedBy": data.VerifiedBy,
		},
	}
}

func TestVerificationConsumer_CreditsPurchaseAndRental(t *testing.T) {
	svc := newService()
	sub := &recordingSubscriber{}
	NewVerificationConsumer(svc, nil).Register(sub, "stock-ledger", "stock-ledger", idempotency.NewMemoryMessageRepository(), nil)

	purchase := sub.handlers[kafka.Topics.Purchases+"/"+cloudevents.PurchaseVerified]
	rental := sub.handlers[kafka.Topics.Rentals+"/"+cloudevents.RentalVerified]
	require.NotNil(t, purchase)
	require.NotNil(t, rental)

	ctx := context.Background()
	require.NoError(t, purchase(ctx, verifiedEvent("evt-1", cloudevents.PurchaseVerified, cloudevents.ReplenishmentVerifiedData{
		SourceID: "PO-1", Name: "cement", Location: "company", Quantity: 100, Unit: "bag", Category: "cement", VerifiedBy: "accountant",
	})))
	require.NoError(t, rental(ctx, verifiedEvent("evt-2", cloudevents.RentalVerified, cloudevents.ReplenishmentVerifiedData{
		SourceID: "RN-1", Name: "excavator", Location: "site:S1", Quantity: 4, Unit: "day", Category: "machinery",
	})))

	cement, err := svc.GetBalance(ctx, application.StockKeyQuery{Name: "cement", Location: "company"})
	require.NoError(t, err)
	assert.Equal(t, int64(100), cement.Balance)

	excavator, err := svc.GetBalance(ctx, application.StockKeyQuery{Name: "excavator", Location: "site:S1"})
	require.NoError(t, err)
	assert.Equal(t, int64(4), excavator.Balance)
}

func TestVerificationConsumer_RedeliveryAndRepublishCreditOnce(t *testing.T) {
	svc := newService()
	sub := &recordingSubscriber{}
	NewVerificationConsumer(svc, nil).Register(sub, "stock-ledger", "stock-ledger", idempotency.NewMemoryMessageRepository(), nil)
	purchase := sub.handlers[kafka.Topics.Purchases+"/"+cloudevents.PurchaseVerified]

	data := cloudevents.ReplenishmentVerifiedData{
		SourceID: "PO-7", Name: "cement", Location: "site:S2", Quantity: 30, Unit: "bag",
	}
	ctx := context.Background()

	// same message redelivered
	require.NoError(t, purchase(ctx, verifiedEvent("evt-1", cloudevents.PurchaseVerified, data)))
	require.NoError(t, purchase(ctx, verifiedEvent("evt-1", cloudevents.PurchaseVerified, data)))
	// procurement republished the verification under a new event id
	require.NoError(t, purchase(ctx, verifiedEvent("evt-9", cloudevents.PurchaseVerified, data)))

	history, err := svc.History(ctx, application.StockKeyQuery{Name: "cement", Location: "site:S2"})
	require.NoError(t, err)
	assert.Len(t, history.Entries, 1)
	assert.Equal(t, int64(30), history.Balance)
}

func TestVerificationConsumer_CreditsWithoutNamedVerifier(t *testing.T) {
	svc := newService()
	sub := &recordingSubscriber{}
	NewVerificationConsumer(svc, nil).Register(sub, "stock-ledger", "stock-ledger", idempotency.NewMemoryMessageRepository(), nil)
	purchase := sub.handlers[kafka.Topics.Purchases+"/"+cloudevents.PurchaseVerified]
	ctx := context.Background()

	// no verifiedBy and no actor extension: the producer is the actor
	require.NoError(t, purchase(ctx, verifiedEvent("evt-1", cloudevents.PurchaseVerified, cloudevents.ReplenishmentVerifiedData{
		SourceID: "PO-11", Name: "rebar", Location: "company", Quantity: 50, Unit: "length", Category: "steel",
	})))

	history, err := svc.History(ctx, application.StockKeyQuery{Name: "rebar", Location: "company"})
	require.NoError(t, err)
	require.Len(t, history.Entries, 1)
	assert.Equal(t, int64(50), history.Balance)
	assert.Equal(t, cloudevents.SourceProcurement, history.Entries[0].ActorID)
}

func TestVerifierFallsBackToProcurement(t *testing.T) {
	event := &cloudevents.CloudEvent{}
	assert.Equal(t, procurementActor, verifier(event, &cloudevents.ReplenishmentVerifiedData{}))

	event.ActorID = "buyer-3"
	assert.Equal(t, "buyer-3", verifier(event, &cloudevents.ReplenishmentVerifiedData{}))
	assert.Equal(t, "accountant", verifier(event, &cloudevents.ReplenishmentVerifiedData{VerifiedBy: " accountant "}))
}

func TestVerificationConsumer_DropsInvalidEvents(t *testing.T) {
	svc := newService()
	c := NewVerificationConsumer(svc, nil)
	ctx := context.Background()

	invalid := verifiedEvent("evt-1", cloudevents.PurchaseVerified, cloudevents.ReplenishmentVerifiedData{
		SourceID: "PO-1", Name: "cement", Location: "warehouse", Quantity: 1, Unit: "bag",
	})
	assert.NoError(t, c.HandlePurchaseVerified(ctx, invalid))

	undecodable := verifiedEvent("evt-2", cloudevents.PurchaseVerified, cloudevents.ReplenishmentVerifiedData{})
	undecodable.Data = "not an object"
	assert.NoError(t, c.HandlePurchaseVerified(ctx, undecodable))
}

type flakyReplenisher struct {
	failures int
	calls    int
}

func (f *flakyReplenisher) CreditFromPurchase(context.Context, application.CreditReplenishmentCommand) (*application.CreditResultDTO, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, apperrors.ErrLockTimeout("stock").Wrap(guard.ErrLockTimeout)
	}
	return &application.CreditResultDTO{Balance: 1}, nil
}

func (f *flakyReplenisher) CreditFromRental(ctx context.Context, cmd application.CreditReplenishmentCommand) (*application.CreditResultDTO, error) {
	return f.CreditFromPurchase(ctx, cmd)
}

func TestVerificationConsumer_RetriesLockTimeout(t *testing.T) {
	ledger := &flakyReplenisher{failures: 2}
	c := NewVerificationConsumer(ledger, nil).WithRetryDelay(time.Millisecond, 5*time.Millisecond)

	event := verifiedEvent("evt-1", cloudevents.RentalVerified, cloudevents.ReplenishmentVerifiedData{
		SourceID: "RN-1", Name: "crane", Location: "site:S1", Quantity: 1, Unit: "day",
	})
	require.NoError(t, c.HandleRentalVerified(context.Background(), event))
	assert.Equal(t, 3, ledger.calls)
}

func TestVerificationConsumer_PersistentLockTimeoutLeavesMessage(t *testing.T) {
	ledger := &flakyReplenisher{failures: 100}
	c := NewVerificationConsumer(ledger, nil).WithRetryDelay(time.Millisecond, time.Millisecond)

	event := verifiedEvent("evt-1", cloudevents.PurchaseVerified, cloudevents.ReplenishmentVerifiedData{
		SourceID: "PO-1", Name: "crane", Location: "company", Quantity: 1, Unit: "day",
	})
	err := c.HandlePurchaseVerified(context.Background(), event)
	assert.ErrorIs(t, err, guard.ErrLockTimeout)
}

func TestVerificationConsumer_ContractGate(t *testing.T) {
	contract, err := asyncapi.NewEventValidatorFromBytes(contracts.AsyncAPI)
	require.NoError(t, err)

	ledger := &flakyReplenisher{}
	c := NewVerificationConsumer(ledger, nil).WithContract(contract)
	ctx := context.Background()

	event := verifiedEvent("evt-1", cloudevents.PurchaseVerified, cloudevents.ReplenishmentVerifiedData{
		SourceID: "PO-1", Name: "rebar", Location: "company", Quantity: 2, Unit: "ton",
	})
	event.Data.(map[string]interface{})["quantity"] = "two"
	require.NoError(t, c.HandlePurchaseVerified(ctx, event))
	assert.Zero(t, ledger.calls)

	event = verifiedEvent("evt-2", cloudevents.PurchaseVerified, cloudevents.ReplenishmentVerifiedData{
		SourceID: "PO-1", Name: "rebar", Location: "company", Quantity: 2, Unit: "ton",
	})
	require.NoError(t, c.HandlePurchaseVerified(ctx, event))
	assert.Equal(t, 1, ledger.calls)
}
