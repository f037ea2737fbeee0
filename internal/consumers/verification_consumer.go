// Package consumers credits stock from verification events published by procurement.
package consumers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sitestock/stock-ledger/internal/application"
	"github.com/sitestock/stock-ledger/internal/domain"
	"github.com/sitestock/stock-ledger/internal/guard"
	"github.com/sitestock/stock-ledger/pkg/cloudevents"
	"github.com/sitestock/stock-ledger/pkg/contracts/asyncapi"
	"github.com/sitestock/stock-ledger/pkg/idempotency"
	"github.com/sitestock/stock-ledger/pkg/kafka"
	"github.com/sitestock/stock-ledger/pkg/logging"
	"github.com/sitestock/stock-ledger/pkg/resilience"
)

// Replenisher is the part of the application service the consumer drives
type Replenisher interface {
	CreditFromPurchase(ctx context.Context, cmd application.CreditReplenishmentCommand) (*application.CreditResultDTO, error)
	CreditFromRental(ctx context.Context, cmd application.CreditReplenishmentCommand) (*application.CreditResultDTO, error)
}

// Subscriber is implemented by kafka.Consumer
type Subscriber interface {
	Subscribe(topic string, eventType string, handler kafka.EventHandler)
}

// VerificationConsumer turns PurchaseVerified and RentalVerified events into credits
type VerificationConsumer struct {
	ledger   Replenisher
	retry    *resilience.RetryConfig
	contract *asyncapi.EventValidator
	logger   *logging.Logger
}

// NewVerificationConsumer creates a new VerificationConsumer. Lock timeouts are
// retried in place before the message is left for redelivery.
func NewVerificationConsumer(ledger Replenisher, logger *logging.Logger) *VerificationConsumer {
	if logger == nil {
		logger = logging.Nop()
	}
	retry := resilience.DefaultRetryConfig()
	retry.RetryableErrors = func(err error) bool {
		return errors.Is(err, guard.ErrLockTimeout)
	}
	return &VerificationConsumer{
		ledger: ledger,
		retry:  retry,
		logger: logger.WithComponent("verification-consumer"),
	}
}

// WithRetryDelay shortens the backoff, used by tests
func (c *VerificationConsumer) WithRetryDelay(initial, max time.Duration) *VerificationConsumer {
	c.retry.InitialDelay = initial
	c.retry.MaxDelay = max
	return c
}

// WithContract drops events whose payload does not match the AsyncAPI contract
func (c *VerificationConsumer) WithContract(v *asyncapi.EventValidator) *VerificationConsumer {
	c.contract = v
	return c
}

// Register subscribes both handlers behind message de-duplication
func (c *VerificationConsumer) Register(sub Subscriber, serviceName, consumerGroup string, repo idempotency.MessageRepository, m *idempotency.Metrics) {
	purchases := idempotency.DefaultConsumerConfig(serviceName, kafka.Topics.Purchases, consumerGroup, repo)
	rentals := idempotency.DefaultConsumerConfig(serviceName, kafka.Topics.Rentals, consumerGroup, repo)

	sub.Subscribe(kafka.Topics.Purchases, cloudevents.PurchaseVerified,
		idempotency.DeduplicatingHandler(purchases, m, c.HandlePurchaseVerified))
	sub.Subscribe(kafka.Topics.Rentals, cloudevents.RentalVerified,
		idempotency.DeduplicatingHandler(rentals, m, c.HandleRentalVerified))
}

// HandlePurchaseVerified credits a verified purchase
func (c *VerificationConsumer) HandlePurchaseVerified(ctx context.Context, event *cloudevents.CloudEvent) error {
	return c.handle(ctx, event, c.ledger.CreditFromPurchase)
}

// HandleRentalVerified credits a verified machinery rental
func (c *VerificationConsumer) HandleRentalVerified(ctx context.Context, event *cloudevents.CloudEvent) error {
	return c.handle(ctx, event, c.ledger.CreditFromRental)
}

// procurementActor is recorded when an event names no verifier or producer
const procurementActor = "procurement"

func (c *VerificationConsumer) handle(
	ctx context.Context,
	event *cloudevents.CloudEvent,
	credit func(context.Context, application.CreditReplenishmentCommand) (*application.CreditResultDTO, error),
) error {
	log := c.logger.WithContext(ctx).WithFields(map[string]any{"eventId": event.ID, "eventType": event.Type})

	if c.contract != nil {
		if err := c.contract.Validate(event); err != nil {
			log.WithError(err).Error("Dropping verification event that breaks the contract")
			return nil
		}
	}

	var data cloudevents.ReplenishmentVerifiedData
	if err := event.DecodeData(&data); err != nil {
		// a malformed payload will never decode, so it is dropped
		log.WithError(err).Error("Dropping undecodable verification event")
		return nil
	}

	actor := verifier(event, &data)

	cmd := application.CreditReplenishmentCommand{
		SourceID: data.SourceID,
		Name:     data.Name,
		Location: data.Location,
		Quantity: data.Quantity,
		Unit:     data.Unit,
		Category: data.Category,
		ActorID:  actor,
	}

	result, err := resilience.RetryWithResult(ctx, c.retry, func() (*application.CreditResultDTO, error) {
		return credit(ctx, cmd)
	})
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			log.WithError(err).Error("Dropping invalid verification event", "sourceId", data.SourceID)
			return nil
		}
		return err
	}

	if result.AlreadyCredited {
		log.Info("Verification already credited", "sourceId", data.SourceID)
		return nil
	}
	log.Info("Verification credited",
		"sourceId", data.SourceID,
		"key", result.Entry.Name+"@"+result.Entry.Location,
		"balance", result.Balance,
	)
	return nil
}

// verifier names who verified the source. Procurement may omit it, and the
// event is credited on behalf of its producer then.
func verifier(event *cloudevents.CloudEvent, data *cloudevents.ReplenishmentVerifiedData) string {
	for _, actor := range []string{data.VerifiedBy, event.ActorID, event.Source} {
		if actor = strings.TrimSpace(actor); actor != "" {
			return actor
		}
	}
	return procurementActor
}
