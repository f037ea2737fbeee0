// Package activities exposes the ledger use cases to Temporal workflows.
package activities

import (
	"context"
	"errors"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/sitestock/stock-ledger/internal/application"
	"github.com/sitestock/stock-ledger/internal/domain"
	"github.com/sitestock/stock-ledger/internal/guard"
	"github.com/sitestock/stock-ledger/pkg/metrics"
	sharedtemporal "github.com/sitestock/stock-ledger/pkg/temporal"
)

// Activity names as registered on the worker
const (
	CreditFromPurchaseActivity = "CreditFromPurchase"
	CreditFromRentalActivity   = "CreditFromRental"
	LogUsageActivity           = "LogUsage"
	ApproveTransferActivity    = "ApproveTransfer"
)

// StockLedger is the part of the application service the activities drive
type StockLedger interface {
	CreditFromPurchase(ctx context.Context, cmd application.CreditReplenishmentCommand) (*application.CreditResultDTO, error)
	CreditFromRental(ctx context.Context, cmd application.CreditReplenishmentCommand) (*application.CreditResultDTO, error)
	LogUsage(ctx context.Context, cmd application.LogUsageCommand) (*application.UsageResultDTO, error)
	ApproveTransfer(ctx context.Context, cmd application.DecideTransferCommand) (*application.TransferDecisionDTO, error)
}

// CreditInput describes one verified purchase or rental line
type CreditInput struct {
	SourceID string `json:"sourceId"`
	Name     string `json:"name"`
	Location string `json:"location"`
	Quantity int64  `json:"quantity"`
	Unit     string `json:"unit"`
	Category string `json:"category,omitempty"`
	ActorID  string `json:"actorId"`
}

func (in CreditInput) command() application.CreditReplenishmentCommand {
	return application.CreditReplenishmentCommand{
		SourceID: in.SourceID,
		Name:     in.Name,
		Location: in.Location,
		Quantity: in.Quantity,
		Unit:     in.Unit,
		Category: in.Category,
		ActorID:  in.ActorID,
	}
}

// CreditResult is returned by the credit activities
type CreditResult struct {
	SourceID        string `json:"sourceId"`
	EntryID         string `json:"entryId"`
	Balance         int64  `json:"balance"`
	AlreadyCredited bool   `json:"alreadyCredited"`
}

// LogUsageInput records consumption on a site
type LogUsageInput struct {
	Name     string `json:"name"`
	Location string `json:"location"`
	Quantity int64  `json:"quantity"`
	ActorID  string `json:"actorId"`
	Note     string `json:"note,omitempty"`
}

// LogUsageResult is returned by LogUsage
type LogUsageResult struct {
	UsageID string `json:"usageId"`
	Balance int64  `json:"balance"`
}

// ApproveTransferInput approves a pending transfer
type ApproveTransferInput struct {
	TransferID string `json:"transferId"`
	ActorID    string `json:"actorId"`
}

// ApproveTransferResult is returned by ApproveTransfer
type ApproveTransferResult struct {
	TransferID  string `json:"transferId"`
	Status      string `json:"status"`
	FromBalance int64  `json:"fromBalance"`
	ToBalance   int64  `json:"toBalance"`
}

// LedgerActivities contains the ledger activities. Register the struct on a worker
// so method names become activity names.
type LedgerActivities struct {
	ledger  StockLedger
	metrics *metrics.Metrics
}

// NewLedgerActivities creates a new LedgerActivities instance. m may be nil.
func NewLedgerActivities(ledger StockLedger, m *metrics.Metrics) *LedgerActivities {
	return &LedgerActivities{ledger: ledger, metrics: m}
}

// CreditFromPurchase credits a verified purchase line
func (a *LedgerActivities) CreditFromPurchase(ctx context.Context, input CreditInput) (*CreditResult, error) {
	return a.credit(ctx, CreditFromPurchaseActivity, input, a.ledger.CreditFromPurchase)
}

// CreditFromRental credits a verified machinery rental
func (a *LedgerActivities) CreditFromRental(ctx context.Context, input CreditInput) (*CreditResult, error) {
	return a.credit(ctx, CreditFromRentalActivity, input, a.ledger.CreditFromRental)
}

func (a *LedgerActivities) credit(
	ctx context.Context,
	name string,
	input CreditInput,
	fn func(context.Context, application.CreditReplenishmentCommand) (*application.CreditResultDTO, error),
) (*CreditResult, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("Crediting verified source", "activity", name, "sourceId", input.SourceID, "name", input.Name)

	start := time.Now()
	result, err := fn(ctx, input.command())
	a.metrics.RecordActivityCompleted(name, err == nil, time.Since(start))
	if err != nil {
		logger.Error("Credit failed", "sourceId", input.SourceID, "error", err)
		return nil, toActivityError(err)
	}

	if result.AlreadyCredited {
		logger.Info("Source already credited", "sourceId", input.SourceID)
	}
	return &CreditResult{
		SourceID:        input.SourceID,
		EntryID:         result.Entry.ID,
		Balance:         result.Balance,
		AlreadyCredited: result.AlreadyCredited,
	}, nil
}

// LogUsage debits site stock
func (a *LedgerActivities) LogUsage(ctx context.Context, input LogUsageInput) (*LogUsageResult, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("Logging usage", "name", input.Name, "location", input.Location, "quantity", input.Quantity)

	start := time.Now()
	result, err := a.ledger.LogUsage(ctx, application.LogUsageCommand{
		Name:     input.Name,
		Location: input.Location,
		Quantity: input.Quantity,
		ActorID:  input.ActorID,
		Note:     input.Note,
	})
	a.metrics.RecordActivityCompleted(LogUsageActivity, err == nil, time.Since(start))
	if err != nil {
		logger.Error("Usage failed", "name", input.Name, "error", err)
		return nil, toActivityError(err)
	}
	return &LogUsageResult{UsageID: result.Usage.ID, Balance: result.Balance}, nil
}

// ApproveTransfer approves a pending transfer and moves the stock
func (a *LedgerActivities) ApproveTransfer(ctx context.Context, input ApproveTransferInput) (*ApproveTransferResult, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("Approving transfer", "transferId", input.TransferID)

	start := time.Now()
	result, err := a.ledger.ApproveTransfer(ctx, application.DecideTransferCommand{
		TransferID: input.TransferID,
		ActorID:    input.ActorID,
	})
	a.metrics.RecordActivityCompleted(ApproveTransferActivity, err == nil, time.Since(start))
	if err != nil {
		logger.Error("Approval failed", "transferId", input.TransferID, "error", err)
		return nil, toActivityError(err)
	}
	return &ApproveTransferResult{
		TransferID:  result.Transfer.ID,
		Status:      result.Transfer.Status,
		FromBalance: result.FromBalance,
		ToBalance:   result.ToBalance,
	}, nil
}

// toActivityError tags domain failures with the error types the retry policy knows.
// Anything untagged is retried.
func toActivityError(err error) error {
	var insufficient *domain.InsufficientStockError
	switch {
	case errors.As(err, &insufficient):
		return temporal.NewNonRetryableApplicationError(err.Error(), sharedtemporal.ErrTypeInsufficientStock, err,
			insufficient.Available, insufficient.Requested)
	case errors.Is(err, domain.ErrInvalidTransition):
		return temporal.NewNonRetryableApplicationError(err.Error(), sharedtemporal.ErrTypeInvalidTransition, err)
	case errors.Is(err, domain.ErrValidation):
		return temporal.NewNonRetryableApplicationError(err.Error(), sharedtemporal.ErrTypeValidation, err)
	case errors.Is(err, domain.ErrNotFound):
		return temporal.NewNonRetryableApplicationError(err.Error(), sharedtemporal.ErrTypeNotFound, err)
	case errors.Is(err, guard.ErrLockTimeout):
		return temporal.NewApplicationError(err.Error(), sharedtemporal.ErrTypeLockTimeout, err)
	default:
		return err
	}
}
