package activities

import (
	"errors"
	"fmt"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	sharedtemporal "github.com/sitestock/stock-ledger/pkg/temporal"
)

// Replenishment source kinds
const (
	SourcePurchase = "purchase"
	SourceRental   = "rental"
)

// ReplenishmentWorkflowInput is a batch of verified purchase or rental lines
type ReplenishmentWorkflowInput struct {
	Kind    string        `json:"kind"`
	ActorID string        `json:"actorId"`
	Sources []CreditInput `json:"sources"`
}

// SourceFailure reports a line that could not be credited
type SourceFailure struct {
	SourceID  string `json:"sourceId"`
	ErrorType string `json:"errorType"`
	Message   string `json:"message"`
}

// ReplenishmentWorkflowResult summarizes one batch
type ReplenishmentWorkflowResult struct {
	Credited        []CreditResult  `json:"credited"`
	AlreadyCredited []string        `json:"alreadyCredited,omitempty"`
	Failed          []SourceFailure `json:"failed,omitempty"`
}

// ReplenishmentWorkflow credits every line of a verified batch, one activity per line.
// Lines are independent: a rejected line is reported and the batch continues.
// Re-running a batch is safe because each source is credited at most once.
func ReplenishmentWorkflow(ctx workflow.Context, input ReplenishmentWorkflowInput) (*ReplenishmentWorkflowResult, error) {
	logger := workflow.GetLogger(ctx)

	var activityName string
	switch input.Kind {
	case SourcePurchase:
		activityName = CreditFromPurchaseActivity
	case SourceRental:
		activityName = CreditFromRentalActivity
	default:
		return nil, temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("unknown replenishment kind %q", input.Kind), sharedtemporal.ErrTypeValidation, nil)
	}

	logger.Info("Starting replenishment workflow", "kind", input.Kind, "lines", len(input.Sources))

	ctx = workflow.WithActivityOptions(ctx, sharedtemporal.LedgerActivityOptions())

	result := &ReplenishmentWorkflowResult{Credited: make([]CreditResult, 0, len(input.Sources))}
	for _, source := range input.Sources {
		if source.ActorID == "" {
			source.ActorID = input.ActorID
		}

		var credited CreditResult
		err := workflow.ExecuteActivity(ctx, activityName, source).Get(ctx, &credited)
		if err != nil {
			var appErr *temporal.ApplicationError
			if !errors.As(err, &appErr) || !appErr.NonRetryable() {
				logger.Error("Replenishment line failed after retries", "sourceId", source.SourceID, "error", err)
				return result, fmt.Errorf("failed to credit source %s: %w", source.SourceID, err)
			}
			logger.Warn("Replenishment line rejected", "sourceId", source.SourceID, "type", appErr.Type())
			result.Failed = append(result.Failed, SourceFailure{
				SourceID:  source.SourceID,
				ErrorType: appErr.Type(),
				Message:   appErr.Error(),
			})
			continue
		}

		if credited.AlreadyCredited {
			result.AlreadyCredited = append(result.AlreadyCredited, credited.SourceID)
			continue
		}
		result.Credited = append(result.Credited, credited)
	}

	logger.Info("Replenishment workflow completed",
		"credited", len(result.Credited),
		"alreadyCredited", len(result.AlreadyCredited),
		"failed", len(result.Failed),
	)
	return result, nil
}
