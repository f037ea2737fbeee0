package activities

import (
	"context"

	"go.temporal.io/sdk/client"

	sharedtemporal "github.com/sitestock/stock-ledger/pkg/temporal"
)

// WorkflowStarter starts workflow executions; *temporal.Client implements it
type WorkflowStarter interface {
	StartWorkflow(ctx context.Context, workflowID, taskQueue string, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
}

// StartedReplenishment identifies the run that handles a batch
type StartedReplenishment struct {
	WorkflowID     string `json:"workflowId"`
	RunID          string `json:"runId,omitempty"`
	AlreadyStarted bool   `json:"alreadyStarted"`
}

// ReplenishmentWorkflowID is stable per batch so a batch is handed over at most once
func ReplenishmentWorkflowID(kind, batchID string) string {
	return "replenishment-" + kind + "-" + batchID
}

// StartReplenishment hands a verified batch to the worker. Submitting the same
// batch again reports the existing run instead of starting a second one.
func StartReplenishment(ctx context.Context, starter WorkflowStarter, batchID string, input ReplenishmentWorkflowInput) (*StartedReplenishment, error) {
	workflowID := ReplenishmentWorkflowID(input.Kind, batchID)

	run, err := starter.StartWorkflow(ctx, workflowID, sharedtemporal.TaskQueues.StockLedger, ReplenishmentWorkflow, input)
	if err != nil {
		if runID, ok := sharedtemporal.IsAlreadyStarted(err); ok {
			return &StartedReplenishment{WorkflowID: workflowID, RunID: runID, AlreadyStarted: true}, nil
		}
		return nil, err
	}

	return &StartedReplenishment{WorkflowID: run.GetID(), RunID: run.GetRunID()}, nil
}
