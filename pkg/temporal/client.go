// Package temporal connects the ledger to Temporal: the worker that runs
// replenishment workflows and the API's batch intake both go through Client.
package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	enums "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"
	"go.temporal.io/sdk/worker"
)

type Config struct {
	HostPort  string
	Namespace string
	Identity  string
}

// TaskQueues names the queues the ledger worker polls
var TaskQueues = struct {
	StockLedger string
}{
	StockLedger: "stock-ledger-queue",
}

// WorkflowNames names the workflows registered by the ledger worker
var WorkflowNames = struct {
	Replenishment string
}{
	Replenishment: "ReplenishmentWorkflow",
}

type Client struct {
	client client.Client
}

// NewClient dials Temporal. The SDK logs through logger when it is non-nil.
func NewClient(ctx context.Context, config *Config, logger *slog.Logger) (*Client, error) {
	options := client.Options{
		HostPort:  config.HostPort,
		Namespace: config.Namespace,
		Identity:  config.Identity,
	}
	if logger != nil {
		options.Logger = tlog.NewStructuredLogger(logger)
	}

	c, err := client.DialContext(ctx, options)
	if err != nil {
		return nil, fmt.Errorf("failed to dial Temporal at %s: %w", config.HostPort, err)
	}
	return &Client{client: c}, nil
}

func (c *Client) Close() {
	c.client.Close()
}

// StartWorkflow starts a workflow execution. A workflow ID is used once: starting
// it again fails with an error that IsAlreadyStarted recognizes.
func (c *Client) StartWorkflow(ctx context.Context, workflowID, taskQueue string, workflow interface{}, args ...interface{}) (client.WorkflowRun, error) {
	return c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                                       workflowID,
		TaskQueue:                                taskQueue,
		WorkflowIDReusePolicy:                    enums.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}, workflow, args...)
}

// IsAlreadyStarted reports whether err means the workflow ID was used before.
// The run ID of the existing execution is returned when known.
func IsAlreadyStarted(err error) (string, bool) {
	var started *serviceerror.WorkflowExecutionAlreadyStarted
	if errors.As(err, &started) {
		return started.RunId, true
	}
	return "", false
}

// NewWorker polls taskQueue. Ledger activities are short and serialize on the
// consistency guard, so a handful of pollers keeps the queue drained.
func (c *Client) NewWorker(taskQueue string) worker.Worker {
	return worker.New(c.client, taskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     100,
		MaxConcurrentWorkflowTaskExecutionSize: 100,
		MaxConcurrentActivityTaskPollers:       4,
		MaxConcurrentWorkflowTaskPollers:       4,
	})
}
