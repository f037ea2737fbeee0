package temporal

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// Application error types raised by stock ledger activities. Activities return
// them through temporal.NewNonRetryableApplicationError or NewApplicationError
// so the retry policy below can tell them apart.
const (
	ErrTypeValidation        = "ValidationError"
	ErrTypeInsufficientStock = "InsufficientStockError"
	ErrTypeInvalidTransition = "InvalidTransitionError"
	ErrTypeNotFound          = "NotFoundError"
	ErrTypeLockTimeout       = "LockTimeoutError"
)

// NonRetryableErrorTypes lists outcomes that another attempt cannot change
var NonRetryableErrorTypes = []string{
	ErrTypeValidation,
	ErrTypeInsufficientStock,
	ErrTypeInvalidTransition,
	ErrTypeNotFound,
}

// LedgerRetryPolicy retries lock timeouts and infrastructure failures with backoff
func LedgerRetryPolicy() *temporal.RetryPolicy {
	return &temporal.RetryPolicy{
		InitialInterval:        500 * time.Millisecond,
		BackoffCoefficient:     2.0,
		MaximumInterval:        30 * time.Second,
		MaximumAttempts:        5,
		NonRetryableErrorTypes: NonRetryableErrorTypes,
	}
}

// LedgerActivityOptions returns activity options for ledger mutations
func LedgerActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy:         LedgerRetryPolicy(),
	}
}
