package resilience

import (
	"context"
	"fmt"
	"time"
)

// RetryConfig controls RetryWithResult
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	// RetryableErrors decides whether another attempt may succeed
	RetryableErrors func(error) bool
}

// DefaultRetryConfig makes three attempts 100ms then 200ms apart. Nothing is
// retried until RetryableErrors is set.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:     3,
		InitialDelay:    100 * time.Millisecond,
		MaxDelay:        5 * time.Second,
		BackoffFactor:   2.0,
		RetryableErrors: func(error) bool { return false },
	}
}

// RetryWithResult calls fn until it succeeds, returns a non-retryable error, or
// runs out of attempts. Exhausting the attempts wraps the last error.
func RetryWithResult[T any](ctx context.Context, config *RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	delay := config.InitialDelay

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		if config.RetryableErrors != nil && !config.RetryableErrors(err) {
			return zero, err
		}
		lastErr = err

		if attempt == config.MaxAttempts {
			break
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
		delay = min(time.Duration(float64(delay)*config.BackoffFactor), config.MaxDelay)
	}

	return zero, fmt.Errorf("max retries (%d) exceeded: %w", config.MaxAttempts, lastErr)
}
