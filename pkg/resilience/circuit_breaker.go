// Package resilience guards calls to Kafka and other brokers with a circuit
// breaker (sony/gobreaker) and retries transient failures with backoff.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is wrapped by every call rejected while the breaker is open
// or its half-open probe budget is spent
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig holds configuration for a circuit breaker
type CircuitBreakerConfig struct {
	Name string
	// MaxRequests are let through while half-open
	MaxRequests uint32
	// Interval clears the closed-state counts; 0 never clears them
	Interval time.Duration
	// Timeout is how long the breaker stays open before probing
	Timeout time.Duration
	// FailureThreshold consecutive failures trip the breaker
	FailureThreshold uint32
	// FailureRatioThreshold trips the breaker once MinRequestsToTrip calls were seen
	FailureRatioThreshold float64
	MinRequestsToTrip     uint32
}

// DefaultCircuitBreakerConfig trips after 5 straight failures or half of 10 calls
func DefaultCircuitBreakerConfig(name string) *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		Name:                  name,
		MaxRequests:           3,
		Interval:              time.Minute,
		Timeout:               30 * time.Second,
		FailureThreshold:      5,
		FailureRatioThreshold: 0.5,
		MinRequestsToTrip:     10,
	}
}

func (c *CircuitBreakerConfig) readyToTrip(counts gobreaker.Counts) bool {
	if counts.ConsecutiveFailures >= c.FailureThreshold {
		return true
	}
	if c.MinRequestsToTrip == 0 || counts.Requests < c.MinRequestsToTrip {
		return false
	}
	return float64(counts.TotalFailures)/float64(counts.Requests) >= c.FailureRatioThreshold
}

// StateObserver is notified of breaker state changes, typically a metrics sink.
// States are reported as 0 closed, 1 half-open, 2 open.
type StateObserver interface {
	SetCircuitBreakerState(name string, state int)
	RecordCircuitBreakerTrip(name string)
}

// CircuitBreaker wraps gobreaker with logging and an optional observer
type CircuitBreaker struct {
	cb     *gobreaker.CircuitBreaker
	name   string
	logger *slog.Logger
}

// NewCircuitBreaker creates a breaker. observer may be nil.
func NewCircuitBreaker(config *CircuitBreakerConfig, logger *slog.Logger, observer StateObserver) *CircuitBreaker {
	if logger == nil {
		logger = slog.Default()
	}

	onStateChange := func(name string, from, to gobreaker.State) {
		logger.Warn("Circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		if observer == nil {
			return
		}
		observer.SetCircuitBreakerState(name, stateValue(to))
		if to == gobreaker.StateOpen {
			observer.RecordCircuitBreakerTrip(name)
		}
	}
	if observer != nil {
		observer.SetCircuitBreakerState(config.Name, stateValue(gobreaker.StateClosed))
	}

	return &CircuitBreaker{
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:          config.Name,
			MaxRequests:   config.MaxRequests,
			Interval:      config.Interval,
			Timeout:       config.Timeout,
			ReadyToTrip:   config.readyToTrip,
			OnStateChange: onStateChange,
		}),
		name:   config.Name,
		logger: logger,
	}
}

func stateValue(s gobreaker.State) int {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// Execute runs fn through the breaker
func (c *CircuitBreaker) Execute(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := c.cb.Execute(fn)
	switch {
	case errors.Is(err, gobreaker.ErrOpenState):
		c.logger.Warn("Circuit breaker is open", "name", c.name)
		return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, c.name)
	case errors.Is(err, gobreaker.ErrTooManyRequests):
		c.logger.Warn("Circuit breaker half-open budget spent", "name", c.name)
		return nil, fmt.Errorf("%w: too many half-open requests for %s", ErrCircuitOpen, c.name)
	}
	return result, err
}

// State returns the current state of the circuit breaker
func (c *CircuitBreaker) State() gobreaker.State {
	return c.cb.State()
}
