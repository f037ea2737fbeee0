// Package guard serializes balance-mutating operations per stock key.
package guard

import (
	"context"
	"errors"
	"sort"
	"time"
)

// ErrLockTimeout is returned when the keys could not be acquired within the wait bound.
// Callers may retry.
var ErrLockTimeout = errors.New("timed out waiting for stock lock")

// DefaultTimeout bounds how long Acquire waits for all requested keys
const DefaultTimeout = 5 * time.Second

// ReleaseFunc releases every key taken by one Acquire call. It is safe to call once.
type ReleaseFunc func()

// Guard grants exclusive access to a set of keys
type Guard interface {
	// Acquire blocks until every key is held, the wait bound elapses (ErrLockTimeout)
	// or ctx is done (ctx.Err()). Keys are taken in lexicographic order.
	Acquire(ctx context.Context, keys ...string) (ReleaseFunc, error)
}

// Observer receives lock wait timings, used for metrics
type Observer interface {
	ObserveLockWait(outcome string, wait time.Duration)
}

// Outcomes reported to an Observer
const (
	OutcomeAcquired = "acquired"
	OutcomeTimeout  = "timeout"
	OutcomeCanceled = "canceled"
)

// OrderKeys sorts and de-duplicates keys so that every caller acquires in the same order
func OrderKeys(keys []string) []string {
	ordered := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		ordered = append(ordered, k)
	}
	sort.Strings(ordered)
	return ordered
}
