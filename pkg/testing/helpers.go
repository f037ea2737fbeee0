// Package testing holds helpers shared by the ledger's test suites.
package testing

import (
	"testing"
	"time"
)

// AssertEventually polls condition until it holds or timeout passes
func AssertEventually(t *testing.T, condition func() bool, timeout time.Duration, message string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for !condition() {
		if time.Now().After(deadline) {
			t.Fatalf("still waiting after %s: %s", timeout, message)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
