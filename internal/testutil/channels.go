// Package testutil provides shared helpers for tests that wait on
// goroutines: stream loops, publishers and long-lived HTTP handlers.
package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Common test timeout constants.
const (
	// DefaultTestTimeout is the standard timeout for most async test operations.
	DefaultTestTimeout = 5 * time.Second

	// ShortTestTimeout is for operations expected to complete quickly.
	ShortTestTimeout = 1 * time.Second

	// PollInterval is the tick used with require.Eventually.
	PollInterval = 5 * time.Millisecond
)

// WaitFor receives one value from ch or fails the test after timeout.
func WaitFor[T any](t *testing.T, ch <-chan T, timeout time.Duration, msg string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(timeout):
		require.FailNow(t, msg)
	}
	var zero T
	return zero
}

// Go runs fn in a goroutine and returns a channel that yields its result.
func Go[T any](fn func() T) <-chan T {
	ch := make(chan T, 1)
	go func() { ch <- fn() }()
	return ch
}
