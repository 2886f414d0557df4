// Package callback provides a call counter that tests and synchronous
// wrappers block on while waiting for asynchronous completions.
package callback

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"
)

// DefaultTimeout is the base wait before scaling.
const DefaultTimeout = 15 * time.Second

// TimeoutMultiplierEnv scales every callback timeout on slow machines.
const TimeoutMultiplierEnv = "TEST_TIMEOUT_MULTIPLIER"

// TimeoutError is returned when a wait expires before enough calls arrived.
type TimeoutError struct {
	Want    int
	Got     int
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("waited %s for %d callbacks, got %d", e.Timeout, e.Want, e.Got)
}

// Helper counts callback invocations.
type Helper struct {
	mu    sync.Mutex
	cond  *sync.Cond
	count int
}

// New creates a Helper with a zero call count.
func New() *Helper {
	h := &Helper{}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// Notify records one call and wakes waiters.
func (h *Helper) Notify() {
	h.mu.Lock()
	h.count++
	h.mu.Unlock()
	h.cond.Broadcast()
}

// CallCount returns the number of calls so far.
func (h *Helper) CallCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// WaitForCallback blocks until at least from+n calls have been recorded,
// the timeout elapses, or ctx is done. A non-positive timeout uses
// ScaledTimeout(DefaultTimeout).
func (h *Helper) WaitForCallback(ctx context.Context, from, n int, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = ScaledTimeout(DefaultTimeout)
	}
	want := from + n

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Wake the cond when the deadline passes so the loop can observe it.
	stop := context.AfterFunc(ctx, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.cond.Broadcast()
	})
	defer stop()

	h.mu.Lock()
	defer h.mu.Unlock()
	for h.count < want {
		if err := ctx.Err(); err != nil {
			if err == context.DeadlineExceeded {
				return &TimeoutError{Want: want, Got: h.count, Timeout: timeout}
			}
			return err
		}
		h.cond.Wait()
	}
	return nil
}

// ScaledTimeout multiplies d by TEST_TIMEOUT_MULTIPLIER when it is set to a
// positive number.
func ScaledTimeout(d time.Duration) time.Duration {
	raw := os.Getenv(TimeoutMultiplierEnv)
	if raw == "" {
		return d
	}
	m, err := strconv.ParseFloat(raw, 64)
	if err != nil || m <= 0 {
		return d
	}
	return time.Duration(float64(d) * m)
}
