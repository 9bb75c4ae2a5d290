// Package resilience holds the two wrappers every endpoint invocation goes
// through: a deadline race and a bounded retry loop with linear backoff.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimedOut is returned when an operation loses the race against its
// deadline. Downstream it is treated like any transient failure.
var ErrTimedOut = errors.New("attempt timed out")

// TimeoutError records the deadline that expired.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("attempt timed out after %s", e.After)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimedOut
}

// WithTimeout races op against d. A zero d disables the race and op runs to
// completion. On expiry op is abandoned, not awaited: its context is
// cancelled as a cooperative hint and whatever it eventually returns is
// discarded.
func WithTimeout[T any](ctx context.Context, d time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return op(ctx)
	}

	type result struct {
		val T
		err error
	}

	opCtx, cancel := context.WithCancel(ctx)
	// Buffered so the abandoned goroutine can always finish its send.
	done := make(chan result, 1)
	go func() {
		v, err := op(opCtx)
		done <- result{val: v, err: err}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	var zero T
	select {
	case r := <-done:
		cancel()
		return r.val, r.err
	case <-timer.C:
		cancel()
		return zero, &TimeoutError{After: d}
	case <-ctx.Done():
		cancel()
		return zero, ctx.Err()
	}
}
