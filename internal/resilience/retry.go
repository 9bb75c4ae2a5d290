package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/valpere/regiontran/internal"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
)

// transient is implemented by classified endpoint errors.
type transient interface {
	Transient() bool
}

// Classify maps an attempt error to its outcome kind. Errors without a
// classification are treated as transient.
func Classify(err error) internal.OutcomeKind {
	switch {
	case err == nil:
		return internal.OutcomeSuccess
	case errors.Is(err, ErrTimedOut):
		return internal.OutcomeTimedOut
	}

	var cfgErr *internal.ConfigurationError
	if errors.As(err, &cfgErr) {
		return internal.OutcomeFatal
	}

	var t transient
	if errors.As(err, &t) && !t.Transient() {
		return internal.OutcomeFatal
	}
	return internal.OutcomeTransient
}

// IsRetryable reports whether err may go away on a later attempt.
func IsRetryable(err error) bool {
	k := Classify(err)
	return k == internal.OutcomeTransient || k == internal.OutcomeTimedOut
}

// RetryPolicy retries transient failures of one endpoint. Attempt n that
// fails waits n*BaseDelay before attempt n+1. There is no jitter: traffic is
// single-tenant and user-triggered.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// Observe, when set, is called after every attempt.
	Observe func(attempt int, err error, latency time.Duration)
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	return p
}

// Do runs op until it succeeds, fails fatally, or MaxAttempts is reached.
// On exhaustion the last transient error is returned.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context, attempt int) (string, error)) (string, error) {
	p = p.withDefaults()

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		start := time.Now()
		text, err := op(ctx, attempt)
		if p.Observe != nil {
			p.Observe(attempt, err, time.Since(start))
		}
		if err == nil {
			return text, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		if !IsRetryable(err) {
			return "", err
		}

		lastErr = err
		if attempt == p.MaxAttempts {
			break
		}

		if err := sleep(ctx, time.Duration(attempt)*p.BaseDelay); err != nil {
			return "", err
		}
	}

	return "", lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
