// Package retrypolicy provides the retry/backoff policy shared by every
// external call site in the pipeline (embedding, vector index, LLM), so
// failure semantics stay consistent and testable in one place.
package retrypolicy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DefaultMaxAttempts is the default number of attempts per operation.
const DefaultMaxAttempts = 3

// DefaultBaseBackoff is the default first backoff delay.
const DefaultBaseBackoff = 500 * time.Millisecond

// retryableError marks an error as transient. An optional After delay
// overrides the computed backoff (rate-limit responses carry one).
type retryableError struct {
	err   error
	after time.Duration
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// MarkRetryable wraps err so the policy will retry it with backoff.
func MarkRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// MarkRetryableAfter wraps err with a provider-specified retry delay.
func MarkRetryableAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err, after: after}
}

// IsRetryable reports whether err was marked transient. Context
// cancellation is never retryable.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var re *retryableError
	return errors.As(err, &re)
}

// retryAfter returns the provider-specified delay attached to err, if any.
func retryAfter(err error) (time.Duration, bool) {
	var re *retryableError
	if errors.As(err, &re) && re.after > 0 {
		return re.after, true
	}
	return 0, false
}

// Policy is an explicit retry policy: bounded attempts with exponential
// backoff. The zero value is usable after ApplyDefaults.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseBackoff is the delay before the second attempt; each further
	// attempt doubles it.
	BaseBackoff time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (p *Policy) ApplyDefaults() {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseBackoff <= 0 {
		p.BaseBackoff = DefaultBaseBackoff
	}
}

// Execute runs fn under the policy. Errors not marked retryable surface
// immediately. Backoff waits respect ctx so cancellation stops retry
// loops promptly. The logger may be nil.
func (p Policy) Execute(ctx context.Context, logger *zap.Logger, op string, fn func(context.Context) error) error {
	p.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := p.BaseBackoff * time.Duration(1<<(attempt-2))
			if after, ok := retryAfter(lastErr); ok {
				delay = after
			}
			logger.Debug("retrying operation",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("%s: max retries exceeded: %w", op, lastErr)
}
