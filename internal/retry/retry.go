// Package retry provides the bounded-retry combinator used by every
// handshake step of the controller link.
//
// An attempt function is called until it succeeds, returns an error wrapped
// with Permanent, the context is done, or the attempt budget is exhausted.
// The optional Delay is applied between attempts; link steps usually rely on
// the transport read timeout as their only backoff and leave it at zero.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/go-qenc/internal/pool"
)

// ErrExhausted is returned, wrapping the last attempt error, when every attempt failed.
var ErrExhausted = errors.New("retry: attempts exhausted")

// Policy bounds a retry loop.
type Policy struct {
	// Attempts is the maximum number of calls. Values below 1 mean a single call.
	Attempts int
	// Delay is slept between two consecutive attempts.
	Delay time.Duration
	// OnRetry, when set, is called after each failed attempt that will be retried.
	OnRetry func(attempt int, err error)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not retryable. Do returns the wrapped error unchanged.
func Permanent(err error) error {
	if err == nil {
		return nil
	}

	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Do calls fn with a 1-based attempt number until it returns nil or the policy gives up.
func Do(ctx context.Context, p Policy, fn func(attempt int) error) error {
	attempts := max(p.Attempts, 1)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(attempt)
		if err == nil {
			return nil
		}

		var pe *permanentError
		if errors.As(err, &pe) {
			return pe.err
		}
		lastErr = err

		if attempt == attempts {
			break
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}

		if err := pool.Sleep(ctx, p.Delay); err != nil {
			return err
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, lastErr)
}
