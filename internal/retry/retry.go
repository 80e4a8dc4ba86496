// Package retry runs fallible calls with a bounded number of attempts, a
// per-attempt deadline and a fixed pause between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	DefaultAttempts = 3
	DefaultTimeout  = 15 * time.Second
	DefaultBackoff  = time.Second
)

// ErrExhausted wraps the last attempt's error once every attempt failed.
var ErrExhausted = errors.New("retry: attempts exhausted")

// ErrAttemptTimeout is reported when an attempt outlives its deadline.
var ErrAttemptTimeout = errors.New("retry: attempt timed out")

type Policy struct {
	Attempts int
	Timeout  time.Duration // per attempt
	Backoff  time.Duration // pause between attempts; negative disables
	Logger   *slog.Logger
	// OnRetry is called before every attempt after the first.
	OnRetry func(attempt int, err error)
}

func (p Policy) withDefaults() Policy {
	if p.Attempts <= 0 {
		p.Attempts = DefaultAttempts
	}
	if p.Timeout <= 0 {
		p.Timeout = DefaultTimeout
	}
	switch {
	case p.Backoff == 0:
		p.Backoff = DefaultBackoff
	case p.Backoff < 0:
		p.Backoff = 0
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	return p
}

type result[T any] struct {
	val T
	err error
}

// Do calls fn until it succeeds or the attempts run out. Each attempt is
// raced against its own deadline, so a call that ignores its context still
// cannot stall the caller past Timeout.
func Do[T any](ctx context.Context, p Policy, op string, fn func(context.Context) (T, error)) (T, error) {
	p = p.withDefaults()
	var zero T
	var lastErr error

	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if attempt > 1 {
			if p.OnRetry != nil {
				p.OnRetry(attempt, lastErr)
			}
			p.Logger.Warn("retrying", "op", op, "attempt", attempt, "backoff", p.Backoff, "err", lastErr)
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(p.Backoff):
			}
		}

		val, err := attemptOnce(ctx, p.Timeout, fn)
		if err == nil {
			return val, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
	}
	return zero, fmt.Errorf("%s: %w after %d attempts: %w", op, ErrExhausted, p.Attempts, lastErr)
}

func attemptOnce[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan result[T], 1)
	go func() {
		v, err := fn(actx)
		done <- result[T]{v, err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-actx.Done():
		var zero T
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, fmt.Errorf("%w after %s", ErrAttemptTimeout, timeout)
	}
}
