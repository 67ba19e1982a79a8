// Package retry wraps one external call with a classification table deciding
// whether a failure is retried after a short delay, waited out as a provider
// rate limit, or returned at once.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type Class int

const (
	Fatal Class = iota
	Transient
	RateLimited
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case RateLimited:
		return "rate_limited"
	default:
		return "fatal"
	}
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the default Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Waiter is implemented by errors that know how long the provider asked us to wait.
type Waiter interface {
	RetryAfter() time.Duration
}

// Error is returned when the policy gives up.
type Error struct {
	Class     Class
	Attempts  int
	Exhausted bool
	Err       error
}

func (e *Error) Error() string {
	if e.Exhausted {
		return fmt.Sprintf("%s failure, retries exhausted after %d attempts: %v", e.Class, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s failure on attempt %d: %v", e.Class, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Policy struct {
	// Attempts is the total number of tries spent on transient faults.
	Attempts int
	Delay    time.Duration
	// RateLimitDelay is the minimum wait after a rate limit rejection. Rate
	// limit waits do not consume Attempts.
	RateLimitDelay time.Duration
	// RateLimitAttempts caps consecutive rate limit waits; zero leaves it to ctx.
	RateLimitAttempts int
	Classifier        Classifier
	Sleep             Sleeper
	OnRetry           func(class Class, attempt int, wait time.Duration, err error)
}

func (p *Policy) sleeper() Sleeper {
	if p.Sleep != nil {
		return p.Sleep
	}
	return Sleep
}

func (p *Policy) attempts() int {
	if p.Attempts < 1 {
		return 1
	}
	return p.Attempts
}

// Do runs op under the policy.
func (p *Policy) Do(ctx context.Context, op func(context.Context) error) error {
	_, err := Execute(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Execute runs op under p and returns its value.
func Execute[T any](ctx context.Context, p *Policy, op func(context.Context) (T, error)) (T, error) {
	var zero T
	transient, limited, calls := 0, 0, 0

	for {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		calls++
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}

		// Our own cancellation is never a provider fault.
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return zero, err
		}

		class := p.Classifier.Classify(err)
		var wait time.Duration

		switch class {
		case Transient:
			transient++
			if transient >= p.attempts() {
				return zero, &Error{Class: class, Attempts: calls, Exhausted: true, Err: err}
			}
			wait = p.Delay
		case RateLimited:
			limited++
			if p.RateLimitAttempts > 0 && limited > p.RateLimitAttempts {
				return zero, &Error{Class: class, Attempts: calls, Exhausted: true, Err: err}
			}
			wait = p.RateLimitDelay
			var w Waiter
			if errors.As(err, &w) && w.RetryAfter() > wait {
				wait = w.RetryAfter()
			}
		default:
			return zero, &Error{Class: Fatal, Attempts: calls, Err: err}
		}

		if p.OnRetry != nil {
			p.OnRetry(class, calls, wait, err)
		}

		if err := p.sleeper()(ctx, wait); err != nil {
			return zero, err
		}
	}
}
