// Package retry runs an operation under a domain.RetryPolicy. It keeps no
// state between calls, so one policy value can drive any number of
// concurrent operations.
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/osvaldoandrade/qrbot/internal/backoff"
	"github.com/osvaldoandrade/qrbot/pkg/domain"
)

type SleepFunc func(ctx context.Context, d time.Duration) error

// Result describes how an operation ended.
type Result[T any] struct {
	Value    T
	Attempts int
	Err      error
	// Retriable is true when the final error was transient, i.e. the policy
	// ran out of attempts rather than hitting a terminal failure.
	Retriable bool
	Waited    time.Duration
}

func (r Result[T]) OK() bool { return r.Err == nil }

// Exhausted reports a failure after every allowed attempt was spent on
// transient errors.
func (r Result[T]) Exhausted() bool { return r.Err != nil && r.Retriable }

type options struct {
	sleep     SleepFunc
	rng       *rand.Rand
	onRetry   func(attempt int, delay time.Duration, err error)
	retriable func(error) bool
}

type Option func(*options)

// WithSleep replaces the timer-based wait; tests use it to record delays.
func WithSleep(fn SleepFunc) Option {
	return func(o *options) { o.sleep = fn }
}

func WithRand(rng *rand.Rand) Option {
	return func(o *options) { o.rng = rng }
}

// WithNotify is called before each wait with the attempt that just failed.
func WithNotify(fn func(attempt int, delay time.Duration, err error)) Option {
	return func(o *options) { o.onRetry = fn }
}

// WithClassifier overrides domain.IsRetriable.
func WithClassifier(fn func(error) bool) Option {
	return func(o *options) { o.retriable = fn }
}

// Do calls op until it succeeds, fails terminally or p.MaxAttempts is
// reached. The wait after failed attempt k is backoff.Delay(p, k), raised to
// the upstream Retry-After hint when one is present.
func Do[T any](ctx context.Context, p domain.RetryPolicy, op func(ctx context.Context, attempt int) (T, error), opts ...Option) Result[T] {
	p = p.Normalize()
	o := options{sleep: SleepOrDone, retriable: domain.IsRetriable}
	for _, opt := range opts {
		opt(&o)
	}
	if o.rng == nil {
		o.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	var res Result[T]
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		res.Attempts = attempt
		v, err := op(ctx, attempt)
		if err == nil {
			res.Value = v
			res.Err = nil
			res.Retriable = false
			return res
		}
		res.Err = err
		res.Retriable = o.retriable(err)
		if !res.Retriable || attempt == p.MaxAttempts {
			return res
		}

		delay := backoff.Delay(p, attempt, o.rng)
		if hint := domain.RetryAfter(err); hint > delay {
			delay = hint
		}
		if o.onRetry != nil {
			o.onRetry(attempt, delay, err)
		}
		if serr := o.sleep(ctx, delay); serr != nil {
			return res
		}
		res.Waited += delay
	}
	return res
}

// SleepOrDone waits for d or until ctx is done.
func SleepOrDone(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
