// Package poll provides a bounded, interval-spaced wait loop for asynchronous
// remote conditions.
//
// [Until] repeatedly invokes a caller-supplied check until it reports
// completion, reports failure, or the timeout elapses. The loop knows nothing
// about what it is polling; callers encode domain decisions in the [Result]
// they return from each check.
//
// Typical usage:
//
//	op, err := poll.Until(ctx, func(ctx context.Context) (poll.Result[Op], error) {
//	    op, err := fetch(ctx)
//	    if err != nil {
//	        return poll.Result[Op]{}, err
//	    }
//	    switch op.Status {
//	    case "COMPLETED":
//	        return poll.Complete(op), nil
//	    case "FAILED":
//	        return poll.Fail[Op]("operation failed"), nil
//	    }
//	    return poll.Pending[Op](), nil
//	}, poll.Options{Interval: 5 * time.Second, Timeout: 5 * time.Minute})
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is matched by errors returned from [Until] when the deadline
// elapsed before the check reported a terminal outcome.
var ErrTimeout = errors.New("poll: timed out")

// ErrFailed is matched by errors returned from [Until] when the check
// reported a terminal failure.
var ErrFailed = errors.New("poll: check failed")

// Result is the outcome of a single check iteration. The zero value is a
// pending result. Use [Pending], [Complete] and [Fail] to construct values;
// the fields are unexported so a result can never be both done and failed,
// or done without either a value or an error.
type Result[T any] struct {
	done   bool
	value  T
	reason string
	failed bool
}

// Pending returns a result meaning "not done yet, check again".
func Pending[T any]() Result[T] { return Result[T]{} }

// Complete returns a successful terminal result carrying v.
func Complete[T any](v T) Result[T] { return Result[T]{done: true, value: v} }

// Fail returns a terminal failure carrying reason.
func Fail[T any](reason string) Result[T] {
	return Result[T]{done: true, failed: true, reason: reason}
}

// Done reports whether the result is terminal.
func (r Result[T]) Done() bool { return r.done }

// Failed reports whether the result is a terminal failure.
func (r Result[T]) Failed() bool { return r.failed }

// Value returns the carried value. It is the zero value unless the result
// was built with [Complete].
func (r Result[T]) Value() T { return r.value }

// Reason returns the failure reason of a result built with [Fail].
func (r Result[T]) Reason() string { return r.reason }

// CheckFunc is invoked once per iteration. A non-nil error is terminal.
type CheckFunc[T any] func(ctx context.Context) (Result[T], error)

// Options configures [Until].
type Options struct {
	// Interval is the pause between two checks. Must be positive.
	Interval time.Duration

	// Timeout bounds the total wall-clock time of the loop. Must be positive.
	Timeout time.Duration

	// OnPoll, when non-nil, is called after every non-terminal check with
	// the elapsed time since the loop started.
	OnPoll func(elapsed time.Duration)

	// clock overrides time keeping in tests.
	clock clock
}

// TimeoutError is returned when the deadline elapsed first. The remote
// condition may still be progressing.
type TimeoutError struct {
	Timeout time.Duration
	Elapsed time.Duration
	Checks  int
}

// Error implements error.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("poll: timed out after %s (%d checks)", e.Timeout, e.Checks)
}

// Is makes errors.Is(err, ErrTimeout) true.
func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// FailedError is returned when a check reported a terminal failure, either as
// a failed [Result] or as a Go error.
type FailedError struct {
	// Reason is the failure text from [Fail], empty when Err is set.
	Reason string

	// Err is the error returned by the check function, if any.
	Err error
}

// Error implements error.
func (e *FailedError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Reason
}

// Unwrap exposes the check's own error.
func (e *FailedError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrFailed) true.
func (e *FailedError) Is(target error) bool { return target == ErrFailed }

// Until runs check until it reports a terminal result or opts.Timeout
// elapses. Elapsed time is compared against the timeout before every check,
// so no check starts after the deadline. Cancelling ctx ends the loop with
// ctx.Err().
func Until[T any](ctx context.Context, check CheckFunc[T], opts Options) (T, error) {
	var zero T
	if opts.Interval <= 0 || opts.Timeout <= 0 {
		return zero, fmt.Errorf("poll: interval and timeout must be positive (interval=%s, timeout=%s)", opts.Interval, opts.Timeout)
	}
	clk := opts.clock
	if clk == nil {
		clk = realClock{}
	}

	start := clk.Now()
	checks := 0
	for {
		elapsed := clk.Since(start)
		if elapsed >= opts.Timeout {
			return zero, &TimeoutError{Timeout: opts.Timeout, Elapsed: elapsed, Checks: checks}
		}

		checks++
		res, err := check(ctx)
		if err != nil {
			return zero, &FailedError{Err: err}
		}
		if res.failed {
			return zero, &FailedError{Reason: res.reason}
		}
		if res.done {
			return res.value, nil
		}

		if opts.OnPoll != nil {
			opts.OnPoll(clk.Since(start))
		}
		if err := clk.Sleep(ctx, opts.Interval); err != nil {
			return zero, err
		}
	}
}

// ── clock ─────────────────────────────────────────────────────────────────────

type clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time                  { return time.Now() }
func (realClock) Since(t time.Time) time.Duration { return time.Since(t) }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
