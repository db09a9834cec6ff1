package poll

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeClock advances only when Sleep is called.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Since(t time.Time) time.Duration { return c.Now().Sub(t) }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	return nil
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.sleeps))
	copy(out, c.sleeps)
	return out
}

// sequence returns a check that replays results in order and counts calls.
func sequence[T any](results ...Result[T]) (CheckFunc[T], *int) {
	calls := 0
	return func(context.Context) (Result[T], error) {
		r := results[min(calls, len(results)-1)]
		calls++
		return r, nil
	}, &calls
}

func TestUntil_SuccessAfterPending(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	check, calls := sequence(Pending[string](), Pending[string](), Complete("X"))

	var progress []time.Duration
	got, err := Until(context.Background(), check, Options{
		Interval: 5 * time.Second,
		Timeout:  time.Minute,
		OnPoll:   func(elapsed time.Duration) { progress = append(progress, elapsed) },
		clock:    clk,
	})
	if err != nil {
		t.Fatalf("Until: unexpected error: %v", err)
	}
	if got != "X" {
		t.Errorf("value = %q, want %q", got, "X")
	}
	if *calls != 3 {
		t.Errorf("check calls = %d, want 3", *calls)
	}
	sleeps := clk.Sleeps()
	if len(sleeps) != 2 {
		t.Fatalf("sleeps = %d, want 2", len(sleeps))
	}
	for i, d := range sleeps {
		if d != 5*time.Second {
			t.Errorf("sleep[%d] = %s, want 5s", i, d)
		}
	}
	if len(progress) != 2 || progress[1] != 5*time.Second {
		t.Errorf("progress = %v, want [0s 5s]", progress)
	}
}

func TestUntil_FailureShortCircuits(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	check, calls := sequence(Fail[int]("E"), Complete(1))

	_, err := Until(context.Background(), check, Options{
		Interval: time.Second,
		Timeout:  time.Minute,
		clock:    clk,
	})
	if !errors.Is(err, ErrFailed) {
		t.Fatalf("err = %v, want ErrFailed", err)
	}
	if errors.Is(err, ErrTimeout) {
		t.Error("failure must not match ErrTimeout")
	}
	if !strings.Contains(err.Error(), "E") {
		t.Errorf("error %q should contain the failure reason", err)
	}
	if *calls != 1 {
		t.Errorf("check calls = %d, want 1", *calls)
	}
	if n := len(clk.Sleeps()); n != 0 {
		t.Errorf("sleeps = %d, want 0", n)
	}
}

func TestUntil_CheckErrorIsTerminal(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	calls := 0
	_, err := Until(context.Background(), func(context.Context) (Result[int], error) {
		calls++
		return Result[int]{}, boom
	}, Options{Interval: time.Second, Timeout: time.Minute, clock: newFakeClock()})

	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped boom", err)
	}
	if !errors.Is(err, ErrFailed) {
		t.Errorf("err = %v, want ErrFailed", err)
	}
	if calls != 1 {
		t.Errorf("check calls = %d, want 1", calls)
	}
}

func TestUntil_TimeoutBoundary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		interval   time.Duration
		timeout    time.Duration
		wantChecks int
	}{
		{name: "exact multiple", interval: 5 * time.Second, timeout: 20 * time.Second, wantChecks: 4},
		{name: "not a multiple", interval: 2 * time.Second, timeout: 7 * time.Second, wantChecks: 4},
		{name: "interval exceeds timeout", interval: time.Minute, timeout: time.Second, wantChecks: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			clk := newFakeClock()
			start := clk.Now()
			check, calls := sequence(Pending[int]())

			_, err := Until(context.Background(), check, Options{
				Interval: tt.interval,
				Timeout:  tt.timeout,
				clock:    clk,
			})
			var te *TimeoutError
			if !errors.As(err, &te) {
				t.Fatalf("err = %v, want *TimeoutError", err)
			}
			if !errors.Is(err, ErrTimeout) {
				t.Error("timeout must match ErrTimeout")
			}
			if *calls != tt.wantChecks {
				t.Errorf("check calls = %d, want %d", *calls, tt.wantChecks)
			}
			elapsed := clk.Since(start)
			if elapsed < tt.timeout || elapsed > tt.timeout+tt.interval {
				t.Errorf("elapsed = %s, want within [%s, %s]", elapsed, tt.timeout, tt.timeout+tt.interval)
			}
		})
	}
}

func TestUntil_RealClockBoundary(t *testing.T) {
	t.Parallel()

	interval := 20 * time.Millisecond
	timeout := 100 * time.Millisecond
	start := time.Now()
	_, err := Until(context.Background(), func(context.Context) (Result[int], error) {
		return Pending[int](), nil
	}, Options{Interval: interval, Timeout: timeout})
	elapsed := time.Since(start)

	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if elapsed < timeout {
		t.Errorf("elapsed = %s, want >= %s", elapsed, timeout)
	}
	// Generous upper bound for scheduler jitter on loaded CI machines.
	if elapsed > timeout+interval+200*time.Millisecond {
		t.Errorf("elapsed = %s, want close to %s", elapsed, timeout+interval)
	}
}

func TestUntil_ContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Until(ctx, func(context.Context) (Result[int], error) {
		calls++
		cancel()
		return Pending[int](), nil
	}, Options{Interval: time.Hour, Timeout: 2 * time.Hour})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("check calls = %d, want 1", calls)
	}
}

func TestUntil_InvalidOptions(t *testing.T) {
	t.Parallel()

	check, calls := sequence(Complete(1))
	if _, err := Until(context.Background(), check, Options{Interval: 0, Timeout: time.Second}); err == nil {
		t.Error("expected error for zero interval")
	}
	if _, err := Until(context.Background(), check, Options{Interval: time.Second}); err == nil {
		t.Error("expected error for zero timeout")
	}
	if *calls != 0 {
		t.Errorf("check calls = %d, want 0", *calls)
	}
}

func TestResult_Constructors(t *testing.T) {
	t.Parallel()

	if r := Pending[int](); r.Done() || r.Failed() {
		t.Errorf("Pending: done=%v failed=%v", r.Done(), r.Failed())
	}
	if r := Complete(7); !r.Done() || r.Failed() || r.Value() != 7 {
		t.Errorf("Complete: done=%v failed=%v value=%d", r.Done(), r.Failed(), r.Value())
	}
	if r := Fail[int]("nope"); !r.Done() || !r.Failed() || r.Reason() != "nope" {
		t.Errorf("Fail: done=%v failed=%v reason=%q", r.Done(), r.Failed(), r.Reason())
	}
	var zero Result[int]
	if zero.Done() {
		t.Error("zero Result must be pending")
	}
}
