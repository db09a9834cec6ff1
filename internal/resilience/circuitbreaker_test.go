package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"
)

var errUpstream = errors.New("upstream status 503")

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func fail() error    { return errUpstream }
func succeed() error { return nil }

// trip drives a closed breaker open with n failures.
func trip(t *testing.T, cb *CircuitBreaker, n int) {
	t.Helper()
	for range n {
		if err := cb.Execute(fail); !errors.Is(err, errUpstream) {
			t.Fatalf("Execute() = %v, want upstream error", err)
		}
	}
	if got := cb.State(); got != StateOpen {
		t.Fatalf("state after %d failures = %s, want open", n, got)
	}
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "shopify-admin"})
	if cb.cfg.MaxFailures != DefaultMaxFailures || cb.cfg.Cooldown != DefaultCooldown || cb.cfg.Probes != DefaultProbes {
		t.Errorf("config = %+v", cb.cfg)
	}
	if cb.Name() != "shopify-admin" {
		t.Errorf("Name() = %q", cb.Name())
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %s, want closed", cb.State())
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 3})
	for range 5 {
		_ = cb.Execute(fail)
		_ = cb.Execute(fail)
		if err := cb.Execute(succeed); err != nil {
			t.Fatalf("Execute() = %v", err)
		}
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %s, want closed: failures were never consecutive", cb.State())
	}
}

func TestCircuitBreaker_OpenRejectsWithoutCalling(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 2, Cooldown: time.Hour})
	trip(t, cb, 2)

	called := false
	err := cb.Execute(func() error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Execute() = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("fn called while open")
	}
}

func TestCircuitBreaker_HalfOpen(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		probes    int
		results   []error
		wantState State
	}{
		{name: "probe succeeds", probes: 1, results: []error{nil}, wantState: StateClosed},
		{name: "probe fails", probes: 1, results: []error{errUpstream}, wantState: StateOpen},
		{name: "two probes succeed", probes: 2, results: []error{nil, nil}, wantState: StateClosed},
		{name: "second probe fails", probes: 2, results: []error{nil, errUpstream}, wantState: StateOpen},
		{name: "one of two probes", probes: 2, results: []error{nil}, wantState: StateHalfOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			clock := newFakeClock()
			cb := NewCircuitBreaker(CircuitBreakerConfig{
				MaxFailures: 1,
				Cooldown:    time.Minute,
				Probes:      tt.probes,
				Now:         clock.Now,
			})
			trip(t, cb, 1)

			clock.Advance(59 * time.Second)
			if err := cb.Execute(succeed); !errors.Is(err, ErrCircuitOpen) {
				t.Fatalf("Execute() before cooldown = %v, want ErrCircuitOpen", err)
			}

			clock.Advance(time.Second)
			if got := cb.State(); got != StateHalfOpen {
				t.Fatalf("state after cooldown = %s, want half-open", got)
			}
			for _, res := range tt.results {
				_ = cb.Execute(func() error { return res })
			}
			if got := cb.State(); got != tt.wantState {
				t.Errorf("state = %s, want %s", got, tt.wantState)
			}
		})
	}
}

func TestCircuitBreaker_HalfOpenLimitsProbes(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, Cooldown: time.Second, Now: clock.Now})
	trip(t, cb, 1)
	clock.Advance(time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	if err := cb.Execute(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second probe = %v, want ErrCircuitOpen", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Errorf("first probe = %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %s, want closed", cb.State())
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	var (
		mu  sync.Mutex
		got []string
	)
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:        "oplog",
		MaxFailures: 1,
		Cooldown:    time.Second,
		Now:         clock.Now,
		OnStateChange: func(name string, from, to State) {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, name+":"+from.String()+"->"+to.String())
		},
	})

	_ = cb.Execute(fail)
	clock.Advance(time.Second)
	_ = cb.Execute(succeed)
	trip(t, cb, 1)
	cb.Reset()

	want := []string{
		"oplog:closed->open",
		"oplog:open->half-open",
		"oplog:half-open->closed",
		"oplog:closed->open",
		"oplog:open->closed",
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, Cooldown: time.Hour})
	trip(t, cb, 1)
	cb.Reset()

	if err := cb.Execute(succeed); err != nil {
		t.Errorf("Execute() after Reset = %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %s, want closed", cb.State())
	}
}

func TestCircuitBreaker_Concurrent(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1000})
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 20 {
				if i%2 == 0 {
					_ = cb.Execute(fail)
				} else {
					_ = cb.Execute(succeed)
				}
			}
		}()
	}
	wg.Wait()
	if cb.State() == StateOpen {
		t.Errorf("state = open with interleaved successes")
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
