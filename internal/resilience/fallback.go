package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every target of a [FallbackGroup] failed or
// was skipped by its breaker.
var ErrAllFailed = errors.New("all targets failed")

// FallbackConfig is the breaker template applied to every target of a
// [FallbackGroup]. The Name field is replaced by the target name.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

type target[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds an ordered list of interchangeable targets, each behind
// its own [CircuitBreaker]. Register all targets before the first
// [FallbackGroup.Execute]; the list is not guarded for concurrent mutation.
type FallbackGroup[T any] struct {
	targets []target[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a group whose first target is primary.
func NewFallbackGroup[T any](primary T, name string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(name, primary)
	return fg
}

// AddFallback appends a target tried after all earlier ones.
func (fg *FallbackGroup[T]) AddFallback(name string, value T) {
	bc := fg.cfg.CircuitBreaker
	bc.Name = name
	fg.targets = append(fg.targets, target[T]{name: name, value: value, breaker: NewCircuitBreaker(bc)})
}

// Names returns the target names in the order they are tried.
func (fg *FallbackGroup[T]) Names() []string {
	names := make([]string, len(fg.targets))
	for i, t := range fg.targets {
		names[i] = t.name
	}
	return names
}

// State returns the breaker state of the named target and whether it exists.
func (fg *FallbackGroup[T]) State(name string) (State, bool) {
	for _, t := range fg.targets {
		if t.name == name {
			return t.breaker.State(), true
		}
	}
	return StateClosed, false
}

// Execute calls fn with each target in order until one succeeds and returns
// that target's name. Targets whose breaker is open are skipped. When all
// fail, the error wraps [ErrAllFailed] and the last failure.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) (string, error) {
	var lastErr error
	for i := range fg.targets {
		t := &fg.targets[i]
		err := t.breaker.Execute(func() error { return fn(t.value) })
		if err == nil {
			return t.name, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("fallback: target skipped", "target", t.name)
			continue
		}
		slog.Warn("fallback: target failed", "target", t.name, "err", err)
	}
	return "", fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
