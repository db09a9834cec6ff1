package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/shopify-store-mcp/internal/observe"
)

// ErrCleared is returned to callers whose work was discarded by
// [Queue.Clear] before it was admitted.
var ErrCleared = errors.New("ratelimit: queued call cancelled")

// ErrClosed is returned by [Queue.Enqueue] after [Queue.Close].
var ErrClosed = errors.New("ratelimit: queue closed")

// TierInfo is a consistent snapshot of the active tier.
type TierInfo struct {
	Tier   Tier       `json:"tier"`
	Config TierConfig `json:"config"`
}

// Stats is a point-in-time view of the queue.
type Stats struct {
	Tier     Tier `json:"tier"`
	Pending  int  `json:"pending"`
	InFlight int  `json:"inFlight"`
	Paused   bool `json:"isPaused"`
}

// generation is one scheduler instance. Its tier and config never change
// after construction; running and starts are guarded by Queue.mu.
type generation struct {
	tier    Tier
	cfg     TierConfig
	running int
	// starts holds the admission times of the last IntervalCap units,
	// oldest first.
	starts []time.Time
}

func newGeneration(tier Tier, cfg TierConfig) *generation {
	return &generation{
		tier:   tier,
		cfg:    cfg,
		starts: make([]time.Time, 0, cfg.IntervalCap),
	}
}

// wait returns how long until another unit may start at now without
// exceeding IntervalCap starts in any window of Interval.
func (g *generation) wait(now time.Time) time.Duration {
	if len(g.starts) < g.cfg.IntervalCap {
		return 0
	}
	return max(g.starts[0].Add(g.cfg.Interval).Sub(now), 0)
}

func (g *generation) recordStart(now time.Time) {
	if len(g.starts) == g.cfg.IntervalCap {
		g.starts = slices.Delete(g.starts, 0, 1)
	}
	g.starts = append(g.starts, now)
}

// inherit carries the most recent starts of prev over so a tier change does
// not open a fresh window.
func (g *generation) inherit(prev *generation) {
	tail := prev.starts[max(len(prev.starts)-g.cfg.IntervalCap, 0):]
	g.starts = append(g.starts, tail...)
}

// waiter is one unit of work waiting for admission. admit is closed exactly
// once by the dispatcher; gen or err is set before that.
type waiter struct {
	enqueued time.Time
	admit    chan struct{}
	gen      *generation
	err      error
}

// Queue is the process-wide admission gate for upstream calls. Waiting work
// is admitted in FIFO order, at most TierConfig.Concurrency calls run at once
// and no more than TierConfig.IntervalCap calls start within any rolling
// TierConfig.Interval.
//
// Work runs on the caller's goroutine once admitted. All methods are safe for
// concurrent use. Create instances with [NewQueue].
type Queue struct {
	gen atomic.Pointer[generation]

	mu       sync.Mutex
	pending  []*waiter
	inFlight int
	paused   bool
	closed   bool

	wake chan struct{}
	done chan struct{}
	exit chan struct{}

	metrics *observe.Metrics
}

// QueueOption configures a [Queue].
type QueueOption func(*Queue)

// WithMetrics records queue wait and depth through m.
func WithMetrics(m *observe.Metrics) QueueOption {
	return func(q *Queue) { q.metrics = m }
}

// NewQueue creates a queue running under tier and starts its dispatcher.
// Unknown tiers fall back to [TierStandard]. Call [Queue.Close] when done.
func NewQueue(tier Tier, opts ...QueueOption) *Queue {
	if !tier.IsValid() {
		tier = TierStandard
	}
	q := &Queue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		exit: make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	q.gen.Store(newGeneration(tier, Configs[tier]))
	go q.dispatch()
	return q
}

// Enqueue waits for admission and then runs fn on the calling goroutine,
// returning fn's error. If ctx ends while waiting, the work is withdrawn and
// ctx.Err() is returned. Work discarded by [Queue.Clear] returns
// [ErrCleared].
func (q *Queue) Enqueue(ctx context.Context, fn func(ctx context.Context) error) error {
	w := &waiter{enqueued: time.Now(), admit: make(chan struct{})}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.pending = append(q.pending, w)
	q.mu.Unlock()
	q.addPending(ctx, 1)
	q.kick()

	select {
	case <-w.admit:
	case <-ctx.Done():
		if q.withdraw(w) {
			q.addPending(ctx, -1)
			return ctx.Err()
		}
		// Admitted or rejected concurrently with cancellation.
		<-w.admit
		if w.err != nil {
			return w.err
		}
		q.release(ctx, w.gen)
		return ctx.Err()
	}
	if w.err != nil {
		return w.err
	}

	q.recordWait(ctx, w)
	defer q.release(ctx, w.gen)
	return fn(ctx)
}

// Do runs fn through q and returns its result. See [Queue.Enqueue].
func Do[T any](ctx context.Context, q *Queue, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := q.Enqueue(ctx, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// Update switches the queue to tier by installing a fresh scheduler
// generation. Waiting work stays queued in order and is admitted under the
// new rules; work already running finishes and is accounted to the
// generation that admitted it.
func (q *Queue) Update(tier Tier) error {
	t, err := ParseTier(string(tier))
	if err != nil {
		return err
	}
	q.install(t, Configs[t])
	return nil
}

func (q *Queue) install(tier Tier, cfg TierConfig) {
	next := newGeneration(tier, cfg)
	q.mu.Lock()
	next.inherit(q.gen.Load())
	prev := q.gen.Swap(next)
	pending := len(q.pending)
	q.mu.Unlock()
	q.kick()

	slog.Info("ratelimit: tier updated",
		"from", prev.tier,
		"to", tier,
		"concurrency", cfg.Concurrency,
		"interval_cap", cfg.IntervalCap,
		"pending", pending,
	)
}

// TierInfo returns the active tier and its config.
func (q *Queue) TierInfo() TierInfo {
	g := q.gen.Load()
	return TierInfo{Tier: g.tier, Config: g.cfg}
}

// Pause stops admitting new work. Running work continues.
func (q *Queue) Pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
}

// Resume re-enables admission after [Queue.Pause].
func (q *Queue) Resume() {
	q.mu.Lock()
	q.paused = false
	q.mu.Unlock()
	q.kick()
}

// Clear rejects all waiting work with [ErrCleared]. Running work is not
// affected. It returns the number of discarded units.
func (q *Queue) Clear() int {
	q.mu.Lock()
	dropped := q.pending
	q.pending = nil
	for _, w := range dropped {
		w.err = ErrCleared
		close(w.admit)
	}
	q.mu.Unlock()
	q.addPending(context.Background(), -int64(len(dropped)))
	if len(dropped) > 0 {
		slog.Info("ratelimit: queue cleared", "dropped", len(dropped))
	}
	return len(dropped)
}

// Stats returns a snapshot of the queue.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Tier:     q.gen.Load().tier,
		Pending:  len(q.pending),
		InFlight: q.inFlight,
		Paused:   q.paused,
	}
}

// Close stops the dispatcher and rejects waiting work with [ErrClosed].
// Running work is not interrupted. Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	dropped := q.pending
	q.pending = nil
	for _, w := range dropped {
		w.err = ErrClosed
		close(w.admit)
	}
	q.mu.Unlock()
	q.addPending(context.Background(), -int64(len(dropped)))
	close(q.done)
	<-q.exit
}

// ── dispatcher ────────────────────────────────────────────────────────────────

// dispatch admits waiting work whenever a slot is free and the start window
// allows it.
func (q *Queue) dispatch() {
	defer close(q.exit)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		delay, admitted := q.admitNext()
		if admitted {
			continue
		}

		var timerC <-chan time.Time
		if delay > 0 {
			timer.Reset(delay)
			timerC = timer.C
		}
		select {
		case <-q.done:
			return
		case <-q.wake:
		case <-timerC:
		}
		if delay > 0 && !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}
}

// admitNext admits the head of the FIFO if the active generation allows it.
// When blocked only by the start window it returns the wait until the oldest
// start leaves it.
func (q *Queue) admitNext() (time.Duration, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.paused || len(q.pending) == 0 {
		return 0, false
	}
	g := q.gen.Load()
	if g.running >= g.cfg.Concurrency {
		return 0, false
	}
	now := time.Now()
	if d := g.wait(now); d > 0 {
		return d, false
	}
	g.recordStart(now)

	w := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	g.running++
	q.inFlight++
	w.gen = g
	close(w.admit)
	q.addPending(context.Background(), -1)
	q.addInFlight(context.Background(), 1)
	return 0, true
}

// withdraw removes w from the FIFO if it is still waiting.
func (q *Queue) withdraw(w *waiter) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := slices.Index(q.pending, w)
	if i < 0 {
		return false
	}
	q.pending = slices.Delete(q.pending, i, i+1)
	return true
}

// release frees the slot held by a unit admitted under g.
func (q *Queue) release(ctx context.Context, g *generation) {
	q.mu.Lock()
	g.running--
	q.inFlight--
	q.mu.Unlock()
	q.addInFlight(ctx, -1)
	q.kick()
}

func (q *Queue) kick() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// ── metrics ───────────────────────────────────────────────────────────────────

func (q *Queue) addPending(ctx context.Context, n int64) {
	if q.metrics != nil && n != 0 {
		q.metrics.QueuePending.Add(ctx, n)
	}
}

func (q *Queue) addInFlight(ctx context.Context, n int64) {
	if q.metrics != nil {
		q.metrics.QueueInFlight.Add(ctx, n)
	}
}

func (q *Queue) recordWait(ctx context.Context, w *waiter) {
	if q.metrics == nil {
		return
	}
	q.metrics.QueueWait.Record(ctx, time.Since(w.enqueued).Seconds(),
		metric.WithAttributes(attribute.String("tier", string(w.gen.tier))),
	)
}
