package oplog

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/MrWong99/shopify-store-mcp/internal/observe"
	"github.com/MrWong99/shopify-store-mcp/internal/resilience"
)

// Defaults for [Sink].
const (
	DefaultBufferSize   = 256
	DefaultWriteTimeout = 5 * time.Second
)

var _ Recorder = (*Sink)(nil)

// Sink is the background [Recorder]. Entries go into a bounded buffer and a
// single writer goroutine persists them through a primary [Writer] and, if
// configured, a fallback spill file. Call [Sink.Close] to flush and stop.
type Sink struct {
	storeDomain  string
	sessionID    string
	bufferSize   int
	writeTimeout time.Duration
	spillPath    string
	metrics      *observe.Metrics
	now          func() time.Time

	writers *resilience.FallbackGroup[Writer]

	mu     sync.RWMutex
	closed bool
	ch     chan Entry
	done   chan struct{}

	dropped atomic.Int64
	written atomic.Int64
	failed  atomic.Int64

	// Warnings about lost entries are logged at most every warnEvery.
	dropWarn rate.Sometimes
	failWarn rate.Sometimes
}

const warnEvery = 30 * time.Second

// Option configures a [Sink].
type Option func(*Sink)

// WithStoreDomain tags every operation with the store it was made against.
func WithStoreDomain(domain string) Option {
	return func(s *Sink) { s.storeDomain = domain }
}

// WithSessionID overrides the generated per-process session id.
func WithSessionID(id string) Option {
	return func(s *Sink) { s.sessionID = id }
}

// WithBufferSize sets the number of entries that may wait for the writer.
func WithBufferSize(n int) Option {
	return func(s *Sink) {
		if n > 0 {
			s.bufferSize = n
		}
	}
}

// WithWriteTimeout bounds a single write attempt.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Sink) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// WithSpillFile adds a JSONL file that receives operations while the
// primary writer is failing.
func WithSpillFile(path string) Option {
	return func(s *Sink) { s.spillPath = path }
}

// WithMetrics records write and drop counts through m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Sink) { s.metrics = m }
}

// NewSink starts a sink writing through primary.
func NewSink(primary Writer, opts ...Option) *Sink {
	s := &Sink{
		bufferSize:   DefaultBufferSize,
		writeTimeout: DefaultWriteTimeout,
		now:          time.Now,
		done:         make(chan struct{}),
		dropWarn:     rate.Sometimes{First: 1, Interval: warnEvery},
		failWarn:     rate.Sometimes{First: 1, Interval: warnEvery},
	}
	for _, o := range opts {
		o(s)
	}
	if s.sessionID == "" {
		s.sessionID = uuid.NewString()
	}

	s.writers = resilience.NewFallbackGroup(primary, "store", resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures: 3,
			Cooldown:    30 * time.Second,
		},
	})
	if s.spillPath != "" {
		s.writers.AddFallback("spill", NewSpillFile(s.spillPath))
	}

	s.ch = make(chan Entry, s.bufferSize)
	go s.run()
	return s
}

// SessionID returns the id attached to every operation of this process.
func (s *Sink) SessionID() string { return s.sessionID }

// Record implements [Recorder]. It never blocks: when the buffer is full or
// the sink is closed the entry is dropped. The stored timestamp is e.At, or
// the time of this call when e.At is zero, so a backed-up writer does not
// shift it.
func (s *Sink) Record(e Entry) {
	if e.At.IsZero() {
		e.At = s.now()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.drop("closed")
		return
	}
	select {
	case s.ch <- e:
	default:
		s.drop("buffer_full")
	}
}

// Stats reports how many entries were written, failed to write, or dropped.
func (s *Sink) Stats() (written, failed, dropped int64) {
	return s.written.Load(), s.failed.Load(), s.dropped.Load()
}

// Close stops accepting entries, writes everything already buffered and
// waits for the writer to finish or ctx to expire.
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sink) run() {
	defer close(s.done)
	for e := range s.ch {
		s.write(e)
	}
}

func (s *Sink) write(e Entry) {
	op := e.Operation(s.storeDomain, s.sessionID, e.At)
	op.ID = uuid.NewString()

	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()

	backend, err := s.writers.Execute(func(w Writer) error {
		return w.Write(ctx, op)
	})
	if err != nil {
		n := s.failed.Add(1)
		s.failWarn.Do(func() {
			slog.Warn("oplog: write failed", "tool", e.ToolName, "failed_total", n, "err", err)
		})
		if s.metrics != nil {
			s.metrics.RecordOplogDrop(ctx, "write_failed")
		}
		return
	}
	s.written.Add(1)
	if s.metrics != nil {
		s.metrics.RecordOplogWrite(ctx, backend)
	}
}

func (s *Sink) drop(reason string) {
	n := s.dropped.Add(1)
	s.dropWarn.Do(func() {
		slog.Warn("oplog: entry dropped", "reason", reason, "dropped_total", n)
	})
	if s.metrics != nil {
		s.metrics.RecordOplogDrop(context.Background(), reason)
	}
}
