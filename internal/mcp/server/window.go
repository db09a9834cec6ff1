package server

import (
	"slices"
	"sync"
)

// rollingWindow tracks the last N call latencies of one tool for percentile
// calculation. It is a ring buffer; only the most recent size samples count.
// All methods are safe for concurrent use.
type rollingWindow struct {
	mu      sync.Mutex
	samples []sample
	pos     int // next write position
	count   int // total samples written (may exceed len(samples))
}

type sample struct {
	latencyMs int64
	failed    bool
}

// newRollingWindow creates a window with the given capacity. A size of 0 or
// less defaults to 100.
func newRollingWindow(size int) *rollingWindow {
	if size <= 0 {
		size = 100
	}
	return &rollingWindow{samples: make([]sample, size)}
}

// Record adds one call to the window, overwriting the oldest once full.
func (w *rollingWindow) Record(latencyMs int64, failed bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples[w.pos] = sample{latencyMs: latencyMs, failed: failed}
	w.pos = (w.pos + 1) % len(w.samples)
	w.count++
}

// windowLen returns the number of meaningful samples. Caller holds mu.
func (w *rollingWindow) windowLen() int {
	return min(w.count, len(w.samples))
}

// ToolStats is a snapshot of one tool's recent calls.
type ToolStats struct {
	Calls     int     `json:"calls"`
	P50Ms     int64   `json:"p50Ms"`
	P99Ms     int64   `json:"p99Ms"`
	ErrorRate float64 `json:"errorRate"`
}

// Snapshot computes percentiles and the error rate over the current window.
// Calls is the lifetime count.
func (w *rollingWindow) Snapshot() ToolStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := w.windowLen()
	st := ToolStats{Calls: w.count}
	if n == 0 {
		return st
	}
	lat := make([]int64, n)
	failed := 0
	for i, s := range w.samples[:n] {
		lat[i] = s.latencyMs
		if s.failed {
			failed++
		}
	}
	slices.Sort(lat)
	st.P50Ms = lat[n/2]
	st.P99Ms = lat[int(float64(n-1)*0.99)]
	st.ErrorRate = float64(failed) / float64(n)
	return st
}
