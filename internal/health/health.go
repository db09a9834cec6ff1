// Package health serves the liveness and readiness endpoints of the metrics
// listener.
//
//   - /healthz reports that the process is serving, plus static build info.
//   - /readyz runs every registered [Checker] concurrently. A failing
//     required check answers 503; a failing optional check only marks the
//     response "degraded".
//
// The operation log is an optional check: tools keep working when it is
// down. The Admin API circuit breaker is a required one.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Response statuses.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusFail     = "fail"
)

// Checker is a named readiness probe.
type Checker struct {
	// Name is the key of the check in the response, e.g. "oplog".
	Name string

	// Check returns nil when the dependency is usable. It must respect
	// context cancellation.
	Check func(ctx context.Context) error

	// Optional checks degrade readiness instead of failing it.
	Optional bool
}

// CheckResult is the outcome of one [Checker].
type CheckResult struct {
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"durationMs"`
}

// Response is the JSON body of both endpoints.
type Response struct {
	Status string                 `json:"status"`
	Info   map[string]string      `json:"info,omitempty"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction time.
type Handler struct {
	checkers []Checker
	info     map[string]string
}

// Option configures a [Handler].
type Option func(*Handler)

// WithInfo adds a static key/value pair to the /healthz response, e.g. the
// version or the store domain.
func WithInfo(key, value string) Option {
	return func(h *Handler) { h.info[key] = value }
}

// New creates a [Handler] evaluating checkers on every /readyz request.
func New(checkers []Checker, opts ...Option) *Handler {
	h := &Handler{
		checkers: append([]Checker(nil), checkers...),
		info:     make(map[string]string),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Healthz always answers 200 while the process can serve HTTP.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	res := Response{Status: StatusOK}
	if len(h.info) > 0 {
		res.Info = h.info
	}
	writeJSON(w, http.StatusOK, res)
}

// Readyz runs all checks and answers 200 unless a required check fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := h.Evaluate(r.Context())
	status := http.StatusOK
	if res.Status == StatusFail {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Evaluate runs every checker concurrently and aggregates the results.
func (h *Handler) Evaluate(ctx context.Context) Response {
	results := make([]CheckResult, len(h.checkers))
	var wg sync.WaitGroup
	for i, c := range h.checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = run(ctx, c)
		}()
	}
	wg.Wait()

	res := Response{Status: StatusOK, Checks: make(map[string]CheckResult, len(h.checkers))}
	for i, c := range h.checkers {
		cr := results[i]
		res.Checks[c.Name] = cr
		if cr.Status == StatusOK {
			continue
		}
		if !c.Optional {
			res.Status = StatusFail
		} else if res.Status == StatusOK {
			res.Status = StatusDegraded
		}
	}
	return res
}

func run(ctx context.Context, c Checker) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	start := time.Now()
	err := c.Check(ctx)
	cr := CheckResult{Status: StatusOK, DurationMs: time.Since(start).Milliseconds()}
	if err != nil {
		cr.Status = StatusFail
		cr.Error = err.Error()
	}
	return cr
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON encodes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
