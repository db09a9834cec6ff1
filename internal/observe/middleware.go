package observe

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Header names read or written by [Middleware].
const (
	HeaderCorrelationID = "X-Correlation-ID"
	HeaderMCPSession    = "Mcp-Session-Id"
)

// routeOther labels requests outside the known routes, keeping the route
// attribute bounded.
const routeOther = "other"

// knownRoutes are the paths the server answers on.
var knownRoutes = map[string]bool{
	"/mcp":     true,
	"/metrics": true,
	"/healthz": true,
	"/readyz":  true,
}

// probeRoutes are polled by scrapers and orchestrators and log at debug.
var probeRoutes = map[string]bool{
	"/metrics": true,
	"/healthz": true,
	"/readyz":  true,
}

// route maps a request path to a bounded metric label.
func route(path string) string {
	if knownRoutes[path] {
		return path
	}
	return routeOther
}

// statusRecorder captures the status code and body size written by the
// downstream handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	n, err := r.ResponseWriter.Write(p)
	r.bytes += int64(n)
	return n, err
}

// Flush forwards to the wrapped writer so MCP event streams reach the client
// as they are written.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the wrapped writer to [http.ResponseController].
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Middleware traces, measures and logs every request to the HTTP transport.
//
// The span continues an incoming W3C trace context when one is sent, and its
// trace ID is echoed in the X-Correlation-ID response header. Requests that
// belong to an MCP session carry the session ID as a span attribute and log
// field. The duration histogram is labelled with the method, a bounded route
// and the status code. Probe and scrape requests log at debug level.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rt := route(r.URL.Path)

			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := StartSpan(ctx, "HTTP "+r.Method+" "+rt,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
					semconv.HTTPRoute(rt),
				),
			)
			defer span.End()

			session := r.Header.Get(HeaderMCPSession)
			if session != "" {
				span.SetAttributes(attribute.String("mcp.session.id", session))
			}

			cid := CorrelationID(ctx)
			if cid != "" {
				w.Header().Set(HeaderCorrelationID, cid)
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(ctx))

			elapsed := time.Since(start)
			m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
				metric.WithAttributes(
					attribute.String("method", r.Method),
					attribute.String("route", rt),
					attribute.String("status", strconv.Itoa(rec.status)),
				),
			)
			span.SetAttributes(semconv.HTTPResponseStatusCode(rec.status))
			if rec.status >= http.StatusInternalServerError {
				Fail(span, http.StatusText(rec.status), nil)
			}

			level := slog.LevelInfo
			if probeRoutes[rt] && rec.status < http.StatusInternalServerError {
				level = slog.LevelDebug
			}
			attrs := []slog.Attr{
				slog.String("trace_id", cid),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Int64("bytes", rec.bytes),
				slog.Duration("duration", elapsed),
			}
			if session != "" {
				attrs = append(attrs, slog.String("mcp_session", session))
			}
			slog.LogAttrs(ctx, level, "http request", attrs...)
		})
	}
}
