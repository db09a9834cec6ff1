// Package observe carries the telemetry of shopify-store-mcp: OpenTelemetry
// instruments for tool calls, Admin API traffic, the admission queue and the
// operation log, span helpers that tie log lines to traces, and the HTTP
// middleware of the streamable transport.
//
// Instruments are created from any [metric.MeterProvider]. Production code
// uses [DefaultMetrics], backed by the global provider that [InitProvider]
// exports to Prometheus; tests pass a provider with a manual reader.
package observe

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// scopeName is the instrumentation scope of every instrument and span.
const scopeName = "github.com/MrWong99/shopify-store-mcp"

// Metrics holds the instruments of one process. Safe for concurrent use.
type Metrics struct {
	// ToolDuration is end-to-end tool latency, queueing and polling
	// included.
	ToolDuration metric.Float64Histogram
	// ToolCalls counts invocations by "tool" and "status".
	ToolCalls metric.Int64Counter

	// UpstreamDuration is the latency of single GraphQL requests.
	UpstreamDuration metric.Float64Histogram
	// UpstreamRequests counts GraphQL requests by "operation" and "status".
	UpstreamRequests metric.Int64Counter
	// UpstreamErrors counts failed requests by "kind": transport, graphql,
	// http_401 and so on.
	UpstreamErrors metric.Int64Counter

	QueueWait     metric.Float64Histogram
	QueuePending  metric.Int64UpDownCounter
	QueueInFlight metric.Int64UpDownCounter

	// PollChecks counts status checks by "workflow".
	PollChecks metric.Int64Counter

	// OplogWritten counts persisted entries by "backend".
	OplogWritten metric.Int64Counter
	// OplogDropped counts lost entries by "reason".
	OplogDropped metric.Int64Counter

	// HTTPRequestDuration tracks HTTP request processing time by "method",
	// "route" and "status". Routes are bounded by [Middleware].
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets (seconds) fit single API requests and queue waits.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// toolBuckets reach five minutes, the range of bulk and file polling.
var toolBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300,
}

// builder creates instruments on one meter and keeps the first error.
type builder struct {
	meter metric.Meter
	err   error
}

func (b *builder) seconds(name, desc string, buckets []float64) metric.Float64Histogram {
	if b.err != nil {
		return nil
	}
	h, err := b.meter.Float64Histogram(name,
		metric.WithDescription(desc),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(buckets...),
	)
	b.fail(name, err)
	return h
}

func (b *builder) counter(name, desc string) metric.Int64Counter {
	if b.err != nil {
		return nil
	}
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc))
	b.fail(name, err)
	return c
}

func (b *builder) gauge(name, desc string) metric.Int64UpDownCounter {
	if b.err != nil {
		return nil
	}
	g, err := b.meter.Int64UpDownCounter(name, metric.WithDescription(desc))
	b.fail(name, err)
	return g
}

func (b *builder) fail(name string, err error) {
	if err != nil {
		b.err = fmt.Errorf("observe: instrument %s: %w", name, err)
	}
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	b := &builder{meter: mp.Meter(scopeName)}
	m := &Metrics{
		ToolDuration: b.seconds("shopify_mcp.tool.duration", "Latency of MCP tool calls.", toolBuckets),
		ToolCalls:    b.counter("shopify_mcp.tool.calls", "Total tool invocations by tool name and status."),

		UpstreamDuration: b.seconds("shopify_mcp.upstream.duration", "Latency of Admin API GraphQL requests.", latencyBuckets),
		UpstreamRequests: b.counter("shopify_mcp.upstream.requests", "Total Admin API requests by operation and status."),
		UpstreamErrors:   b.counter("shopify_mcp.upstream.errors", "Total failed Admin API requests by kind."),

		QueueWait:     b.seconds("shopify_mcp.queue.wait", "Time calls spent waiting for admission.", latencyBuckets),
		QueuePending:  b.gauge("shopify_mcp.queue.pending", "Number of calls waiting for admission."),
		QueueInFlight: b.gauge("shopify_mcp.queue.in_flight", "Number of admitted calls still running."),

		PollChecks: b.counter("shopify_mcp.poll.checks", "Total status checks issued by polling workflows."),

		OplogWritten: b.counter("shopify_mcp.oplog.written", "Total operation log entries persisted by backend."),
		OplogDropped: b.counter("shopify_mcp.oplog.dropped", "Total operation log entries dropped by reason."),

		HTTPRequestDuration: b.seconds("shopify_mcp.http.request.duration", "HTTP request latency by method, route and status.", latencyBuckets),
	}
	if b.err != nil {
		return nil, b.err
	}
	return m, nil
}

// DefaultMetrics returns the process-wide [Metrics] on the global meter
// provider. It must be called after [InitProvider] for the instruments to be
// exported. Panics if instrument creation fails.
var DefaultMetrics = sync.OnceValue(func() *Metrics {
	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		panic(err)
	}
	return m
})

// RecordToolCall counts one tool invocation.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", status),
	))
}

// RecordUpstreamRequest counts one Admin API request.
func (m *Metrics) RecordUpstreamRequest(ctx context.Context, operation, status string) {
	m.UpstreamRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	))
}

func (m *Metrics) RecordUpstreamError(ctx context.Context, kind string) {
	m.UpstreamErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *Metrics) RecordPollCheck(ctx context.Context, workflow string) {
	m.PollChecks.Add(ctx, 1, metric.WithAttributes(attribute.String("workflow", workflow)))
}

func (m *Metrics) RecordOplogWrite(ctx context.Context, backend string) {
	m.OplogWritten.Add(ctx, 1, metric.WithAttributes(attribute.String("backend", backend)))
}

func (m *Metrics) RecordOplogDrop(ctx context.Context, reason string) {
	m.OplogDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
