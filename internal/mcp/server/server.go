// Package server exposes a [workflow.Runner] as an MCP server.
//
// Every tool call is dispatched through one boundary that opens a span,
// recovers panics, renders failures with [workflow.Render] and records
// metrics. Results are returned as indented JSON text content; failures set
// IsError so the agent sees the message instead of a protocol error.
//
// Two read-only resources report live state: shopify://config (tier and
// queue) and shopify://tools (recent latency and error rate per tool).
// Static references live under shopify://docs/, and a few prompts start
// common store analyses.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/shopify-store-mcp/internal/observe"
	"github.com/MrWong99/shopify-store-mcp/internal/workflow"
)

// Implementation name announced to clients.
const Name = "shopify-store-mcp"

// Server is the MCP front end. Create with [New]; serve with
// [Server.ServeStdio] or [Server.HTTPHandler].
type Server struct {
	runner     *workflow.Runner
	sdk        *mcpsdk.Server
	metrics    *observe.Metrics
	version    string
	windowSize int

	mu      sync.Mutex
	windows map[string]*rollingWindow
}

// Option configures a [Server].
type Option func(*Server)

// WithMetrics records tool calls through m. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithVersion sets the version announced to clients.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithWindowSize sets how many recent calls per tool the shopify://tools
// resource summarises. Default: 100.
func WithWindowSize(n int) Option {
	return func(s *Server) { s.windowSize = n }
}

// New creates a Server with every tool, resource and prompt registered.
func New(runner *workflow.Runner, opts ...Option) *Server {
	s := &Server{
		runner:  runner,
		version: "dev",
		windows: make(map[string]*rollingWindow),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.sdk = mcpsdk.NewServer(&mcpsdk.Implementation{Name: Name, Version: s.version}, &mcpsdk.ServerOptions{
		Instructions: instructions,
	})
	s.registerTools()
	s.registerResources()
	s.registerDocs()
	s.registerPrompts()
	return s
}

// ServeStdio serves one session over stdin/stdout until ctx is cancelled or
// the client disconnects.
func (s *Server) ServeStdio(ctx context.Context) error {
	return s.sdk.Run(ctx, &mcpsdk.StdioTransport{})
}

// HTTPHandler returns a Streamable HTTP handler serving this server.
func (s *Server) HTTPHandler() http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server { return s.sdk }, nil)
}

// Connect serves a single session over t.
func (s *Server) Connect(ctx context.Context, t mcpsdk.Transport) (*mcpsdk.ServerSession, error) {
	return s.sdk.Connect(ctx, t, nil)
}

// ToolStats returns a snapshot of every tool that has been called.
func (s *Server) ToolStats() map[string]ToolStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]ToolStats, len(s.windows))
	for name, w := range s.windows {
		out[name] = w.Snapshot()
	}
	return out
}

// ── dispatch ─────────────────────────────────────────────────────────────────

// register adds one tool whose handler is fn. The typed result is encoded as
// the text content of the call result.
func register[In, Out any](s *Server, tool *mcpsdk.Tool, fn func(context.Context, In) (Out, error)) {
	name := tool.Name
	mcpsdk.AddTool(s.sdk, tool, func(ctx context.Context, _ *mcpsdk.CallToolRequest, in In) (*mcpsdk.CallToolResult, any, error) {
		return s.dispatch(ctx, name, func(ctx context.Context) (any, error) {
			return fn(ctx, in)
		}), nil, nil
	})
}

// dispatch runs fn inside the tool boundary. It never returns nil.
func (s *Server) dispatch(ctx context.Context, tool string, fn func(context.Context) (any, error)) (res *mcpsdk.CallToolResult) {
	ctx, span := observe.StartSpan(ctx, "tool "+tool,
		trace.WithAttributes(attribute.String("mcp.tool", tool)),
	)
	start := time.Now()

	defer func() {
		if p := recover(); p != nil {
			observe.Logger(ctx).Error("mcp: tool panicked",
				"tool", tool, "panic", p, "stack", string(debug.Stack()))
			res = errorResult("Error: unexpected failure in " + tool)
		}
		if res.IsError {
			observe.Fail(span, "tool failed", nil)
		}
		s.observe(ctx, tool, time.Since(start), res.IsError)
		span.End()
	}()

	out, err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		observe.Logger(ctx).Warn("mcp: tool failed", "tool", tool, "err", err)
		return errorResult(workflow.Render(err))
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("Error: encode %s result: %v", tool, err))
	}
	return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(b)}}}
}

func errorResult(text string) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}},
		IsError: true,
	}
}

func (s *Server) observe(ctx context.Context, tool string, d time.Duration, failed bool) {
	status := "ok"
	if failed {
		status = "error"
	}
	s.metrics.RecordToolCall(ctx, tool, status)
	s.metrics.ToolDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("tool", tool)),
	)
	s.window(tool).Record(d.Milliseconds(), failed)
}

func (s *Server) window(tool string) *rollingWindow {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[tool]
	if !ok {
		w = newRollingWindow(s.windowSize)
		s.windows[tool] = w
	}
	return w
}

// ── resources ────────────────────────────────────────────────────────────────

// Resource URIs.
const (
	ConfigURI = "shopify://config"
	ToolsURI  = "shopify://tools"
)

// ConfigView is the content of the shopify://config resource.
type ConfigView struct {
	StoreDomain    string                       `json:"storeDomain,omitempty"`
	Tier           string                       `json:"tier"`
	TierConfig     workflow.TierView            `json:"tierConfig"`
	Queue          QueueView                    `json:"queue"`
	AvailableTiers map[string]workflow.TierView `json:"availableTiers"`
}

// QueueView mirrors the queue statistics.
type QueueView struct {
	Pending  int  `json:"pending"`
	InFlight int  `json:"inFlight"`
	Paused   bool `json:"isPaused"`
}

// ToolView is one entry of the shopify://tools resource.
type ToolView struct {
	Name string `json:"name"`
	ToolStats
}

func (s *Server) registerResources() {
	s.sdk.AddResource(&mcpsdk.Resource{
		URI:         ConfigURI,
		Name:        "config",
		Description: "Active rate limit tier, its limits and the admission queue state.",
		MIMEType:    "application/json",
	}, func(context.Context, *mcpsdk.ReadResourceRequest) (*mcpsdk.ReadResourceResult, error) {
		return jsonResource(ConfigURI, s.configView())
	})
	s.sdk.AddResource(&mcpsdk.Resource{
		URI:         ToolsURI,
		Name:        "tools",
		Description: "Call count, p50/p99 latency and error rate of recent tool calls.",
		MIMEType:    "application/json",
	}, func(context.Context, *mcpsdk.ReadResourceRequest) (*mcpsdk.ReadResourceResult, error) {
		return jsonResource(ToolsURI, s.toolViews())
	})
}

func (s *Server) configView() ConfigView {
	q := s.runner.Queue()
	info := q.TierInfo()
	st := q.Stats()
	v := ConfigView{
		StoreDomain:    s.runner.StoreDomain(),
		Tier:           string(info.Tier),
		TierConfig:     workflow.ViewTier(info.Config),
		Queue:          QueueView{Pending: st.Pending, InFlight: st.InFlight, Paused: st.Paused},
		AvailableTiers: make(map[string]workflow.TierView),
	}
	for t, c := range workflow.AvailableTiers() {
		v.AvailableTiers[string(t)] = c
	}
	return v
}

func (s *Server) toolViews() []ToolView {
	stats := s.ToolStats()
	views := make([]ToolView, 0, len(stats))
	for name, st := range stats {
		views = append(views, ToolView{Name: name, ToolStats: st})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Name < views[j].Name })
	return views
}

func jsonResource(uri string, v any) (*mcpsdk.ReadResourceResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("server: encode %s: %w", uri, err)
	}
	return &mcpsdk.ReadResourceResult{Contents: []*mcpsdk.ResourceContents{{
		URI:      uri,
		MIMEType: "application/json",
		Text:     string(b),
	}}}, nil
}
