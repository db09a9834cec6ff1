// Package shopify is the boundary to the Shopify Admin GraphQL API.
//
// [Executor] is the one capability the workflows consume: send a document,
// get back a normalised [Outcome]. [HTTPClient] implements it over HTTPS and
// guards the upstream with a circuit breaker. [Transferer] posts raw bytes to
// staged upload targets. The package also holds the GraphQL documents and
// the response types the workflows decode into.
package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/shopify-store-mcp/internal/observe"
	"github.com/MrWong99/shopify-store-mcp/internal/resilience"
)

// DefaultAPIVersion is the Admin API version used when none is configured.
const DefaultAPIVersion = "2025-01"

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 32 << 20

// Executor sends one GraphQL document to the Admin API. Implementations never
// return Go errors; every failure is folded into the [Outcome].
type Executor interface {
	Execute(ctx context.Context, document string, variables map[string]any) Outcome
}

// ClientConfig configures an [HTTPClient].
type ClientConfig struct {
	// StoreDomain is the myshopify domain, e.g. "example.myshopify.com".
	StoreDomain string

	// AccessToken is the Admin API access token.
	AccessToken string

	// APIVersion defaults to [DefaultAPIVersion].
	APIVersion string

	// Timeout bounds a single HTTP request. Default: 30s.
	Timeout time.Duration

	// Endpoint overrides the URL derived from StoreDomain and APIVersion.
	Endpoint string
}

// HTTPClient is an [Executor] backed by net/http.
type HTTPClient struct {
	endpoint string
	token    string
	http     *http.Client
	breaker  *resilience.CircuitBreaker
	metrics  *observe.Metrics
}

var _ Executor = (*HTTPClient)(nil)

// ClientOption configures an [HTTPClient].
type ClientOption func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *HTTPClient) { c.http = hc }
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) ClientOption {
	return func(c *HTTPClient) { c.breaker = cb }
}

// WithMetrics records upstream request metrics through m.
func WithMetrics(m *observe.Metrics) ClientOption {
	return func(c *HTTPClient) { c.metrics = m }
}

// NewHTTPClient creates a client for the store described by cfg.
func NewHTTPClient(cfg ClientConfig, opts ...ClientOption) (*HTTPClient, error) {
	if cfg.AccessToken == "" {
		return nil, errors.New("shopify: access token is required")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		domain := NormalizeStoreDomain(cfg.StoreDomain)
		if domain == "" {
			return nil, errors.New("shopify: store domain is required")
		}
		version := cfg.APIVersion
		if version == "" {
			version = DefaultAPIVersion
		}
		endpoint = "https://" + domain + "/admin/api/" + version + "/graphql.json"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &HTTPClient{
		endpoint: endpoint,
		token:    cfg.AccessToken,
		http:     &http.Client{Timeout: timeout},
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:        "shopify-admin",
			MaxFailures: 5,
			Cooldown:    30 * time.Second,
		}),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Endpoint returns the GraphQL endpoint URL.
func (c *HTTPClient) Endpoint() string { return c.endpoint }

// BreakerState reports the state of the upstream circuit breaker.
func (c *HTTPClient) BreakerState() resilience.State { return c.breaker.State() }

// Execute implements [Executor]. Transport failures, 5xx and 429 responses
// count against the circuit breaker; GraphQL and validation errors and
// requests cancelled by ctx do not.
func (c *HTTPClient) Execute(ctx context.Context, document string, variables map[string]any) Outcome {
	op := OperationName(document)
	ctx, span := observe.StartSpan(ctx, "shopify.graphql "+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("graphql.operation.name", op),
			attribute.String("graphql.operation.type", OperationType(document)),
		),
	)
	defer span.End()

	start := time.Now()
	var out Outcome
	err := c.breaker.Execute(func() error {
		out = c.do(ctx, document, variables)
		return breakerError(ctx, out)
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		out = TransportFailure(fmt.Errorf("shopify: upstream unavailable: %w", err))
	}

	c.record(ctx, op, out, time.Since(start))
	if !out.OK() {
		observe.Fail(span, out.Summary(), out.Cause)
	}
	if out.HTTPStatus != 0 {
		span.SetAttributes(attribute.Int("http.response.status_code", out.HTTPStatus))
	}
	return out
}

func (c *HTTPClient) do(ctx context.Context, document string, variables map[string]any) Outcome {
	payload := map[string]any{"query": document}
	if len(variables) > 0 {
		payload["variables"] = variables
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return TransportFailure(fmt.Errorf("shopify: encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return TransportFailure(fmt.Errorf("shopify: build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Shopify-Access-Token", c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return TransportFailure(fmt.Errorf("shopify: request: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return TransportFailure(fmt.Errorf("shopify: read response: %w", err))
	}
	return DecodeResponse(resp.StatusCode, raw)
}

func (c *HTTPClient) record(ctx context.Context, op string, out Outcome, d time.Duration) {
	if c.metrics == nil {
		return
	}
	status := out.Kind.String()
	c.metrics.RecordUpstreamRequest(ctx, op, status)
	c.metrics.UpstreamDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("operation", op), attribute.String("status", status)),
	)
	if !out.OK() {
		kind := status
		if out.HTTPStatus >= 400 {
			kind = "http_" + strconv.Itoa(out.HTTPStatus)
		}
		c.metrics.RecordUpstreamError(ctx, kind)
	}
}

// breakerError maps an outcome to the error the circuit breaker counts.
// Requests abandoned by the caller say nothing about the upstream and are
// not counted.
func breakerError(ctx context.Context, o Outcome) error {
	switch {
	case o.Kind == OutcomeTransportError:
		if ctx.Err() != nil || errors.Is(o.Cause, context.Canceled) || errors.Is(o.Cause, context.DeadlineExceeded) {
			return nil
		}
		return o.Cause
	case o.HTTPStatus == http.StatusTooManyRequests, o.HTTPStatus >= 500:
		return fmt.Errorf("shopify: upstream status %d", o.HTTPStatus)
	}
	return nil
}

// NormalizeStoreDomain strips a URL scheme and trailing slashes from s.
func NormalizeStoreDomain(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	return strings.TrimRight(s, "/")
}
