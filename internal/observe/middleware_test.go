package observe

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// serve sends req through the middleware around h and returns the recorder.
func serve(m *Metrics, h http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	Middleware(m)(h).ServeHTTP(rec, req)
	return rec
}

func spanAttr(t *testing.T, s tracetest.SpanStub, key string) (string, bool) {
	t.Helper()
	for _, a := range s.Attributes {
		if string(a.Key) == key {
			return a.Value.Emit(), true
		}
	}
	return "", false
}

func TestRoute(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"/mcp":          "/mcp",
		"/readyz":       "/readyz",
		"/metrics":      "/metrics",
		"/mcp/extra":    routeOther,
		"/wp-login.php": routeOther,
		"/":             routeOther,
	}
	for path, want := range tests {
		if got := route(path); got != want {
			t.Errorf("route(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestMiddleware_CorrelationIDFromNewTrace(t *testing.T) {
	useTestTracerProvider(t)
	m, _ := newTestMetrics(t)

	var seen string
	rec := serve(m, func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationID(r.Context())
	}, httptest.NewRequest(http.MethodPost, "/mcp", nil))

	if len(seen) != 32 {
		t.Fatalf("correlation ID = %q, want 32 hex chars", seen)
	}
	if got := rec.Header().Get(HeaderCorrelationID); got != seen {
		t.Errorf("%s = %q, want %q", HeaderCorrelationID, got, seen)
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	useTestTracerProvider(t)
	m, _ := newTestMetrics(t)

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")

	var seen string
	rec := serve(m, func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationID(r.Context())
	}, req)

	if seen != traceID || rec.Header().Get(HeaderCorrelationID) != traceID {
		t.Errorf("correlation ID = %q, header = %q, want %q", seen, rec.Header().Get(HeaderCorrelationID), traceID)
	}
}

func TestMiddleware_SpanCarriesRouteAndSession(t *testing.T) {
	exp := useTestTracerProvider(t)
	m, _ := newTestMetrics(t)

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set(HeaderMCPSession, "sess-42")
	serve(m, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}, req)

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	s := spans[0]
	if s.Name != "HTTP POST /mcp" {
		t.Errorf("span name = %q", s.Name)
	}
	if v, _ := spanAttr(t, s, "mcp.session.id"); v != "sess-42" {
		t.Errorf("mcp.session.id = %q", v)
	}
	if v, _ := spanAttr(t, s, "http.response.status_code"); v != "202" {
		t.Errorf("http.response.status_code = %q", v)
	}
	if s.Status.Code == codes.Error {
		t.Error("2xx response marked as error")
	}
}

func TestMiddleware_UnknownPathUsesBoundedRoute(t *testing.T) {
	exp := useTestTracerProvider(t)
	m, reader := newTestMetrics(t)

	serve(m, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}, httptest.NewRequest(http.MethodGet, "/wp-login.php", nil))

	if name := exp.GetSpans()[0].Name; name != "HTTP GET other" {
		t.Errorf("span name = %q, want bounded route", name)
	}

	met := findMetric(collect(t, reader), "shopify_mcp.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	dp := met.Data.(metricdata.Histogram[float64]).DataPoints[0]
	want := map[string]string{"method": "GET", "route": routeOther, "status": "404"}
	for k, v := range want {
		got, ok := dp.Attributes.Value(attribute.Key(k))
		if !ok || got.AsString() != v {
			t.Errorf("attribute %s = %q, want %q", k, got.AsString(), v)
		}
	}
}

func TestMiddleware_ServerErrorFailsSpan(t *testing.T) {
	exp := useTestTracerProvider(t)
	m, _ := newTestMetrics(t)

	serve(m, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}, httptest.NewRequest(http.MethodPost, "/mcp", nil))

	s := exp.GetSpans()[0]
	if s.Status.Code != codes.Error || s.Status.Description != "Bad Gateway" {
		t.Errorf("span status = %+v, want error", s.Status)
	}
}

func TestMiddleware_LogLevels(t *testing.T) {
	useTestTracerProvider(t)
	m, _ := newTestMetrics(t)

	tests := []struct {
		name      string
		path      string
		status    int
		wantLevel string
	}{
		{name: "mcp call", path: "/mcp", status: http.StatusOK, wantLevel: "level=INFO"},
		{name: "readiness probe", path: "/readyz", status: http.StatusOK, wantLevel: "level=DEBUG"},
		{name: "scrape", path: "/metrics", status: http.StatusOK, wantLevel: "level=DEBUG"},
		{name: "failing probe", path: "/readyz", status: http.StatusServiceUnavailable, wantLevel: "level=INFO"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			orig := slog.Default()
			slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
			t.Cleanup(func() { slog.SetDefault(orig) })

			serve(m, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}, httptest.NewRequest(http.MethodGet, tt.path, nil))

			out := buf.String()
			if !strings.Contains(out, `msg="http request"`) || !strings.Contains(out, tt.wantLevel) {
				t.Errorf("log = %q, want %s", out, tt.wantLevel)
			}
		})
	}
}

func TestMiddleware_CountsBytesAndSession(t *testing.T) {
	useTestTracerProvider(t)
	m, _ := newTestMetrics(t)
	buf := captureLogs(t)

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set(HeaderMCPSession, "sess-7")
	serve(m, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0"}`))
	}, req)

	out := buf.String()
	for _, want := range []string{"bytes=17", "mcp_session=sess-7", "status=200"} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q: %s", want, out)
		}
	}
}

func TestMiddleware_PreservesFlusher(t *testing.T) {
	useTestTracerProvider(t)
	m, _ := newTestMetrics(t)

	rec := serve(m, func(w http.ResponseWriter, _ *http.Request) {
		f, ok := w.(http.Flusher)
		if !ok {
			t.Error("wrapped writer does not implement http.Flusher")
			return
		}
		_, _ = w.Write([]byte("event: message\n\n"))
		f.Flush()
	}, httptest.NewRequest(http.MethodPost, "/mcp", nil))

	if !rec.Flushed {
		t.Error("response was not flushed through the middleware")
	}
}

func TestMiddleware_ResponseControllerReachesWriter(t *testing.T) {
	useTestTracerProvider(t)
	m, _ := newTestMetrics(t)

	serve(m, func(w http.ResponseWriter, _ *http.Request) {
		if err := http.NewResponseController(w).Flush(); err != nil {
			t.Errorf("ResponseController.Flush: %v", err)
		}
	}, httptest.NewRequest(http.MethodGet, "/mcp", nil).WithContext(context.Background()))
}
