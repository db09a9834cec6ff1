package shopify_test

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/shopify-store-mcp/internal/resilience"
	"github.com/MrWong99/shopify-store-mcp/internal/shopify"
)

func TestNewHTTPClient_Endpoint(t *testing.T) {
	t.Parallel()

	c, err := shopify.NewHTTPClient(shopify.ClientConfig{
		StoreDomain: "https://demo.myshopify.com/",
		AccessToken: "shpat_x",
	})
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}
	want := "https://demo.myshopify.com/admin/api/" + shopify.DefaultAPIVersion + "/graphql.json"
	if got := c.Endpoint(); got != want {
		t.Errorf("Endpoint() = %q, want %q", got, want)
	}

	if _, err := shopify.NewHTTPClient(shopify.ClientConfig{StoreDomain: "demo.myshopify.com"}); err == nil {
		t.Error("expected error without access token")
	}
	if _, err := shopify.NewHTTPClient(shopify.ClientConfig{AccessToken: "x"}); err == nil {
		t.Error("expected error without store domain")
	}
}

func TestHTTPClient_Execute(t *testing.T) {
	t.Parallel()

	var gotToken, gotQuery string
	var gotVars map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Shopify-Access-Token")
		var body struct {
			Query     string         `json:"query"`
			Variables map[string]any `json:"variables"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotQuery = body.Query
		gotVars = body.Variables
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"data":{"shop":{"name":"Demo"}}}`)
	}))
	t.Cleanup(srv.Close)

	c, err := shopify.NewHTTPClient(shopify.ClientConfig{AccessToken: "shpat_test", Endpoint: srv.URL})
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}

	out := c.Execute(context.Background(), shopify.DocPing, map[string]any{"a": "b"})
	if !out.OK() {
		t.Fatalf("Execute: %s", out.Summary())
	}
	var resp struct {
		Shop struct{ Name string } `json:"shop"`
	}
	if err := out.Decode(&resp); err != nil || resp.Shop.Name != "Demo" {
		t.Errorf("Decode = (%+v, %v)", resp, err)
	}
	if gotToken != "shpat_test" {
		t.Errorf("token header = %q", gotToken)
	}
	if gotQuery != shopify.DocPing {
		t.Errorf("query = %q", gotQuery)
	}
	if gotVars["a"] != "b" {
		t.Errorf("variables = %v", gotVars)
	}
}

func TestHTTPClient_BreakerOpensOnServerErrors(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:        "test",
		MaxFailures: 2,
		Cooldown:    time.Hour,
	})
	c, err := shopify.NewHTTPClient(shopify.ClientConfig{AccessToken: "x", Endpoint: srv.URL}, shopify.WithBreaker(cb))
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}

	for range 2 {
		out := c.Execute(context.Background(), shopify.DocPing, nil)
		if out.Kind != shopify.OutcomeGraphQLError || out.HTTPStatus != http.StatusServiceUnavailable {
			t.Fatalf("outcome = %+v, want 503 graphql error", out)
		}
	}
	if c.BreakerState() != resilience.StateOpen {
		t.Fatalf("breaker state = %s, want open", c.BreakerState())
	}

	out := c.Execute(context.Background(), shopify.DocPing, nil)
	if out.Kind != shopify.OutcomeTransportError {
		t.Errorf("outcome kind with open breaker = %s, want transport", out.Kind)
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("server hits = %d, want 2", got)
	}
}

func TestHTTPClient_CancelledCallsDoNotTripBreaker(t *testing.T) {
	t.Parallel()

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(slow.Close)

	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:        "test",
		MaxFailures: 2,
		Cooldown:    time.Hour,
	})
	c, err := shopify.NewHTTPClient(shopify.ClientConfig{AccessToken: "x", Endpoint: slow.URL}, shopify.WithBreaker(cb))
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}

	for range 5 {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		out := c.Execute(ctx, shopify.DocPing, nil)
		cancel()
		if out.Kind != shopify.OutcomeTransportError {
			t.Fatalf("kind = %s, want transport", out.Kind)
		}
	}
	if c.BreakerState() != resilience.StateClosed {
		t.Fatalf("breaker state after timed-out calls = %s, want closed", c.BreakerState())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = c.Execute(ctx, shopify.DocPing, nil)
	if c.BreakerState() != resilience.StateClosed {
		t.Errorf("breaker state after cancelled call = %s, want closed", c.BreakerState())
	}
}

func TestHTTPClient_GraphQLErrorsDoNotTripBreaker(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"errors":[{"message":"syntax error"}]}`)
	}))
	t.Cleanup(srv.Close)

	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "test", MaxFailures: 1})
	c, _ := shopify.NewHTTPClient(shopify.ClientConfig{AccessToken: "x", Endpoint: srv.URL}, shopify.WithBreaker(cb))

	for range 3 {
		out := c.Execute(context.Background(), "{ shop { nope } }", nil)
		if out.Kind != shopify.OutcomeGraphQLError {
			t.Fatalf("kind = %s, want graphql", out.Kind)
		}
	}
	if c.BreakerState() != resilience.StateClosed {
		t.Errorf("breaker state = %s, want closed", c.BreakerState())
	}
}

func TestHTTPTransferer_FieldOrder(t *testing.T) {
	t.Parallel()

	var names []string
	var fileName, fileBody, fileType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mr := multipart.NewReader(r.Body, params["boundary"])
		for {
			p, err := mr.NextPart()
			if err != nil {
				break
			}
			names = append(names, p.FormName())
			if p.FormName() == "file" {
				b, _ := io.ReadAll(p)
				fileName = p.FileName()
				fileBody = string(b)
				fileType = p.Header.Get("Content-Type")
			}
		}
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(srv.Close)

	tr := shopify.NewHTTPTransferer(nil)
	res, err := tr.Transfer(context.Background(), shopify.TransferRequest{
		URL: srv.URL,
		Fields: []shopify.StagedParameter{
			{Name: "key", Value: "tmp/1/bulk.jsonl"},
			{Name: "policy", Value: "abc"},
			{Name: "x-goog-signature", Value: "sig"},
		},
		Payload:  []byte(`{"input":{}}` + "\n"),
		Filename: "bulk-import.jsonl",
		MIMEType: "text/jsonl",
	})
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if !res.OK || res.Status != http.StatusCreated {
		t.Errorf("result = %+v, want 201 ok", res)
	}
	if got := strings.Join(names, ","); got != "key,policy,x-goog-signature,file" {
		t.Errorf("field order = %s", got)
	}
	if fileName != "bulk-import.jsonl" || fileType != "text/jsonl" || !strings.HasPrefix(fileBody, `{"input"`) {
		t.Errorf("file part = (%q, %q, %q)", fileName, fileType, fileBody)
	}
}

func TestHTTPTransferer_Failure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "AccessDenied", http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	res, err := shopify.NewHTTPTransferer(nil).Transfer(context.Background(), shopify.TransferRequest{
		URL: srv.URL, Payload: []byte("x"), Filename: "a.txt",
	})
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if res.OK || res.Status != http.StatusForbidden || !strings.Contains(res.Body, "AccessDenied") {
		t.Errorf("result = %+v", res)
	}
}
