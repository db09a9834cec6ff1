package server_test

import (
	"context"
	"slices"
	"strings"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

func TestListPrompts(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	res, err := f.client.ListPrompts(context.Background(), &mcpsdk.ListPromptsParams{})
	if err != nil {
		t.Fatalf("ListPrompts: %v", err)
	}
	var names []string
	for _, p := range res.Prompts {
		names = append(names, p.Name)
	}
	slices.Sort(names)
	want := []string{"analyze-product", "custom-query", "customer-insights", "inventory-health", "summarize-orders"}
	if !slices.Equal(names, want) {
		t.Errorf("prompts = %v, want %v", names, want)
	}
}

func TestGetPrompt(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	tests := []struct {
		name     string
		args     map[string]string
		contains []string
		wantErr  bool
	}{
		{
			name:     "analyze-product",
			args:     map[string]string{"productId": "42"},
			contains: []string{`"gid://shopify/Product/42"`, "run_graphql_query"},
		},
		{
			name:     "summarize-orders",
			contains: []string{"last week", "first: 50", `created_at:>=7_days_ago`},
		},
		{
			name:     "summarize-orders",
			args:     map[string]string{"timeframe": "month", "limit": "10"},
			contains: []string{"first: 10", `created_at:>=30_days_ago`},
		},
		{
			name:    "summarize-orders",
			args:    map[string]string{"timeframe": "year"},
			wantErr: true,
		},
		{
			name:     "inventory-health",
			contains: []string{"below 10 units", "bulk_export"},
		},
		{
			name:     "customer-insights",
			args:     map[string]string{"segment": "high-value"},
			contains: []string{`total_spent:>500`},
		},
		{
			name:     "customer-insights",
			contains: []string{`"all" customer segment`, "customers(first: 100)"},
		},
		{
			name:     "custom-query",
			args:     map[string]string{"intent": "list draft orders"},
			contains: []string{"list draft orders", "run_graphql_query"},
		},
		{
			name:    "custom-query",
			args:    map[string]string{"intent": "  "},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.client.GetPrompt(context.Background(), &mcpsdk.GetPromptParams{Name: tt.name, Arguments: tt.args})
			if tt.wantErr {
				if err == nil {
					t.Fatal("GetPrompt succeeded, want an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("GetPrompt: %v", err)
			}
			if len(res.Messages) != 1 || res.Messages[0].Role != "user" {
				t.Fatalf("messages = %+v, want one user message", res.Messages)
			}
			tc, ok := res.Messages[0].Content.(*mcpsdk.TextContent)
			if !ok {
				t.Fatalf("content is %T, want *TextContent", res.Messages[0].Content)
			}
			for _, want := range tt.contains {
				if !strings.Contains(tc.Text, want) {
					t.Errorf("prompt text missing %q:\n%s", want, tc.Text)
				}
			}
		})
	}
}

func TestReadResource_Docs(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	list, err := f.client.ListResources(context.Background(), &mcpsdk.ListResourcesParams{})
	if err != nil {
		t.Fatalf("ListResources: %v", err)
	}
	var docs []string
	for _, r := range list.Resources {
		if strings.HasPrefix(r.URI, "shopify://docs/") {
			docs = append(docs, r.URI)
		}
	}
	slices.Sort(docs)
	want := []string{
		"shopify://docs/gid-format",
		"shopify://docs/query-syntax",
		"shopify://docs/scopes",
		"shopify://docs/smart-tools",
	}
	if !slices.Equal(docs, want) {
		t.Fatalf("doc resources = %v, want %v", docs, want)
	}

	headings := map[string]string{
		"shopify://docs/gid-format":   "# Shopify global IDs",
		"shopify://docs/query-syntax": "# Shopify search query syntax",
		"shopify://docs/scopes":       "# Admin API access scopes",
		"shopify://docs/smart-tools":  "# Multi-step tools",
	}
	for uri, heading := range headings {
		res, err := f.client.ReadResource(context.Background(), &mcpsdk.ReadResourceParams{URI: uri})
		if err != nil {
			t.Fatalf("ReadResource(%s): %v", uri, err)
		}
		c := res.Contents[0]
		if c.MIMEType != "text/markdown" || !strings.HasPrefix(c.Text, heading) {
			t.Errorf("%s: mime %q, text starts %.40q", uri, c.MIMEType, c.Text)
		}
	}
}
