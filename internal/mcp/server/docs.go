package server

import (
	"context"
	"embed"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

//go:embed docs/*.md
var docsFS embed.FS

// doc is one static markdown reference served as a resource.
type doc struct {
	uri, file, name, title, description string
}

// Reference documents under shopify://docs/.
var docs = []doc{
	{
		uri:         "shopify://docs/query-syntax",
		file:        "docs/query-syntax.md",
		name:        "query-syntax",
		title:       "Shopify Query Syntax Reference",
		description: "Search query syntax for filtering products, orders, customers and collections.",
	},
	{
		uri:         "shopify://docs/gid-format",
		file:        "docs/gid-format.md",
		name:        "gid-format",
		title:       "Shopify GID Format Reference",
		description: "The global ID format identifying Admin API objects.",
	},
	{
		uri:         "shopify://docs/scopes",
		file:        "docs/scopes.md",
		name:        "api-scopes",
		title:       "API Scopes Reference",
		description: "Admin API access scopes each tool needs, and how to fix a 403.",
	},
	{
		uri:         "shopify://docs/smart-tools",
		file:        "docs/smart-tools.md",
		name:        "smart-tools",
		title:       "Multi-step Tools Reference",
		description: "Inputs and behaviour of the bulk, file and metaobject tools.",
	},
}

func (s *Server) registerDocs() {
	for _, d := range docs {
		s.sdk.AddResource(&mcpsdk.Resource{
			URI:         d.uri,
			Name:        d.name,
			Title:       d.title,
			Description: d.description,
			MIMEType:    "text/markdown",
		}, func(context.Context, *mcpsdk.ReadResourceRequest) (*mcpsdk.ReadResourceResult, error) {
			b, err := docsFS.ReadFile(d.file)
			if err != nil {
				return nil, fmt.Errorf("server: read %s: %w", d.uri, err)
			}
			return &mcpsdk.ReadResourceResult{Contents: []*mcpsdk.ResourceContents{{
				URI:      d.uri,
				MIMEType: "text/markdown",
				Text:     string(b),
			}}}, nil
		})
	}
}
