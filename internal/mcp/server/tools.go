package server

import (
	"context"
	"encoding/json"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/shopify-store-mcp/internal/workflow"
)

const instructions = `Tools for one Shopify store's Admin GraphQL API.
Every request is rate limited by the store's plan tier; use configure to change or detect it.
Long-running tools (bulk_export, bulk_import, upload_file) wait for completion; on timeout they return an ID to check later with bulk_status.
Read shopify://config for the active tier and shopify://tools for recent tool latency.
References on query syntax, IDs, scopes and these tools are under shopify://docs/.`

// ShopInfoInput is the input of get_shop_info. It takes no arguments.
type ShopInfoInput struct{}

func ptr[T any](v T) *T { return &v }

// Annotation presets.
var (
	readOnly = &mcpsdk.ToolAnnotations{
		ReadOnlyHint:  true,
		OpenWorldHint: ptr(true),
	}
	localReadOnly = &mcpsdk.ToolAnnotations{
		ReadOnlyHint:  true,
		OpenWorldHint: ptr(false),
	}
	additive = &mcpsdk.ToolAnnotations{
		DestructiveHint: ptr(false),
		OpenWorldHint:   ptr(true),
	}
	idempotent = &mcpsdk.ToolAnnotations{
		DestructiveHint: ptr(false),
		IdempotentHint:  true,
		OpenWorldHint:   ptr(true),
	}
	destructive = &mcpsdk.ToolAnnotations{
		DestructiveHint: ptr(true),
		IdempotentHint:  true,
		OpenWorldHint:   ptr(true),
	}
	// run_graphql_query may run mutations.
	unrestricted = &mcpsdk.ToolAnnotations{
		DestructiveHint: ptr(true),
		OpenWorldHint:   ptr(true),
	}
)

func (s *Server) registerTools() {
	r := s.runner

	register(s, &mcpsdk.Tool{
		Name:        workflow.ToolShopInfo,
		Description: "Get the shop's name, domain, plan and currency.",
		Annotations: readOnly,
	}, func(ctx context.Context, _ ShopInfoInput) (json.RawMessage, error) {
		return r.ShopInfo(ctx)
	})

	register(s, &mcpsdk.Tool{
		Name:        workflow.ToolRunGraphQL,
		Description: "Run an arbitrary Admin GraphQL query or mutation and return its data.",
		Annotations: unrestricted,
	}, r.RunGraphQL)

	register(s, &mcpsdk.Tool{
		Name: workflow.ToolConfigure,
		Description: "Set the rate limit tier (STANDARD, ADVANCED, PLUS, ENTERPRISE) or detect it from the shop plan. " +
			"The setting is stored and reused on the next start.",
		Annotations: &mcpsdk.ToolAnnotations{IdempotentHint: true, DestructiveHint: ptr(false), OpenWorldHint: ptr(false)},
	}, r.Configure)

	register(s, &mcpsdk.Tool{
		Name:        workflow.ToolHistory,
		Description: "List recent logged operations of this store, newest first, filtered by tool, type, outcome or time.",
		Annotations: localReadOnly,
	}, r.History)

	register(s, &mcpsdk.Tool{
		Name:        workflow.ToolStats,
		Description: "Aggregate call count, error count and average duration per tool over a day, week or month.",
		Annotations: localReadOnly,
	}, r.Stats)

	register(s, &mcpsdk.Tool{
		Name: workflow.ToolUploadFile,
		Description: "Upload a file to Shopify Files from a public URL, a local path or base64 content, " +
			"then wait until Shopify has processed it and return its CDN URL.",
		Annotations: additive,
	}, r.UploadFile)

	register(s, &mcpsdk.Tool{
		Name: workflow.ToolBulkExport,
		Description: "Export data with a bulk query and wait for it to finish (up to 5 minutes). " +
			"Returns a JSONL download URL. Only one bulk query can run per store at a time.",
		Annotations: readOnly,
	}, r.BulkExport)

	register(s, &mcpsdk.Tool{
		Name: workflow.ToolBulkImport,
		Description: "Run a mutation once per line of a JSONL payload as a bulk mutation and wait for it to finish. " +
			"Returns the operation id, final status and object count.",
		Annotations: unrestricted,
	}, r.BulkImport)

	register(s, &mcpsdk.Tool{
		Name:        workflow.ToolBulkStatus,
		Description: "Get the current bulk query or bulk mutation of the store.",
		Annotations: readOnly,
	}, r.BulkStatus)

	register(s, &mcpsdk.Tool{
		Name:        workflow.ToolBulkCancel,
		Description: "Cancel a running bulk operation.",
		Annotations: destructive,
	}, r.BulkCancel)

	register(s, &mcpsdk.Tool{
		Name:        workflow.ToolUpsertMetaobject,
		Description: "Create a metaobject or update the one with the same type and handle.",
		Annotations: idempotent,
	}, r.UpsertMetaobject)

	register(s, &mcpsdk.Tool{
		Name:        workflow.ToolDeleteMetaobject,
		Description: "Delete a metaobject by ID or by type and handle. Deleting a missing metaobject is not an error.",
		Annotations: destructive,
	}, r.DeleteMetaobject)

	register(s, &mcpsdk.Tool{
		Name:        workflow.ToolSchemaDiscover,
		Description: "List the store's metafield definitions per owner type and its metaobject definitions.",
		Annotations: readOnly,
	}, r.DiscoverSchema)
}
