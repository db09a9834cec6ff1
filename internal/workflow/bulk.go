package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/shopify-store-mcp/internal/poll"
	"github.com/MrWong99/shopify-store-mcp/internal/shopify"
)

// BulkExportInput is the input of the bulk_export tool.
type BulkExportInput struct {
	Query string `json:"query" jsonschema:"GraphQL query to export, e.g. { products { edges { node { id title } } } }"`
}

// BulkImportInput is the input of the bulk_import tool.
type BulkImportInput struct {
	Mutation string `json:"mutation" jsonschema:"GraphQL mutation run once per JSONL line, e.g. mutation call($input: ProductInput!) { productCreate(input: $input) { product { id } userErrors { field message } } }"`
	JSONL    string `json:"jsonl" jsonschema:"JSONL payload, one line of mutation variables per object"`
}

// BulkStatusInput is the input of the bulk_status tool.
type BulkStatusInput struct {
	Type string `json:"type,omitempty" jsonschema:"QUERY or MUTATION (default QUERY)"`
}

// BulkCancelInput is the input of the bulk_cancel tool.
type BulkCancelInput struct {
	ID string `json:"id" jsonschema:"Bulk operation ID, numeric or gid://shopify/BulkOperation/..."`
}

// BulkOperationSummary is the agent-facing view of a bulk operation.
type BulkOperationSummary struct {
	ID          string             `json:"id"`
	Status      shopify.BulkStatus `json:"status"`
	URL         string             `json:"url,omitempty"`
	ObjectCount int64              `json:"objectCount"`
}

func summarize(op *shopify.BulkOperation) BulkOperationSummary {
	return BulkOperationSummary{
		ID:          op.ID,
		Status:      op.Status,
		URL:         op.URL,
		ObjectCount: int64(op.ObjectCount),
	}
}

// BulkExportResult is returned by [Runner.BulkExport].
type BulkExportResult struct {
	Success       bool                 `json:"success"`
	BulkOperation BulkOperationSummary `json:"bulkOperation"`
	Message       string               `json:"message"`
	DownloadURL   string               `json:"downloadUrl,omitempty"`
}

// BulkImportResult is returned by [Runner.BulkImport].
type BulkImportResult struct {
	Success       bool                 `json:"success"`
	BulkOperation BulkOperationSummary `json:"bulkOperation"`
	Message       string               `json:"message"`
}

// BulkStatusResult is returned by [Runner.BulkStatus].
type BulkStatusResult struct {
	Success       bool                   `json:"success"`
	BulkOperation *shopify.BulkOperation `json:"bulkOperation"`
	Message       string                 `json:"message"`
}

// BulkCancelResult is returned by [Runner.BulkCancel].
type BulkCancelResult struct {
	Success       bool                 `json:"success"`
	BulkOperation BulkOperationSummary `json:"bulkOperation"`
	Message       string               `json:"message"`
}

// BulkExport starts a bulk query and waits for it to finish.
func (r *Runner) BulkExport(ctx context.Context, in BulkExportInput) (*BulkExportResult, error) {
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return nil, precondition("'query' is required.")
	}

	var resp bulkRunQueryResponse
	vars := map[string]any{"query": query}
	if err := r.call(ctx, ToolBulkExport, StepStart, shopify.DocBulkOperationRunQuery, vars, &resp); err != nil {
		return nil, err
	}
	started := resp.BulkOperationRunQuery.BulkOperation
	if started == nil || started.ID == "" {
		return nil, &StateError{Step: StepStart, Message: "No bulk operation returned"}
	}
	slog.Info("workflow: bulk export started", "id", started.ID)

	op, err := r.awaitBulk(ctx, ToolBulkExport, shopify.BulkTypeQuery, started.ID)
	if err != nil {
		return nil, err
	}
	res := &BulkExportResult{
		Success:       true,
		BulkOperation: summarize(op),
		DownloadURL:   op.URL,
	}
	if op.URL == "" {
		res.Message = fmt.Sprintf("Bulk export completed with %d objects. No data file was produced.", op.ObjectCount)
	} else {
		res.Message = fmt.Sprintf("Bulk export completed with %d objects. Download the JSONL results from the URL.", op.ObjectCount)
	}
	return res, nil
}

// BulkImport uploads a JSONL payload, runs a bulk mutation over it and
// waits for the mutation to finish.
func (r *Runner) BulkImport(ctx context.Context, in BulkImportInput) (*BulkImportResult, error) {
	mutation := strings.TrimSpace(in.Mutation)
	if mutation == "" {
		return nil, precondition("'mutation' is required.")
	}
	if strings.TrimSpace(in.JSONL) == "" {
		return nil, precondition("'jsonl' must contain at least one line of variables.")
	}

	const mimeType = "text/jsonl"
	payload := []byte(in.JSONL)
	filename := fmt.Sprintf("bulk-import-%d.jsonl", r.now().UnixMilli())

	target, err := r.stage(ctx, ToolBulkImport, map[string]any{
		"filename":   filename,
		"mimeType":   mimeType,
		"httpMethod": "POST",
		"resource":   "BULK_MUTATION_VARIABLES",
	})
	if err != nil {
		return nil, err
	}
	if err := r.transfer(ctx, ToolBulkImport, target, payload, filename, mimeType); err != nil {
		return nil, err
	}

	var resp bulkRunMutationResponse
	vars := map[string]any{
		"mutation":         mutation,
		"stagedUploadPath": target.StagedPath(),
	}
	if err := r.call(ctx, ToolBulkImport, StepStart, shopify.DocBulkOperationRunMutation, vars, &resp); err != nil {
		return nil, err
	}
	started := resp.BulkOperationRunMutation.BulkOperation
	if started == nil || started.ID == "" {
		return nil, &StateError{Step: StepStart, Message: "No bulk operation returned"}
	}
	slog.Info("workflow: bulk import started", "id", started.ID)

	op, err := r.awaitBulk(ctx, ToolBulkImport, shopify.BulkTypeMutation, started.ID)
	if err != nil {
		return nil, err
	}
	return &BulkImportResult{
		Success:       true,
		BulkOperation: summarize(op),
		Message:       fmt.Sprintf("Bulk import completed. %d objects processed.", op.ObjectCount),
	}, nil
}

// BulkStatus returns the current bulk operation of a type, if any.
func (r *Runner) BulkStatus(ctx context.Context, in BulkStatusInput) (*BulkStatusResult, error) {
	typ := shopify.BulkType(strings.ToUpper(strings.TrimSpace(in.Type)))
	if typ == "" {
		typ = shopify.BulkTypeQuery
	}
	if typ != shopify.BulkTypeQuery && typ != shopify.BulkTypeMutation {
		return nil, precondition("'type' must be QUERY or MUTATION.")
	}

	var resp currentBulkResponse
	if err := r.call(ctx, ToolBulkStatus, StepQuery, bulkStatusDoc(typ), nil, &resp); err != nil {
		return nil, err
	}
	op := resp.CurrentBulkOperation
	res := &BulkStatusResult{Success: true, BulkOperation: op}
	if op == nil {
		res.Message = fmt.Sprintf("No %s bulk operation found.", strings.ToLower(string(typ)))
	} else {
		res.Message = fmt.Sprintf("Bulk operation %s is %s.", op.ID, op.Status)
	}
	return res, nil
}

// BulkCancel requests cancellation of a running bulk operation.
func (r *Runner) BulkCancel(ctx context.Context, in BulkCancelInput) (*BulkCancelResult, error) {
	if strings.TrimSpace(in.ID) == "" {
		return nil, precondition("'id' is required.")
	}
	id := shopify.NormalizeGID(in.ID, "BulkOperation")

	var resp bulkCancelResponse
	if err := r.call(ctx, ToolBulkCancel, StepCancel, shopify.DocBulkOperationCancel, map[string]any{"id": id}, &resp); err != nil {
		return nil, err
	}
	op := resp.BulkOperationCancel.BulkOperation
	if op == nil {
		return nil, &StateError{Step: StepCancel, Message: "No bulk operation returned"}
	}
	return &BulkCancelResult{
		Success:       true,
		BulkOperation: summarize(op),
		Message:       fmt.Sprintf("Cancellation requested. Bulk operation %s is %s.", op.ID, op.Status),
	}, nil
}

// awaitBulk polls the current bulk operation of typ until the operation
// with id reaches a terminal state.
func (r *Runner) awaitBulk(ctx context.Context, tool string, typ shopify.BulkType, id string) (*shopify.BulkOperation, error) {
	doc := bulkStatusDoc(typ)
	check := func(ctx context.Context) (poll.Result[*shopify.BulkOperation], error) {
		r.recordPoll(ctx, tool)
		var resp currentBulkResponse
		if err := r.call(ctx, tool, StepPoll, doc, nil, &resp); err != nil {
			return poll.Result[*shopify.BulkOperation]{}, err
		}
		return bulkProgress(resp.CurrentBulkOperation, id), nil
	}

	t := r.Timings()
	op, err := poll.Until(ctx, check, poll.Options{
		Interval: t.BulkInterval,
		Timeout:  t.BulkTimeout,
		OnPoll: func(elapsed time.Duration) {
			slog.Debug("workflow: bulk operation pending", "id", id, "elapsed", elapsed.Round(time.Millisecond))
		},
	})
	if err != nil {
		return nil, pollError(err, "Bulk operation", id)
	}
	return op, nil
}

// bulkProgress classifies the current bulk operation against the one this
// workflow started.
func bulkProgress(cur *shopify.BulkOperation, id string) poll.Result[*shopify.BulkOperation] {
	if cur == nil || cur.ID != id {
		return poll.Fail[*shopify.BulkOperation](fmt.Sprintf("Bulk operation %s not found or superseded by another bulk operation", id))
	}
	switch cur.Status {
	case shopify.BulkCompleted:
		return poll.Complete(cur)
	case shopify.BulkFailed:
		code := cur.ErrorCode
		if code == "" {
			code = "Unknown error"
		}
		return poll.Fail[*shopify.BulkOperation]("Bulk operation failed: " + code)
	case shopify.BulkCanceled:
		return poll.Fail[*shopify.BulkOperation]("Bulk operation was canceled")
	case shopify.BulkExpired:
		return poll.Fail[*shopify.BulkOperation]("Bulk operation expired")
	}
	return poll.Pending[*shopify.BulkOperation]()
}

func bulkStatusDoc(typ shopify.BulkType) string {
	if typ == shopify.BulkTypeMutation {
		return shopify.DocCurrentBulkMutation
	}
	return shopify.DocCurrentBulkQuery
}

// ── response payloads ─────────────────────────────────────────────────────────

type bulkRunQueryResponse struct {
	BulkOperationRunQuery struct {
		BulkOperation *shopify.BulkOperation `json:"bulkOperation"`
		UserErrors    []shopify.UserError    `json:"userErrors"`
	} `json:"bulkOperationRunQuery"`
}

func (r *bulkRunQueryResponse) userErrors() []shopify.UserError {
	return r.BulkOperationRunQuery.UserErrors
}

type bulkRunMutationResponse struct {
	BulkOperationRunMutation struct {
		BulkOperation *shopify.BulkOperation `json:"bulkOperation"`
		UserErrors    []shopify.UserError    `json:"userErrors"`
	} `json:"bulkOperationRunMutation"`
}

func (r *bulkRunMutationResponse) userErrors() []shopify.UserError {
	return r.BulkOperationRunMutation.UserErrors
}

type bulkCancelResponse struct {
	BulkOperationCancel struct {
		BulkOperation *shopify.BulkOperation `json:"bulkOperation"`
		UserErrors    []shopify.UserError    `json:"userErrors"`
	} `json:"bulkOperationCancel"`
}

func (r *bulkCancelResponse) userErrors() []shopify.UserError {
	return r.BulkOperationCancel.UserErrors
}

type currentBulkResponse struct {
	CurrentBulkOperation *shopify.BulkOperation `json:"currentBulkOperation"`
}
