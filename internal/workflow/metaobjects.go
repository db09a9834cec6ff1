package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/shopify-store-mcp/internal/shopify"
)

// Metaobject actions reported in results.
const (
	ActionCreated  = "created"
	ActionUpdated  = "updated"
	ActionDeleted  = "deleted"
	ActionNotFound = "not_found"
)

// MetaobjectFieldInput is one field written by upsert_metaobject.
type MetaobjectFieldInput struct {
	Key   string `json:"key" jsonschema:"Field key"`
	Value string `json:"value" jsonschema:"Field value; JSON encoded for list and reference types"`
}

// UpsertMetaobjectInput is the input of the upsert_metaobject tool.
type UpsertMetaobjectInput struct {
	Type          string                 `json:"type" jsonschema:"Metaobject definition type, e.g. designer"`
	Handle        string                 `json:"handle" jsonschema:"Unique handle within the type"`
	Fields        []MetaobjectFieldInput `json:"fields" jsonschema:"Fields to set"`
	PublishStatus string                 `json:"publishStatus,omitempty" jsonschema:"ACTIVE or DRAFT (default ACTIVE)"`
}

// DeleteMetaobjectInput is the input of the delete_metaobject tool. Either
// ID or both Type and Handle must be set.
type DeleteMetaobjectInput struct {
	ID     string `json:"id,omitempty" jsonschema:"Metaobject ID, numeric or gid://shopify/Metaobject/..."`
	Type   string `json:"type,omitempty" jsonschema:"Metaobject type, used with handle"`
	Handle string `json:"handle,omitempty" jsonschema:"Metaobject handle, used with type"`
}

// UpsertMetaobjectResult is returned by [Runner.UpsertMetaobject].
type UpsertMetaobjectResult struct {
	Success    bool                `json:"success"`
	Action     string              `json:"action"`
	Metaobject *shopify.Metaobject `json:"metaobject"`
	Message    string              `json:"message"`
}

// DeleteMetaobjectResult is returned by [Runner.DeleteMetaobject].
type DeleteMetaobjectResult struct {
	Success   bool   `json:"success"`
	Action    string `json:"action"`
	DeletedID string `json:"deletedId,omitempty"`
	Message   string `json:"message"`
}

// UpsertMetaobject creates the metaobject (type, handle) or updates it when
// it already exists.
func (r *Runner) UpsertMetaobject(ctx context.Context, in UpsertMetaobjectInput) (*UpsertMetaobjectResult, error) {
	typ, handle := strings.TrimSpace(in.Type), strings.TrimSpace(in.Handle)
	if typ == "" || handle == "" {
		return nil, precondition("Both 'type' and 'handle' are required.")
	}
	status := strings.ToUpper(strings.TrimSpace(in.PublishStatus))
	if status == "" {
		status = "ACTIVE"
	}
	if status != "ACTIVE" && status != "DRAFT" {
		return nil, precondition("'publishStatus' must be ACTIVE or DRAFT.")
	}
	for i, f := range in.Fields {
		if strings.TrimSpace(f.Key) == "" {
			return nil, precondition("fields[%d]: 'key' is required.", i)
		}
	}

	existing, err := r.lookupMetaobject(ctx, ToolUpsertMetaobject, typ, handle)
	if err != nil {
		return nil, err
	}

	fields := in.Fields
	if fields == nil {
		fields = []MetaobjectFieldInput{}
	}
	capabilities := map[string]any{"publishable": map[string]any{"status": status}}

	if existing != nil {
		var resp metaobjectUpdateResponse
		vars := map[string]any{
			"id": existing.ID,
			"metaobject": map[string]any{
				"fields":       fields,
				"capabilities": capabilities,
			},
		}
		if err := r.call(ctx, ToolUpsertMetaobject, StepUpdateMO, shopify.DocMetaobjectUpdate, vars, &resp); err != nil {
			return nil, err
		}
		mo := resp.MetaobjectUpdate.Metaobject
		if mo == nil {
			return nil, &StateError{Step: StepUpdateMO, Message: "No metaobject returned"}
		}
		return &UpsertMetaobjectResult{
			Success:    true,
			Action:     ActionUpdated,
			Metaobject: mo,
			Message:    "Metaobject updated successfully.",
		}, nil
	}

	var resp metaobjectCreateResponse
	vars := map[string]any{
		"metaobject": map[string]any{
			"type":         typ,
			"handle":       handle,
			"fields":       fields,
			"capabilities": capabilities,
		},
	}
	if err := r.call(ctx, ToolUpsertMetaobject, StepCreateMO, shopify.DocMetaobjectCreate, vars, &resp); err != nil {
		return nil, err
	}
	mo := resp.MetaobjectCreate.Metaobject
	if mo == nil {
		return nil, &StateError{Step: StepCreateMO, Message: "No metaobject returned"}
	}
	return &UpsertMetaobjectResult{
		Success:    true,
		Action:     ActionCreated,
		Metaobject: mo,
		Message:    "Metaobject created successfully.",
	}, nil
}

// DeleteMetaobject deletes a metaobject by id or by (type, handle). A
// (type, handle) pair that does not exist is a successful no-op.
func (r *Runner) DeleteMetaobject(ctx context.Context, in DeleteMetaobjectInput) (*DeleteMetaobjectResult, error) {
	id := strings.TrimSpace(in.ID)
	typ, handle := strings.TrimSpace(in.Type), strings.TrimSpace(in.Handle)
	if id == "" && (typ == "" || handle == "") {
		return nil, precondition("Either 'id' or both 'type' and 'handle' must be provided.")
	}

	if id == "" {
		existing, err := r.lookupMetaobject(ctx, ToolDeleteMetaobject, typ, handle)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return &DeleteMetaobjectResult{
				Success: true,
				Action:  ActionNotFound,
				Message: fmt.Sprintf("Metaobject %s/%s does not exist. Nothing to delete.", typ, handle),
			}, nil
		}
		id = existing.ID
	}
	id = shopify.NormalizeGID(id, "Metaobject")

	var resp metaobjectDeleteResponse
	if err := r.call(ctx, ToolDeleteMetaobject, StepDeleteMO, shopify.DocMetaobjectDelete, map[string]any{"id": id}, &resp); err != nil {
		return nil, err
	}
	deleted := resp.MetaobjectDelete.DeletedID
	if deleted == "" {
		deleted = id
	}
	return &DeleteMetaobjectResult{
		Success:   true,
		Action:    ActionDeleted,
		DeletedID: deleted,
		Message:   "Metaobject deleted successfully.",
	}, nil
}

// lookupMetaobject returns the metaobject with the natural key (typ, handle),
// or nil when none exists.
func (r *Runner) lookupMetaobject(ctx context.Context, tool, typ, handle string) (*shopify.Metaobject, error) {
	var resp metaobjectByHandleResponse
	vars := map[string]any{"handle": map[string]any{"type": typ, "handle": handle}}
	if err := r.call(ctx, tool, StepLookup, shopify.DocMetaobjectByHandle, vars, &resp); err != nil {
		return nil, err
	}
	return resp.MetaobjectByHandle, nil
}

// ── response payloads ─────────────────────────────────────────────────────────

type metaobjectByHandleResponse struct {
	MetaobjectByHandle *shopify.Metaobject `json:"metaobjectByHandle"`
}

type metaobjectCreateResponse struct {
	MetaobjectCreate struct {
		Metaobject *shopify.Metaobject `json:"metaobject"`
		UserErrors []shopify.UserError `json:"userErrors"`
	} `json:"metaobjectCreate"`
}

func (r *metaobjectCreateResponse) userErrors() []shopify.UserError {
	return r.MetaobjectCreate.UserErrors
}

type metaobjectUpdateResponse struct {
	MetaobjectUpdate struct {
		Metaobject *shopify.Metaobject `json:"metaobject"`
		UserErrors []shopify.UserError `json:"userErrors"`
	} `json:"metaobjectUpdate"`
}

func (r *metaobjectUpdateResponse) userErrors() []shopify.UserError {
	return r.MetaobjectUpdate.UserErrors
}

type metaobjectDeleteResponse struct {
	MetaobjectDelete struct {
		DeletedID  string              `json:"deletedId"`
		UserErrors []shopify.UserError `json:"userErrors"`
	} `json:"metaobjectDelete"`
}

func (r *metaobjectDeleteResponse) userErrors() []shopify.UserError {
	return r.MetaobjectDelete.UserErrors
}
