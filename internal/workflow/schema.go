package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/shopify-store-mcp/internal/shopify"
)

// definitionPageSize is the number of definitions fetched per lookup.
const definitionPageSize = 100

// MetafieldOwnerTypes lists the owner types schema discovery accepts.
var MetafieldOwnerTypes = []string{
	"PRODUCT", "PRODUCTVARIANT", "COLLECTION", "CUSTOMER", "ORDER", "DRAFTORDER",
	"SHOP", "COMPANY", "LOCATION", "MARKET", "PAGE", "BLOG", "ARTICLE", "DISCOUNT",
}

// DefaultOwnerTypes is used when the input names none.
var DefaultOwnerTypes = []string{"PRODUCT", "CUSTOMER", "ORDER", "SHOP"}

// DiscoverSchemaInput is the input of the schema_discover tool.
type DiscoverSchemaInput struct {
	IncludeMetafields   *bool    `json:"includeMetafields,omitempty" jsonschema:"Include metafield definitions (default true)"`
	IncludeMetaobjects  *bool    `json:"includeMetaobjects,omitempty" jsonschema:"Include metaobject definitions (default true)"`
	MetafieldOwnerTypes []string `json:"metafieldOwnerTypes,omitempty" jsonschema:"Owner types to inspect (default PRODUCT, CUSTOMER, ORDER, SHOP)"`
}

// DiscoverSchemaResult is returned by [Runner.DiscoverSchema].
type DiscoverSchemaResult struct {
	Success               bool              `json:"success"`
	Summary               string            `json:"summary"`
	MetafieldDefinitions  *OwnerDefinitions `json:"metafieldDefinitions,omitempty"`
	MetaobjectDefinitions []json.RawMessage `json:"metaobjectDefinitions,omitempty"`
}

// OwnerDefinitions maps owner types to their metafield definitions. It
// encodes as a JSON object whose keys keep the request order.
type OwnerDefinitions struct {
	order []string
	defs  map[string][]json.RawMessage
}

// OwnerTypes returns the owner types that have results, in request order.
func (o *OwnerDefinitions) OwnerTypes() []string { return slices.Clone(o.order) }

// Get returns the definitions of one owner type.
func (o *OwnerDefinitions) Get(ownerType string) []json.RawMessage { return o.defs[ownerType] }

// Count returns the total number of definitions.
func (o *OwnerDefinitions) Count() int {
	n := 0
	for _, d := range o.defs {
		n += len(d)
	}
	return n
}

// MarshalJSON implements json.Marshaler.
func (o *OwnerDefinitions) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range o.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(k)
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(o.defs[k])
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// DiscoverSchema lists the custom data definitions of the store.
func (r *Runner) DiscoverSchema(ctx context.Context, in DiscoverSchemaInput) (*DiscoverSchemaResult, error) {
	includeMetafields := in.IncludeMetafields == nil || *in.IncludeMetafields
	includeMetaobjects := in.IncludeMetaobjects == nil || *in.IncludeMetaobjects

	owners, err := ownerTypes(in.MetafieldOwnerTypes)
	if err != nil {
		return nil, err
	}

	res := &DiscoverSchemaResult{Success: true}
	var parts []string

	if includeMetafields {
		defs, err := r.metafieldDefinitions(ctx, owners)
		if err != nil {
			return nil, err
		}
		res.MetafieldDefinitions = defs
		parts = append(parts, fmt.Sprintf("%d metafield definitions across %d owner types", defs.Count(), len(defs.order)))
	}

	if includeMetaobjects {
		var resp metaobjectDefinitionsResponse
		vars := map[string]any{"first": definitionPageSize}
		if err := r.call(ctx, ToolSchemaDiscover, StepSchema, shopify.DocMetaobjectDefinitions, vars, &resp); err != nil {
			return nil, err
		}
		res.MetaobjectDefinitions = make([]json.RawMessage, 0, len(resp.MetaobjectDefinitions.Edges))
		for _, e := range resp.MetaobjectDefinitions.Edges {
			res.MetaobjectDefinitions = append(res.MetaobjectDefinitions, e.Node)
		}
		parts = append(parts, fmt.Sprintf("%d metaobject types", len(res.MetaobjectDefinitions)))
	}

	res.Summary = strings.Join(parts, ", ")
	return res, nil
}

// ownerLookups bounds the owner type lookups waiting on the queue at once.
const ownerLookups = 4

// metafieldDefinitions fetches the owner types concurrently. The queue still
// bounds throughput. Owner types whose lookup fails are left out; when ctx
// ends the remaining lookups are abandoned and its error is returned.
func (r *Runner) metafieldDefinitions(ctx context.Context, owners []string) (*OwnerDefinitions, error) {
	results := make([][]json.RawMessage, len(owners))
	ok := make([]bool, len(owners))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ownerLookups)
	for i, owner := range owners {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			var resp metafieldDefinitionsResponse
			vars := map[string]any{"ownerType": owner, "first": definitionPageSize}
			if err := r.call(gctx, ToolSchemaDiscover, "metafieldDefinitions("+owner+")", shopify.DocMetafieldDefinitions, vars, &resp); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				slog.Warn("workflow: metafield definitions unavailable", "owner_type", owner, "err", err)
				return nil
			}
			defs := make([]json.RawMessage, 0, len(resp.MetafieldDefinitions.Edges))
			for _, e := range resp.MetafieldDefinitions.Edges {
				defs = append(defs, e.Node)
			}
			results[i], ok[i] = defs, true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := &OwnerDefinitions{defs: make(map[string][]json.RawMessage, len(owners))}
	for i, owner := range owners {
		if ok[i] {
			out.order = append(out.order, owner)
			out.defs[owner] = results[i]
		}
	}
	return out, nil
}

// ownerTypes validates and de-duplicates the requested owner types.
func ownerTypes(requested []string) ([]string, error) {
	if len(requested) == 0 {
		return slices.Clone(DefaultOwnerTypes), nil
	}
	var out, unknown []string
	for _, t := range requested {
		t = strings.ToUpper(strings.TrimSpace(t))
		if !slices.Contains(MetafieldOwnerTypes, t) {
			unknown = append(unknown, t)
			continue
		}
		if !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	if len(unknown) > 0 {
		return nil, precondition("Unknown metafield owner types: %s. Valid values: %s.",
			strings.Join(unknown, ", "), strings.Join(MetafieldOwnerTypes, ", "))
	}
	return out, nil
}

// ── response payloads ─────────────────────────────────────────────────────────

type definitionEdges struct {
	Edges []struct {
		Node json.RawMessage `json:"node"`
	} `json:"edges"`
}

type metafieldDefinitionsResponse struct {
	MetafieldDefinitions definitionEdges `json:"metafieldDefinitions"`
}

type metaobjectDefinitionsResponse struct {
	MetaobjectDefinitions definitionEdges `json:"metaobjectDefinitions"`
}
