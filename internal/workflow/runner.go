// Package workflow implements the multi-step tools that sit on top of the
// Admin GraphQL API: bulk export and import, file upload, metaobject upsert
// and delete, schema discovery, plus the thin single-call tools.
//
// Every remote call goes through the shared [ratelimit.Queue] and is
// reported to an [oplog.Recorder] as one entry per attempt. Long-running
// remote work is awaited with [poll.Until]. Failures are returned as the
// typed errors in result.go and rendered for the agent by [Render].
package workflow

import (
	"context"
	"encoding/json"
	"net/url"
	"os"
	"sync/atomic"
	"time"

	"github.com/MrWong99/shopify-store-mcp/internal/observe"
	"github.com/MrWong99/shopify-store-mcp/internal/oplog"
	"github.com/MrWong99/shopify-store-mcp/internal/persist"
	"github.com/MrWong99/shopify-store-mcp/internal/ratelimit"
	"github.com/MrWong99/shopify-store-mcp/internal/shopify"
)

// Tool names. They double as the tool_name column of the operation log.
const (
	ToolShopInfo         = "get_shop_info"
	ToolRunGraphQL       = "run_graphql_query"
	ToolConfigure        = "configure"
	ToolHistory          = "get_history"
	ToolStats            = "get_stats"
	ToolUploadFile       = "upload_file"
	ToolBulkExport       = "bulk_export"
	ToolBulkImport       = "bulk_import"
	ToolBulkStatus       = "bulk_status"
	ToolBulkCancel       = "bulk_cancel"
	ToolUpsertMetaobject = "upsert_metaobject"
	ToolDeleteMetaobject = "delete_metaobject"
	ToolSchemaDiscover   = "schema_discover"
)

// Default poll timings.
const (
	BulkPollInterval = 5 * time.Second
	BulkPollTimeout  = 5 * time.Minute
	FilePollInterval = 2 * time.Second
	FilePollTimeout  = 60 * time.Second
)

// Timings holds the poll cadence of the long-running workflows.
type Timings struct {
	BulkInterval time.Duration
	BulkTimeout  time.Duration
	FileInterval time.Duration
	FileTimeout  time.Duration
}

// DefaultTimings returns the production poll timings.
func DefaultTimings() Timings {
	return Timings{
		BulkInterval: BulkPollInterval,
		BulkTimeout:  BulkPollTimeout,
		FileInterval: FilePollInterval,
		FileTimeout:  FilePollTimeout,
	}
}

// withDefaults fills zero fields from [DefaultTimings].
func (t Timings) withDefaults() Timings {
	d := DefaultTimings()
	if t.BulkInterval <= 0 {
		t.BulkInterval = d.BulkInterval
	}
	if t.BulkTimeout <= 0 {
		t.BulkTimeout = d.BulkTimeout
	}
	if t.FileInterval <= 0 {
		t.FileInterval = d.FileInterval
	}
	if t.FileTimeout <= 0 {
		t.FileTimeout = d.FileTimeout
	}
	return t
}

// Runner executes workflows. It is safe for concurrent use; every tool call
// may run on its own goroutine.
type Runner struct {
	exec        shopify.Executor
	queue       *ratelimit.Queue
	recorder    oplog.Recorder
	transferer  shopify.Transferer
	store       persist.Store
	storeDomain string
	sessionID   string
	timings     atomic.Pointer[Timings]
	metrics     *observe.Metrics
	readFile    func(string) ([]byte, error)
	now         func() time.Time
}

// Option configures a [Runner].
type Option func(*Runner)

// WithRecorder sets the operation log recorder. Default: [oplog.Nop].
func WithRecorder(r oplog.Recorder) Option {
	return func(rn *Runner) { rn.recorder = r }
}

// WithTransferer sets the staged upload transport. Default: an
// [shopify.HTTPTransferer] with its default client.
func WithTransferer(t shopify.Transferer) Option {
	return func(rn *Runner) { rn.transferer = t }
}

// WithStore enables the configure, history and stats tools.
func WithStore(s persist.Store) Option {
	return func(rn *Runner) { rn.store = s }
}

// WithStoreDomain names the store in configuration records.
func WithStoreDomain(domain string) Option {
	return func(rn *Runner) { rn.storeDomain = domain }
}

// WithSessionID sets the session id reported by configure.
func WithSessionID(id string) Option {
	return func(rn *Runner) { rn.sessionID = id }
}

// WithTimings overrides the poll timings. Zero fields keep their defaults.
func WithTimings(t Timings) Option {
	return func(rn *Runner) { rn.SetTimings(t) }
}

// WithMetrics records poll iterations through m.
func WithMetrics(m *observe.Metrics) Option {
	return func(rn *Runner) { rn.metrics = m }
}

// New creates a Runner that sends requests through exec, admitted by queue.
func New(exec shopify.Executor, queue *ratelimit.Queue, opts ...Option) *Runner {
	r := &Runner{
		exec:     exec,
		queue:    queue,
		recorder: oplog.Nop{},
		readFile: os.ReadFile,
		now:      time.Now,
	}
	r.SetTimings(Timings{})
	for _, o := range opts {
		o(r)
	}
	if r.transferer == nil {
		r.transferer = shopify.NewHTTPTransferer(nil)
	}
	return r
}

// Queue returns the admission queue the runner uses.
func (r *Runner) Queue() *ratelimit.Queue { return r.queue }

// SetTimings replaces the poll timings of workflows started afterwards. Zero
// fields keep their defaults.
func (r *Runner) SetTimings(t Timings) {
	t = t.withDefaults()
	r.timings.Store(&t)
}

// Timings returns the poll timings in effect.
func (r *Runner) Timings() Timings { return *r.timings.Load() }

// StoreDomain returns the store domain configured with [WithStoreDomain].
func (r *Runner) StoreDomain() string { return r.storeDomain }

// userErrorer is implemented by mutation payloads that carry userErrors.
type userErrorer interface {
	userErrors() []shopify.UserError
}

// call runs one GraphQL request through the queue, decodes its data into dst
// and records the attempt. A response whose payload carries userErrors is
// reported as *UserErrors.
func (r *Runner) call(ctx context.Context, tool, step, doc string, vars map[string]any, dst any) error {
	start := time.Now()
	out, err := ratelimit.Do(ctx, r.queue, func(ctx context.Context) (shopify.Outcome, error) {
		return r.exec.Execute(ctx, doc, vars), nil
	})
	if err != nil {
		out = shopify.TransportFailure(err)
	}

	var callErr error
	switch {
	case !out.OK():
		callErr = &RequestError{Step: step, Outcome: out}
	case dst != nil:
		if err := out.Decode(dst); err != nil {
			callErr = &RequestError{Step: step, Outcome: shopify.TransportFailure(err)}
		} else if ue, ok := dst.(userErrorer); ok {
			if errs := ue.userErrors(); len(errs) > 0 {
				callErr = &UserErrors{Step: step, Errors: errs}
			}
		}
	}

	e := oplog.Entry{
		ToolName:  tool,
		Query:     doc,
		Variables: vars,
		Response:  responseOf(out),
		Success:   callErr == nil,
		Duration:  time.Since(start),
	}
	if callErr != nil {
		e.ErrorMessage = callErr.Error()
	}
	r.recorder.Record(e)
	return callErr
}

func responseOf(o shopify.Outcome) json.RawMessage {
	if len(o.Body) > 0 {
		return o.Body
	}
	return o.Data
}

// stage requests one staged upload target.
func (r *Runner) stage(ctx context.Context, tool string, input map[string]any) (shopify.StagedTarget, error) {
	var resp stagedUploadsResponse
	vars := map[string]any{"input": []map[string]any{input}}
	if err := r.call(ctx, tool, StepStage, shopify.DocStagedUploadsCreate, vars, &resp); err != nil {
		return shopify.StagedTarget{}, err
	}
	targets := resp.StagedUploadsCreate.StagedTargets
	if len(targets) == 0 || targets[0].URL == "" {
		return shopify.StagedTarget{}, &StateError{Step: StepStage, Message: "No staged upload target returned"}
	}
	return targets[0], nil
}

// transfer posts payload to target and records the attempt. The entry names
// the upload host and path only; the signed query string is not logged.
func (r *Runner) transfer(ctx context.Context, tool string, target shopify.StagedTarget, payload []byte, filename, mimeType string) error {
	start := time.Now()
	res, err := r.transferer.Transfer(ctx, shopify.TransferRequest{
		URL:      target.URL,
		Fields:   target.Parameters,
		Payload:  payload,
		Filename: filename,
		MIMEType: mimeType,
	})

	var callErr error
	switch {
	case err != nil:
		callErr = &RequestError{Step: StepTransfer, Outcome: shopify.TransportFailure(err)}
	case !res.OK:
		callErr = &TransferError{Status: res.Status, StatusText: res.StatusText, Body: res.Body}
	}

	e := oplog.Entry{
		ToolName: tool,
		Query:    "POST " + redactURL(target.URL),
		Variables: map[string]any{
			"filename": filename,
			"mimeType": mimeType,
			"bytes":    len(payload),
		},
		Success:  callErr == nil,
		Duration: time.Since(start),
	}
	if callErr != nil {
		e.ErrorMessage = callErr.Error()
	}
	r.recorder.Record(e)
	return callErr
}

func (r *Runner) recordPoll(ctx context.Context, workflow string) {
	if r.metrics != nil {
		r.metrics.RecordPollCheck(ctx, workflow)
	}
}

// ── response payloads ─────────────────────────────────────────────────────────

type stagedUploadsResponse struct {
	StagedUploadsCreate struct {
		StagedTargets []shopify.StagedTarget `json:"stagedTargets"`
		UserErrors    []shopify.UserError    `json:"userErrors"`
	} `json:"stagedUploadsCreate"`
}

func (r *stagedUploadsResponse) userErrors() []shopify.UserError {
	return r.StagedUploadsCreate.UserErrors
}

// redactURL strips the query string and credentials from a signed URL.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "upload target"
	}
	return u.Host + u.Path
}
