package workflow_test

import (
	"errors"
	"testing"
	"time"

	oplogmock "github.com/MrWong99/shopify-store-mcp/internal/oplog/mock"
	"github.com/MrWong99/shopify-store-mcp/internal/ratelimit"
	"github.com/MrWong99/shopify-store-mcp/internal/shopify/mock"
	"github.com/MrWong99/shopify-store-mcp/internal/workflow"
)

var fastTimings = workflow.Timings{
	BulkInterval: time.Millisecond,
	BulkTimeout:  2 * time.Second,
	FileInterval: time.Millisecond,
	FileTimeout:  2 * time.Second,
}

type harness struct {
	runner   *workflow.Runner
	exec     *mock.Executor
	transfer *mock.Transferer
	rec      *oplogmock.Recorder
	queue    *ratelimit.Queue
}

func newHarness(t *testing.T, opts ...workflow.Option) *harness {
	t.Helper()
	h := &harness{
		exec:     &mock.Executor{},
		transfer: &mock.Transferer{},
		rec:      &oplogmock.Recorder{},
		queue:    ratelimit.NewQueue(ratelimit.TierEnterprise),
	}
	t.Cleanup(h.queue.Close)
	base := []workflow.Option{
		workflow.WithRecorder(h.rec),
		workflow.WithTransferer(h.transfer),
		workflow.WithTimings(fastTimings),
		workflow.WithStoreDomain("demo.myshopify.com"),
	}
	h.runner = workflow.New(h.exec, h.queue, append(base, opts...)...)
	return h
}

// assertNoRemoteCalls fails when anything reached the executor, the
// transferer or the operation log.
func (h *harness) assertNoRemoteCalls(t *testing.T) {
	t.Helper()
	if n := len(h.exec.Calls()); n != 0 {
		t.Errorf("executor calls = %d, want 0 (%v)", n, h.exec.Operations())
	}
	if n := len(h.transfer.Requests()); n != 0 {
		t.Errorf("transfers = %d, want 0", n)
	}
	if n := h.rec.Len(); n != 0 {
		t.Errorf("log entries = %d, want 0", n)
	}
}

func requireAs[T error](t *testing.T, err error) T {
	t.Helper()
	var target T
	if !errors.As(err, &target) {
		t.Fatalf("error = %v (%T), want %T", err, err, target)
	}
	return target
}

func stagedTarget() map[string]any {
	return map[string]any{
		"stagedUploadsCreate": map[string]any{
			"stagedTargets": []any{map[string]any{
				"url":         "https://storage.example.com/upload?X-Goog-Signature=secret",
				"resourceUrl": "https://storage.example.com/tmp/123/file",
				"parameters": []any{
					map[string]any{"name": "key", "value": "tmp/123/file"},
					map[string]any{"name": "policy", "value": "abc"},
				},
			}},
			"userErrors": []any{},
		},
	}
}
