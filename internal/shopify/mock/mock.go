// Package mock provides in-memory test doubles for the [shopify.Executor]
// and [shopify.Transferer] interfaces.
//
// Both types record every invocation for assertion in tests and expose
// exported fields that control what they return. They are safe for
// concurrent use via an internal [sync.Mutex].
//
// Typical usage:
//
//	ex := &mock.Executor{}
//	ex.On("BulkOperationRunQuery", mock.Data(map[string]any{...}))
//	ex.On("GetCurrentBulkOperation", running, completed)
//
//	// inject ex into the system under test …
//
//	if got := ex.CallCount("GetCurrentBulkOperation"); got != 2 {
//	    t.Errorf("expected 2 status polls, got %d", got)
//	}
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/MrWong99/shopify-store-mcp/internal/shopify"
)

// Call records a single Execute invocation.
type Call struct {
	// Operation is the GraphQL operation name of the document.
	Operation string

	// Document is the GraphQL document sent.
	Document string

	// Variables are the variables sent, as passed by the caller.
	Variables map[string]any
}

// Executor is a configurable test double for [shopify.Executor]. Responses
// are scripted per operation name; each call consumes the next outcome and
// the last one is repeated once the script is exhausted.
type Executor struct {
	mu sync.Mutex

	calls     []Call
	responses map[string][]shopify.Outcome
	served    map[string]int

	// Handler, when non-nil, answers every call and takes precedence over
	// scripted responses.
	Handler func(operation string, variables map[string]any) shopify.Outcome
}

var _ shopify.Executor = (*Executor)(nil)

// On scripts the outcomes returned for operation, in order.
func (e *Executor) On(operation string, outcomes ...shopify.Outcome) *Executor {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.responses == nil {
		e.responses = make(map[string][]shopify.Outcome)
	}
	e.responses[operation] = append(e.responses[operation], outcomes...)
	return e
}

// Execute implements [shopify.Executor].
func (e *Executor) Execute(_ context.Context, document string, variables map[string]any) shopify.Outcome {
	op := shopify.OperationName(document)

	e.mu.Lock()
	e.calls = append(e.calls, Call{Operation: op, Document: document, Variables: variables})
	handler := e.Handler
	script := e.responses[op]
	if e.served == nil {
		e.served = make(map[string]int)
	}
	n := e.served[op]
	e.served[op]++
	e.mu.Unlock()

	if handler != nil {
		return handler(op, variables)
	}
	if len(script) == 0 {
		return shopify.GraphQLFailure(0, fmt.Sprintf("mock: no response scripted for %s", op))
	}
	return script[min(n, len(script)-1)]
}

// Calls returns a copy of all recorded invocations.
func (e *Executor) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Call, len(e.calls))
	copy(out, e.calls)
	return out
}

// CallCount returns how many times operation was executed.
func (e *Executor) CallCount(operation string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.calls {
		if c.Operation == operation {
			n++
		}
	}
	return n
}

// Operations returns the operation names in call order.
func (e *Executor) Operations() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.calls))
	for i, c := range e.calls {
		out[i] = c.Operation
	}
	return out
}

// Data builds a successful outcome whose data is v encoded as JSON. It
// panics if v cannot be encoded.
func Data(v any) shopify.Outcome {
	b, err := json.Marshal(v)
	if err != nil {
		panic("mock: encode data: " + err.Error())
	}
	o := shopify.OK(b)
	o.Body = json.RawMessage(`{"data":` + string(b) + `}`)
	return o
}

// ──── Transferer ──────────────────────────────────────────────────────────────

// Transferer is a configurable test double for [shopify.Transferer].
type Transferer struct {
	mu       sync.Mutex
	requests []shopify.TransferRequest

	// Result is returned when Err is nil. The zero value is replaced by a
	// 204 success.
	Result shopify.TransferResult

	// Err is returned when non-nil.
	Err error
}

var _ shopify.Transferer = (*Transferer)(nil)

// Transfer implements [shopify.Transferer].
func (t *Transferer) Transfer(_ context.Context, req shopify.TransferRequest) (shopify.TransferResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.requests = append(t.requests, req)
	if t.Err != nil {
		return shopify.TransferResult{}, t.Err
	}
	if t.Result == (shopify.TransferResult{}) {
		return shopify.TransferResult{OK: true, Status: 204, StatusText: "No Content"}, nil
	}
	return t.Result, nil
}

// Requests returns a copy of all recorded transfer requests.
func (t *Transferer) Requests() []shopify.TransferRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]shopify.TransferRequest, len(t.requests))
	copy(out, t.requests)
	return out
}
