// Package oplog records every remote call the workflows make.
//
// Workflows hand an [Entry] to a [Recorder] and move on; [Sink] is the
// production recorder. It buffers entries in a bounded channel and persists
// them on a background goroutine, so a slow or failing store never delays or
// fails the call that produced the entry. When the buffer is full the entry is
// dropped and counted.
package oplog

import (
	"encoding/json"
	"time"

	"github.com/MrWong99/shopify-store-mcp/internal/persist"
	"github.com/MrWong99/shopify-store-mcp/internal/shopify"
)

// Stored text limits, in characters.
const (
	MaxQueryLength    = 10000
	MaxResponseLength = 50000
)

const truncatedSuffix = "... [truncated]"

// Entry describes one remote call attempt.
type Entry struct {
	ToolName     string
	Query        string
	Variables    map[string]any
	Response     json.RawMessage
	Success      bool
	ErrorMessage string
	Duration     time.Duration
	// At is when the call finished. [Sink.Record] stamps it when zero.
	At time.Time
}

// Recorder accepts entries. Record must not block and must not fail.
type Recorder interface {
	Record(e Entry)
}

// Nop is a [Recorder] that discards every entry. It is used when operation
// logging is disabled.
type Nop struct{}

// Record implements [Recorder].
func (Nop) Record(Entry) {}

// Operation converts e into the stored form, truncating long text.
func (e Entry) Operation(storeDomain, sessionID string, at time.Time) persist.Operation {
	op := persist.Operation{
		StoreDomain:   storeDomain,
		SessionID:     sessionID,
		ToolName:      e.ToolName,
		OperationType: shopify.OperationType(e.Query),
		Query:         Truncate(e.Query, MaxQueryLength),
		Success:       e.Success,
		ErrorMessage:  e.ErrorMessage,
		DurationMs:    e.Duration.Milliseconds(),
		CreatedAt:     at.UTC(),
	}
	if len(e.Variables) > 0 {
		if b, err := json.Marshal(e.Variables); err == nil {
			op.Variables = Truncate(string(b), MaxQueryLength)
		}
	}
	if len(e.Response) > 0 && string(e.Response) != "null" {
		op.Response = Truncate(string(e.Response), MaxResponseLength)
	}
	return op
}

// Truncate shortens s to limit characters and appends a marker when
// anything was cut.
func Truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i] + truncatedSuffix
		}
		n++
	}
	return s
}
