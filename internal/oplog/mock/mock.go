// Package mock provides an in-memory [oplog.Recorder] for tests.
package mock

import (
	"sync"

	"github.com/MrWong99/shopify-store-mcp/internal/oplog"
)

// Recorder stores every entry it receives. Safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	entries []oplog.Entry
}

var _ oplog.Recorder = (*Recorder)(nil)

// Record implements [oplog.Recorder].
func (r *Recorder) Record(e oplog.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

// Entries returns a copy of the recorded entries.
func (r *Recorder) Entries() []oplog.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]oplog.Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len returns the number of recorded entries.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
