package oplog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/MrWong99/shopify-store-mcp/internal/persist"
)

// Writer persists one operation.
type Writer interface {
	Write(ctx context.Context, op persist.Operation) error
}

// StoreWriter adapts a [persist.Store] to [Writer].
type StoreWriter struct {
	Store persist.Store
}

// Write implements [Writer].
func (w StoreWriter) Write(ctx context.Context, op persist.Operation) error {
	return w.Store.SaveOperation(ctx, op)
}

// SpillFile appends operations as JSON lines to a local file. It is the
// fallback target when the primary store keeps failing. Safe for concurrent
// use.
type SpillFile struct {
	mu   sync.Mutex
	path string
}

var _ Writer = (*SpillFile)(nil)

// NewSpillFile creates a SpillFile that writes to path. The file is created on
// first write.
func NewSpillFile(path string) *SpillFile {
	return &SpillFile{path: path}
}

// Path returns the file path.
func (s *SpillFile) Path() string { return s.path }

// Write implements [Writer].
func (s *SpillFile) Write(_ context.Context, op persist.Operation) error {
	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("oplog: spill marshal: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("oplog: open spill file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("oplog: spill write: %w", err)
	}
	return nil
}
