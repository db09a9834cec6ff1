// Package persist defines the storage contract for the operation log and the
// per-store configuration, plus an in-memory implementation.
//
// Durable backends live in sub-packages: [sqlite] for the default local
// database file and [postgres] for shared deployments. All implementations
// are safe for concurrent use.
//
// [sqlite]: github.com/MrWong99/shopify-store-mcp/internal/persist/sqlite
// [postgres]: github.com/MrWong99/shopify-store-mcp/internal/persist/postgres
package persist

import (
	"context"
	"time"
)

// History limits.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

// Operation is one logged remote call.
type Operation struct {
	ID            string    `json:"id"`
	StoreDomain   string    `json:"storeDomain"`
	SessionID     string    `json:"sessionId"`
	ToolName      string    `json:"toolName"`
	OperationType string    `json:"operationType"`
	Query         string    `json:"query"`
	Variables     string    `json:"variables,omitempty"`
	Response      string    `json:"response,omitempty"`
	Success       bool      `json:"success"`
	ErrorMessage  string    `json:"errorMessage,omitempty"`
	DurationMs    int64     `json:"durationMs"`
	CreatedAt     time.Time `json:"createdAt"`
}

// StoreConfig is the persisted configuration of one store.
type StoreConfig struct {
	StoreDomain  string    `json:"storeDomain"`
	Tier         string    `json:"tier"`
	AutoDetected bool      `json:"autoDetected"`
	ShopName     string    `json:"shopName,omitempty"`
	ShopPlan     string    `json:"shopPlan,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// HistoryFilter selects operations for [Store.History]. Zero fields do not
// filter.
type HistoryFilter struct {
	StoreDomain   string
	ToolName      string
	OperationType string
	Success       *bool
	Since         time.Time
	Limit         int
}

// EffectiveLimit clamps Limit to 1..MaxHistoryLimit, defaulting to
// DefaultHistoryLimit.
func (f HistoryFilter) EffectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultHistoryLimit
	case f.Limit > MaxHistoryLimit:
		return MaxHistoryLimit
	}
	return f.Limit
}

// Match reports whether op passes every set filter field.
func (f HistoryFilter) Match(op Operation) bool {
	if f.StoreDomain != "" && op.StoreDomain != f.StoreDomain {
		return false
	}
	if f.ToolName != "" && op.ToolName != f.ToolName {
		return false
	}
	if f.OperationType != "" && op.OperationType != f.OperationType {
		return false
	}
	if f.Success != nil && op.Success != *f.Success {
		return false
	}
	if !f.Since.IsZero() && op.CreatedAt.Before(f.Since) {
		return false
	}
	return true
}

// Store persists operations and store configuration.
type Store interface {
	// SaveOperation appends op to the log.
	SaveOperation(ctx context.Context, op Operation) error

	// History returns matching operations, newest first.
	History(ctx context.Context, f HistoryFilter) ([]Operation, error)

	// Stats aggregates the operations of storeDomain created at or after since.
	Stats(ctx context.Context, storeDomain string, since time.Time) (Stats, error)

	// PurgeBefore deletes operations created before cutoff and returns how
	// many were removed.
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// LoadStoreConfig returns the configuration of storeDomain. found is false
	// when none has been saved.
	LoadStoreConfig(ctx context.Context, storeDomain string) (cfg StoreConfig, found bool, err error)

	// SaveStoreConfig inserts or replaces the configuration for
	// cfg.StoreDomain, keeping the original CreatedAt.
	SaveStoreConfig(ctx context.Context, cfg StoreConfig) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}
