package persist

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps everything in process memory. It is used when operation
// logging is configured without a database and in tests.
type MemoryStore struct {
	mu      sync.Mutex
	ops     []Operation
	configs map[string]StoreConfig
	now     func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		configs: make(map[string]StoreConfig),
		now:     time.Now,
	}
}

// SaveOperation implements [Store]. Missing IDs and timestamps are filled in.
func (m *MemoryStore) SaveOperation(_ context.Context, op Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = m.now().UTC()
	}
	m.ops = append(m.ops, op)
	return nil
}

// History implements [Store].
func (m *MemoryStore) History(_ context.Context, f HistoryFilter) ([]Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Operation
	// Walk backwards so equal timestamps keep newest-appended first.
	for i := len(m.ops) - 1; i >= 0; i-- {
		if f.Match(m.ops[i]) {
			out = append(out, m.ops[i])
		}
	}
	slices.SortStableFunc(out, func(a, b Operation) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit := f.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Stats implements [Store].
func (m *MemoryStore) Stats(_ context.Context, storeDomain string, since time.Time) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var b StatsBuilder
	for _, op := range m.ops {
		if op.StoreDomain != storeDomain || op.CreatedAt.Before(since) {
			continue
		}
		b.Add(op.ToolName, op.Success, op.DurationMs)
	}
	return b.Stats(), nil
}

// PurgeBefore implements [Store].
func (m *MemoryStore) PurgeBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	before := len(m.ops)
	m.ops = slices.DeleteFunc(m.ops, func(op Operation) bool {
		return op.CreatedAt.Before(cutoff)
	})
	return int64(before - len(m.ops)), nil
}

// LoadStoreConfig implements [Store].
func (m *MemoryStore) LoadStoreConfig(_ context.Context, storeDomain string) (StoreConfig, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.configs[storeDomain]
	return cfg, ok, nil
}

// SaveStoreConfig implements [Store].
func (m *MemoryStore) SaveStoreConfig(_ context.Context, cfg StoreConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	if prev, ok := m.configs[cfg.StoreDomain]; ok {
		cfg.CreatedAt = prev.CreatedAt
	} else {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now
	m.configs[cfg.StoreDomain] = cfg
	return nil
}

// Ping implements [Store].
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Close implements [Store].
func (m *MemoryStore) Close() error { return nil }
