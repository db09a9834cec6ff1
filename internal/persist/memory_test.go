package persist_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/shopify-store-mcp/internal/persist"
)

func seed(t *testing.T, s persist.Store, base time.Time) {
	t.Helper()
	ops := []persist.Operation{
		{StoreDomain: "a.myshopify.com", ToolName: "bulk_export", OperationType: "mutation", Success: true, DurationMs: 100, CreatedAt: base.Add(-48 * time.Hour)},
		{StoreDomain: "a.myshopify.com", ToolName: "bulk_export", OperationType: "query", Success: false, ErrorMessage: "boom", DurationMs: 300, CreatedAt: base.Add(-2 * time.Hour)},
		{StoreDomain: "a.myshopify.com", ToolName: "upload_file", OperationType: "mutation", Success: true, DurationMs: 50, CreatedAt: base.Add(-1 * time.Hour)},
		{StoreDomain: "b.myshopify.com", ToolName: "upload_file", OperationType: "mutation", Success: true, DurationMs: 10, CreatedAt: base.Add(-1 * time.Hour)},
	}
	for _, op := range ops {
		if err := s.SaveOperation(context.Background(), op); err != nil {
			t.Fatalf("SaveOperation: %v", err)
		}
	}
}

func TestMemoryStore_History(t *testing.T) {
	t.Parallel()

	s := persist.NewMemoryStore()
	now := time.Now().UTC()
	seed(t, s, now)
	ctx := context.Background()
	failed := false

	tests := []struct {
		name      string
		filter    persist.HistoryFilter
		wantTools []string
	}{
		{
			name:      "store scoped newest first",
			filter:    persist.HistoryFilter{StoreDomain: "a.myshopify.com"},
			wantTools: []string{"upload_file", "bulk_export", "bulk_export"},
		},
		{
			name:      "by tool",
			filter:    persist.HistoryFilter{StoreDomain: "a.myshopify.com", ToolName: "bulk_export"},
			wantTools: []string{"bulk_export", "bulk_export"},
		},
		{
			name:      "by type",
			filter:    persist.HistoryFilter{StoreDomain: "a.myshopify.com", OperationType: "query"},
			wantTools: []string{"bulk_export"},
		},
		{
			name:      "failures only",
			filter:    persist.HistoryFilter{StoreDomain: "a.myshopify.com", Success: &failed},
			wantTools: []string{"bulk_export"},
		},
		{
			name:      "since",
			filter:    persist.HistoryFilter{StoreDomain: "a.myshopify.com", Since: now.Add(-24 * time.Hour)},
			wantTools: []string{"upload_file", "bulk_export"},
		},
		{
			name:      "limit",
			filter:    persist.HistoryFilter{StoreDomain: "a.myshopify.com", Limit: 1},
			wantTools: []string{"upload_file"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := s.History(ctx, tt.filter)
			if err != nil {
				t.Fatalf("History: %v", err)
			}
			if len(got) != len(tt.wantTools) {
				t.Fatalf("got %d operations, want %d", len(got), len(tt.wantTools))
			}
			for i, op := range got {
				if op.ToolName != tt.wantTools[i] {
					t.Errorf("[%d] tool = %q, want %q", i, op.ToolName, tt.wantTools[i])
				}
				if op.ID == "" {
					t.Errorf("[%d] missing generated ID", i)
				}
			}
		})
	}
}

func TestHistoryFilter_EffectiveLimit(t *testing.T) {
	t.Parallel()

	for in, want := range map[int]int{0: 50, -3: 50, 1: 1, 200: 200, 500: 500, 501: 500} {
		if got := (persist.HistoryFilter{Limit: in}).EffectiveLimit(); got != want {
			t.Errorf("EffectiveLimit(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestMemoryStore_Stats(t *testing.T) {
	t.Parallel()

	s := persist.NewMemoryStore()
	now := time.Now().UTC()
	seed(t, s, now)

	st, err := s.Stats(context.Background(), "a.myshopify.com", now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.TotalCalls != 2 || st.SuccessCount != 1 || st.ErrorCount != 1 {
		t.Errorf("counts = %+v", st)
	}
	if st.AvgDurationMs != 175 {
		t.Errorf("AvgDurationMs = %v, want 175", st.AvgDurationMs)
	}
	be := st.ByTool["bulk_export"]
	if be.Calls != 1 || be.SuccessRate != 0 || be.AvgDuration != 300 {
		t.Errorf("bulk_export = %+v", be)
	}

	empty, _ := s.Stats(context.Background(), "none.myshopify.com", time.Time{})
	if empty.TotalCalls != 0 || empty.ByTool == nil {
		t.Errorf("empty stats = %+v", empty)
	}
}

func TestStatsBuilder(t *testing.T) {
	t.Parallel()

	var b persist.StatsBuilder
	b.Add("x", true, 10)
	b.Add("x", false, 20)
	b.Add("y", true, 30)
	st := b.Stats()
	if st.TotalCalls != 3 || st.ErrorCount != 1 || st.AvgDurationMs != 20 {
		t.Errorf("stats = %+v", st)
	}
	if x := st.ByTool["x"]; x.Calls != 2 || math.Abs(x.SuccessRate-0.5) > 1e-9 || x.AvgDuration != 15 {
		t.Errorf("x = %+v", x)
	}
}

func TestMemoryStore_PurgeBefore(t *testing.T) {
	t.Parallel()

	s := persist.NewMemoryStore()
	now := time.Now().UTC()
	seed(t, s, now)

	n, err := s.PurgeBefore(context.Background(), now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PurgeBefore: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d, want 1", n)
	}
	left, _ := s.History(context.Background(), persist.HistoryFilter{})
	if len(left) != 3 {
		t.Errorf("remaining = %d, want 3", len(left))
	}
}

func TestMemoryStore_StoreConfig(t *testing.T) {
	t.Parallel()

	s := persist.NewMemoryStore()
	ctx := context.Background()

	if _, found, err := s.LoadStoreConfig(ctx, "a.myshopify.com"); err != nil || found {
		t.Fatalf("LoadStoreConfig on empty store = (%v, %v)", found, err)
	}

	if err := s.SaveStoreConfig(ctx, persist.StoreConfig{StoreDomain: "a.myshopify.com", Tier: "STANDARD"}); err != nil {
		t.Fatalf("SaveStoreConfig: %v", err)
	}
	first, _, _ := s.LoadStoreConfig(ctx, "a.myshopify.com")

	if err := s.SaveStoreConfig(ctx, persist.StoreConfig{
		StoreDomain: "a.myshopify.com", Tier: "PLUS", AutoDetected: true, ShopName: "Demo", ShopPlan: "Shopify Plus",
	}); err != nil {
		t.Fatalf("SaveStoreConfig: %v", err)
	}
	got, found, err := s.LoadStoreConfig(ctx, "a.myshopify.com")
	if err != nil || !found {
		t.Fatalf("LoadStoreConfig = (%v, %v)", found, err)
	}
	if got.Tier != "PLUS" || !got.AutoDetected || got.ShopName != "Demo" {
		t.Errorf("config = %+v", got)
	}
	if !got.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("CreatedAt changed on update: %v -> %v", first.CreatedAt, got.CreatedAt)
	}
}
