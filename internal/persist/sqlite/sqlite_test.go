package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/shopify-store-mcp/internal/persist"
	"github.com/MrWong99/shopify-store-mcp/internal/persist/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "nested", "mcp.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_OperationRoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	ops := []persist.Operation{
		{StoreDomain: "a.myshopify.com", SessionID: "s1", ToolName: "bulk_export", OperationType: "mutation",
			Query: "mutation BulkOperationRunQuery { x }", Variables: `{"q":1}`, Success: true, DurationMs: 120, CreatedAt: now.Add(-3 * time.Hour)},
		{StoreDomain: "a.myshopify.com", SessionID: "s1", ToolName: "bulk_export", OperationType: "query",
			Query: "query GetCurrentBulkOperation { x }", Success: false, ErrorMessage: "boom", DurationMs: 80, CreatedAt: now.Add(-2 * time.Hour)},
		{StoreDomain: "b.myshopify.com", SessionID: "s2", ToolName: "upload_file", OperationType: "mutation",
			Query: "mutation FileCreate { x }", Success: true, DurationMs: 40, CreatedAt: now.Add(-1 * time.Hour)},
	}
	for _, op := range ops {
		if err := s.SaveOperation(ctx, op); err != nil {
			t.Fatalf("SaveOperation: %v", err)
		}
	}

	got, err := s.History(ctx, persist.HistoryFilter{StoreDomain: "a.myshopify.com"})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("History returned %d rows, want 2", len(got))
	}
	if got[0].OperationType != "query" || got[0].ErrorMessage != "boom" || got[0].Success {
		t.Errorf("newest row = %+v", got[0])
	}
	if got[1].Variables != `{"q":1}` || got[1].DurationMs != 120 || got[1].ID == "" {
		t.Errorf("oldest row = %+v", got[1])
	}
	if !got[1].CreatedAt.Equal(ops[0].CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got[1].CreatedAt, ops[0].CreatedAt)
	}

	ok := true
	got, _ = s.History(ctx, persist.HistoryFilter{Success: &ok, Limit: 10})
	if len(got) != 2 {
		t.Errorf("success filter returned %d rows, want 2", len(got))
	}
	got, _ = s.History(ctx, persist.HistoryFilter{Since: now.Add(-90 * time.Minute)})
	if len(got) != 1 || got[0].ToolName != "upload_file" {
		t.Errorf("since filter = %+v", got)
	}

	st, err := s.Stats(ctx, "a.myshopify.com", now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.TotalCalls != 2 || st.SuccessCount != 1 || st.AvgDurationMs != 100 {
		t.Errorf("stats = %+v", st)
	}

	n, err := s.PurgeBefore(ctx, now.Add(-150*time.Minute))
	if err != nil || n != 1 {
		t.Errorf("PurgeBefore = (%d, %v), want (1, nil)", n, err)
	}
}

func TestStore_StoreConfig(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	if _, found, err := s.LoadStoreConfig(ctx, "a.myshopify.com"); err != nil || found {
		t.Fatalf("LoadStoreConfig on empty db = (%v, %v)", found, err)
	}
	if err := s.SaveStoreConfig(ctx, persist.StoreConfig{StoreDomain: "a.myshopify.com", Tier: "STANDARD"}); err != nil {
		t.Fatalf("SaveStoreConfig: %v", err)
	}
	first, _, _ := s.LoadStoreConfig(ctx, "a.myshopify.com")

	if err := s.SaveStoreConfig(ctx, persist.StoreConfig{
		StoreDomain: "a.myshopify.com", Tier: "ADVANCED", AutoDetected: true, ShopName: "Demo", ShopPlan: "Advanced",
	}); err != nil {
		t.Fatalf("SaveStoreConfig: %v", err)
	}
	got, found, err := s.LoadStoreConfig(ctx, "a.myshopify.com")
	if err != nil || !found {
		t.Fatalf("LoadStoreConfig = (%v, %v)", found, err)
	}
	if got.Tier != "ADVANCED" || !got.AutoDetected || got.ShopPlan != "Advanced" {
		t.Errorf("config = %+v", got)
	}
	if !got.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("CreatedAt changed on upsert")
	}
	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestOpen_ReopenKeepsData(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "mcp.db")
	ctx := context.Background()

	s, err := sqlite.Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.SaveStoreConfig(ctx, persist.StoreConfig{StoreDomain: "x", Tier: "PLUS"}); err != nil {
		t.Fatalf("SaveStoreConfig: %v", err)
	}
	_ = s.Close()

	s, err = sqlite.Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	cfg, found, err := s.LoadStoreConfig(ctx, "x")
	if err != nil || !found || cfg.Tier != "PLUS" {
		t.Errorf("after reopen = (%+v, %v, %v)", cfg, found, err)
	}
}
