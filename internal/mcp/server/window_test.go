package server

import "testing"

func TestRollingWindow(t *testing.T) {
	t.Parallel()

	w := newRollingWindow(4)
	if got := w.Snapshot(); got != (ToolStats{}) {
		t.Errorf("empty snapshot = %+v", got)
	}

	for i, ms := range []int64{10, 20, 30, 40, 50, 60} {
		w.Record(ms, i%3 == 0)
	}
	// Window holds 30, 40, 50, 60; failures at 40 (i=3).
	got := w.Snapshot()
	want := ToolStats{Calls: 6, P50Ms: 50, P99Ms: 50, ErrorRate: 0.25}
	if got != want {
		t.Errorf("snapshot = %+v, want %+v", got, want)
	}
}

func TestRollingWindow_DefaultSize(t *testing.T) {
	t.Parallel()

	w := newRollingWindow(0)
	for range 150 {
		w.Record(1, true)
	}
	got := w.Snapshot()
	if got.Calls != 150 || got.ErrorRate != 1 {
		t.Errorf("snapshot = %+v", got)
	}
	if len(w.samples) != 100 {
		t.Errorf("capacity = %d, want 100", len(w.samples))
	}
}
