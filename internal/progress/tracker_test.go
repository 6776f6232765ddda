package progress

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"glosspipe/internal/store"
)

type fakeSource struct {
	mu        sync.Mutex
	processed int
	succeeded int
	failed    int
	total     int
	section   string
}

func (f *fakeSource) ProgressCounters() (int, int, int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.processed, f.succeeded, f.failed, f.total
}

func (f *fakeSource) Section() string { return f.section }

func (f *fakeSource) advance(processed, succeeded, failed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed = processed
	f.succeeded = succeeded
	f.failed = failed
}

func testTracker(t *testing.T) *Tracker {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "glosspipe.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewTracker(st, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestMonitoringLifecycle(t *testing.T) {
	tracker := testTracker(t)
	src := &fakeSource{total: 100, section: "Applications"}

	if err := tracker.StartMonitoring("op-1", src, Options{Interval: 10 * time.Millisecond}); err != nil {
		t.Fatalf("StartMonitoring failed: %v", err)
	}

	if err := tracker.StartMonitoring("op-1", src, Options{}); err == nil {
		t.Error("expected error starting an already-monitored operation")
	}

	src.advance(10, 9, 1)
	time.Sleep(50 * time.Millisecond)

	snap, ok := tracker.Current("op-1")
	if !ok {
		t.Fatal("no snapshot after sampling interval")
	}
	if snap.Processed != 10 || snap.Succeeded != 9 || snap.Failed != 1 {
		t.Errorf("snapshot = %d/%d/%d, want 10/9/1", snap.Processed, snap.Succeeded, snap.Failed)
	}
	if snap.Section != "Applications" || snap.Total != 100 {
		t.Errorf("snapshot metadata = %s/%d, want Applications/100", snap.Section, snap.Total)
	}

	if err := tracker.StopMonitoring("op-1"); err != nil {
		t.Fatalf("StopMonitoring failed: %v", err)
	}

	// Last snapshot remains queryable after stop.
	if _, ok := tracker.Current("op-1"); !ok {
		t.Error("snapshot gone after StopMonitoring")
	}

	if err := tracker.StopMonitoring("op-unknown"); err == nil {
		t.Error("expected error stopping unmonitored operation")
	}
}

func TestRestartAfterStop(t *testing.T) {
	tracker := testTracker(t)
	src := &fakeSource{total: 10, section: "Applications"}

	if err := tracker.StartMonitoring("op-5", src, Options{Interval: 5 * time.Millisecond}); err != nil {
		t.Fatalf("StartMonitoring failed: %v", err)
	}
	src.advance(10, 10, 0)
	if err := tracker.StopMonitoring("op-5"); err != nil {
		t.Fatalf("StopMonitoring failed: %v", err)
	}

	// A stopped monitor can be replaced for the same id.
	resumed := &fakeSource{total: 20, section: "Applications"}
	if err := tracker.StartMonitoring("op-5", resumed, Options{Interval: 5 * time.Millisecond}); err != nil {
		t.Fatalf("StartMonitoring after stop failed: %v", err)
	}
	resumed.advance(12, 12, 0)
	time.Sleep(30 * time.Millisecond)

	snap, ok := tracker.Current("op-5")
	if !ok {
		t.Fatal("no snapshot from replacement monitor")
	}
	if snap.Total != 20 {
		t.Errorf("snapshot total = %d, want 20 from the new source", snap.Total)
	}

	if err := tracker.StopMonitoring("op-5"); err != nil {
		t.Fatalf("StopMonitoring failed: %v", err)
	}
}

func TestSnapshotsMonotonic(t *testing.T) {
	tracker := testTracker(t)
	src := &fakeSource{total: 50, section: "Glossary"}

	if err := tracker.StartMonitoring("op-2", src, Options{Interval: 5 * time.Millisecond}); err != nil {
		t.Fatalf("StartMonitoring failed: %v", err)
	}

	src.advance(20, 20, 0)
	time.Sleep(30 * time.Millisecond)
	// Counters never legitimately regress; a racy read is clamped.
	src.advance(15, 15, 0)
	time.Sleep(30 * time.Millisecond)

	if err := tracker.StopMonitoring("op-2"); err != nil {
		t.Fatalf("StopMonitoring failed: %v", err)
	}

	history := tracker.History("op-2")
	if len(history) < 2 {
		t.Fatalf("got %d snapshots, want at least 2", len(history))
	}
	prev := -1
	for i, snap := range history {
		if snap.Processed < prev {
			t.Errorf("snapshot %d processed %d < previous %d", i, snap.Processed, prev)
		}
		prev = snap.Processed
	}
}

func TestMilestoneReports(t *testing.T) {
	tracker := testTracker(t)
	src := &fakeSource{total: 10, section: "Applications"}

	opts := Options{Interval: 5 * time.Millisecond, ReportMilestones: []int{50, 100}}
	if err := tracker.StartMonitoring("op-3", src, opts); err != nil {
		t.Fatalf("StartMonitoring failed: %v", err)
	}

	src.advance(5, 5, 0)
	time.Sleep(30 * time.Millisecond)
	src.advance(10, 9, 1)
	time.Sleep(30 * time.Millisecond)

	if err := tracker.StopMonitoring("op-3"); err != nil {
		t.Fatalf("StopMonitoring failed: %v", err)
	}

	reports, err := tracker.Reports(context.Background(), "op-3")
	if err != nil {
		t.Fatalf("Reports failed: %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("got %d reports, want 2 (one per milestone)", len(reports))
	}
	if reports[0].Milestone != 50 || reports[1].Milestone != 100 {
		t.Errorf("milestones = %d,%d, want 50,100", reports[0].Milestone, reports[1].Milestone)
	}
	if reports[1].Processed != 10 || reports[1].Failed != 1 {
		t.Errorf("final report = %d processed/%d failed, want 10/1",
			reports[1].Processed, reports[1].Failed)
	}
}
