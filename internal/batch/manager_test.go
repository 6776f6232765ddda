package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"glosspipe/internal/assemble"
	"glosspipe/internal/costs"
	"glosspipe/internal/providers"
	"glosspipe/internal/safety"
	"glosspipe/internal/store"
)

type fixture struct {
	store   *store.Store
	mock    *providers.MockGenerator
	manager *Manager
	safety  *safety.Service
	termIDs []string
}

func newFixture(t *testing.T, termCount int) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.Open(filepath.Join(t.TempDir(), "glosspipe.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	records := make([]*assemble.Record, 0, termCount)
	for i := 0; i < termCount; i++ {
		records = append(records, &assemble.Record{
			Name: fmt.Sprintf("Term %03d", i),
			Sections: map[string]assemble.Content{
				"Introduction": {Fields: map[string]string{
					"Definition and Overview": fmt.Sprintf("definition of term %d", i),
				}},
			},
			Categories: []string{"General AI"},
		})
	}
	if termCount > 0 {
		if _, err := st.BulkUpsertTerms(context.Background(), records); err != nil {
			t.Fatalf("seed terms: %v", err)
		}
	}
	termIDs, err := st.ListTermIDs(context.Background(), "", 0)
	if err != nil {
		t.Fatalf("list term ids: %v", err)
	}

	mock := providers.NewMockGenerator()
	reg := providers.NewRegistry()
	reg.SetLogger(logger)
	reg.Register(mock)
	reg.AddModel(providers.ModelSpec{
		Selector: "mock-std", Provider: providers.MockName, Model: "mock-std-1",
		InputCostPer1M: 1.0, OutputCostPer1M: 2.0,
	})
	reg.AddModel(providers.ModelSpec{
		Selector: "mock-fallback", Provider: providers.MockName, Model: "mock-fallback-1",
		InputCostPer1M: 0.5, OutputCostPer1M: 1.0,
	})

	sf := safety.NewService(safety.Config{MaxStartsPerWindow: 100}, logger)
	estimator := costs.NewEstimator(st, reg, logger)
	enforcer := costs.NewEnforcer(st, estimator, logger)

	return &fixture{
		store:   st,
		mock:    mock,
		manager: NewManager(st, reg, sf, enforcer, logger),
		safety:  sf,
		termIDs: termIDs,
	}
}

func waitState(t *testing.T, m *Manager, id string, want ...State) Status {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		status, err := m.Status(id)
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		for _, s := range want {
			if status.State == s {
				return status
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	status, _ := m.Status(id)
	t.Fatalf("operation %s stuck in %s, wanted one of %v", id, status.State, want)
	return Status{}
}

func TestStartValidation(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()

	valid := func() Request {
		return Request{
			Section:              "Applications",
			AllTerms:             true,
			Model:                "mock-std",
			ChunkSize:            10,
			MaxConcurrentBatches: 2,
			Initiator:            "test",
		}
	}

	cases := []struct {
		name   string
		mutate func(*Request)
	}{
		{"missing section", func(r *Request) { r.Section = "" }},
		{"unknown section", func(r *Request) { r.Section = "Not A Section" }},
		{"empty target set", func(r *Request) { r.AllTerms = false }},
		{"targets and AllTerms", func(r *Request) { r.TermIDs = []string{f.termIDs[0]} }},
		{"zero chunk size", func(r *Request) { r.ChunkSize = 0 }},
		{"negative chunk size", func(r *Request) { r.ChunkSize = -1 }},
		{"zero concurrency", func(r *Request) { r.MaxConcurrentBatches = 0 }},
		{"negative concurrency", func(r *Request) { r.MaxConcurrentBatches = -2 }},
		{"missing model", func(r *Request) { r.Model = "" }},
		{"unknown model", func(r *Request) { r.Model = "no-such" }},
		{"unknown fallback", func(r *Request) { r.FallbackModel = "no-such" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := valid()
			tc.mutate(&req)
			if _, err := f.manager.Start(ctx, req); err == nil {
				t.Error("expected synchronous validation error")
			}
		})
	}

	// No operation id was allocated for any rejected request.
	if all := f.manager.ListAll(); len(all) != 0 {
		t.Errorf("invalid requests created %d operations", len(all))
	}
}

func TestOperationCompletes(t *testing.T) {
	f := newFixture(t, 8)
	ctx := context.Background()

	id, err := f.manager.Start(ctx, Request{
		Section:              "Applications",
		AllTerms:             true,
		Model:                "mock-std",
		ChunkSize:            3,
		MaxConcurrentBatches: 2,
		Initiator:            "test",
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	status := waitState(t, f.manager, id, StateCompleted)
	if status.Succeeded != 8 || status.Failed != 0 {
		t.Errorf("counts = %d succeeded/%d failed, want 8/0", status.Succeeded, status.Failed)
	}

	// Generated content persisted for every target.
	for _, termID := range f.termIDs {
		content, ok, err := f.store.SectionContent(ctx, termID, "Applications")
		if err != nil || !ok {
			t.Fatalf("section missing for %s: ok=%v err=%v", termID, ok, err)
		}
		if content.Text == "" {
			t.Errorf("empty generated content for %s", termID)
		}
	}

	// One cost record per unit of work.
	spend, err := f.store.OperationSpend(ctx, id)
	if err != nil {
		t.Fatalf("operation spend: %v", err)
	}
	if spend <= 0 {
		t.Errorf("operation spend = %v, want positive", spend)
	}
}

func TestSkipAlreadyPopulated(t *testing.T) {
	f := newFixture(t, 4)
	ctx := context.Background()

	for _, termID := range f.termIDs[:2] {
		err := f.store.SaveSectionContent(ctx, termID, "Applications",
			assemble.Content{Text: "already written"})
		if err != nil {
			t.Fatalf("pre-populate: %v", err)
		}
	}

	id, err := f.manager.Start(ctx, Request{
		Section:              "Applications",
		TermIDs:              f.termIDs,
		Model:                "mock-std",
		ChunkSize:            4,
		MaxConcurrentBatches: 2,
		Initiator:            "test",
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	status := waitState(t, f.manager, id, StateCompleted)
	if status.Skipped != 2 || status.Succeeded != 2 {
		t.Errorf("skipped/succeeded = %d/%d, want 2/2", status.Skipped, status.Succeeded)
	}

	// Pre-populated content untouched.
	content, _, err := f.store.SectionContent(ctx, f.termIDs[0], "Applications")
	if err != nil {
		t.Fatalf("section content: %v", err)
	}
	if content.Text != "already written" {
		t.Errorf("pre-populated content overwritten: %q", content.Text)
	}
}

func TestRegenerateOverwrites(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	err := f.store.SaveSectionContent(ctx, f.termIDs[0], "Applications",
		assemble.Content{Text: "stale"})
	if err != nil {
		t.Fatalf("pre-populate: %v", err)
	}

	id, err := f.manager.Start(ctx, Request{
		Section:              "Applications",
		TermIDs:              f.termIDs,
		Model:                "mock-std",
		ChunkSize:            2,
		MaxConcurrentBatches: 1,
		RegenerateExisting:   true,
		Initiator:            "test",
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	status := waitState(t, f.manager, id, StateCompleted)
	if status.Skipped != 0 || status.Succeeded != 2 {
		t.Errorf("skipped/succeeded = %d/%d, want 0/2", status.Skipped, status.Succeeded)
	}

	content, _, err := f.store.SectionContent(ctx, f.termIDs[0], "Applications")
	if err != nil {
		t.Fatalf("section content: %v", err)
	}
	if content.Text == "stale" {
		t.Error("regenerate left stale content in place")
	}
}

func TestPauseResume(t *testing.T) {
	f := newFixture(t, 20)
	f.mock.Latency = 20 * time.Millisecond
	ctx := context.Background()

	id, err := f.manager.Start(ctx, Request{
		Section:              "Applications",
		AllTerms:             true,
		Model:                "mock-std",
		ChunkSize:            1,
		MaxConcurrentBatches: 1,
		Initiator:            "test",
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if err := f.manager.Pause(id); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}

	status := waitState(t, f.manager, id, StatePaused)
	if status.Processed == 0 || status.Processed >= status.Total {
		t.Fatalf("processed = %d of %d, want partial progress", status.Processed, status.Total)
	}

	// Pausing a paused operation is invalid.
	if err := f.manager.Pause(id); err == nil {
		t.Error("expected error pausing a paused operation")
	}

	if err := f.manager.Resume(id); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}

	final := waitState(t, f.manager, id, StateCompleted)
	if final.Succeeded != 20 {
		t.Errorf("succeeded = %d after resume, want 20", final.Succeeded)
	}
}

func TestCancelAndTerminalImmutability(t *testing.T) {
	f := newFixture(t, 20)
	f.mock.Latency = 20 * time.Millisecond
	ctx := context.Background()

	id, err := f.manager.Start(ctx, Request{
		Section:              "Applications",
		AllTerms:             true,
		Model:                "mock-std",
		ChunkSize:            1,
		MaxConcurrentBatches: 1,
		Initiator:            "test",
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	time.Sleep(30 * time.Millisecond)
	if err := f.manager.Cancel(id); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	status := waitState(t, f.manager, id, StateCancelled)
	if status.Processed >= status.Total {
		t.Errorf("cancel did not stop dispatch: processed %d of %d", status.Processed, status.Total)
	}

	// Terminal states absorb all further transitions.
	if err := f.manager.Pause(id); err == nil {
		t.Error("expected error pausing a cancelled operation")
	}
	if err := f.manager.Resume(id); err == nil {
		t.Error("expected error resuming a cancelled operation")
	}
	if err := f.manager.Cancel(id); err == nil {
		t.Error("expected error cancelling a cancelled operation")
	}
}

func TestPauseOnError(t *testing.T) {
	f := newFixture(t, 6)
	f.mock.FailAfter = 2
	ctx := context.Background()

	id, err := f.manager.Start(ctx, Request{
		Section:              "Applications",
		AllTerms:             true,
		Model:                "mock-std",
		ChunkSize:            1,
		MaxConcurrentBatches: 1,
		PauseOnError:         true,
		Initiator:            "test",
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	status := waitState(t, f.manager, id, StatePaused)
	if status.Failed == 0 {
		t.Error("paused without recording the failing unit")
	}
	if status.PauseCause == "" {
		t.Error("pause cause not recorded")
	}
}

func TestFailuresCountedWithoutPause(t *testing.T) {
	f := newFixture(t, 4)
	f.mock.ShouldFail = true
	ctx := context.Background()

	id, err := f.manager.Start(ctx, Request{
		Section:              "Applications",
		AllTerms:             true,
		Model:                "mock-std",
		ChunkSize:            5,
		MaxConcurrentBatches: 2,
		Initiator:            "test",
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Nothing succeeded, so the operation lands in failed.
	status := waitState(t, f.manager, id, StateFailed)
	if status.Failed != 4 {
		t.Errorf("failed = %d, want 4", status.Failed)
	}
	if len(status.Errors) == 0 {
		t.Error("no unit errors retained")
	}
}

func TestFallbackModel(t *testing.T) {
	f := newFixture(t, 3)
	f.mock.FailModels = map[string]bool{"mock-std-1": true}
	ctx := context.Background()

	id, err := f.manager.Start(ctx, Request{
		Section:              "Applications",
		AllTerms:             true,
		Model:                "mock-std",
		FallbackModel:        "mock-fallback",
		ChunkSize:            3,
		MaxConcurrentBatches: 1,
		Initiator:            "test",
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	status := waitState(t, f.manager, id, StateCompleted)
	if status.Succeeded != 3 {
		t.Errorf("succeeded = %d via fallback, want 3", status.Succeeded)
	}
}

func TestSafetyGate(t *testing.T) {
	f := newFixture(t, 2)
	f.safety.ActivateEmergencyStop("incident", "ops")

	_, err := f.manager.Start(context.Background(), Request{
		Section:              "Applications",
		AllTerms:             true,
		Model:                "mock-std",
		ChunkSize:            5,
		MaxConcurrentBatches: 2,
		Initiator:            "test",
	})
	denial, ok := safety.IsDenial(err)
	if !ok {
		t.Fatalf("expected safety denial, got %v", err)
	}
	if !strings.Contains(denial.Reason, "emergency") {
		t.Errorf("reason %q does not mention emergency stop", denial.Reason)
	}
}

func TestEmergencyStopWinsOverBudget(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	// An exhausted budget would also deny this start; the emergency
	// stop must still be the reason the caller sees.
	now := time.Now()
	_, err := f.store.SaveBudget(ctx, store.Budget{
		Name:        "tiny",
		TotalUSD:    0.0000001,
		PeriodStart: now.Add(-time.Hour),
		PeriodEnd:   now.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("save budget: %v", err)
	}
	f.safety.ActivateEmergencyStop("incident", "ops")

	_, err = f.manager.Start(ctx, Request{
		Section:              "Applications",
		AllTerms:             true,
		Model:                "mock-std",
		ChunkSize:            5,
		MaxConcurrentBatches: 2,
		Initiator:            "test",
	})
	denial, ok := safety.IsDenial(err)
	if !ok {
		t.Fatalf("expected safety denial, got %v", err)
	}
	if !strings.Contains(denial.Reason, "emergency") {
		t.Errorf("reason %q does not mention emergency stop", denial.Reason)
	}
	var bee *costs.BudgetExceededError
	if errors.As(err, &bee) {
		t.Error("budget rejection surfaced ahead of the emergency stop")
	}
}

func TestBudgetGate(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	now := time.Now()
	_, err := f.store.SaveBudget(ctx, store.Budget{
		Name:        "tiny",
		TotalUSD:    0.0000001,
		PeriodStart: now.Add(-time.Hour),
		PeriodEnd:   now.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("save budget: %v", err)
	}

	_, err = f.manager.Start(ctx, Request{
		Section:              "Applications",
		AllTerms:             true,
		Model:                "mock-std",
		ChunkSize:            5,
		MaxConcurrentBatches: 2,
		Initiator:            "test",
	})
	var bee *costs.BudgetExceededError
	if !errors.As(err, &bee) {
		t.Fatalf("expected budget rejection, got %v", err)
	}
}

func TestListAndPurge(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	id, err := f.manager.Start(ctx, Request{
		Section:              "Applications",
		AllTerms:             true,
		Model:                "mock-std",
		ChunkSize:            5,
		MaxConcurrentBatches: 2,
		Initiator:            "test",
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitState(t, f.manager, id, StateCompleted)

	// Terminal operations stay listed until purged.
	if all := f.manager.ListAll(); len(all) != 1 {
		t.Errorf("ListAll = %d operations, want 1", len(all))
	}
	if active := f.manager.ListActive(); len(active) != 0 {
		t.Errorf("ListActive = %d operations, want 0 after completion", len(active))
	}

	if err := f.manager.Purge(id); err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	if _, err := f.manager.Status(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Status after purge = %v, want ErrNotFound", err)
	}
}

func TestPurgeRequiresTerminal(t *testing.T) {
	f := newFixture(t, 20)
	f.mock.Latency = 20 * time.Millisecond
	ctx := context.Background()

	id, err := f.manager.Start(ctx, Request{
		Section:              "Applications",
		AllTerms:             true,
		Model:                "mock-std",
		ChunkSize:            1,
		MaxConcurrentBatches: 1,
		Initiator:            "test",
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := f.manager.Purge(id); err == nil {
		t.Error("expected error purging a running operation")
	}
	if err := f.manager.Cancel(id); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
}
