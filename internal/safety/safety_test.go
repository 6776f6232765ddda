package safety

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func testService(cfg Config) *Service {
	return NewService(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestCheckOperationPermission(t *testing.T) {
	t.Run("grants under normal conditions", func(t *testing.T) {
		svc := testService(Config{})
		if err := svc.CheckOperationPermission("alice", 1.0); err != nil {
			t.Fatalf("expected grant, got %v", err)
		}
	})

	t.Run("emergency stop denies everything", func(t *testing.T) {
		svc := testService(Config{})
		svc.ActivateEmergencyStop("runaway spend", "ops")

		err := svc.CheckOperationPermission("alice", 0.01)
		if err == nil {
			t.Fatal("expected denial")
		}
		denial, ok := IsDenial(err)
		if !ok {
			t.Fatalf("expected Denial, got %T", err)
		}
		if !strings.Contains(denial.Reason, "emergency") {
			t.Errorf("reason %q does not mention emergency", denial.Reason)
		}
	})

	t.Run("deactivation restores grants", func(t *testing.T) {
		svc := testService(Config{})
		svc.ActivateEmergencyStop("drill", "ops")
		svc.DeactivateEmergencyStop("ops")

		if err := svc.CheckOperationPermission("alice", 1.0); err != nil {
			t.Fatalf("expected grant after deactivation, got %v", err)
		}
	})

	t.Run("rate limit per actor", func(t *testing.T) {
		svc := testService(Config{MaxStartsPerWindow: 3})

		for i := 0; i < 3; i++ {
			if err := svc.CheckOperationPermission("alice", 1.0); err != nil {
				t.Fatalf("start %d denied: %v", i+1, err)
			}
		}

		err := svc.CheckOperationPermission("alice", 1.0)
		denial, ok := IsDenial(err)
		if !ok {
			t.Fatalf("expected Denial, got %v", err)
		}
		if !strings.Contains(denial.Reason, "rate limit") {
			t.Errorf("reason %q does not mention rate limit", denial.Reason)
		}

		// A different actor has its own window.
		if err := svc.CheckOperationPermission("bob", 1.0); err != nil {
			t.Fatalf("bob denied by alice's window: %v", err)
		}
	})

	t.Run("window expiry frees capacity", func(t *testing.T) {
		svc := testService(Config{MaxStartsPerWindow: 1, Window: time.Minute})
		current := time.Now()
		svc.now = func() time.Time { return current }

		if err := svc.CheckOperationPermission("alice", 1.0); err != nil {
			t.Fatalf("first start denied: %v", err)
		}
		if err := svc.CheckOperationPermission("alice", 1.0); err == nil {
			t.Fatal("second start should hit rate limit")
		}

		current = current.Add(2 * time.Minute)
		if err := svc.CheckOperationPermission("alice", 1.0); err != nil {
			t.Fatalf("start after window expiry denied: %v", err)
		}
	})

	t.Run("cost ceiling", func(t *testing.T) {
		svc := testService(Config{MaxOperationCostUSD: 50})

		if err := svc.CheckOperationPermission("alice", 49.99); err != nil {
			t.Fatalf("under-ceiling start denied: %v", err)
		}

		err := svc.CheckOperationPermission("alice", 50.01)
		denial, ok := IsDenial(err)
		if !ok {
			t.Fatalf("expected Denial, got %v", err)
		}
		if !strings.Contains(denial.Reason, "cost") {
			t.Errorf("reason %q does not mention cost", denial.Reason)
		}
	})

	t.Run("denied starts still count against the window", func(t *testing.T) {
		svc := testService(Config{MaxStartsPerWindow: 2, MaxOperationCostUSD: 10})

		// Cost-denied attempts do not consume window slots; only
		// granted starts are recorded.
		if err := svc.CheckOperationPermission("alice", 100); err == nil {
			t.Fatal("expected cost denial")
		}
		for i := 0; i < 2; i++ {
			if err := svc.CheckOperationPermission("alice", 1.0); err != nil {
				t.Fatalf("start %d denied: %v", i+1, err)
			}
		}
	})
}

func TestStatus(t *testing.T) {
	svc := testService(Config{MaxStartsPerWindow: 5, MaxOperationCostUSD: 25})

	if err := svc.CheckOperationPermission("alice", 1.0); err != nil {
		t.Fatalf("start denied: %v", err)
	}
	svc.ActivateEmergencyStop("incident", "ops")

	status := svc.Status()
	if !status.EmergencyStopActive {
		t.Error("status does not show active stop")
	}
	if status.StopReason != "incident" || status.StopActor != "ops" {
		t.Errorf("stop metadata = %q/%q, want incident/ops", status.StopReason, status.StopActor)
	}
	if status.RecentStarts["alice"] != 1 {
		t.Errorf("recent starts for alice = %d, want 1", status.RecentStarts["alice"])
	}
	if status.MaxOperationCostUSD != 25 {
		t.Errorf("cost ceiling = %v, want 25", status.MaxOperationCostUSD)
	}
}

func TestDenialError(t *testing.T) {
	d := &Denial{Reason: "rate limit exceeded", Actor: "alice"}
	if !strings.Contains(d.Error(), "alice") || !strings.Contains(d.Error(), "rate limit") {
		t.Errorf("unexpected error string: %q", d.Error())
	}

	if _, ok := IsDenial(io.EOF); ok {
		t.Error("IsDenial matched a non-denial error")
	}
}
