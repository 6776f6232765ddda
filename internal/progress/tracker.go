// Package progress samples running operations on a fixed interval and
// emits durable milestone reports. The tracker only reads operation
// counters; it never mutates operation state.
package progress

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"glosspipe/internal/store"
)

// CounterSource exposes an operation's live counters to the tracker.
type CounterSource interface {
	// ProgressCounters returns processed, succeeded, failed, and the
	// size of the target set. processed never exceeds total.
	ProgressCounters() (processed, succeeded, failed, total int)
	// Section returns the operation's target section.
	Section() string
}

// Options tune one monitoring session.
type Options struct {
	// Interval between samples. Defaults to 5s.
	Interval time.Duration
	// ReportMilestones are processed-percentage thresholds (e.g.
	// [50, 100]); a durable report is written the first time each is
	// crossed.
	ReportMilestones []int
}

// Snapshot is one observation of an operation's counters.
type Snapshot struct {
	OperationID string    `json:"operation_id"`
	Section     string    `json:"section"`
	Processed   int       `json:"processed"`
	Succeeded   int       `json:"succeeded"`
	Failed      int       `json:"failed"`
	Total       int       `json:"total"`
	Percent     float64   `json:"percent"`
	Timestamp   time.Time `json:"timestamp"`
}

type monitor struct {
	source  CounterSource
	options Options
	fired   map[int]bool
	last    Snapshot
	hasLast bool
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
	history []Snapshot
}

// Tracker runs monitoring sessions keyed by operation id.
type Tracker struct {
	mu       sync.Mutex
	monitors map[string]*monitor
	store    *store.Store
	logger   *slog.Logger
}

// NewTracker creates a tracker that persists milestone reports to st.
func NewTracker(st *store.Store, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		monitors: make(map[string]*monitor),
		store:    st,
		logger:   logger,
	}
}

// StartMonitoring begins periodic sampling of src under operationID.
// Starting an operation that is still being sampled is an error; a
// stopped monitor is replaced and its snapshots superseded.
func (t *Tracker) StartMonitoring(operationID string, src CounterSource, opts Options) error {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	milestones := append([]int(nil), opts.ReportMilestones...)
	sort.Ints(milestones)
	opts.ReportMilestones = milestones

	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.monitors[operationID]; ok && !existing.stopped {
		return fmt.Errorf("operation already monitored: %s", operationID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &monitor{
		source:  src,
		options: opts,
		fired:   make(map[int]bool),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	t.monitors[operationID] = m

	go t.run(ctx, operationID, m)
	t.logger.Info("monitoring started",
		"operation_id", operationID, "interval", opts.Interval,
		"milestones", opts.ReportMilestones)
	return nil
}

// StopMonitoring halts sampling. The last snapshot stays queryable.
func (t *Tracker) StopMonitoring(operationID string) error {
	t.mu.Lock()
	m, ok := t.monitors[operationID]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("operation not monitored: %s", operationID)
	}

	m.cancel()
	<-m.done

	t.mu.Lock()
	m.stopped = true
	t.mu.Unlock()
	t.logger.Info("monitoring stopped", "operation_id", operationID)
	return nil
}

// Current returns the latest snapshot for an operation. ok is false
// when the operation was never monitored or has produced no sample.
func (t *Tracker) Current(operationID string) (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	m, ok := t.monitors[operationID]
	if !ok || !m.hasLast {
		return Snapshot{}, false
	}
	return m.last, true
}

// History returns all snapshots taken for an operation, oldest first.
func (t *Tracker) History(operationID string) []Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	m, ok := t.monitors[operationID]
	if !ok {
		return nil
	}
	return append([]Snapshot(nil), m.history...)
}

// Reports returns the durable milestone reports for an operation.
func (t *Tracker) Reports(ctx context.Context, operationID string) ([]store.StatusReport, error) {
	return t.store.StatusReports(ctx, operationID)
}

func (t *Tracker) run(ctx context.Context, operationID string, m *monitor) {
	defer close(m.done)

	ticker := time.NewTicker(m.options.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final sample so short-lived operations still record
			// their completion before the monitor stops.
			t.sample(operationID, m)
			return
		case <-ticker.C:
			t.sample(operationID, m)
		}
	}
}

func (t *Tracker) sample(operationID string, m *monitor) {
	processed, succeeded, failed, total := m.source.ProgressCounters()

	t.mu.Lock()
	// Counters only move forward; a racy read that appears to go
	// backwards keeps the previous value.
	if m.hasLast {
		if processed < m.last.Processed {
			processed = m.last.Processed
		}
		if succeeded < m.last.Succeeded {
			succeeded = m.last.Succeeded
		}
		if failed < m.last.Failed {
			failed = m.last.Failed
		}
	}

	snap := Snapshot{
		OperationID: operationID,
		Section:     m.source.Section(),
		Processed:   processed,
		Succeeded:   succeeded,
		Failed:      failed,
		Total:       total,
		Timestamp:   time.Now(),
	}
	if total > 0 {
		snap.Percent = float64(processed) / float64(total) * 100
	}
	m.last = snap
	m.hasLast = true
	m.history = append(m.history, snap)

	var due []int
	for _, milestone := range m.options.ReportMilestones {
		if !m.fired[milestone] && snap.Percent >= float64(milestone) {
			m.fired[milestone] = true
			due = append(due, milestone)
		}
	}
	t.mu.Unlock()

	for _, milestone := range due {
		t.emitReport(snap, milestone)
	}
}

func (t *Tracker) emitReport(snap Snapshot, milestone int) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := t.store.SaveStatusReport(ctx, store.StatusReport{
		OperationID: snap.OperationID,
		Section:     snap.Section,
		Milestone:   milestone,
		Processed:   snap.Processed,
		Succeeded:   snap.Succeeded,
		Failed:      snap.Failed,
	})
	if err != nil {
		t.logger.Error("failed to save milestone report",
			"operation_id", snap.OperationID, "milestone", milestone, "error", err)
		return
	}
	t.logger.Info("milestone reached",
		"operation_id", snap.OperationID, "milestone_pct", milestone,
		"processed", snap.Processed, "failed", snap.Failed)
}
