package batch

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// State is an operation's lifecycle phase.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateCancelled, StateFailed:
		return true
	}
	return false
}

// maxRetainedErrors caps the per-operation error list; counters keep
// the full totals.
const maxRetainedErrors = 50

// UnitError records one failed generation unit.
type UnitError struct {
	TermID string    `json:"term_id"`
	Model  string    `json:"model"`
	Error  string    `json:"error"`
	Time   time.Time `json:"time"`
}

// Operation is one governed generation run. All transitions are
// serialized under its mutex; reads take consistent snapshots.
type Operation struct {
	mu sync.Mutex
	// sessionMu serializes dispatch sessions (see Manager.run).
	sessionMu sync.Mutex

	id      string
	request Request
	state   State

	termIDs []string
	done    []bool

	processed int
	succeeded int
	failed    int
	skipped   int
	errors    []UnitError

	estimatedCostUSD float64

	createdAt  time.Time
	startedAt  time.Time
	finishedAt time.Time
	pauseCause string

	ctx    context.Context
	cancel context.CancelFunc
}

func newOperation(id string, req Request, termIDs []string, estimatedCostUSD float64) *Operation {
	ctx, cancel := context.WithCancel(context.Background())
	return &Operation{
		id:               id,
		request:          req,
		state:            StatePending,
		termIDs:          termIDs,
		done:             make([]bool, len(termIDs)),
		estimatedCostUSD: estimatedCostUSD,
		createdAt:        time.Now(),
		ctx:              ctx,
		cancel:           cancel,
	}
}

// ID returns the operation identifier.
func (o *Operation) ID() string { return o.id }

// Section returns the target section. Part of the progress tracker's
// counter-source contract.
func (o *Operation) Section() string { return o.request.Section }

// ProgressCounters returns processed, succeeded, failed, and target
// set size for progress sampling. Skipped units count as processed
// but neither succeeded nor failed.
func (o *Operation) ProgressCounters() (processed, succeeded, failed, total int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.processed, o.succeeded, o.failed, len(o.termIDs)
}

// State returns the current lifecycle state.
func (o *Operation) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Status is a read-only snapshot of an operation.
type Status struct {
	ID      string `json:"id"`
	Section string `json:"section"`
	State   State  `json:"state"`
	Model   string `json:"model"`

	Total     int `json:"total"`
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`

	EstimatedCostUSD float64     `json:"estimated_cost_usd"`
	Errors           []UnitError `json:"errors,omitempty"`

	Initiator  string    `json:"initiator"`
	Reason     string    `json:"reason,omitempty"`
	PauseCause string    `json:"pause_cause,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// Status snapshots the operation.
func (o *Operation) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Status{
		ID:               o.id,
		Section:          o.request.Section,
		State:            o.state,
		Model:            o.request.Model,
		Total:            len(o.termIDs),
		Processed:        o.processed,
		Succeeded:        o.succeeded,
		Failed:           o.failed,
		Skipped:          o.skipped,
		EstimatedCostUSD: o.estimatedCostUSD,
		Errors:           append([]UnitError(nil), o.errors...),
		Initiator:        o.request.Initiator,
		Reason:           o.request.Reason,
		PauseCause:       o.pauseCause,
		CreatedAt:        o.createdAt,
		StartedAt:        o.startedAt,
		FinishedAt:       o.finishedAt,
	}
}

// transition moves the operation between states, enforcing the
// machine pending → running ⇄ paused → {completed, cancelled, failed}.
func (o *Operation) transition(to State, cause string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.transitionLocked(to, cause)
}

func (o *Operation) transitionLocked(to State, cause string) error {
	from := o.state
	if from.Terminal() {
		return fmt.Errorf("operation %s is %s; no further transitions", o.id, from)
	}

	valid := false
	switch to {
	case StateRunning:
		valid = from == StatePending || from == StatePaused
	case StatePaused:
		valid = from == StateRunning
	case StateCancelled:
		valid = true // any non-terminal state
	case StateCompleted, StateFailed:
		valid = from == StateRunning
	}
	if !valid {
		return fmt.Errorf("invalid transition %s -> %s for operation %s", from, to, o.id)
	}

	o.state = to
	switch to {
	case StateRunning:
		if o.startedAt.IsZero() {
			o.startedAt = time.Now()
		}
		o.pauseCause = ""
	case StatePaused:
		o.pauseCause = cause
	case StateCompleted, StateCancelled, StateFailed:
		o.finishedAt = time.Now()
		o.cancel()
	}
	return nil
}

// dispatching reports whether new units may start.
func (o *Operation) dispatching() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state == StateRunning && o.ctx.Err() == nil
}

// pendingUnits returns indexes of units not yet completed, in order.
func (o *Operation) pendingUnits() []int {
	o.mu.Lock()
	defer o.mu.Unlock()
	var pending []int
	for i, d := range o.done {
		if !d {
			pending = append(pending, i)
		}
	}
	return pending
}

func (o *Operation) termAt(idx int) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.termIDs[idx]
}

// markSucceeded completes a unit that generated content.
func (o *Operation) markSucceeded(idx int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.done[idx] = true
	o.processed++
	o.succeeded++
}

// markSkipped completes a unit whose section was already populated.
func (o *Operation) markSkipped(idx int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.done[idx] = true
	o.processed++
	o.skipped++
}

// markFailed completes a unit that could not be generated.
func (o *Operation) markFailed(idx int, model string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.done[idx] = true
	o.processed++
	o.failed++
	if len(o.errors) < maxRetainedErrors {
		o.errors = append(o.errors, UnitError{
			TermID: o.termIDs[idx],
			Model:  model,
			Error:  err.Error(),
			Time:   time.Now(),
		})
	}
}

// allDone reports whether every unit completed.
func (o *Operation) allDone() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, d := range o.done {
		if !d {
			return false
		}
	}
	return true
}
