package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"glosspipe/internal/costs"
	"glosspipe/internal/providers"
	"glosspipe/internal/safety"
	"glosspipe/internal/store"
)

// ErrNotFound is returned for lookups of unknown operation ids.
var ErrNotFound = errors.New("operation not found")

// Manager owns the operation registry and drives the lifecycle of
// every operation it starts.
type Manager struct {
	mu  sync.Mutex
	ops map[string]*Operation

	store    *store.Store
	registry *providers.Registry
	safety   *safety.Service
	enforcer *costs.Enforcer
	logger   *slog.Logger
}

// NewManager creates a manager. All collaborators are required.
func NewManager(st *store.Store, registry *providers.Registry, sf *safety.Service, enforcer *costs.Enforcer, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		ops:      make(map[string]*Operation),
		store:    st,
		registry: registry,
		safety:   sf,
		enforcer: enforcer,
		logger:   logger,
	}
}

// Start validates, gates, and launches a new operation. Invalid or
// denied requests fail synchronously and create no operation. The
// returned id identifies the operation for all later calls; work runs
// in the background after Start returns.
func (m *Manager) Start(ctx context.Context, req Request) (string, error) {
	if err := req.validate(); err != nil {
		return "", fmt.Errorf("invalid request: %w", err)
	}
	req = req.withDefaults()
	if _, _, err := m.registry.Resolve(req.Model); err != nil {
		return "", fmt.Errorf("invalid request: %w", err)
	}
	if req.FallbackModel != "" {
		if _, _, err := m.registry.Resolve(req.FallbackModel); err != nil {
			return "", fmt.Errorf("invalid request: fallback: %w", err)
		}
	}

	termIDs, err := m.resolveTargets(ctx, req)
	if err != nil {
		return "", fmt.Errorf("resolve targets: %w", err)
	}

	estimate, err := m.enforcer.Estimate(ctx, costs.EstimateRequest{
		Section:       req.Section,
		RecordCount:   len(termIDs),
		Model:         req.Model,
		FallbackModel: req.FallbackModel,
	})
	if err != nil {
		return "", fmt.Errorf("estimate: %w", err)
	}

	// The safety gate rules first: an active emergency stop or an
	// exhausted rate window denies the start no matter what the
	// budgets would say.
	if err := m.safety.CheckOperationPermission(req.Initiator, estimate.TotalCostUSD); err != nil {
		return "", err
	}
	if err := m.enforcer.EnforceEstimate(ctx, req.Initiator, estimate); err != nil {
		return "", err
	}

	op := newOperation(uuid.New().String(), req, termIDs, estimate.TotalCostUSD)

	m.mu.Lock()
	m.ops[op.id] = op
	m.mu.Unlock()

	if err := op.transition(StateRunning, ""); err != nil {
		// Unreachable from pending, but keep the registry clean.
		m.mu.Lock()
		delete(m.ops, op.id)
		m.mu.Unlock()
		return "", err
	}

	m.logger.Info("batch operation started",
		"operation_id", op.id,
		"section", req.Section,
		"targets", len(termIDs),
		"model", req.Model,
		"estimated_cost_usd", estimate.TotalCostUSD,
		"initiator", req.Initiator)

	go m.run(op)
	return op.id, nil
}

// resolveTargets fixes the operation's record set. An explicit id list
// is taken as-is; under AllTerms the store picks terms that need the
// section (or all terms for a regenerate run).
func (m *Manager) resolveTargets(ctx context.Context, req Request) ([]string, error) {
	if len(req.TermIDs) > 0 {
		return req.TermIDs, nil
	}
	missing := req.Section
	if req.RegenerateExisting {
		missing = ""
	}
	ids, err := m.store.ListTermIDs(ctx, missing, 0)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no terms need section %q", req.Section)
	}
	return ids, nil
}

// Pause stops dispatch of new units. In-flight units complete.
func (m *Manager) Pause(id string) error {
	op, err := m.get(id)
	if err != nil {
		return err
	}
	if err := op.transition(StatePaused, "paused by request"); err != nil {
		return err
	}
	m.logger.Info("batch operation paused", "operation_id", id)
	return nil
}

// Resume continues a paused operation from its last completed unit.
func (m *Manager) Resume(id string) error {
	op, err := m.get(id)
	if err != nil {
		return err
	}
	if err := op.transition(StateRunning, ""); err != nil {
		return err
	}
	m.logger.Info("batch operation resumed", "operation_id", id)
	go m.run(op)
	return nil
}

// Cancel stops an operation from any non-terminal state. In-flight
// generation calls finish; their results are still persisted.
func (m *Manager) Cancel(id string) error {
	op, err := m.get(id)
	if err != nil {
		return err
	}
	if err := op.transition(StateCancelled, ""); err != nil {
		return err
	}
	m.logger.Info("batch operation cancelled", "operation_id", id)
	return nil
}

// Status returns a snapshot of one operation.
func (m *Manager) Status(id string) (Status, error) {
	op, err := m.get(id)
	if err != nil {
		return Status{}, err
	}
	return op.Status(), nil
}

// Operation returns the live operation, for wiring into the progress
// tracker as a counter source.
func (m *Manager) Operation(id string) (*Operation, error) {
	return m.get(id)
}

// ListActive returns snapshots of all non-terminal operations, newest
// first.
func (m *Manager) ListActive() []Status {
	return m.list(false)
}

// ListAll returns snapshots of every retained operation, newest first.
func (m *Manager) ListAll() []Status {
	return m.list(true)
}

func (m *Manager) list(includeTerminal bool) []Status {
	m.mu.Lock()
	ops := make([]*Operation, 0, len(m.ops))
	for _, op := range m.ops {
		ops = append(ops, op)
	}
	m.mu.Unlock()

	var out []Status
	for _, op := range ops {
		st := op.Status()
		if includeTerminal || !st.State.Terminal() {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Purge removes a terminal operation from the registry. Non-terminal
// operations must be cancelled first.
func (m *Manager) Purge(id string) error {
	op, err := m.get(id)
	if err != nil {
		return err
	}
	if !op.State().Terminal() {
		return fmt.Errorf("operation %s is %s; cancel before purging", id, op.State())
	}

	m.mu.Lock()
	delete(m.ops, id)
	m.mu.Unlock()
	m.logger.Info("batch operation purged", "operation_id", id)
	return nil
}

func (m *Manager) get(id string) (*Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := m.ops[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return op, nil
}
