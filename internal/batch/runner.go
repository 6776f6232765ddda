package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"glosspipe/internal/assemble"
	"glosspipe/internal/providers"
	"glosspipe/internal/store"
)

// unitTimeout bounds a single generation call. A timed-out unit is a
// per-unit failure, not an operation failure.
const unitTimeout = 3 * time.Minute

// run is one dispatch session: it covers every unit still pending and
// returns when the operation pauses, cancels, or completes. Resume
// starts a fresh session over the remaining units.
func (m *Manager) run(op *Operation) {
	// One session at a time per operation; a resume issued while the
	// previous session drains waits for it.
	op.sessionMu.Lock()
	defer op.sessionMu.Unlock()

	pending := op.pendingUnits()
	chunks := chunkIndexes(pending, op.request.ChunkSize)

	sem := make(chan struct{}, op.request.MaxConcurrentBatches)
	var wg sync.WaitGroup

	for i, units := range chunks {
		if !op.dispatching() {
			break
		}
		if i > 0 {
			m.recheckBudget(op)
			if !op.dispatching() {
				break
			}
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(units []int) {
			defer wg.Done()
			defer func() { <-sem }()
			m.runChunk(op, units)
		}(units)
	}
	wg.Wait()

	m.finishSession(op)
}

// chunkIndexes splits unit indexes into sub-batches of at most size.
func chunkIndexes(units []int, size int) [][]int {
	var chunks [][]int
	for start := 0; start < len(units); start += size {
		end := start + size
		if end > len(units) {
			end = len(units)
		}
		chunks = append(chunks, units[start:end])
	}
	return chunks
}

// runChunk processes one sub-batch serially, checking the stop signal
// before every unit so pause and cancel take effect within one unit.
func (m *Manager) runChunk(op *Operation, units []int) {
	for _, idx := range units {
		if !op.dispatching() {
			return
		}
		m.processUnit(op, idx)
	}
}

// processUnit generates and persists one term's section. The call uses
// its own timeout rather than the operation context so a cancel lets
// the in-flight call finish and commit.
func (m *Manager) processUnit(op *Operation, idx int) {
	termID := op.termAt(idx)
	ctx, cancel := context.WithTimeout(context.Background(), unitTimeout)
	defer cancel()

	term, err := m.store.GetTerm(ctx, termID)
	if err != nil {
		m.unitFailed(op, idx, "", fmt.Errorf("load term: %w", err))
		return
	}

	if !op.request.RegenerateExisting {
		existing, ok, err := m.store.SectionContent(ctx, termID, op.request.Section)
		if err != nil {
			m.unitFailed(op, idx, "", fmt.Errorf("check existing section: %w", err))
			return
		}
		if ok && !contentEmpty(existing) {
			op.markSkipped(idx)
			return
		}
	}

	result, model, err := m.generate(ctx, op, term.Name, term.Definition)
	if err != nil {
		m.unitFailed(op, idx, model, err)
		return
	}

	if err := m.store.SaveSectionContent(ctx, termID, op.request.Section, assemble.Content{Text: result.OutputText}); err != nil {
		m.unitFailed(op, idx, model, fmt.Errorf("persist section: %w", err))
		return
	}

	cost := result.CostUSD
	if cost == 0 {
		if spec, specErr := m.registry.Spec(model); specErr == nil {
			cost = spec.CostFor(result.InputTokens, result.OutputTokens)
		}
	}
	err = m.store.AppendCostRecord(ctx, store.CostRecord{
		OperationID:  op.id,
		TermID:       termID,
		Model:        result.Model,
		Category:     op.request.Section,
		InputTokens:  result.InputTokens,
		OutputTokens: result.OutputTokens,
		CostUSD:      cost,
	})
	if err != nil {
		// The content is saved; a lost ledger row is logged, not a
		// unit failure.
		m.logger.Error("failed to append cost record",
			"operation_id", op.id, "term_id", termID, "error", err)
	}

	op.markSucceeded(idx)
}

// generate tries the primary model, then the fallback once. It returns
// the selector that produced the result (or last failed).
func (m *Manager) generate(ctx context.Context, op *Operation, termName, definition string) (*providers.GenerateResult, string, error) {
	selectors := []string{op.request.Model}
	if op.request.FallbackModel != "" && op.request.FallbackModel != op.request.Model {
		selectors = append(selectors, op.request.FallbackModel)
	}

	var lastErr error
	selector := selectors[0]
	for i, sel := range selectors {
		selector = sel
		client, spec, err := m.registry.Resolve(sel)
		if err != nil {
			lastErr = err
			continue
		}
		if i > 0 {
			m.logger.Warn("falling back to secondary model",
				"operation_id", op.id, "term", termName, "model", sel, "error", lastErr)
		}

		result, err := client.Generate(ctx, &providers.GenerateRequest{
			TermName:    termName,
			Section:     op.request.Section,
			InputText:   definition,
			Model:       spec.Model,
			Temperature: op.request.Temperature,
			MaxTokens:   op.request.MaxTokens,
		})
		if err == nil {
			return result, sel, nil
		}
		lastErr = err
	}
	return nil, selector, lastErr
}

// unitFailed counts a failure and, under pauseOnError, pauses the
// operation instead of continuing.
func (m *Manager) unitFailed(op *Operation, idx int, model string, err error) {
	op.markFailed(idx, model, err)
	m.logger.Warn("unit failed",
		"operation_id", op.id, "term_id", op.termAt(idx), "model", model, "error", err)

	if op.request.PauseOnError {
		cause := fmt.Sprintf("paused on error: %v", err)
		if terr := op.transition(StatePaused, cause); terr == nil {
			m.logger.Warn("batch operation paused on error", "operation_id", op.id)
		}
	}
}

// recheckBudget pauses the operation when cumulative actual spend has
// crossed a covering budget mid-run.
func (m *Manager) recheckBudget(op *Operation) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exceeded, reason, err := m.enforcer.Recheck(ctx, op.request.Section)
	if err != nil {
		m.logger.Error("mid-run budget recheck failed", "operation_id", op.id, "error", err)
		return
	}
	if !exceeded {
		return
	}
	if terr := op.transition(StatePaused, reason); terr == nil {
		m.logger.Warn("batch operation paused by budget",
			"operation_id", op.id, "reason", reason)
	}
}

// finishSession settles the operation state when a dispatch session
// drains: running with all units done becomes completed (or failed
// when nothing succeeded), paused and cancelled states stand.
func (m *Manager) finishSession(op *Operation) {
	if op.State() != StateRunning {
		return
	}
	if !op.allDone() {
		// A resume session queued behind this one picks up the
		// remaining units.
		return
	}

	status := op.Status()
	final := StateCompleted
	if status.Succeeded == 0 && status.Failed > 0 {
		final = StateFailed
	}
	if err := op.transition(final, ""); err != nil {
		return
	}
	m.logger.Info("batch operation finished",
		"operation_id", op.id,
		"state", final,
		"succeeded", status.Succeeded,
		"failed", status.Failed,
		"skipped", status.Skipped)
}

// contentEmpty reports whether a section payload carries no content.
func contentEmpty(c assemble.Content) bool {
	return c.Text == "" && len(c.Items) == 0 && len(c.Fields) == 0
}
