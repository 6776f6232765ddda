package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// CostRecord is one unit of generation work, append-only.
type CostRecord struct {
	OperationID  string
	TermID       string
	Model        string
	Category     string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	CreatedAt    time.Time
}

// AppendCostRecord records actual token usage for one completed unit.
func (s *Store) AppendCostRecord(ctx context.Context, rec CostRecord) error {
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cost_records (operation_id, term_id, model, category, input_tokens, output_tokens, cost_usd, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.OperationID, rec.TermID, rec.Model, rec.Category,
		rec.InputTokens, rec.OutputTokens, rec.CostUSD,
		created.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("append cost record: %w", err)
	}
	return nil
}

// SumCosts totals spend within a window, optionally restricted to a
// category set. Budget consumption is always derived this way, never
// stored redundantly.
func (s *Store) SumCosts(ctx context.Context, from, to time.Time, categories []string) (float64, error) {
	query := `SELECT COALESCE(SUM(cost_usd), 0) FROM cost_records WHERE created_at >= ? AND created_at < ?`
	args := []any{from.UTC().Format(time.RFC3339Nano), to.UTC().Format(time.RFC3339Nano)}

	if len(categories) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(categories)), ",")
		query += fmt.Sprintf(" AND category IN (%s)", placeholders)
		for _, c := range categories {
			args = append(args, c)
		}
	}

	var total float64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum costs: %w", err)
	}
	return total, nil
}

// OperationSpend totals the spend attributed to one operation.
func (s *Store) OperationSpend(ctx context.Context, operationID string) (float64, error) {
	var total float64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost_usd), 0) FROM cost_records WHERE operation_id = ?`, operationID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("operation spend: %w", err)
	}
	return total, nil
}

// TokenAverages reports historical mean input/output tokens per unit
// for a model. ok is false when the model has no history yet.
func (s *Store) TokenAverages(ctx context.Context, model string) (inputAvg, outputAvg float64, ok bool, err error) {
	var n int
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(AVG(input_tokens), 0), COALESCE(AVG(output_tokens), 0)
		 FROM cost_records WHERE model = ?`, model,
	).Scan(&n, &inputAvg, &outputAvg)
	if err != nil {
		return 0, 0, false, fmt.Errorf("token averages: %w", err)
	}
	return inputAvg, outputAvg, n > 0, nil
}
