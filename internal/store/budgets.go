package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Budget is an administrative cost ceiling over a category set and time
// window. Consumption is derived from cost records, never stored here.
type Budget struct {
	ID          string
	Name        string
	TotalUSD    float64
	PeriodStart time.Time
	PeriodEnd   time.Time
	Categories  []string
	WarnPct     int
	CriticalPct int
}

// Covers reports whether the budget applies to a category. A budget
// with no categories applies to everything.
func (b Budget) Covers(category string) bool {
	if len(b.Categories) == 0 {
		return true
	}
	for _, c := range b.Categories {
		if c == category {
			return true
		}
	}
	return false
}

// SaveBudget creates or replaces a budget by name.
func (s *Store) SaveBudget(ctx context.Context, b Budget) (string, error) {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.WarnPct <= 0 {
		b.WarnPct = 80
	}
	if b.CriticalPct <= 0 {
		b.CriticalPct = 95
	}
	categories, err := json.Marshal(b.Categories)
	if err != nil {
		return "", fmt.Errorf("marshal budget categories: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO budgets (id, name, total_usd, period_start, period_end, categories, warn_pct, critical_pct, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
			total_usd = excluded.total_usd, period_start = excluded.period_start,
			period_end = excluded.period_end, categories = excluded.categories,
			warn_pct = excluded.warn_pct, critical_pct = excluded.critical_pct`,
		b.ID, b.Name, b.TotalUSD,
		b.PeriodStart.UTC().Format(time.RFC3339Nano),
		b.PeriodEnd.UTC().Format(time.RFC3339Nano),
		string(categories), b.WarnPct, b.CriticalPct, now,
	)
	if err != nil {
		return "", fmt.Errorf("save budget: %w", err)
	}
	return b.ID, nil
}

// ActiveBudgets returns budgets whose period covers the given instant.
func (s *Store) ActiveBudgets(ctx context.Context, at time.Time) ([]Budget, error) {
	ts := at.UTC().Format(time.RFC3339Nano)
	return s.queryBudgets(ctx,
		`SELECT id, name, total_usd, period_start, period_end, categories, warn_pct, critical_pct
		 FROM budgets WHERE period_start <= ? AND period_end > ?`, ts, ts)
}

// ListBudgets returns every budget, expired ones included, in name
// order.
func (s *Store) ListBudgets(ctx context.Context) ([]Budget, error) {
	return s.queryBudgets(ctx,
		`SELECT id, name, total_usd, period_start, period_end, categories, warn_pct, critical_pct
		 FROM budgets ORDER BY name`)
}

// DeleteBudget removes a budget by name.
func (s *Store) DeleteBudget(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM budgets WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete budget: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("budget %q not found", name)
	}
	return nil
}

func (s *Store) queryBudgets(ctx context.Context, query string, args ...any) ([]Budget, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query budgets: %w", err)
	}
	defer rows.Close()

	var out []Budget
	for rows.Next() {
		var b Budget
		var start, end, categories string
		if err := rows.Scan(&b.ID, &b.Name, &b.TotalUSD, &start, &end, &categories, &b.WarnPct, &b.CriticalPct); err != nil {
			return nil, fmt.Errorf("scan budget: %w", err)
		}
		b.PeriodStart, _ = time.Parse(time.RFC3339Nano, start)
		b.PeriodEnd, _ = time.Parse(time.RFC3339Nano, end)
		if err := json.Unmarshal([]byte(categories), &b.Categories); err != nil {
			return nil, fmt.Errorf("unmarshal budget categories: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
