package store

import (
	"context"
	"fmt"
	"time"
)

// StatusReport is a durable milestone report for a batch operation.
type StatusReport struct {
	OperationID string
	Section     string
	Milestone   int // percentage threshold that was crossed
	Processed   int
	Succeeded   int
	Failed      int
	CreatedAt   time.Time
}

// SaveStatusReport persists a milestone report.
func (s *Store) SaveStatusReport(ctx context.Context, r StatusReport) error {
	created := r.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO status_reports (operation_id, section, milestone, processed, succeeded, failed, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.OperationID, r.Section, r.Milestone, r.Processed, r.Succeeded, r.Failed,
		created.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save status report: %w", err)
	}
	return nil
}

// StatusReports returns an operation's milestone reports in order.
func (s *Store) StatusReports(ctx context.Context, operationID string) ([]StatusReport, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT operation_id, section, milestone, processed, succeeded, failed, created_at
		 FROM status_reports WHERE operation_id = ? ORDER BY id`, operationID)
	if err != nil {
		return nil, fmt.Errorf("query status reports: %w", err)
	}
	defer rows.Close()

	var out []StatusReport
	for rows.Next() {
		var r StatusReport
		var created string
		if err := rows.Scan(&r.OperationID, &r.Section, &r.Milestone, &r.Processed, &r.Succeeded, &r.Failed, &created); err != nil {
			return nil, fmt.Errorf("scan status report: %w", err)
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, r)
	}
	return out, rows.Err()
}
