package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Checkpoint is the durable import cursor for one source document.
// Row is the index of the next unprocessed data row.
type Checkpoint struct {
	DocumentID string
	Row        int
	Inserted   int
	Updated    int
	Errored    int
	UpdatedAt  time.Time
}

// LoadCheckpoint returns the checkpoint for a document, or ok=false
// when the document has never been imported.
func (s *Store) LoadCheckpoint(ctx context.Context, documentID string) (Checkpoint, bool, error) {
	var cp Checkpoint
	var updatedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT document_id, row, inserted, updated, errored, updated_at
		 FROM import_checkpoints WHERE document_id = ?`, documentID,
	).Scan(&cp.DocumentID, &cp.Row, &cp.Inserted, &cp.Updated, &cp.Errored, &updatedAt)
	if err == sql.ErrNoRows {
		return Checkpoint{DocumentID: documentID}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("load checkpoint: %w", err)
	}
	cp.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return cp, true, nil
}

// SaveCheckpoint advances a document's cursor. Called only after the
// corresponding chunk committed, keeping the cursor monotonic.
func (s *Store) SaveCheckpoint(ctx context.Context, cp Checkpoint) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO import_checkpoints (document_id, row, inserted, updated, errored, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(document_id) DO UPDATE SET
			row = excluded.row, inserted = excluded.inserted,
			updated = excluded.updated, errored = excluded.errored,
			updated_at = excluded.updated_at`,
		cp.DocumentID, cp.Row, cp.Inserted, cp.Updated, cp.Errored, now,
	)
	if err != nil {
		return fmt.Errorf("%w: save checkpoint: %v", ErrRetryable, err)
	}
	return nil
}

// ClearCheckpoint removes a document's cursor so the next import starts
// from row zero.
func (s *Store) ClearCheckpoint(ctx context.Context, documentID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM import_checkpoints WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("clear checkpoint: %w", err)
	}
	return nil
}
