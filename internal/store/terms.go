package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"glosspipe/internal/assemble"
)

// BulkResult reports a committed batch.
type BulkResult struct {
	Inserted int
	Updated  int
}

// Term is a stored glossary term.
type Term struct {
	ID         string
	Name       string
	Definition string
	Categories []string
	RowHash    string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// BulkUpsertTerms writes a batch of assembled records in a single
// transaction. Upsert is keyed by term name; a term's primary fields
// and all of its section contents commit together, so a partial write
// never leaves a term without its sections. Any failure rolls the
// whole batch back and surfaces as a retryable error.
func (s *Store) BulkUpsertTerms(ctx context.Context, batch []*assemble.Record) (BulkResult, error) {
	var res BulkResult
	if len(batch) == 0 {
		return res, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("%w: begin transaction: %v", ErrRetryable, err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)

	for _, rec := range batch {
		var existingID string
		err := tx.QueryRowContext(ctx, `SELECT id FROM terms WHERE name = ?`, rec.Name).Scan(&existingID)
		switch {
		case err == sql.ErrNoRows:
			existingID = ""
		case err != nil:
			return BulkResult{}, fmt.Errorf("%w: lookup term %q: %v", ErrRetryable, rec.Name, err)
		}

		categories, err := json.Marshal(rec.Categories)
		if err != nil {
			return BulkResult{}, fmt.Errorf("marshal categories for %q: %w", rec.Name, err)
		}
		definition := definitionOf(rec)

		termID := existingID
		if existingID == "" {
			termID = uuid.New().String()
			_, err = tx.ExecContext(ctx,
				`INSERT INTO terms (id, name, definition, categories, row_hash, created_at, updated_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				termID, rec.Name, definition, string(categories), rec.RowHash, now, now,
			)
			if err != nil {
				return BulkResult{}, fmt.Errorf("%w: insert term %q: %v", ErrRetryable, rec.Name, err)
			}
			res.Inserted++
		} else {
			_, err = tx.ExecContext(ctx,
				`UPDATE terms SET definition = ?, categories = ?, row_hash = ?, updated_at = ? WHERE id = ?`,
				definition, string(categories), rec.RowHash, now, termID,
			)
			if err != nil {
				return BulkResult{}, fmt.Errorf("%w: update term %q: %v", ErrRetryable, rec.Name, err)
			}
			res.Updated++
		}

		for section, content := range rec.Sections {
			payload, err := json.Marshal(content)
			if err != nil {
				return BulkResult{}, fmt.Errorf("marshal section %q for %q: %w", section, rec.Name, err)
			}
			_, err = tx.ExecContext(ctx,
				`INSERT INTO term_sections (term_id, section, content, updated_at) VALUES (?, ?, ?, ?)
				 ON CONFLICT(term_id, section) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at`,
				termID, section, string(payload), now,
			)
			if err != nil {
				return BulkResult{}, fmt.Errorf("%w: upsert section %q for %q: %v", ErrRetryable, section, rec.Name, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return BulkResult{}, fmt.Errorf("%w: commit batch: %v", ErrRetryable, err)
	}
	return res, nil
}

// definitionOf extracts the denormalized definition column from a
// record's Introduction section.
func definitionOf(rec *assemble.Record) string {
	intro, ok := rec.Sections["Introduction"]
	if !ok {
		return ""
	}
	if v, ok := intro.Fields["Definition and Overview"]; ok {
		return v
	}
	return intro.Text
}

// RowHashes returns name -> row hash for every stored term. Loaded once
// per import to skip unchanged rows.
func (s *Store) RowHashes(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, row_hash FROM terms`)
	if err != nil {
		return nil, fmt.Errorf("query row hashes: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var name, hash string
		if err := rows.Scan(&name, &hash); err != nil {
			return nil, fmt.Errorf("scan row hash: %w", err)
		}
		out[name] = hash
	}
	return out, rows.Err()
}

// GetTerm returns a term by id.
func (s *Store) GetTerm(ctx context.Context, id string) (*Term, error) {
	return s.scanTerm(s.db.QueryRowContext(ctx,
		`SELECT id, name, definition, categories, row_hash, created_at, updated_at FROM terms WHERE id = ?`, id))
}

// GetTermByName returns a term by its unique name.
func (s *Store) GetTermByName(ctx context.Context, name string) (*Term, error) {
	return s.scanTerm(s.db.QueryRowContext(ctx,
		`SELECT id, name, definition, categories, row_hash, created_at, updated_at FROM terms WHERE name = ?`, name))
}

func (s *Store) scanTerm(row *sql.Row) (*Term, error) {
	var t Term
	var categories, createdAt, updatedAt string
	err := row.Scan(&t.ID, &t.Name, &t.Definition, &categories, &t.RowHash, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("term not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scan term: %w", err)
	}
	if err := json.Unmarshal([]byte(categories), &t.Categories); err != nil {
		return nil, fmt.Errorf("unmarshal categories: %w", err)
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	t.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &t, nil
}

// ListTermIDs returns term ids in name order, optionally only those
// whose given section is empty or missing (for regenerate=false runs).
func (s *Store) ListTermIDs(ctx context.Context, missingSection string, limit int) ([]string, error) {
	query := `SELECT id FROM terms ORDER BY name`
	args := []any{}
	if missingSection != "" {
		query = `SELECT t.id FROM terms t
			LEFT JOIN term_sections ts ON ts.term_id = t.id AND ts.section = ?
			WHERE ts.term_id IS NULL OR ts.content = '' OR ts.content = '{}'
			ORDER BY t.name`
		args = append(args, missingSection)
	}
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list term ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan term id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SectionContent returns one section's content for a term, or ok=false
// when absent.
func (s *Store) SectionContent(ctx context.Context, termID, section string) (assemble.Content, bool, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM term_sections WHERE term_id = ? AND section = ?`, termID, section).Scan(&payload)
	if err == sql.ErrNoRows {
		return assemble.Content{}, false, nil
	}
	if err != nil {
		return assemble.Content{}, false, fmt.Errorf("query section content: %w", err)
	}
	var c assemble.Content
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return assemble.Content{}, false, fmt.Errorf("unmarshal section content: %w", err)
	}
	return c, true, nil
}

// SaveSectionContent writes one section for a term. Used by enrichment
// to persist generated content outside bulk import.
func (s *Store) SaveSectionContent(ctx context.Context, termID, section string, content assemble.Content) error {
	payload, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("marshal section content: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO term_sections (term_id, section, content, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(term_id, section) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at`,
		termID, section, string(payload), now,
	)
	if err != nil {
		return fmt.Errorf("%w: save section content: %v", ErrRetryable, err)
	}
	return nil
}

// CountTerms returns the number of stored terms.
func (s *Store) CountTerms(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM terms`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count terms: %w", err)
	}
	return n, nil
}
