// Package importer drives the one-shot ingestion path: analyze the
// source document, stream its rows, assemble records, and bulk-upsert
// them in checkpointed chunks so an interrupted import resumes where
// it stopped instead of starting over.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"

	"glosspipe/internal/assemble"
	"glosspipe/internal/source"
	"glosspipe/internal/store"
)

const (
	DefaultChunkSize     = 100
	defaultRetryAttempts = 3
	retryBaseDelay       = 500 * time.Millisecond
)

// Options tune one import run.
type Options struct {
	// ChunkSize is the number of rows committed per transaction.
	// Smaller chunks recover more finely after a failure.
	ChunkSize int
	// ForceAll disables row-hash skipping, rewriting every row even
	// when its content is unchanged since the last import.
	ForceAll bool
	// RetryAttempts bounds retries of a failed chunk commit.
	RetryAttempts uint

	Analyze source.AnalyzeConfig
	Stream  source.StreamOptions
}

func (o *Options) applyDefaults() {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.RetryAttempts == 0 {
		o.RetryAttempts = defaultRetryAttempts
	}
}

// Stats is the outcome of one import run. Counts cover this run only;
// the checkpoint carries cumulative counts across resumed runs.
type Stats struct {
	Document  string              `json:"document"`
	Strategy  source.Strategy     `json:"strategy"`
	TotalRows int                 `json:"total_rows"`
	Inserted  int                 `json:"inserted"`
	Updated   int                 `json:"updated"`
	Skipped   int                 `json:"skipped"`
	Resumed   bool                `json:"resumed"`
	StartRow  int                 `json:"start_row"`
	Errors    []assemble.RowError `json:"errors,omitempty"`
}

// Importer runs imports against one store.
type Importer struct {
	store  *store.Store
	logger *slog.Logger
}

// New creates an importer.
func New(st *store.Store, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{store: st, logger: logger}
}

// Run imports one document. Chunk commits are strictly ordered: chunk
// N+1 never commits before chunk N, so the checkpoint stays monotonic
// and a rerun after any failure resumes at the failed chunk.
func (im *Importer) Run(ctx context.Context, path string, opts Options) (*Stats, error) {
	opts.applyDefaults()

	doc, err := source.Analyze(path, opts.Analyze)
	if err != nil {
		return nil, err
	}

	cp, resumed, err := im.store.LoadCheckpoint(ctx, doc.ID())
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if resumed {
		opts.Stream.StartRow = cp.Row
	}

	stream, err := doc.Open(opts.Stream)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	asm := assemble.New(stream.Headers())

	var hashes map[string]string
	if !opts.ForceAll {
		hashes, err = im.store.RowHashes(ctx)
		if err != nil {
			return nil, fmt.Errorf("load row hashes: %w", err)
		}
	}

	stats := &Stats{
		Document: doc.ID(),
		Strategy: doc.Strategy,
		Resumed:  resumed,
		StartRow: opts.Stream.StartRow,
	}

	im.logger.Info("import started",
		"document", doc.ID(),
		"strategy", doc.Strategy,
		"columns", len(doc.Headers),
		"estimated_rows", doc.RowEstimate,
		"start_row", stats.StartRow,
		"chunk_size", opts.ChunkSize)

	batch := make([]*assemble.Record, 0, opts.ChunkSize)
	nextRow := opts.Stream.StartRow

	flush := func(committedThrough int) error {
		if len(batch) == 0 {
			return im.saveCheckpoint(ctx, doc.ID(), committedThrough, cp, stats)
		}
		result, err := im.commitChunk(ctx, batch, opts.RetryAttempts)
		if err != nil {
			return err
		}
		stats.Inserted += result.Inserted
		stats.Updated += result.Updated
		batch = batch[:0]
		return im.saveCheckpoint(ctx, doc.ID(), committedThrough, cp, stats)
	}

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		row, rowIdx, err := stream.Next()
		if err == io.EOF {
			break
		}
		stats.TotalRows++
		nextRow = rowIdx + 1

		if err != nil {
			stats.Errors = append(stats.Errors, assemble.RowError{Row: rowIdx, Err: err})
			continue
		}

		record, err := asm.Build(row, rowIdx)
		if err != nil {
			var rowErr assemble.RowError
			if errors.As(err, &rowErr) {
				stats.Errors = append(stats.Errors, rowErr)
				continue
			}
			return stats, err
		}

		if hashes != nil && hashes[record.Name] == record.RowHash {
			stats.Skipped++
			continue
		}

		batch = append(batch, record)
		if len(batch) >= opts.ChunkSize {
			if err := flush(nextRow); err != nil {
				return stats, err
			}
		}
	}

	if err := flush(nextRow); err != nil {
		return stats, err
	}

	// A finished import clears its checkpoint; the next run over the
	// same file starts fresh and relies on row hashes to stay cheap.
	if err := im.store.ClearCheckpoint(ctx, doc.ID()); err != nil {
		return stats, fmt.Errorf("clear checkpoint: %w", err)
	}

	im.logger.Info("import finished",
		"document", doc.ID(),
		"rows", stats.TotalRows,
		"inserted", stats.Inserted,
		"updated", stats.Updated,
		"skipped", stats.Skipped,
		"errors", len(stats.Errors))
	return stats, nil
}

// commitChunk writes one chunk, retrying transient storage failures
// with exponential backoff.
func (im *Importer) commitChunk(ctx context.Context, batch []*assemble.Record, attempts uint) (store.BulkResult, error) {
	var result store.BulkResult
	err := retry.Do(
		func() error {
			var err error
			result, err = im.store.BulkUpsertTerms(ctx, batch)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(retryBaseDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, store.ErrRetryable)
		}),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			im.logger.Warn("chunk commit retry", "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return store.BulkResult{}, fmt.Errorf("commit chunk of %d records: %w", len(batch), err)
	}
	return result, nil
}

// saveCheckpoint advances the checkpoint to row, folding this run's
// counts into the cumulative totals carried from a prior run.
func (im *Importer) saveCheckpoint(ctx context.Context, docID string, row int, prior store.Checkpoint, stats *Stats) error {
	err := im.store.SaveCheckpoint(ctx, store.Checkpoint{
		DocumentID: docID,
		Row:        row,
		Inserted:   prior.Inserted + stats.Inserted,
		Updated:    prior.Updated + stats.Updated,
		Errored:    prior.Errored + len(stats.Errors),
	})
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}
