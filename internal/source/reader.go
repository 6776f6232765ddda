package source

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
)

// RowStream yields raw data rows one at a time. All three strategies
// implement it, so downstream components never know which was chosen.
// Next returns io.EOF after the last row.
type RowStream interface {
	// Headers returns the cleaned header row.
	Headers() []string
	// Next returns the next data row and its zero-based row index
	// (first data row is 0).
	Next() ([]string, int, error)
	Close() error
}

// StreamOptions configures how a stream is opened.
type StreamOptions struct {
	// StartRow skips data rows below this index. Used to resume from an
	// import checkpoint.
	StartRow int
	// MemCheckEvery samples process memory after this many rows
	// (streaming strategy only). Default 5000.
	MemCheckEvery int
	// MemCeilingBytes requests a GC pass when heap use exceeds this
	// (streaming strategy only). Default 512 MiB. A hint, not a bound.
	MemCeilingBytes uint64
}

func (o *StreamOptions) applyDefaults() {
	if o.MemCheckEvery <= 0 {
		o.MemCheckEvery = 5000
	}
	if o.MemCeilingBytes == 0 {
		o.MemCeilingBytes = 512 << 20
	}
}

// Open returns a RowStream for the document using its chosen strategy.
func (d *Document) Open(opts StreamOptions) (RowStream, error) {
	opts.applyDefaults()

	switch d.Strategy {
	case StrategyDirect:
		return openDirect(d, opts)
	case StrategyBuffered, StrategyStreaming:
		return openStreaming(d, opts)
	default:
		return nil, fmt.Errorf("unknown strategy %q", d.Strategy)
	}
}

// directStream materializes every row up front. Only chosen for small
// plain files where a single pass is cheapest.
type directStream struct {
	headers []string
	rows    [][]string
	next    int
}

func openDirect(d *Document, opts StreamOptions) (*directStream, error) {
	f, err := os.Open(d.Path)
	if err != nil {
		return nil, fmt.Errorf("open source file: %w", err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1

	if _, err := cr.Read(); err != nil { // header row
		return nil, fmt.Errorf("read header row: %w", err)
	}
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}

	s := &directStream{headers: d.Headers, rows: rows}
	if opts.StartRow > 0 {
		s.next = opts.StartRow
	}
	return s, nil
}

func (s *directStream) Headers() []string { return s.headers }

func (s *directStream) Next() ([]string, int, error) {
	if s.next >= len(s.rows) {
		return nil, 0, io.EOF
	}
	idx := s.next
	s.next++
	return s.rows[idx], idx, nil
}

func (s *directStream) Close() error { return nil }

// streamingStream reads rows incrementally. Memory use is bounded by
// the caller's chunk size, not file size. The buffered strategy shares
// this reader and additionally normalizes cells as they pass through.
type streamingStream struct {
	f       *os.File
	cr      *csv.Reader
	headers []string
	next    int
	clean   bool // buffered strategy: per-cell cleanup

	memCheckEvery int
	memCeiling    uint64
	sinceCheck    int
}

func openStreaming(d *Document, opts StreamOptions) (*streamingStream, error) {
	f, err := os.Open(d.Path)
	if err != nil {
		return nil, fmt.Errorf("open source file: %w", err)
	}

	cr := csv.NewReader(bufio.NewReaderSize(f, 1<<20))
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1

	if _, err := cr.Read(); err != nil { // header row
		f.Close()
		return nil, fmt.Errorf("read header row: %w", err)
	}

	s := &streamingStream{
		f:             f,
		cr:            cr,
		headers:       d.Headers,
		clean:         d.Strategy == StrategyBuffered,
		memCheckEvery: opts.MemCheckEvery,
		memCeiling:    opts.MemCeilingBytes,
	}

	// Resume: skip rows already committed. The csv reader still parses
	// them, but nothing is retained.
	for s.next < opts.StartRow {
		if _, err := cr.Read(); err != nil {
			if err == io.EOF {
				break
			}
			f.Close()
			return nil, fmt.Errorf("skip to row %d: %w", opts.StartRow, err)
		}
		s.next++
	}

	return s, nil
}

func (s *streamingStream) Headers() []string { return s.headers }

func (s *streamingStream) Next() ([]string, int, error) {
	row, err := s.cr.Read()
	if err != nil {
		if err == io.EOF {
			return nil, 0, io.EOF
		}
		// Malformed rows are a row-level concern; hand them up with the
		// index so the caller can count and continue.
		idx := s.next
		s.next++
		return nil, idx, fmt.Errorf("parse row %d: %w", idx, err)
	}

	idx := s.next
	s.next++

	if s.clean {
		for i := range row {
			row[i] = cleanCell(row[i])
		}
	}

	s.sinceCheck++
	if s.sinceCheck >= s.memCheckEvery {
		s.sinceCheck = 0
		s.maybeGC()
	}

	return row, idx, nil
}

// maybeGC samples heap usage and hints a collection when it exceeds the
// ceiling. Correctness never depends on this firing.
func (s *streamingStream) maybeGC() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	if ms.HeapAlloc > s.memCeiling {
		runtime.GC()
	}
}

func (s *streamingStream) Close() error {
	return s.f.Close()
}

// cleanCell normalizes a cell for the buffered strategy: surrounding
// whitespace and stray wrapping quotes left by spreadsheet exports.
func cleanCell(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		v = strings.TrimSpace(v[1 : len(v)-1])
	}
	return v
}
