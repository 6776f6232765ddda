// Package assemble turns raw source rows into normalized term records
// laid out on the 42-section catalogue.
package assemble

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	"glosspipe/internal/schema"
)

// nameAliases are the well-known name-column headers, in preference
// order. Source files drift; the first data cell is the last resort.
var nameAliases = []string{"Term", "Name", "Title", "Keyword"}

// Content is one populated section of a record.
type Content struct {
	// Text is the verbatim content for simple and ai parses, and the
	// raw source text for list and structured parses.
	Text string `json:"text,omitempty"`
	// Items is the ordered list for list-parse sections.
	Items []string `json:"items,omitempty"`
	// Fields holds labeled values extracted by the structured parse,
	// keyed by subsection name.
	Fields map[string]string `json:"fields,omitempty"`
}

// Record is the normalized unit of work handed to persistence. Only
// sections with non-empty content are present.
type Record struct {
	Name       string
	Sections   map[string]Content
	Categories []string
	// RowHash fingerprints the raw row for change detection on
	// re-import.
	RowHash string
}

// RowError describes a row that could not be assembled. It carries
// enough context for later remediation without aborting the chunk.
type RowError struct {
	Row  int
	Term string
	Err  error
}

func (e RowError) Error() string {
	if e.Term != "" {
		return fmt.Sprintf("row %d (%s): %v", e.Row, e.Term, e.Err)
	}
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

// Assembler maps rows of one document onto records. Safe for concurrent
// use: all state is read-only after New.
type Assembler struct {
	headers []string
	index   *schema.Index
	nameCol int // -1 when no alias matched
}

// New builds an assembler for a header row.
func New(headers []string) *Assembler {
	a := &Assembler{
		headers: headers,
		index:   schema.BuildIndex(headers),
		nameCol: -1,
	}
	for _, alias := range nameAliases {
		for pos, h := range headers {
			if h == alias {
				a.nameCol = pos
				break
			}
		}
		if a.nameCol >= 0 {
			break
		}
	}
	return a
}

// Index exposes the column index built from the headers.
func (a *Assembler) Index() *schema.Index {
	return a.index
}

// Build assembles one record from a raw row. A row with no resolvable
// name is an error; the caller counts it and continues.
func (a *Assembler) Build(row []string, rowIdx int) (*Record, error) {
	name := a.termName(row)
	if name == "" {
		return nil, RowError{Row: rowIdx, Err: fmt.Errorf("no term name in any column")}
	}

	rec := &Record{
		Name:     name,
		Sections: make(map[string]Content),
		RowHash:  hashRow(row),
	}

	for _, sectionName := range a.index.Sections() {
		sec, _ := schema.Get(sectionName)
		content, ok := a.collect(sec, row)
		if ok {
			rec.Sections[sectionName] = content
		}
	}

	rec.Categories = deriveCategories(rec)
	return rec, nil
}

// termName resolves the record name: alias column first, then the first
// non-empty cell in the row.
func (a *Assembler) termName(row []string) string {
	if a.nameCol >= 0 && a.nameCol < len(row) {
		if name := strings.TrimSpace(row[a.nameCol]); name != "" {
			return name
		}
	}
	for _, cell := range row {
		if v := strings.TrimSpace(cell); v != "" {
			return v
		}
	}
	return ""
}

// collect gathers a section's cells and applies its parse strategy.
// Returns false when every contributing cell is empty.
func (a *Assembler) collect(sec schema.Section, row []string) (Content, bool) {
	cols := a.index.SectionColumns(sec.Name)

	var parts []string
	fields := make(map[string]string)
	for _, col := range cols {
		if col.Pos >= len(row) {
			continue
		}
		v := strings.TrimSpace(row[col.Pos])
		if v == "" {
			continue
		}
		parts = append(parts, v)
		if col.Subsection != "" {
			fields[col.Subsection] = v
		}
	}
	if len(parts) == 0 {
		return Content{}, false
	}

	joined := strings.Join(parts, "\n")
	switch sec.Parse {
	case schema.ParseList:
		return Content{Text: joined, Items: splitList(joined)}, true
	case schema.ParseStructured:
		return Content{Text: joined, Fields: fields}, true
	default: // simple and ai: capture verbatim
		return Content{Text: joined}, true
	}
}

// splitList divides list content on its delimiter, preserving order.
// Semicolons win over commas when present, matching the source exports.
func splitList(v string) []string {
	sep := ","
	if strings.Contains(v, ";") {
		sep = ";"
	}
	raw := strings.Split(v, sep)
	items := make([]string, 0, len(raw))
	for _, item := range raw {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// hashRow fingerprints the raw cells for change detection.
func hashRow(row []string) string {
	sum := md5.Sum([]byte(strings.Join(row, "|")))
	return hex.EncodeToString(sum[:])
}
