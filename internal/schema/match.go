package schema

import "strings"

// Column ties one source header to its place in the catalogue.
type Column struct {
	Header     string // original header text
	Pos        int    // zero-based column position in the source row
	Section    string // catalogue section name
	Subsection string // remainder after the section marker, may be empty
}

// Index maps a source header row onto the catalogue. Built once per
// document, read-only afterwards.
type Index struct {
	columns   []Column
	bySection map[string][]Column
}

// SplitHeader separates a header into its section prefix and subsection.
// Production headers use an en dash ("Introduction – Definition and
// Overview"); a plain hyphen is accepted as a fallback for exports that
// lost the en dash. Headers with no separator are their own section.
func SplitHeader(header string) (section, subsection string) {
	h := strings.TrimSpace(header)
	for _, sep := range []string{"–", " - "} {
		if idx := strings.Index(h, sep); idx >= 0 {
			return strings.TrimSpace(h[:idx]), strings.TrimSpace(h[idx+len(sep):])
		}
	}
	return h, ""
}

// Match resolves a header against the catalogue. Matching is
// case-sensitive on the section prefix, per the source file contract.
func Match(header string) (Column, bool) {
	section, subsection := SplitHeader(header)
	if _, ok := byName[section]; !ok {
		return Column{}, false
	}
	return Column{Header: header, Section: section, Subsection: subsection}, true
}

// BuildIndex maps every recognized header to its section. Unrecognized
// headers are skipped; they carry no catalogue content.
func BuildIndex(headers []string) *Index {
	idx := &Index{bySection: make(map[string][]Column)}
	for pos, h := range headers {
		col, ok := Match(h)
		if !ok {
			continue
		}
		col.Pos = pos
		idx.columns = append(idx.columns, col)
		idx.bySection[col.Section] = append(idx.bySection[col.Section], col)
	}
	return idx
}

// Columns returns all recognized columns in source order.
func (i *Index) Columns() []Column {
	return i.columns
}

// SectionColumns returns the columns feeding one section, in source order.
func (i *Index) SectionColumns(section string) []Column {
	return i.bySection[section]
}

// Sections returns the names of sections that have at least one source
// column, in catalogue order.
func (i *Index) Sections() []string {
	out := make([]string, 0, len(i.bySection))
	for _, s := range catalogue {
		if len(i.bySection[s.Name]) > 0 {
			out = append(out, s.Name)
		}
	}
	return out
}

// IsComplex reports whether a header row carries the sectioned layout:
// at least minSections distinct catalogue sections present.
func IsComplex(headers []string, minSections int) bool {
	seen := make(map[string]struct{})
	for _, h := range headers {
		if col, ok := Match(h); ok && col.Subsection != "" {
			seen[col.Section] = struct{}{}
		}
	}
	return len(seen) >= minSections
}
