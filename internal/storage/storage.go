// Package storage defines the tabular storage collaborator: a document
// (spreadsheet) made of ordered sources (tabs), each a header row followed by
// records.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrDocumentNotFound is returned when the storage location does not exist.
	ErrDocumentNotFound = errors.New("document not found")
	// ErrSourceNotFound is returned when a tab is not present in a document.
	ErrSourceNotFound = errors.New("source not found")
)

// Source addresses a tab either by title or by position.
type Source struct {
	Title string
	Index int
}

// Named addresses the tab with the given title.
func Named(title string) Source {
	return Source{Title: title, Index: -1}
}

// At addresses the tab at the given zero-based position.
func At(index int) Source {
	return Source{Index: index}
}

// SourceInfo describes a tab of an opened document.
type SourceInfo struct {
	ID    int64
	Title string
	Index int
}

// Record is a data row keyed by the header cell of each column.
type Record map[string]string

// Cell is a single column value of a row to append.
type Cell struct {
	Column string
	Value  string
}

// Row is an ordered list of cells. Column order is the preferred order for
// columns that do not exist yet in the target header.
type Row []Cell

// Columns returns the column names of the row in order.
func (r Row) Columns() []string {
	cols := make([]string, len(r))
	for i, c := range r {
		cols[i] = c.Column
	}
	return cols
}

// Get returns the value for column, or "" when absent.
func (r Row) Get(column string) string {
	for _, c := range r {
		if c.Column == column {
			return c.Value
		}
	}
	return ""
}

// Map returns the row as a column to value map.
func (r Row) Map() map[string]string {
	m := make(map[string]string, len(r))
	for _, c := range r {
		m[c.Column] = c.Value
	}
	return m
}

// Document is an opened storage location. The source list is loaded once at
// Open time.
type Document interface {
	// ID returns the storage location identifier.
	ID() string

	// Sources returns the tabs in position order.
	Sources() []SourceInfo

	// Rows returns the data rows of a tab in row order.
	Rows(ctx context.Context, src Source) ([]Record, error)

	// AppendRow appends one row to a tab, aligning cells to its header row.
	// Columns missing from the header are added to it.
	AppendRow(ctx context.Context, src Source, row Row) error
}

// Opener opens storage locations.
type Opener interface {
	Open(ctx context.Context, location string) (Document, error)
	Ping(ctx context.Context) error
}

// Find resolves src against the tabs of doc.
func Find(doc Document, src Source) (SourceInfo, bool) {
	return findSource(doc.Sources(), src)
}

func findSource(sources []SourceInfo, src Source) (SourceInfo, bool) {
	if src.Title != "" {
		for _, s := range sources {
			if s.Title == src.Title {
				return s, true
			}
		}
		return SourceInfo{}, false
	}
	for _, s := range sources {
		if s.Index == src.Index {
			return s, true
		}
	}
	return SourceInfo{}, false
}

// mergeHeader returns header extended with the columns of row it lacks, and
// whether anything was added.
func mergeHeader(header []string, row Row) ([]string, bool) {
	present := make(map[string]struct{}, len(header))
	for _, h := range header {
		present[h] = struct{}{}
	}

	merged := append([]string(nil), header...)
	changed := false
	for _, col := range row.Columns() {
		if _, ok := present[col]; ok {
			continue
		}
		present[col] = struct{}{}
		merged = append(merged, col)
		changed = true
	}
	return merged, changed
}

// alignRow lays row out in header order. Header columns the row does not set
// are left empty.
func alignRow(header []string, row Row) []string {
	values := row.Map()
	line := make([]string, len(header))
	for i, h := range header {
		line[i] = values[h]
	}
	return line
}
