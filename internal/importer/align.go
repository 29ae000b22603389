package importer

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/openjurist/chunkloader/internal/target"
)

// Alignment is the intersection of one chunk's header with the destination
// table's columns. It is recomputed per chunk because header presentation can
// drift within a dataset.
type Alignment struct {
	// Columns are the destination columns present in the header, in header order.
	Columns []target.Column
	// Indexes holds the header position feeding each aligned column.
	Indexes []int
	// Dropped lists header columns absent from the destination.
	Dropped []string
}

// Align intersects header with destCols. Header columns without a destination
// counterpart are dropped with one warning each; this is silent data loss from
// the caller's point of view, so every dropped column is named. Destination
// columns missing from the header stay null or default on insert.
func Align(header []string, destCols []target.Column, log *slog.Logger) (*Alignment, error) {
	if len(destCols) == 0 {
		return nil, fmt.Errorf("%w: destination has no columns", ErrSchemaMismatch)
	}

	byName := make(map[string]target.Column, len(destCols))
	for _, c := range destCols {
		byName[strings.ToLower(c.Name)] = c
	}

	a := &Alignment{}
	for i, raw := range header {
		name := strings.ToLower(strings.TrimSpace(raw))
		col, ok := byName[name]
		if !ok {
			a.Dropped = append(a.Dropped, raw)
			log.Warn("dropping source column absent from destination", "column", raw)
			continue
		}
		a.Columns = append(a.Columns, col)
		a.Indexes = append(a.Indexes, i)
	}

	if len(a.Columns) == 0 {
		return nil, fmt.Errorf("%w: header shares no columns with destination", ErrSchemaMismatch)
	}
	return a, nil
}

// Names returns the aligned destination column names.
func (a *Alignment) Names() []string {
	return target.Names(a.Columns)
}

// Project extracts the aligned fields from one CSV record. Ragged records are
// tolerated: positions past the record's end project as empty strings, which
// coerce to NULL downstream.
func (a *Alignment) Project(record []string) []string {
	out := make([]string, len(a.Indexes))
	for i, idx := range a.Indexes {
		if idx < len(record) {
			out[i] = record[idx]
		}
	}
	return out
}
