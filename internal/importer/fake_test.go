package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/openjurist/chunkloader/internal/target"
)

// fakeDest is an in-memory Destination with conflict-ignoring semantics keyed
// on the "id" column, mirroring the real target's ON CONFLICT DO NOTHING.
type fakeDest struct {
	mu   sync.Mutex
	cols []target.Column

	stored map[string][]any // id -> row
	order  []string

	failNextInserts int            // fail this many InsertRows calls up front
	poisonIDs       map[string]bool // ids whose batch always fails
	copyErr         error
	columnsErr      error
	insertCalls     int
	analyzeCalls    int
}

func newFakeDest(cols ...target.Column) *fakeDest {
	if len(cols) == 0 {
		cols = []target.Column{
			{Name: "id", DataType: "bigint"},
			{Name: "name", DataType: "text"},
			{Name: "amount", DataType: "numeric"},
		}
	}
	return &fakeDest{
		cols:      cols,
		stored:    make(map[string][]any),
		poisonIDs: make(map[string]bool),
	}
}

func (f *fakeDest) Columns(_ context.Context, _ string) ([]target.Column, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.columnsErr != nil {
		return nil, f.columnsErr
	}
	return f.cols, nil
}

func (f *fakeDest) InsertRows(ctx context.Context, _ string, cols []string, rows [][]any) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insertCalls++

	if f.failNextInserts > 0 {
		f.failNextInserts--
		return 0, errors.New("destination rejected batch")
	}

	idIdx := -1
	for i, c := range cols {
		if c == "id" {
			idIdx = i
		}
	}
	if idIdx < 0 {
		return 0, errors.New("no id column in batch")
	}

	for _, row := range rows {
		if f.poisonIDs[fmt.Sprint(row[idIdx])] {
			return 0, errors.New("poison row rejected")
		}
	}

	var inserted int64
	for _, row := range rows {
		key := fmt.Sprint(row[idIdx])
		if _, dup := f.stored[key]; dup {
			continue
		}
		f.stored[key] = row
		f.order = append(f.order, key)
		inserted++
	}
	return inserted, nil
}

func (f *fakeDest) CopyFrom(ctx context.Context, _ string, r io.Reader) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.copyErr != nil {
		return 0, f.copyErr
	}

	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, errors.New("empty copy stream")
	}

	var inserted int64
	for _, rec := range records[1:] {
		key := rec[0]
		if _, dup := f.stored[key]; dup {
			continue
		}
		row := make([]any, len(rec))
		for i, v := range rec {
			row[i] = v
		}
		f.stored[key] = row
		f.order = append(f.order, key)
		inserted++
	}
	return inserted, nil
}

func (f *fakeDest) Analyze(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.analyzeCalls++
	return nil
}

func (f *fakeDest) rowCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stored)
}

func (f *fakeDest) row(id string) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stored[id]
}
