// Package chunker splits large CSV extracts into fixed-size chunk files and
// registers each one as a pending record in the progress ledger.
package chunker

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/openjurist/chunkloader/internal/config"
	"github.com/openjurist/chunkloader/internal/ledger"
	"github.com/openjurist/chunkloader/internal/logging"
	"github.com/openjurist/chunkloader/internal/metrics"
)

var (
	// ErrInvalidChunkSize is returned when the requested chunk size is not positive.
	ErrInvalidChunkSize = errors.New("chunk size must be a positive row count")

	// ErrChunksExist is returned under the refuse policy when ledger records
	// already exist for the (table, dataset date) pair.
	ErrChunksExist = errors.New("chunk records already exist for this table and date")

	// ErrEmptySource is returned when the source has no header row at all.
	ErrEmptySource = errors.New("source file is empty")
)

// Splitter turns one source CSV stream into chunk files plus ledger records.
type Splitter struct {
	store    ledger.Store
	chunkDir string
	log      *slog.Logger
}

// Options controls one split run.
type Options struct {
	Table     string
	Date      string
	ChunkSize int // data rows per chunk, header excluded
	Policy    config.RechunkPolicy
}

// Result summarizes a completed split.
type Result struct {
	ChunksCreated int
	RowsTotal     int64
	Header        []string
	Dir           string
	Files         []string
}

// New creates a Splitter writing chunk files under chunkDir.
func New(store ledger.Store, chunkDir string) *Splitter {
	return &Splitter{
		store:    store,
		chunkDir: chunkDir,
		log:      logging.Component("chunker"),
	}
}

// DatasetDir returns the directory holding one dataset's chunk files.
func DatasetDir(root, table, date string) string {
	return filepath.Join(root, fmt.Sprintf("%s-%s", table, date))
}

// FileName returns the canonical chunk file name for one chunk number.
func FileName(table, date string, number int) string {
	return fmt.Sprintf("%s-%s.chunk_%04d.csv", table, date, number)
}

// RemoveDatasetDir deletes a dataset's chunk directory and every file in it.
func RemoveDatasetDir(root, table, date string) error {
	dir := DatasetDir(root, table, date)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove chunk dir %s: %w", dir, err)
	}
	return nil
}

// Split streams r into chunk files of at most opts.ChunkSize data rows each.
// Every chunk file repeats the source header as its first line. Memory use is
// bounded by one CSV record regardless of source size.
//
// A source holding only a header row produces zero chunks and no error.
func (s *Splitter) Split(ctx context.Context, r io.Reader, opts Options) (*Result, error) {
	if opts.ChunkSize <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidChunkSize, opts.ChunkSize)
	}

	start := time.Now()

	nextNumber, startRow, err := s.applyPolicy(ctx, opts)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(r)
	// The splitter is content agnostic. Ragged or oddly quoted rows are
	// passed through for the import strategies to judge.
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, ErrEmptySource
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	dir := DatasetDir(s.chunkDir, opts.Table, opts.Date)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create chunk dir %s: %w", dir, err)
	}

	res := &Result{Header: header, Dir: dir}

	var (
		cur        *chunkWriter
		rowInChunk int64
	)
	closeCur := func() error {
		if cur == nil {
			return nil
		}
		rec, err := cur.finish()
		cur = nil
		if err != nil {
			return err
		}
		if err := s.store.CreateChunk(ctx, rec); err != nil {
			return fmt.Errorf("record chunk %d: %w", rec.ChunkNumber, err)
		}
		res.ChunksCreated++
		res.Files = append(res.Files, rec.ChunkFilename)
		return nil
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			if cur != nil {
				cur.abort()
			}
			return nil, fmt.Errorf("read row %d: %w", startRow+res.RowsTotal, err)
		}

		if cur == nil {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			cur, err = newChunkWriter(dir, opts.Table, opts.Date, nextNumber, startRow+res.RowsTotal, header)
			if err != nil {
				return nil, err
			}
			nextNumber++
			rowInChunk = 0
		}

		if err := cur.write(record); err != nil {
			cur.abort()
			return nil, err
		}
		res.RowsTotal++
		rowInChunk++

		if rowInChunk == int64(opts.ChunkSize) {
			if err := closeCur(); err != nil {
				return nil, err
			}
		}
	}

	if err := closeCur(); err != nil {
		return nil, err
	}

	elapsed := time.Since(start)
	s.log.Info("split complete",
		"table", opts.Table,
		"dataset_date", opts.Date,
		"chunks", res.ChunksCreated,
		"rows", res.RowsTotal,
		"duration", elapsed.Round(time.Millisecond),
	)
	if m := metrics.Get(); m != nil {
		m.AddChunksPlanned(opts.Table, float64(res.ChunksCreated))
		m.ObserveChunkSplitDuration(opts.Table, elapsed.Seconds())
	}
	return res, nil
}

// applyPolicy inspects existing ledger records and returns the first chunk
// number and first data row number for this run.
func (s *Splitter) applyPolicy(ctx context.Context, opts Options) (nextNumber int, startRow int64, err error) {
	existing, err := s.store.List(ctx, opts.Table, opts.Date)
	if err != nil {
		return 0, 0, fmt.Errorf("list existing chunks: %w", err)
	}
	if len(existing) == 0 {
		return 1, 1, nil
	}

	switch opts.Policy {
	case config.RechunkOverwrite:
		if _, err := s.store.Delete(ctx, opts.Table, opts.Date); err != nil {
			return 0, 0, fmt.Errorf("delete existing chunk records: %w", err)
		}
		if err := RemoveDatasetDir(s.chunkDir, opts.Table, opts.Date); err != nil {
			return 0, 0, err
		}
		s.log.Warn("overwrote existing chunks",
			"table", opts.Table, "dataset_date", opts.Date, "removed", len(existing))
		return 1, 1, nil

	case config.RechunkAppend:
		last := existing[len(existing)-1]
		return last.ChunkNumber + 1, last.ChunkEndRow + 1, nil

	default:
		return 0, 0, fmt.Errorf("%w: %s/%s has %d records",
			ErrChunksExist, opts.Table, opts.Date, len(existing))
	}
}

// chunkWriter writes one chunk file atomically via a temp file and rename.
type chunkWriter struct {
	table    string
	date     string
	number   int
	startRow int64
	rows     int64

	dir   string
	tmp   *os.File
	csv   *csv.Writer
	final string
}

func newChunkWriter(dir, table, date string, number int, startRow int64, header []string) (*chunkWriter, error) {
	tmp, err := os.CreateTemp(dir, fmt.Sprintf(".chunk_%04d-*.tmp", number))
	if err != nil {
		return nil, fmt.Errorf("create temp chunk file: %w", err)
	}

	w := &chunkWriter{
		table:    table,
		date:     date,
		number:   number,
		startRow: startRow,
		dir:      dir,
		tmp:      tmp,
		csv:      csv.NewWriter(tmp),
		final:    filepath.Join(dir, FileName(table, date, number)),
	}
	if err := w.csv.Write(header); err != nil {
		w.abort()
		return nil, fmt.Errorf("write chunk header: %w", err)
	}
	return w, nil
}

func (w *chunkWriter) write(record []string) error {
	if err := w.csv.Write(record); err != nil {
		return fmt.Errorf("write chunk row: %w", err)
	}
	w.rows++
	return nil
}

// finish flushes, fsyncs and renames the temp file into place, then returns
// the pending ledger record describing the chunk.
func (w *chunkWriter) finish() (*ledger.ChunkRecord, error) {
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		w.abort()
		return nil, fmt.Errorf("flush chunk %d: %w", w.number, err)
	}
	if err := w.tmp.Sync(); err != nil {
		w.abort()
		return nil, fmt.Errorf("sync chunk %d: %w", w.number, err)
	}
	tmpName := w.tmp.Name()
	if err := w.tmp.Close(); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("close chunk %d: %w", w.number, err)
	}
	if err := os.Rename(tmpName, w.final); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("rename chunk %d into place: %w", w.number, err)
	}

	return &ledger.ChunkRecord{
		TableName:     w.table,
		DatasetDate:   w.date,
		ChunkNumber:   w.number,
		ChunkFilename: filepath.Base(w.final),
		ChunkStartRow: w.startRow,
		ChunkEndRow:   w.startRow + w.rows - 1,
		ChunkRowCount: w.rows,
		Status:        ledger.StatusPending,
	}, nil
}

func (w *chunkWriter) abort() {
	name := w.tmp.Name()
	w.tmp.Close()
	os.Remove(name)
}
