// Package ledger implements the durable progress ledger for chunked imports.
// One ChunkRecord exists per chunk file; every import run reads and mutates
// these records through the Store interface.
package ledger

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"
)

// Chunk status values. Transitions are monotonic:
// pending -> processing -> {completed | failed}, with failed allowed back
// into processing until the retry cap is reached.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusSkipped    = "skipped"
)

var (
	// ErrNotFound is returned when no chunk records match.
	ErrNotFound = errors.New("chunk record not found")

	// ErrDuplicateChunk is returned when a chunk identity already exists.
	ErrDuplicateChunk = errors.New("chunk record already exists")
)

// ChunkID identifies one chunk record.
type ChunkID struct {
	Table  string
	Date   string
	Number int
}

// ChunkRecord tracks one chunk file through its import lifecycle.
type ChunkRecord struct {
	ID              int64      `json:"id"`
	TableName       string     `json:"table_name"`
	DatasetDate     string     `json:"dataset_date"`
	ChunkNumber     int        `json:"chunk_number"`
	ChunkFilename   string     `json:"chunk_filename"`
	ChunkStartRow   int64      `json:"chunk_start_row"`
	ChunkEndRow     int64      `json:"chunk_end_row"`
	ChunkRowCount   int64      `json:"chunk_row_count"`
	Status          string     `json:"status"`
	RowsImported    int64      `json:"rows_imported"`
	RowsSkipped     int64      `json:"rows_skipped"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationSeconds int64      `json:"duration_seconds"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	RetryCount      int        `json:"retry_count"`
	ImportMethod    string     `json:"import_method,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Identity returns the record's ChunkID.
func (r ChunkRecord) Identity() ChunkID {
	return ChunkID{Table: r.TableName, Date: r.DatasetDate, Number: r.ChunkNumber}
}

// Store is the single interface through which the CLI, the HTTP API and the
// import coordinator access chunk state. Mutations during a run flow through
// the coordinator lifecycle methods only.
type Store interface {
	// CreateChunk inserts a new pending record. The (table, date, number)
	// identity must be unique; ErrDuplicateChunk otherwise.
	CreateChunk(ctx context.Context, rec *ChunkRecord) error

	// List returns all records for (table, date) ordered by chunk number.
	List(ctx context.Context, table, date string) ([]ChunkRecord, error)

	// MarkProcessing transitions a chunk to processing and records the
	// method and attempt number.
	MarkProcessing(ctx context.Context, id ChunkID, method string, retryCount int) error

	// MarkCompleted transitions a chunk to completed with its counters.
	MarkCompleted(ctx context.Context, id ChunkID, rowsImported, rowsSkipped int64, duration time.Duration) error

	// MarkFailed transitions a chunk to failed with the error message.
	MarkFailed(ctx context.Context, id ChunkID, errMsg string) error

	// Reset returns every record for (table, date) to pending and clears
	// counters, timing and errors. Returns the number of records reset.
	Reset(ctx context.Context, table, date string) (int, error)

	// Delete removes every record for (table, date). Returns the number
	// of records removed.
	Delete(ctx context.Context, table, date string) (int, error)

	// RequeueProcessing returns chunks stuck in processing (an earlier
	// run died mid-chunk) to pending. Returns the number requeued.
	RequeueProcessing(ctx context.Context, table, date string) (int, error)

	Close() error
}

// maxErrorLen bounds stored error messages, matching the ledger column.
const maxErrorLen = 500

// TruncateError trims an error message for ledger storage, backing off to a
// rune boundary so the stored text stays valid UTF-8.
func TruncateError(msg string) string {
	if len(msg) <= maxErrorLen {
		return msg
	}
	cut := maxErrorLen
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
