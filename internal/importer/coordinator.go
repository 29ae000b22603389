package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/openjurist/chunkloader/internal/chunker"
	"github.com/openjurist/chunkloader/internal/config"
	"github.com/openjurist/chunkloader/internal/ledger"
	"github.com/openjurist/chunkloader/internal/logging"
	"github.com/openjurist/chunkloader/internal/metrics"
	"github.com/openjurist/chunkloader/internal/target"
)

// Coordinator walks a dataset's planned chunks in ascending order and drives
// each through its lifecycle. It is single threaded: one chunk imports at a
// time, bounding load on the destination. All ledger mutations during a run
// flow through here.
type Coordinator struct {
	store    ledger.Store
	dest     Destination
	chunkDir string
	cfg      config.ImportConfig
	log      *slog.Logger
}

// NewCoordinator creates a Coordinator reading chunk files under chunkDir.
func NewCoordinator(store ledger.Store, dest Destination, chunkDir string, cfg config.ImportConfig) *Coordinator {
	return &Coordinator{
		store:    store,
		dest:     dest,
		chunkDir: chunkDir,
		cfg:      cfg,
		log:      logging.Component("coordinator"),
	}
}

// RunOptions selects the dataset and overrides run behavior. Zero values fall
// back to the coordinator's configuration.
type RunOptions struct {
	Table      string
	Date       string
	Method     string
	MaxRetries int
	Resume     bool
	NoResume   bool // explicit off switch, since Resume's zero value means "use config"
	Chunks     []int // restrict the run to these chunk numbers; empty means all
}

// RunSummary aggregates one coordinator run. Derived, never persisted.
type RunSummary struct {
	RunID        string        `json:"run_id"`
	Table        string        `json:"table_name"`
	Date         string        `json:"dataset_date"`
	Method       string        `json:"import_method"`
	TotalChunks  int           `json:"total_chunks"`
	Completed    int           `json:"completed"`
	Failed       int           `json:"failed"`
	Skipped      int           `json:"skipped"`
	Requeued     int           `json:"requeued"`
	RowsImported int64         `json:"rows_imported"`
	RowsSkipped  int64         `json:"rows_skipped"`
	StartedAt    time.Time     `json:"started_at"`
	Elapsed      time.Duration `json:"-"`
	ElapsedSecs  float64       `json:"elapsed_seconds"`
}

// Run imports every planned chunk for (table, date) and returns the summary.
//
// Failure isolation: a chunk that exhausts its retries settles as failed and
// the run moves on. Only ledger errors and context cancellation abort the run.
func (c *Coordinator) Run(ctx context.Context, opts RunOptions) (*RunSummary, error) {
	method := opts.Method
	if method == "" {
		method = c.cfg.Method
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = c.cfg.MaxRetries
	}
	resume := c.cfg.Resume
	if opts.Resume {
		resume = true
	}
	if opts.NoResume {
		resume = false
	}

	summary := &RunSummary{
		RunID:     uuid.NewString(),
		Table:     opts.Table,
		Date:      opts.Date,
		Method:    method,
		StartedAt: time.Now(),
	}

	// Runs started over HTTP inherit the request's correlation ID; CLI runs
	// get a fresh one.
	cid := logging.CorrelationID(ctx)
	if cid == "" {
		cid = logging.GenerateCorrelationID()
		ctx = logging.WithCorrelationID(ctx, cid)
	}
	log := c.log.With("run_id", summary.RunID, "correlation_id", cid, "table", opts.Table, "dataset_date", opts.Date, "method", method)

	strategy, err := ForName(method, c.dest, c.cfg.BatchSize)
	if err != nil {
		return nil, err
	}

	// Startup reconciliation: chunks left in processing by a dead run are
	// requeued so resume can pick them up instead of stranding them.
	requeued, err := c.store.RequeueProcessing(ctx, opts.Table, opts.Date)
	if err != nil {
		return nil, fmt.Errorf("requeue stale chunks: %w", err)
	}
	if requeued > 0 {
		log.Warn("requeued chunks stuck in processing from an earlier run", "count", requeued)
	}
	summary.Requeued = requeued

	records, err := c.store.List(ctx, opts.Table, opts.Date)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	records = filterChunks(records, opts.Chunks)
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s/%s", ErrNoChunks, opts.Table, opts.Date)
	}
	summary.TotalChunks = len(records)

	destCols, err := c.dest.Columns(ctx, opts.Table)
	if err != nil {
		return nil, fmt.Errorf("read destination columns for %s: %w", opts.Table, err)
	}
	if len(destCols) == 0 {
		return nil, fmt.Errorf("%w: table %s", ErrSchemaMismatch, opts.Table)
	}

	log.Info("import run starting", "chunks", len(records), "resume", resume)
	labels := metrics.Labels{Table: opts.Table, Method: method}

	for _, rec := range records {
		if rec.Status == ledger.StatusCompleted && resume {
			summary.Skipped++
			if m := metrics.Get(); m != nil {
				m.IncChunksSkipped(labels)
			}
			continue
		}

		outcome, err := c.runChunk(ctx, rec, strategy, destCols, maxRetries, labels)
		if err != nil {
			if ctx.Err() != nil {
				c.finish(summary, log)
				return summary, ctx.Err()
			}
			var stale *ledgerError
			if errors.As(err, &stale) {
				c.finish(summary, log)
				return summary, stale.err
			}
			summary.Failed++
			continue
		}

		summary.Completed++
		summary.RowsImported += outcome.RowsImported
		summary.RowsSkipped += outcome.RowsSkipped
	}

	if c.cfg.AnalyzeOnDone && summary.Completed > 0 {
		if err := c.dest.Analyze(ctx, opts.Table); err != nil {
			log.Warn("analyze after run failed", "error", err)
		}
	}

	c.finish(summary, log)
	return summary, nil
}

// ledgerError marks a ledger mutation failure, which always aborts the run.
type ledgerError struct {
	err error
}

func (e *ledgerError) Error() string { return e.err.Error() }

// runChunk drives one chunk through processing to a terminal state, retrying
// up to maxRetries attempts with linear backoff.
func (c *Coordinator) runChunk(ctx context.Context, rec ledger.ChunkRecord, strategy Strategy, destCols []target.Column, maxRetries int, labels metrics.Labels) (Outcome, error) {
	id := rec.Identity()
	log := logging.ChunkLogger(ctx, rec.TableName, rec.DatasetDate, rec.ChunkNumber)

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err := c.store.MarkProcessing(ctx, id, strategy.Name(), attempt); err != nil {
			c.countLedgerError(rec.TableName)
			return Outcome{}, &ledgerError{err: fmt.Errorf("mark chunk %d processing: %w", rec.ChunkNumber, err)}
		}

		start := time.Now()
		outcome, err := c.importChunk(ctx, rec, strategy, destCols)
		elapsed := time.Since(start)

		if err == nil {
			if err := c.store.MarkCompleted(ctx, id, outcome.RowsImported, outcome.RowsSkipped, elapsed); err != nil {
				c.countLedgerError(rec.TableName)
				return Outcome{}, &ledgerError{err: fmt.Errorf("mark chunk %d completed: %w", rec.ChunkNumber, err)}
			}
			log.Info("chunk completed",
				"attempt", attempt,
				"rows_imported", outcome.RowsImported,
				"rows_skipped", outcome.RowsSkipped,
				"duration", elapsed.Round(time.Millisecond),
			)
			if m := metrics.Get(); m != nil {
				m.IncChunksCompleted(labels)
				m.AddRowsImported(labels, float64(outcome.RowsImported))
				m.AddRowsSkipped(labels, float64(outcome.RowsSkipped))
				m.ObserveChunkImportDuration(labels, elapsed.Seconds())
				m.SetLastChunk(rec.TableName, float64(rec.ChunkNumber))
			}
			return outcome, nil
		}

		lastErr = err
		if markErr := c.store.MarkFailed(ctx, id, ledger.TruncateError(err.Error())); markErr != nil {
			c.countLedgerError(rec.TableName)
			return Outcome{}, &ledgerError{err: fmt.Errorf("mark chunk %d failed: %w", rec.ChunkNumber, markErr)}
		}

		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}

		log.Warn("chunk attempt failed", "attempt", attempt, "max_retries", maxRetries, "error", err)
		if attempt < maxRetries {
			if m := metrics.Get(); m != nil {
				m.IncRetryAttempts(labels)
			}
			select {
			case <-time.After(c.cfg.RetryBackoff * time.Duration(attempt)):
			case <-ctx.Done():
				return Outcome{}, ctx.Err()
			}
		}
	}

	log.Error("chunk failed permanently", "attempts", maxRetries, "error", lastErr)
	if m := metrics.Get(); m != nil {
		m.IncChunksFailed(labels)
		m.SetLastChunk(rec.TableName, float64(rec.ChunkNumber))
	}
	return Outcome{}, lastErr
}

// importChunk opens the chunk file and applies the strategy under the
// per-chunk deadline, so a stalled destination cannot block the run forever.
func (c *Coordinator) importChunk(ctx context.Context, rec ledger.ChunkRecord, strategy Strategy, destCols []target.Column) (Outcome, error) {
	path := filepath.Join(chunker.DatasetDir(c.chunkDir, rec.TableName, rec.DatasetDate), rec.ChunkFilename)
	f, err := os.Open(path)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrSourceIO, err)
	}
	defer f.Close()

	if c.cfg.ChunkTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ChunkTimeout)
		defer cancel()
	}

	outcome, err := strategy.Import(ctx, f, rec.TableName, destCols)
	if err != nil {
		return Outcome{}, err
	}

	// The bulk loader only learns how many rows the destination kept. Rows
	// it dropped as duplicates are the remainder of the planned count.
	if gap := rec.ChunkRowCount - outcome.RowsImported - outcome.RowsSkipped; gap > 0 && strategy.Name() == MethodBulk {
		outcome.RowsSkipped += gap
	}
	return outcome, nil
}

func (c *Coordinator) countLedgerError(table string) {
	if m := metrics.Get(); m != nil {
		m.IncLedgerErrors(table)
	}
}

func (c *Coordinator) finish(summary *RunSummary, log *slog.Logger) {
	summary.Elapsed = time.Since(summary.StartedAt)
	summary.ElapsedSecs = summary.Elapsed.Seconds()
	log.Info("import run finished",
		"total_chunks", summary.TotalChunks,
		"completed", summary.Completed,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"rows_imported", summary.RowsImported,
		"rows_skipped", summary.RowsSkipped,
		"elapsed", summary.Elapsed.Round(time.Millisecond),
	)
}

func filterChunks(records []ledger.ChunkRecord, only []int) []ledger.ChunkRecord {
	if len(only) == 0 {
		return records
	}
	want := make(map[int]bool, len(only))
	for _, n := range only {
		want[n] = true
	}
	out := records[:0:0]
	for _, rec := range records {
		if want[rec.ChunkNumber] {
			out = append(out, rec)
		}
	}
	return out
}
