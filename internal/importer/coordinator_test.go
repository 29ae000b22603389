package importer

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openjurist/chunkloader/internal/chunker"
	"github.com/openjurist/chunkloader/internal/config"
	"github.com/openjurist/chunkloader/internal/ledger"
	"github.com/openjurist/chunkloader/internal/logging"
)

const (
	testTable = "orders"
	testDate  = "2024-03-15"
)

func sourceCSV(rows int) string {
	var sb strings.Builder
	sb.WriteString("id,name,amount\n")
	for i := 1; i <= rows; i++ {
		sb.WriteString(strconv.Itoa(i))
		sb.WriteString(",row-")
		sb.WriteString(strconv.Itoa(i))
		sb.WriteString(",1.50\n")
	}
	return sb.String()
}

func testImportConfig() config.ImportConfig {
	cfg := config.Default().Import
	cfg.Method = MethodStrict
	cfg.BatchSize = 3
	cfg.MaxRetries = 2
	cfg.RetryBackoff = time.Millisecond
	return cfg
}

// planDataset splits a 10-row source into chunks of the given size and
// returns the chunk root.
func planDataset(t *testing.T, store ledger.Store, rows, size int) string {
	t.Helper()
	root := t.TempDir()
	_, err := chunker.New(store, root).Split(context.Background(), strings.NewReader(sourceCSV(rows)), chunker.Options{
		Table: testTable, Date: testDate, ChunkSize: size, Policy: config.RechunkRefuse,
	})
	require.NoError(t, err)
	return root
}

func TestRunImportsAllChunksThenResumesIdempotently(t *testing.T) {
	store := ledger.NewMemoryStore()
	dest := newFakeDest()
	root := planDataset(t, store, 10, 4)
	coord := NewCoordinator(store, dest, root, testImportConfig())
	ctx := context.Background()

	summary, err := coord.Run(ctx, RunOptions{Table: testTable, Date: testDate})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.TotalChunks)
	assert.Equal(t, 3, summary.Completed)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, int64(10), summary.RowsImported)
	assert.Equal(t, 10, dest.rowCount())

	// Second run with resume imports zero additional rows.
	again, err := coord.Run(ctx, RunOptions{Table: testTable, Date: testDate})
	require.NoError(t, err)
	assert.Equal(t, 3, again.Skipped)
	assert.Equal(t, 0, again.Completed)
	assert.Equal(t, int64(0), again.RowsImported)
	assert.Equal(t, 10, dest.rowCount())
}

func TestRunPartialThenResumeCoversRemainder(t *testing.T) {
	store := ledger.NewMemoryStore()
	dest := newFakeDest()
	root := planDataset(t, store, 10, 4)
	coord := NewCoordinator(store, dest, root, testImportConfig())
	ctx := context.Background()

	// Import only chunk 2 first.
	partial, err := coord.Run(ctx, RunOptions{Table: testTable, Date: testDate, Chunks: []int{2}})
	require.NoError(t, err)
	assert.Equal(t, 1, partial.Completed)
	assert.Equal(t, int64(4), partial.RowsImported)

	// Resuming the full dataset picks up chunks 1 and 3 only.
	rest, err := coord.Run(ctx, RunOptions{Table: testTable, Date: testDate})
	require.NoError(t, err)
	assert.Equal(t, 2, rest.Completed)
	assert.Equal(t, 1, rest.Skipped)
	assert.Equal(t, int64(6), rest.RowsImported)
	assert.Equal(t, 10, dest.rowCount())

	recs, err := store.List(ctx, testTable, testDate)
	require.NoError(t, err)
	var total int64
	for _, rec := range recs {
		assert.Equal(t, ledger.StatusCompleted, rec.Status, "chunk %d", rec.ChunkNumber)
		total += rec.RowsImported
	}
	assert.Equal(t, int64(10), total)
}

func TestRunFailedChunkDoesNotBlockRun(t *testing.T) {
	store := ledger.NewMemoryStore()
	dest := newFakeDest()
	root := planDataset(t, store, 10, 4)
	ctx := context.Background()

	// Chunk 2's file disappears before the run.
	missing := filepath.Join(chunker.DatasetDir(root, testTable, testDate), chunker.FileName(testTable, testDate, 2))
	require.NoError(t, os.Remove(missing))

	coord := NewCoordinator(store, dest, root, testImportConfig())
	summary, err := coord.Run(ctx, RunOptions{Table: testTable, Date: testDate})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Completed)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, int64(6), summary.RowsImported)

	recs, err := store.List(ctx, testTable, testDate)
	require.NoError(t, err)
	failed := recs[1]
	assert.Equal(t, ledger.StatusFailed, failed.Status)
	assert.Equal(t, 2, failed.RetryCount)
	assert.NotEmpty(t, failed.ErrorMessage)
	assert.Equal(t, MethodStrict, failed.ImportMethod)
}

func TestRunResumeSkipsWithoutReadingFiles(t *testing.T) {
	store := ledger.NewMemoryStore()
	dest := newFakeDest()
	root := planDataset(t, store, 10, 4)
	coord := NewCoordinator(store, dest, root, testImportConfig())
	ctx := context.Background()

	_, err := coord.Run(ctx, RunOptions{Table: testTable, Date: testDate})
	require.NoError(t, err)

	// Completed chunks are skipped by ledger state alone; the files can be gone.
	require.NoError(t, chunker.RemoveDatasetDir(root, testTable, testDate))

	summary, err := coord.Run(ctx, RunOptions{Table: testTable, Date: testDate})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Skipped)
	assert.Equal(t, 0, summary.Failed)
}

func TestRunNoResumeReprocessesDuplicateSafely(t *testing.T) {
	store := ledger.NewMemoryStore()
	dest := newFakeDest()
	root := planDataset(t, store, 10, 4)
	coord := NewCoordinator(store, dest, root, testImportConfig())
	ctx := context.Background()

	_, err := coord.Run(ctx, RunOptions{Table: testTable, Date: testDate})
	require.NoError(t, err)

	summary, err := coord.Run(ctx, RunOptions{Table: testTable, Date: testDate, NoResume: true})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Completed)
	assert.Equal(t, int64(0), summary.RowsImported)
	assert.Equal(t, int64(10), summary.RowsSkipped)
	assert.Equal(t, 10, dest.rowCount())
}

func TestRunRequeuesStaleProcessing(t *testing.T) {
	store := ledger.NewMemoryStore()
	dest := newFakeDest()
	root := planDataset(t, store, 10, 4)
	ctx := context.Background()

	// Simulate a run that died mid-chunk.
	id := ledger.ChunkID{Table: testTable, Date: testDate, Number: 1}
	require.NoError(t, store.MarkProcessing(ctx, id, MethodStrict, 1))

	coord := NewCoordinator(store, dest, root, testImportConfig())
	summary, err := coord.Run(ctx, RunOptions{Table: testTable, Date: testDate})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Requeued)
	assert.Equal(t, 3, summary.Completed)
	assert.Equal(t, int64(10), summary.RowsImported)
}

func TestRunChunkTimeoutForcesFailure(t *testing.T) {
	store := ledger.NewMemoryStore()
	dest := newFakeDest()
	root := planDataset(t, store, 10, 4)

	cfg := testImportConfig()
	cfg.MaxRetries = 1
	cfg.ChunkTimeout = time.Nanosecond
	coord := NewCoordinator(store, dest, root, cfg)

	summary, err := coord.Run(context.Background(), RunOptions{Table: testTable, Date: testDate})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Failed)
	assert.Equal(t, 0, summary.Completed)

	recs, _ := store.List(context.Background(), testTable, testDate)
	for _, rec := range recs {
		assert.Equal(t, ledger.StatusFailed, rec.Status)
	}
}

func TestRunAnalyzeOnDone(t *testing.T) {
	store := ledger.NewMemoryStore()
	dest := newFakeDest()
	root := planDataset(t, store, 4, 2)

	cfg := testImportConfig()
	cfg.AnalyzeOnDone = true
	coord := NewCoordinator(store, dest, root, cfg)

	_, err := coord.Run(context.Background(), RunOptions{Table: testTable, Date: testDate})
	require.NoError(t, err)
	assert.Equal(t, 1, dest.analyzeCalls)
}

func TestRunCarriesCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	store := ledger.NewMemoryStore()
	dest := newFakeDest()
	root := planDataset(t, store, 4, 2)
	coord := NewCoordinator(store, dest, root, testImportConfig())

	ctx := logging.WithCorrelationID(context.Background(), "corr-42")
	_, err := coord.Run(ctx, RunOptions{Table: testTable, Date: testDate})
	require.NoError(t, err)

	// Run-level and per-chunk lines all carry the caller's correlation ID.
	assert.GreaterOrEqual(t, strings.Count(buf.String(), "correlation_id=corr-42"), 3)
}

func TestRunGeneratesCorrelationIDWhenAbsent(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	store := ledger.NewMemoryStore()
	dest := newFakeDest()
	root := planDataset(t, store, 4, 2)
	coord := NewCoordinator(store, dest, root, testImportConfig())

	_, err := coord.Run(context.Background(), RunOptions{Table: testTable, Date: testDate})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "correlation_id=")
}

func TestRunNoChunksPlanned(t *testing.T) {
	coord := NewCoordinator(ledger.NewMemoryStore(), newFakeDest(), t.TempDir(), testImportConfig())
	_, err := coord.Run(context.Background(), RunOptions{Table: testTable, Date: testDate})
	assert.True(t, errors.Is(err, ErrNoChunks))
}

func TestRunUnknownMethod(t *testing.T) {
	coord := NewCoordinator(ledger.NewMemoryStore(), newFakeDest(), t.TempDir(), testImportConfig())
	_, err := coord.Run(context.Background(), RunOptions{Table: testTable, Date: testDate, Method: "turbo"})
	assert.True(t, errors.Is(err, ErrUnknownStrategy))
}
