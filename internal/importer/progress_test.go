package importer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openjurist/chunkloader/internal/ledger"
)

// seedChunks creates three pending records covering rows 1-10 (sizes 4, 4, 2).
func seedChunks(t *testing.T, store ledger.Store) {
	t.Helper()
	ctx := context.Background()
	bounds := [][2]int64{{1, 4}, {5, 8}, {9, 10}}
	for i, b := range bounds {
		err := store.CreateChunk(ctx, &ledger.ChunkRecord{
			TableName:     testTable,
			DatasetDate:   testDate,
			ChunkNumber:   i + 1,
			ChunkStartRow: b[0],
			ChunkEndRow:   b[1],
			ChunkRowCount: b[1] - b[0] + 1,
			Status:        ledger.StatusPending,
		})
		require.NoError(t, err)
	}
}

func complete(t *testing.T, store ledger.Store, number int, imported, skipped int64) {
	t.Helper()
	ctx := context.Background()
	id := ledger.ChunkID{Table: testTable, Date: testDate, Number: number}
	require.NoError(t, store.MarkProcessing(ctx, id, MethodStrict, 1))
	require.NoError(t, store.MarkCompleted(ctx, id, imported, skipped, time.Second))
}

func TestProgressZeroWhenNothingCompleted(t *testing.T) {
	store := ledger.NewMemoryStore()
	seedChunks(t, store)

	s, err := Progress(context.Background(), store, testTable, testDate, 10, false)
	require.NoError(t, err)
	assert.Equal(t, 0.0, s.PercentComplete)
	assert.Equal(t, OverallPending, s.Status)
	assert.Equal(t, 3, s.ByStatus[ledger.StatusPending])
}

func TestProgressCountsSkippedRowsAsProcessed(t *testing.T) {
	store := ledger.NewMemoryStore()
	seedChunks(t, store)
	complete(t, store, 1, 3, 1)

	s, err := Progress(context.Background(), store, testTable, testDate, 10, false)
	require.NoError(t, err)
	assert.InDelta(t, 40.0, s.PercentComplete, 0.001)
	assert.Equal(t, int64(3), s.RowsImported)
	assert.Equal(t, int64(1), s.RowsSkipped)
	assert.Equal(t, OverallInProgress, s.Status)
}

func TestProgressFullCompletion(t *testing.T) {
	store := ledger.NewMemoryStore()
	seedChunks(t, store)
	complete(t, store, 1, 4, 0)
	complete(t, store, 2, 4, 0)
	complete(t, store, 3, 2, 0)

	s, err := Progress(context.Background(), store, testTable, testDate, 10, false)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, s.PercentComplete, 0.001)
	assert.Equal(t, OverallCompleted, s.Status)
}

func TestProgressClampsAt100(t *testing.T) {
	store := ledger.NewMemoryStore()
	seedChunks(t, store)
	complete(t, store, 1, 4, 0)
	complete(t, store, 2, 4, 0)
	complete(t, store, 3, 2, 0)

	// Caller underestimated the dataset size.
	s, err := Progress(context.Background(), store, testTable, testDate, 8, false)
	require.NoError(t, err)
	assert.Equal(t, 100.0, s.PercentComplete)
}

func TestProgressUnknownExpectedTotal(t *testing.T) {
	store := ledger.NewMemoryStore()
	seedChunks(t, store)
	complete(t, store, 1, 4, 0)

	s, err := Progress(context.Background(), store, testTable, testDate, 0, false)
	require.NoError(t, err)
	assert.Equal(t, 0.0, s.PercentComplete)
	assert.Equal(t, int64(4), s.RowsImported)
}

func TestProgressCompletedWithFailures(t *testing.T) {
	store := ledger.NewMemoryStore()
	seedChunks(t, store)
	ctx := context.Background()
	complete(t, store, 1, 4, 0)
	complete(t, store, 3, 2, 0)
	id := ledger.ChunkID{Table: testTable, Date: testDate, Number: 2}
	require.NoError(t, store.MarkProcessing(ctx, id, MethodStrict, 1))
	require.NoError(t, store.MarkFailed(ctx, id, "boom"))

	s, err := Progress(ctx, store, testTable, testDate, 10, false)
	require.NoError(t, err)
	assert.Equal(t, OverallPartial, s.Status)
	assert.Equal(t, 1, s.ByStatus[ledger.StatusFailed])
}

func TestProgressAllFailed(t *testing.T) {
	store := ledger.NewMemoryStore()
	seedChunks(t, store)
	ctx := context.Background()
	for n := 1; n <= 3; n++ {
		id := ledger.ChunkID{Table: testTable, Date: testDate, Number: n}
		require.NoError(t, store.MarkProcessing(ctx, id, MethodStrict, 1))
		require.NoError(t, store.MarkFailed(ctx, id, "boom"))
	}

	s, err := Progress(ctx, store, testTable, testDate, 10, false)
	require.NoError(t, err)
	assert.Equal(t, OverallFailed, s.Status)
}

func TestProgressDetailedIncludesRecords(t *testing.T) {
	store := ledger.NewMemoryStore()
	seedChunks(t, store)

	s, err := Progress(context.Background(), store, testTable, testDate, 10, true)
	require.NoError(t, err)
	require.Len(t, s.Chunks, 3)
	assert.Equal(t, 1, s.Chunks[0].ChunkNumber)
}

func TestProgressNoChunks(t *testing.T) {
	_, err := Progress(context.Background(), ledger.NewMemoryStore(), testTable, testDate, 10, false)
	assert.True(t, errors.Is(err, ErrNoChunks))
}
