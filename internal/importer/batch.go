package importer

import (
	"context"

	"github.com/openjurist/chunkloader/internal/metrics"
)

// writeBatch commits one sub-batch, retrying at reduced granularity when the
// destination rejects it. The batch is bisected down to single rows so one
// poison row costs only itself; a lone row that still fails counts as skipped.
// Context cancellation is never retried and surfaces as a BatchWriteError so
// the chunk fails instead of silently losing rows.
func writeBatch(ctx context.Context, dest Destination, table, method string, cols []string, rows [][]any) (imported, skipped int64, err error) {
	if len(rows) == 0 {
		return 0, 0, nil
	}

	n, err := dest.InsertRows(ctx, table, cols, rows)
	if err == nil {
		// Rows dropped by conflict-ignoring inserts are duplicates, counted
		// as skipped rather than imported.
		return n, int64(len(rows)) - n, nil
	}

	if m := metrics.Get(); m != nil {
		m.IncBatchErrors(metrics.Labels{Table: table, Method: method})
	}
	if ctx.Err() != nil {
		return 0, 0, &BatchWriteError{Table: table, Rows: len(rows), Err: ctx.Err()}
	}
	if len(rows) == 1 {
		return 0, 1, nil
	}

	mid := len(rows) / 2
	leftImported, leftSkipped, err := writeBatch(ctx, dest, table, method, cols, rows[:mid])
	if err != nil {
		return leftImported, leftSkipped, err
	}
	rightImported, rightSkipped, err := writeBatch(ctx, dest, table, method, cols, rows[mid:])
	return leftImported + rightImported, leftSkipped + rightSkipped, err
}
