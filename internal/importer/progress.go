package importer

import (
	"context"
	"fmt"

	"github.com/openjurist/chunkloader/internal/ledger"
)

// Overall dataset states derived from chunk statuses.
const (
	OverallPending    = "pending"
	OverallInProgress = "in_progress"
	OverallCompleted  = "completed"
	OverallPartial    = "completed_with_failures"
	OverallFailed     = "failed"
)

// ProgressSummary is the read-only aggregation over a dataset's chunk records.
type ProgressSummary struct {
	Table           string               `json:"table_name"`
	Date            string               `json:"dataset_date"`
	Status          string               `json:"status"`
	TotalChunks     int                  `json:"total_chunks"`
	ByStatus        map[string]int       `json:"chunks_by_status"`
	RowsImported    int64                `json:"rows_imported"`
	RowsSkipped     int64                `json:"rows_skipped"`
	ExpectedTotal   int64                `json:"expected_total,omitempty"`
	PercentComplete float64              `json:"percent_complete"`
	Chunks          []ledger.ChunkRecord `json:"chunks,omitempty"`
}

// Progress computes a dataset's progress. expectedTotal is the full dataset
// row count supplied by the caller; the ledger alone cannot know it. Percent
// counts both imported and skipped rows of completed chunks as processed,
// since a skipped row needs no further work. Safe to call during a run.
func Progress(ctx context.Context, store ledger.Store, table, date string, expectedTotal int64, detailed bool) (*ProgressSummary, error) {
	records, err := store.List(ctx, table, date)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s/%s", ErrNoChunks, table, date)
	}

	s := &ProgressSummary{
		Table:         table,
		Date:          date,
		TotalChunks:   len(records),
		ByStatus:      make(map[string]int),
		ExpectedTotal: expectedTotal,
	}
	for _, rec := range records {
		s.ByStatus[rec.Status]++
		if rec.Status == ledger.StatusCompleted {
			s.RowsImported += rec.RowsImported
			s.RowsSkipped += rec.RowsSkipped
		}
	}

	if expectedTotal > 0 {
		processed := s.RowsImported + s.RowsSkipped
		s.PercentComplete = float64(processed) / float64(expectedTotal) * 100
		if s.PercentComplete > 100 {
			s.PercentComplete = 100
		}
	}

	s.Status = overallStatus(s.ByStatus, s.TotalChunks)
	if detailed {
		s.Chunks = records
	}
	return s, nil
}

func overallStatus(byStatus map[string]int, total int) string {
	switch {
	case byStatus[ledger.StatusCompleted] == total:
		return OverallCompleted
	case byStatus[ledger.StatusFailed] == total:
		return OverallFailed
	case byStatus[ledger.StatusPending] == total:
		return OverallPending
	case byStatus[ledger.StatusProcessing] > 0:
		return OverallInProgress
	case byStatus[ledger.StatusFailed] > 0 && byStatus[ledger.StatusPending] == 0:
		return OverallPartial
	default:
		return OverallInProgress
	}
}
