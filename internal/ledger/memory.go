package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store. It backs tests and dry runs; the
// semantics mirror PostgresStore exactly, including per-record atomic
// updates under a single mutex.
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	recs   map[ChunkID]*ChunkRecord
}

// NewMemoryStore creates an empty in-memory ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[ChunkID]*ChunkRecord)}
}

func (s *MemoryStore) CreateChunk(_ context.Context, rec *ChunkRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := rec.Identity()
	if _, ok := s.recs[id]; ok {
		return fmt.Errorf("%w: %s chunk %d", ErrDuplicateChunk, rec.TableName, rec.ChunkNumber)
	}

	s.nextID++
	now := time.Now().UTC()
	rec.ID = s.nextID
	rec.Status = StatusPending
	rec.CreatedAt = now
	rec.UpdatedAt = now

	cp := *rec
	s.recs[id] = &cp
	return nil
}

func (s *MemoryStore) List(_ context.Context, table, date string) ([]ChunkRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ChunkRecord
	for id, rec := range s.recs {
		if id.Table == table && id.Date == date {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkNumber < out[j].ChunkNumber })
	return out, nil
}

func (s *MemoryStore) MarkProcessing(_ context.Context, id ChunkID, method string, retryCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.recs[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	rec.Status = StatusProcessing
	rec.StartedAt = &now
	rec.ImportMethod = method
	rec.RetryCount = retryCount
	rec.ErrorMessage = ""
	rec.UpdatedAt = now
	return nil
}

func (s *MemoryStore) MarkCompleted(_ context.Context, id ChunkID, rowsImported, rowsSkipped int64, duration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.recs[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	rec.Status = StatusCompleted
	rec.RowsImported = rowsImported
	rec.RowsSkipped = rowsSkipped
	rec.CompletedAt = &now
	rec.DurationSeconds = int64(duration.Seconds())
	rec.ErrorMessage = ""
	rec.UpdatedAt = now
	return nil
}

func (s *MemoryStore) MarkFailed(_ context.Context, id ChunkID, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.recs[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	rec.Status = StatusFailed
	rec.CompletedAt = &now
	rec.ErrorMessage = TruncateError(errMsg)
	rec.UpdatedAt = now
	return nil
}

func (s *MemoryStore) Reset(_ context.Context, table, date string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	now := time.Now().UTC()
	for id, rec := range s.recs {
		if id.Table != table || id.Date != date {
			continue
		}
		rec.Status = StatusPending
		rec.StartedAt = nil
		rec.CompletedAt = nil
		rec.DurationSeconds = 0
		rec.RowsImported = 0
		rec.RowsSkipped = 0
		rec.ErrorMessage = ""
		rec.RetryCount = 0
		rec.UpdatedAt = now
		count++
	}
	return count, nil
}

func (s *MemoryStore) Delete(_ context.Context, table, date string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id := range s.recs {
		if id.Table == table && id.Date == date {
			delete(s.recs, id)
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) RequeueProcessing(_ context.Context, table, date string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	now := time.Now().UTC()
	for id, rec := range s.recs {
		if id.Table == table && id.Date == date && rec.Status == StatusProcessing {
			rec.Status = StatusPending
			rec.StartedAt = nil
			rec.UpdatedAt = now
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
