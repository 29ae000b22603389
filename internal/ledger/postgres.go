package ledger

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// Config holds ledger database configuration.
type Config struct {
	DSN      string
	MaxConns int32
}

// NewPostgresStore connects to PostgreSQL and ensures the ledger schema.
func NewPostgresStore(ctx context.Context, cfg Config) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

// NewPostgresStoreFromPool wraps an existing pool, ensuring the schema.
// Used when the ledger and the destination share one database.
func NewPostgresStoreFromPool(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	s := &PostgresStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schemaSQL)
	if err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateChunk(ctx context.Context, rec *ChunkRecord) error {
	query := `
		INSERT INTO csv_chunk_progress (
			table_name, dataset_date, chunk_number, chunk_filename,
			chunk_start_row, chunk_end_row, chunk_row_count, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`

	err := s.pool.QueryRow(ctx, query,
		rec.TableName,
		rec.DatasetDate,
		rec.ChunkNumber,
		rec.ChunkFilename,
		rec.ChunkStartRow,
		rec.ChunkEndRow,
		rec.ChunkRowCount,
		StatusPending,
	).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: %s chunk %d", ErrDuplicateChunk, rec.TableName, rec.ChunkNumber)
		}
		return fmt.Errorf("create chunk record: %w", err)
	}
	rec.Status = StatusPending
	return nil
}

func (s *PostgresStore) List(ctx context.Context, table, date string) ([]ChunkRecord, error) {
	query := `
		SELECT id, table_name, dataset_date, chunk_number, chunk_filename,
		       COALESCE(chunk_start_row, 0), COALESCE(chunk_end_row, 0),
		       COALESCE(chunk_row_count, 0), status,
		       rows_imported, rows_skipped,
		       started_at, completed_at, COALESCE(duration_seconds, 0),
		       COALESCE(error_message, ''), retry_count,
		       COALESCE(import_method, ''), created_at, updated_at
		FROM csv_chunk_progress
		WHERE table_name = $1 AND dataset_date = $2
		ORDER BY chunk_number
	`

	rows, err := s.pool.Query(ctx, query, table, date)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()

	var out []ChunkRecord
	for rows.Next() {
		var rec ChunkRecord
		if err := rows.Scan(
			&rec.ID, &rec.TableName, &rec.DatasetDate, &rec.ChunkNumber, &rec.ChunkFilename,
			&rec.ChunkStartRow, &rec.ChunkEndRow, &rec.ChunkRowCount, &rec.Status,
			&rec.RowsImported, &rec.RowsSkipped,
			&rec.StartedAt, &rec.CompletedAt, &rec.DurationSeconds,
			&rec.ErrorMessage, &rec.RetryCount,
			&rec.ImportMethod, &rec.CreatedAt, &rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan chunk record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkProcessing(ctx context.Context, id ChunkID, method string, retryCount int) error {
	query := `
		UPDATE csv_chunk_progress
		SET status = $4, started_at = NOW(), import_method = $5,
		    retry_count = $6, error_message = NULL, updated_at = NOW()
		WHERE table_name = $1 AND dataset_date = $2 AND chunk_number = $3
	`
	return s.update(ctx, query, id.Table, id.Date, id.Number, StatusProcessing, method, retryCount)
}

func (s *PostgresStore) MarkCompleted(ctx context.Context, id ChunkID, rowsImported, rowsSkipped int64, duration time.Duration) error {
	query := `
		UPDATE csv_chunk_progress
		SET status = $4, rows_imported = $5, rows_skipped = $6,
		    completed_at = NOW(), duration_seconds = $7,
		    error_message = NULL, updated_at = NOW()
		WHERE table_name = $1 AND dataset_date = $2 AND chunk_number = $3
	`
	return s.update(ctx, query, id.Table, id.Date, id.Number, StatusCompleted,
		rowsImported, rowsSkipped, int64(duration.Seconds()))
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id ChunkID, errMsg string) error {
	query := `
		UPDATE csv_chunk_progress
		SET status = $4, completed_at = NOW(), error_message = $5, updated_at = NOW()
		WHERE table_name = $1 AND dataset_date = $2 AND chunk_number = $3
	`
	return s.update(ctx, query, id.Table, id.Date, id.Number, StatusFailed, TruncateError(errMsg))
}

func (s *PostgresStore) Reset(ctx context.Context, table, date string) (int, error) {
	query := `
		UPDATE csv_chunk_progress
		SET status = $3, started_at = NULL, completed_at = NULL,
		    duration_seconds = NULL, rows_imported = 0, rows_skipped = 0,
		    error_message = NULL, retry_count = 0, updated_at = NOW()
		WHERE table_name = $1 AND dataset_date = $2
	`
	tag, err := s.pool.Exec(ctx, query, table, date, StatusPending)
	if err != nil {
		return 0, fmt.Errorf("reset chunks: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) Delete(ctx context.Context, table, date string) (int, error) {
	query := `DELETE FROM csv_chunk_progress WHERE table_name = $1 AND dataset_date = $2`
	tag, err := s.pool.Exec(ctx, query, table, date)
	if err != nil {
		return 0, fmt.Errorf("delete chunks: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) RequeueProcessing(ctx context.Context, table, date string) (int, error) {
	query := `
		UPDATE csv_chunk_progress
		SET status = $3, started_at = NULL, updated_at = NOW()
		WHERE table_name = $1 AND dataset_date = $2 AND status = $4
	`
	tag, err := s.pool.Exec(ctx, query, table, date, StatusPending, StatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("requeue processing chunks: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) update(ctx context.Context, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update chunk record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Close releases database connections.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
