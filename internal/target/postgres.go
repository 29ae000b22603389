package target

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is the destination database handle.
type Postgres struct {
	pool           *pgxpool.Pool
	conflictColumn string
}

// Config holds destination database configuration.
type Config struct {
	DSN            string
	MaxConns       int32
	ConflictColumn string // destination primary key for duplicate-safe inserts
}

// NewPostgres connects to the destination database.
func NewPostgres(ctx context.Context, cfg Config) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return NewPostgresFromPool(pool, cfg.ConflictColumn), nil
}

// NewPostgresFromPool wraps an existing pool.
func NewPostgresFromPool(pool *pgxpool.Pool, conflictColumn string) *Postgres {
	if conflictColumn == "" {
		conflictColumn = "id"
	}
	return &Postgres{pool: pool, conflictColumn: conflictColumn}
}

// Pool exposes the underlying pool so the progress ledger can share it.
func (p *Postgres) Pool() *pgxpool.Pool {
	return p.pool
}

// Columns returns the destination table's column set from the catalog.
func (p *Postgres) Columns(ctx context.Context, table string) ([]Column, error) {
	query := `
		SELECT column_name, data_type
		FROM information_schema.columns
		WHERE table_name = $1
		ORDER BY ordinal_position
	`

	rows, err := p.pool.Query(ctx, query, table)
	if err != nil {
		return nil, fmt.Errorf("query columns for %s: %w", table, err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Name, &c.DataType); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// InsertRows writes one sub-batch with a multi-row conflict-ignoring INSERT.
// Returns the number of rows actually inserted; rows that collide on the
// conflict column are silently dropped by the destination.
func (p *Postgres) InsertRows(ctx context.Context, table string, cols []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(pgx.Identifier{table}.Sanitize())
	sb.WriteString(" (")
	for i, c := range cols {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(pgx.Identifier{c}.Sanitize())
	}
	sb.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(cols))
	arg := 1
	for i, row := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for j, v := range row {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", arg)
			arg++
			args = append(args, v)
		}
		sb.WriteString(")")
	}

	fmt.Fprintf(&sb, " ON CONFLICT (%s) DO NOTHING", pgx.Identifier{p.conflictColumn}.Sanitize())

	tag, err := p.pool.Exec(ctx, sb.String(), args...)
	if err != nil {
		return 0, fmt.Errorf("insert batch into %s: %w", table, err)
	}
	return tag.RowsAffected(), nil
}

// CopyFrom loads a whole chunk file through the native COPY protocol via a
// session temp table, then moves rows into the destination with a
// conflict-ignoring insert. The CSV header row is consumed by COPY itself.
func (p *Postgres) CopyFrom(ctx context.Context, table string, r io.Reader) (int64, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin copy transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	ident := pgx.Identifier{table}.Sanitize()
	staging := pgx.Identifier{table + "_staging"}.Sanitize()

	if _, err := tx.Exec(ctx, fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP", staging, ident,
	)); err != nil {
		return 0, fmt.Errorf("create staging table: %w", err)
	}

	copySQL := fmt.Sprintf(
		`COPY %s FROM STDIN WITH (FORMAT CSV, HEADER TRUE, DELIMITER ',', NULL '', QUOTE '"', ESCAPE '"')`,
		staging,
	)
	if _, err := conn.Conn().PgConn().CopyFrom(ctx, r, copySQL); err != nil {
		return 0, fmt.Errorf("copy into staging: %w", err)
	}

	tag, err := tx.Exec(ctx, fmt.Sprintf(
		"INSERT INTO %s SELECT * FROM %s ON CONFLICT (%s) DO NOTHING",
		ident, staging, pgx.Identifier{p.conflictColumn}.Sanitize(),
	))
	if err != nil {
		return 0, fmt.Errorf("insert from staging: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit copy transaction: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Analyze refreshes planner statistics after a large import. Best effort.
func (p *Postgres) Analyze(ctx context.Context, table string) error {
	_, err := p.pool.Exec(ctx, "ANALYZE "+pgx.Identifier{table}.Sanitize())
	if err != nil {
		return fmt.Errorf("analyze %s: %w", table, err)
	}
	return nil
}

// RowCount returns the destination table's current row count.
func (p *Postgres) RowCount(ctx context.Context, table string) (int64, error) {
	var n int64
	err := p.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+pgx.Identifier{table}.Sanitize()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count rows in %s: %w", table, err)
	}
	return n, nil
}

// Close releases database connections.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
