package importer

import (
	"context"
	"fmt"
	"io"

	"github.com/openjurist/chunkloader/internal/target"
)

// Strategy names selectable by configuration or per run.
const (
	MethodStrict     = "strict"
	MethodPermissive = "permissive"
	MethodBulk       = "bulk"
)

// Outcome reports what one strategy call did with one chunk.
type Outcome struct {
	RowsImported int64
	RowsSkipped  int64
}

// Destination is the write surface a strategy needs from the target database.
type Destination interface {
	Columns(ctx context.Context, table string) ([]target.Column, error)
	InsertRows(ctx context.Context, table string, cols []string, rows [][]any) (int64, error)
	CopyFrom(ctx context.Context, table string, r io.Reader) (int64, error)
	Analyze(ctx context.Context, table string) error
}

// Strategy imports one chunk file into the destination table. Implementations
// commit in bounded sub-batches and must be duplicate safe: re-importing a
// completed chunk creates no duplicate destination rows.
type Strategy interface {
	Name() string
	Import(ctx context.Context, r io.Reader, table string, destCols []target.Column) (Outcome, error)
}

// ForName returns the named strategy bound to a destination.
func ForName(name string, dest Destination, batchSize int) (Strategy, error) {
	switch name {
	case MethodStrict:
		return &strictStrategy{dest: dest, batchSize: batchSize}, nil
	case MethodPermissive:
		return &permissiveStrategy{dest: dest, batchSize: batchSize}, nil
	case MethodBulk:
		return &bulkStrategy{dest: dest}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
}
