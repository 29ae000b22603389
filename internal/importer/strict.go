package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/openjurist/chunkloader/internal/target"
)

// strictStrategy parses chunks with full CSV semantics: quoted fields,
// embedded newlines, exact field counts. Rows that fail type coercion are
// skipped and counted while the rest of the chunk proceeds.
type strictStrategy struct {
	dest      Destination
	batchSize int
}

func (s *strictStrategy) Name() string { return MethodStrict }

func (s *strictStrategy) Import(ctx context.Context, r io.Reader, table string, destCols []target.Column) (Outcome, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: read header: %v", ErrSourceIO, err)
	}

	align, err := Align(header, destCols, slog.With("table", table, "method", s.Name()))
	if err != nil {
		return Outcome{}, err
	}
	cols := align.Names()

	var out Outcome
	batch := make([][]any, 0, s.batchSize)
	flush := func() error {
		imported, skipped, err := writeBatch(ctx, s.dest, table, s.Name(), cols, batch)
		out.RowsImported += imported
		out.RowsSkipped += skipped
		batch = batch[:0]
		return err
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				// Malformed row under strict parsing. Skip it, keep the chunk.
				out.RowsSkipped++
				continue
			}
			return out, fmt.Errorf("%w: read row: %v", ErrSourceIO, err)
		}

		values, err := target.CoerceRow(align.Project(record), align.Columns)
		if err != nil {
			out.RowsSkipped++
			continue
		}

		batch = append(batch, values)
		if len(batch) >= s.batchSize {
			if err := flush(); err != nil {
				return out, err
			}
		}
	}

	if err := flush(); err != nil {
		return out, err
	}
	return out, nil
}
