package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/openjurist/chunkloader/internal/target"
)

// permissiveStrategy tolerates ragged rows, stray quotes and broken encoding
// at a throughput cost. Fields that are not valid UTF-8 are repaired with the
// replacement rune rather than dropped.
type permissiveStrategy struct {
	dest      Destination
	batchSize int
}

func (s *permissiveStrategy) Name() string { return MethodPermissive }

func (s *permissiveStrategy) Import(ctx context.Context, r io.Reader, table string, destCols []target.Column) (Outcome, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

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
				// Even lazy parsing gave up on this row.
				out.RowsSkipped++
				continue
			}
			// Reader errors persist across Read calls; bail instead of
			// counting the same failure as skipped rows forever.
			return out, fmt.Errorf("%w: read row: %v", ErrSourceIO, err)
		}

		fields := align.Project(record)
		for i, f := range fields {
			if !utf8.ValidString(f) {
				fields[i] = strings.ToValidUTF8(f, string(utf8.RuneError))
			}
		}

		values, err := target.CoerceRow(fields, align.Columns)
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
