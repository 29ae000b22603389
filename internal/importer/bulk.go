package importer

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/openjurist/chunkloader/internal/target"
)

// bulkStrategy streams the chunk through the destination's native load
// protocol. It demands exact column alignment: any mismatch between the chunk
// header and the destination column order fails the whole chunk, and the
// caller must pick a parsing strategy to recover. No fallback happens here.
type bulkStrategy struct {
	dest Destination
}

func (s *bulkStrategy) Name() string { return MethodBulk }

func (s *bulkStrategy) Import(ctx context.Context, r io.Reader, table string, destCols []target.Column) (Outcome, error) {
	if len(destCols) == 0 {
		return Outcome{}, fmt.Errorf("%w: destination has no columns", ErrSchemaMismatch)
	}

	br := bufio.NewReader(r)
	headerLine, err := br.ReadString('\n')
	if err != nil && err != io.EOF {
		return Outcome{}, fmt.Errorf("%w: read header: %v", ErrSourceIO, err)
	}

	header, err := csv.NewReader(strings.NewReader(headerLine)).Read()
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: parse header: %v", ErrSourceIO, err)
	}

	if err := checkExactAlignment(header, destCols); err != nil {
		return Outcome{}, err
	}

	// The header line is replayed in front of the remaining stream because
	// the load protocol consumes it itself.
	n, err := s.dest.CopyFrom(ctx, table, io.MultiReader(strings.NewReader(headerLine), br))
	if err != nil {
		return Outcome{}, fmt.Errorf("bulk load into %s: %w", table, err)
	}
	return Outcome{RowsImported: n}, nil
}

func checkExactAlignment(header []string, destCols []target.Column) error {
	if len(header) != len(destCols) {
		return fmt.Errorf("%w: chunk has %d columns, destination has %d",
			ErrStrategyIncompatible, len(header), len(destCols))
	}
	for i, h := range header {
		if !strings.EqualFold(strings.TrimSpace(h), destCols[i].Name) {
			return fmt.Errorf("%w: position %d is %q in chunk but %q in destination",
				ErrStrategyIncompatible, i+1, h, destCols[i].Name)
		}
	}
	return nil
}
