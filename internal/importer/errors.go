package importer

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceIO is returned when a chunk file cannot be opened or read.
	ErrSourceIO = errors.New("chunk file unreadable")

	// ErrSchemaMismatch is returned when the destination column set is empty
	// or shares no columns with a chunk's header.
	ErrSchemaMismatch = errors.New("no usable destination columns")

	// ErrStrategyIncompatible is returned by the bulk loader when the chunk
	// header does not align exactly with the destination table.
	ErrStrategyIncompatible = errors.New("column set incompatible with bulk load")

	// ErrUnknownStrategy is returned for an unrecognized strategy name.
	ErrUnknownStrategy = errors.New("unknown import strategy")

	// ErrNoChunks is returned when a run targets a dataset with no planned chunks.
	ErrNoChunks = errors.New("no chunks planned for this table and date")
)

// BatchWriteError marks a destination write failure that survived reduced
// granularity retries. The coordinator treats it as a chunk-level failure.
type BatchWriteError struct {
	Table string
	Rows  int
	Err   error
}

func (e *BatchWriteError) Error() string {
	return fmt.Sprintf("batch write to %s failed (%d rows): %v", e.Table, e.Rows, e.Err)
}

func (e *BatchWriteError) Unwrap() error {
	return e.Err
}
