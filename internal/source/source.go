// Package source provides read access to source extracts before chunking.
// Extracts may live on the local filesystem or in a cloud bucket, and may be
// gzip- or zstd-compressed; callers always receive a plain CSV stream.
package source

import (
	"context"
	"fmt"
	"io"
)

// Opener opens a named source extract for reading.
type Opener interface {
	// Open returns a reader over the decompressed extract contents.
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	Close() error
}

// Config selects the extract backend.
type Config struct {
	Mode     string // "local" | "s3" | "gcs"
	LocalDir string
	Bucket   string
	Prefix   string
	Endpoint string // custom S3 endpoint
	Region   string
}

// NewOpener creates an extract opener for the configured backend.
func NewOpener(ctx context.Context, cfg Config) (Opener, error) {
	switch cfg.Mode {
	case "local", "":
		return NewLocalSource(cfg.LocalDir), nil
	case "s3", "gcs":
		return NewBlobSource(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown source mode: %s", cfg.Mode)
	}
}
