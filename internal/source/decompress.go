package source

import (
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// wrapDecompress wraps a raw extract reader with the decompressor implied by
// the filename extension. Plain files pass through untouched.
func wrapDecompress(name string, rc io.ReadCloser) (io.ReadCloser, error) {
	switch {
	case strings.HasSuffix(name, ".gz"):
		gz, err := gzip.NewReader(rc)
		if err != nil {
			return nil, fmt.Errorf("gzip reader for %s: %w", name, err)
		}
		return &compressedReader{r: gz, closers: []io.Closer{gz, rc}}, nil

	case strings.HasSuffix(name, ".zst"):
		dec, err := zstd.NewReader(rc, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("zstd reader for %s: %w", name, err)
		}
		return &compressedReader{r: dec.IOReadCloser(), closers: []io.Closer{dec.IOReadCloser(), rc}}, nil

	default:
		return rc, nil
	}
}

// compressedReader closes both the decompressor and the underlying stream.
type compressedReader struct {
	r       io.Reader
	closers []io.Closer
}

func (c *compressedReader) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

func (c *compressedReader) Close() error {
	var firstErr error
	for _, cl := range c.closers {
		if err := cl.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
