package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalSource reads extracts from a local directory.
type LocalSource struct {
	baseDir string
}

// NewLocalSource creates a local filesystem source.
func NewLocalSource(baseDir string) *LocalSource {
	return &LocalSource{baseDir: baseDir}
}

func (s *LocalSource) Open(_ context.Context, name string) (io.ReadCloser, error) {
	path := filepath.Join(s.baseDir, filepath.Base(name))
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source file %s: %w", path, err)
	}
	rc, err := wrapDecompress(name, f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return rc, nil
}

func (s *LocalSource) Close() error {
	return nil
}
