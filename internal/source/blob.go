package source

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/gcsblob" // GCS driver
	_ "gocloud.dev/blob/s3blob"  // S3 driver
)

// BlobSource reads extracts from a cloud bucket via gocloud.dev.
type BlobSource struct {
	bucket *blob.Bucket
	prefix string
}

// NewBlobSource opens the configured bucket.
func NewBlobSource(ctx context.Context, cfg Config) (*BlobSource, error) {
	bucketURL, err := buildBucketURL(cfg)
	if err != nil {
		return nil, err
	}

	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}

	return &BlobSource{bucket: bucket, prefix: cfg.Prefix}, nil
}

func buildBucketURL(cfg Config) (string, error) {
	switch cfg.Mode {
	case "s3":
		q := url.Values{}
		if cfg.Region != "" {
			q.Set("region", cfg.Region)
		}
		if cfg.Endpoint != "" {
			q.Set("endpoint", cfg.Endpoint)
			q.Set("s3ForcePathStyle", "true")
		}
		u := fmt.Sprintf("s3://%s", cfg.Bucket)
		if len(q) > 0 {
			u += "?" + q.Encode()
		}
		return u, nil
	case "gcs":
		return fmt.Sprintf("gs://%s", cfg.Bucket), nil
	default:
		return "", fmt.Errorf("unsupported blob mode: %s", cfg.Mode)
	}
}

func (s *BlobSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	key := path.Join(s.prefix, name)
	r, err := s.bucket.NewReader(ctx, key, nil)
	if err != nil {
		return nil, fmt.Errorf("open blob %s: %w", key, err)
	}
	rc, err := wrapDecompress(name, r)
	if err != nil {
		r.Close()
		return nil, err
	}
	return rc, nil
}

func (s *BlobSource) Close() error {
	return s.bucket.Close()
}
