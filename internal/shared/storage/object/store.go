package object

import (
	"context"
	"io"
)

// ObjectStore saves and reads downloaded documents by storage key. Keys use "/"
// separators; backends map them onto paths, S3 keys or MinIO objects.
type ObjectStore interface {
	SaveWithKey(ctx context.Context, storageKey string, contentType string, r io.Reader) (sizeBytes int64, err error)
	Open(ctx context.Context, storageKey string) (io.ReadCloser, error)
}
