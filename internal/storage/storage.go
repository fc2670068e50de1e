// Package storage loads and publishes mail templates kept in object storage.
package storage

import (
	"context"
	"errors"
	"io"

	"github.com/samber/oops"

	"github.com/keyward/apiserver/config"
)

// Backend names accepted by Open.
const (
	BackendMinio = "minio"
	BackendGCS   = "gcs"
)

// ErrObjectNotFound is returned when the requested key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStorage defines common object operations across backends.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Bucket() string
}

// Open connects to the backend named in cfg.Templates.Storage.
func Open(ctx context.Context, cfg config.Config) (ObjectStorage, error) {
	switch cfg.Templates.Storage {
	case BackendMinio:
		client, err := NewMinioClient(cfg.Minio)
		if err != nil {
			return nil, err
		}
		return client, nil
	case BackendGCS:
		client, err := NewGCSClient(ctx, cfg.GCS)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, oops.Code("STORAGE_UNKNOWN_BACKEND").
			With("backend", cfg.Templates.Storage).
			Errorf("unknown template storage %q", cfg.Templates.Storage)
	}
}

// ReadObject reads at most limit bytes of key. Larger objects are rejected.
func ReadObject(ctx context.Context, s ObjectStorage, key string, limit int64) ([]byte, error) {
	r, err := s.Get(ctx, key)
	if err != nil {
		return nil, oops.Code("STORAGE_READ_FAILED").With("bucket", s.Bucket()).With("key", key).Wrap(err)
	}
	defer r.Close()

	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, oops.Code("STORAGE_READ_FAILED").With("bucket", s.Bucket()).With("key", key).Wrap(err)
	}
	if int64(len(data)) > limit {
		return nil, oops.Code("STORAGE_OBJECT_TOO_LARGE").
			With("bucket", s.Bucket()).
			With("key", key).
			Errorf("object exceeds %d bytes", limit)
	}
	return data, nil
}
