package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyward/apiserver/config"
)

func TestReadObject(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage("templates")
	require.NoError(t, s.EnsureBucket(ctx))
	require.NoError(t, s.Put(ctx, "reset.txt", strings.NewReader("hello {{.Username}}"), -1, "text/plain"))

	t.Run("within limit", func(t *testing.T) {
		data, err := ReadObject(ctx, s, "reset.txt", 64)
		require.NoError(t, err)
		assert.Equal(t, "hello {{.Username}}", string(data))
	})

	t.Run("exactly at limit", func(t *testing.T) {
		data, err := ReadObject(ctx, s, "reset.txt", int64(len("hello {{.Username}}")))
		require.NoError(t, err)
		assert.NotEmpty(t, data)
	})

	t.Run("too large", func(t *testing.T) {
		_, err := ReadObject(ctx, s, "reset.txt", 4)
		assert.ErrorContains(t, err, "exceeds")
	})

	t.Run("missing", func(t *testing.T) {
		_, err := ReadObject(ctx, s, "nope.txt", 64)
		assert.ErrorIs(t, err, ErrObjectNotFound)
	})
}

func TestOpen_Validation(t *testing.T) {
	ctx := context.Background()

	_, err := Open(ctx, config.Config{Templates: config.TemplateConfig{Storage: "s3"}})
	assert.Error(t, err)

	_, err = Open(ctx, config.Config{Templates: config.TemplateConfig{Storage: BackendMinio}})
	assert.ErrorContains(t, err, "MINIO_ENDPOINT")

	_, err = Open(ctx, config.Config{
		Templates: config.TemplateConfig{Storage: BackendMinio},
		Minio:     config.MinioConfig{Endpoint: "localhost:9000", AccessKey: "k", SecretKey: "s"},
	})
	assert.ErrorContains(t, err, "MINIO_BUCKET")

	_, err = Open(ctx, config.Config{Templates: config.TemplateConfig{Storage: BackendGCS}})
	assert.ErrorContains(t, err, "GCS_BUCKET")
}
