package blobstore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aleph-Alpha/mediaindex/internal/media"
	"github.com/Aleph-Alpha/mediaindex/pkg/minio"
)

func fakeClient(objects map[string][]byte, failure error) *objectClient {
	return &objectClient{
		notFound: minio.ErrObjectNotFound,
		put: func(_ context.Context, key string, data []byte, _ string) error {
			if failure != nil {
				return failure
			}
			objects[key] = data
			return nil
		},
		get: func(_ context.Context, key string) ([]byte, error) {
			if failure != nil {
				return nil, failure
			}
			data, ok := objects[key]
			if !ok {
				return nil, fmt.Errorf("failed to get object: %w", minio.ErrObjectNotFound)
			}
			return data, nil
		},
		del: func(_ context.Context, key string) error {
			delete(objects, key)
			return failure
		},
		exists: func(_ context.Context, key string) (bool, error) {
			_, ok := objects[key]
			return ok, failure
		},
	}
}

func TestObjectClientClassifiesErrors(t *testing.T) {
	ctx := context.Background()
	store := fakeClient(map[string][]byte{}, nil)

	require.NoError(t, store.Put(ctx, "k", []byte("v"), "image/png"))
	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, media.ErrNotFound)
	assert.ErrorIs(t, err, minio.ErrObjectNotFound)
	assert.False(t, media.IsRetryable(err))

	broken := fakeClient(map[string][]byte{}, errors.New("connection reset"))
	err = broken.Put(ctx, "k", []byte("v"), "image/png")
	assert.ErrorIs(t, err, media.ErrTransientStore)
	assert.True(t, media.IsRetryable(err))

	_, err = broken.Exists(ctx, "k")
	assert.ErrorIs(t, err, media.ErrTransientStore)
}
