// Package blobstore adapts the object storage clients to the media domain.
package blobstore

import (
	"bytes"
	"context"
	"errors"

	"github.com/Aleph-Alpha/mediaindex/internal/media"
	"github.com/Aleph-Alpha/mediaindex/pkg/minio"
	"github.com/Aleph-Alpha/mediaindex/pkg/s3"
)

// Store holds the raw media bytes by key. Get on a missing key returns an
// error matching media.ErrNotFound; every other failure is transient.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

type objectClient struct {
	notFound error
	put      func(ctx context.Context, key string, data []byte, contentType string) error
	get      func(ctx context.Context, key string) ([]byte, error)
	del      func(ctx context.Context, key string) error
	exists   func(ctx context.Context, key string) (bool, error)
}

// NewMinio adapts the MinIO client.
func NewMinio(c *minio.Minio) Store {
	return &objectClient{
		notFound: minio.ErrObjectNotFound,
		put: func(ctx context.Context, key string, data []byte, contentType string) error {
			_, err := c.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType)
			return err
		},
		get:    c.Get,
		del:    c.Delete,
		exists: c.Exists,
	}
}

// NewS3 adapts the S3 client.
func NewS3(c *s3.Client) Store {
	return &objectClient{
		notFound: s3.ErrObjectNotFound,
		put: func(ctx context.Context, key string, data []byte, contentType string) error {
			_, err := c.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType)
			return err
		},
		get:    c.Get,
		del:    c.Delete,
		exists: c.Exists,
	}
}

func (o *objectClient) Put(ctx context.Context, key string, data []byte, contentType string) error {
	return o.wrap("blob put", o.put(ctx, key, data, contentType))
}

func (o *objectClient) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := o.get(ctx, key)
	if err != nil {
		return nil, o.wrap("blob get", err)
	}
	return data, nil
}

func (o *objectClient) Delete(ctx context.Context, key string) error {
	return o.wrap("blob delete", o.del(ctx, key))
}

func (o *objectClient) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := o.exists(ctx, key)
	if err != nil {
		return false, o.wrap("blob stat", err)
	}
	return ok, nil
}

func (o *objectClient) wrap(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, o.notFound):
		return media.E(op, media.ErrNotFound, err)
	default:
		return media.E(op, media.ErrTransientStore, err)
	}
}
