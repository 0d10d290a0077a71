// Package minio is the object storage client used for uploaded media.
//
// It wraps minio-go with bucket bootstrap on startup and a background
// health monitor that rebuilds the SDK clients after connectivity loss.
// Missing objects are reported as ErrObjectNotFound; every other SDK error
// is passed through unchanged.
//
//	mi, err := minio.NewClient(cfg, log)
//	_, err = mi.Put(ctx, "users/u1/2024/01/02/x.png", r, size, "image/png")
//	data, err := mi.Get(ctx, "users/u1/2024/01/02/x.png")
package minio
