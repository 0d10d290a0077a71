package minio

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
)

// Put uploads an object. A size of 0 or less streams with unknown length.
func (m *Minio) Put(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) (int64, error) {
	if size <= 0 {
		size = unknownSize
	}
	info, err := m.sdk().PutObject(ctx, m.cfg.Connection.BucketName, objectKey, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
		PartSize:    m.cfg.UploadConfig.MinPartSize,
	})
	if err != nil {
		return 0, TranslateError(err)
	}
	return info.Size, nil
}

// Get reads a whole object into memory.
func (m *Minio) Get(ctx context.Context, objectKey string) ([]byte, error) {
	reader, err := m.sdk().GetObject(ctx, m.cfg.Connection.BucketName, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", TranslateError(err))
	}
	defer func() {
		if err := reader.Close(); err != nil {
			m.logger.Error("failed to close object reader", err)
		}
	}()

	// GetObject is lazy; Stat is the first call that reaches the server.
	info, err := reader.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to get object stats: %w", TranslateError(err))
	}

	if info.Size < m.cfg.DownloadConfig.SmallFileThreshold {
		data := make([]byte, info.Size)
		if _, err := io.ReadFull(reader, data); err != nil {
			return nil, fmt.Errorf("failed to read object data: %w", err)
		}
		return data, nil
	}

	buffer := m.bufferPool.Get()
	defer m.bufferPool.Put(buffer)
	buffer.Reset()
	buffer.Grow(int(min(info.Size, int64(m.cfg.DownloadConfig.InitialBufferSize))))

	if _, err := io.Copy(buffer, reader); err != nil {
		return nil, fmt.Errorf("failed to read large object: %w", err)
	}

	result := make([]byte, buffer.Len())
	copy(result, buffer.Bytes())
	return result, nil
}

// Exists reports whether objectKey is present.
func (m *Minio) Exists(ctx context.Context, objectKey string) (bool, error) {
	_, err := m.sdk().StatObject(ctx, m.cfg.Connection.BucketName, objectKey, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if err = TranslateError(err); err == ErrObjectNotFound {
		return false, nil
	}
	return false, err
}

// Delete removes an object. Deleting a missing object succeeds.
func (m *Minio) Delete(ctx context.Context, objectKey string) error {
	return TranslateError(m.sdk().RemoveObject(ctx, m.cfg.Connection.BucketName, objectKey, minio.RemoveObjectOptions{}))
}

// CleanupIncompleteUploads aborts multipart uploads under prefix that were
// started before the cutoff. These are left behind by interrupted uploads.
func (m *Minio) CleanupIncompleteUploads(ctx context.Context, prefix string, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	bucket := m.cfg.Connection.BucketName
	core := m.core()

	aborted := 0
	for upload := range core.ListIncompleteUploads(ctx, bucket, prefix, true) {
		if upload.Err != nil {
			return aborted, fmt.Errorf("error listing incomplete uploads: %w", upload.Err)
		}
		if !upload.Initiated.Before(cutoff) {
			continue
		}
		if err := core.AbortMultipartUpload(ctx, bucket, upload.Key, upload.UploadID); err != nil {
			m.logger.Error("failed to abort incomplete upload", err, map[string]interface{}{
				"objectKey": upload.Key,
				"uploadID":  upload.UploadID,
			})
			continue
		}
		aborted++
		m.logger.Info("cleaned up incomplete upload", nil, map[string]interface{}{
			"objectKey":   upload.Key,
			"uploadID":    upload.UploadID,
			"initiatedOn": upload.Initiated,
		})
	}
	return aborted, nil
}
