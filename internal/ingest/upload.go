package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Aleph-Alpha/mediaindex/internal/media"
	"github.com/google/uuid"
)

var (
	// ErrEmptyUpload is returned for zero-byte uploads.
	ErrEmptyUpload = errors.New("upload is empty")
	// ErrUploadTooLarge is returned when an upload exceeds the size limit.
	ErrUploadTooLarge = errors.New("upload exceeds size limit")
	// ErrMissingOwner is returned when an upload names no owner.
	ErrMissingOwner = errors.New("upload has no owner")
)

// UploadRequest is one file handed in by a client.
type UploadRequest struct {
	OwnerID     string
	Filename    string
	ContentType string
	Data        []byte
}

// UploadResult is the stored record and the job it was submitted under.
type UploadResult struct {
	Record media.Record `json:"media"`
	Job    JobHandle    `json:"job"`
}

// BlobKey lays uploads out per owner and day.
func BlobKey(ownerID string, at time.Time, id, ext string) string {
	at = at.UTC()
	key := fmt.Sprintf("users/%s/%04d/%02d/%02d/%s", ownerID, at.Year(), int(at.Month()), at.Day(), id)
	if ext != "" {
		key += "." + ext
	}
	return key
}

// Upload validates and stores a file, creates its PENDING record and submits it.
func (o *Orchestrator) Upload(ctx context.Context, req UploadRequest) (UploadResult, error) {
	ctx, span := o.tracer.StartSpan(ctx, "ingest.upload")
	defer span.End()

	if req.OwnerID == "" {
		return UploadResult{}, media.E("upload", media.ErrNonRetryableMedia, ErrMissingOwner)
	}
	size := int64(len(req.Data))
	if size == 0 {
		return UploadResult{}, media.E("upload", media.ErrNonRetryableMedia, ErrEmptyUpload)
	}
	if size > o.cfg.MaxUploadSize {
		return UploadResult{}, media.E("upload", media.ErrNonRetryableMedia,
			fmt.Errorf("%w: %d bytes, limit %d", ErrUploadTooLarge, size, o.cfg.MaxUploadSize))
	}
	mediaType, err := media.DetectMediaType(req.Filename, req.ContentType)
	if err != nil {
		return UploadResult{}, err
	}

	now := o.now()
	id := uuid.NewString()
	rec := media.Record{
		ID:          id,
		OwnerID:     req.OwnerID,
		BlobKey:     BlobKey(req.OwnerID, now, id, media.Extension(req.Filename)),
		Filename:    req.Filename,
		ContentType: req.ContentType,
		MediaType:   mediaType,
		SizeBytes:   size,
		CreatedAt:   now.UTC(),
	}

	if err := o.blobs.Put(ctx, rec.BlobKey, req.Data, req.ContentType); err != nil {
		o.tracer.RecordErrorOnSpan(span, err)
		return UploadResult{}, err
	}
	if err := o.store.CreateMedia(ctx, &rec); err != nil {
		o.tracer.RecordErrorOnSpan(span, err)
		if derr := o.blobs.Delete(context.WithoutCancel(ctx), rec.BlobKey); derr != nil {
			o.logger.Warn("failed to remove blob of rejected upload", derr, map[string]interface{}{"blob_key": rec.BlobKey})
		}
		return UploadResult{}, err
	}

	handle, err := o.Submit(ctx, rec.ID)
	if err != nil {
		return UploadResult{Record: rec}, err
	}
	rec.CurrentJobID = &handle.JobID
	rec.Attempts = handle.Attempt
	return UploadResult{Record: rec, Job: handle}, nil
}
