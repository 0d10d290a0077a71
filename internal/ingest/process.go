package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/Aleph-Alpha/mediaindex/internal/media"
	"github.com/Aleph-Alpha/mediaindex/internal/store"
	"github.com/Aleph-Alpha/mediaindex/internal/thumbnail"
)

// Process runs one delivery of a job. Deliveries that no longer match the
// record (finished, superseded, or held by another worker) are discarded.
// The returned error is non-nil only when the failure could not be recorded,
// in which case the delivery should be retried.
func (o *Orchestrator) Process(ctx context.Context, p media.Payload) error {
	ctx = o.tracer.SetCarrierOnContext(ctx, p.Trace)
	ctx, span := o.tracer.StartSpan(ctx, "ingest.process")
	defer span.End()

	fields := map[string]interface{}{
		"job_id":   p.JobID,
		"media_id": p.MediaID,
		"attempt":  p.Attempt,
	}

	rec, err := o.store.GetMedia(ctx, p.MediaID)
	if errors.Is(err, media.ErrNotFound) {
		o.logger.Info("discarding job for deleted media", nil, fields)
		return nil
	}
	if err != nil {
		o.tracer.RecordErrorOnSpan(span, err)
		return err
	}
	if !rec.State.Outstanding() {
		fields["state"] = rec.State.String()
		o.logger.Info("discarding job for settled media", nil, fields)
		return nil
	}
	if rec.CurrentJobID == nil || *rec.CurrentJobID != p.JobID {
		o.logger.Info("discarding stale job", nil, fields)
		return nil
	}

	from := rec.State
	rec, takeover, err := o.store.AcquireLease(ctx, p.MediaID, p.JobID, o.cfg.ProcessingLease)
	if errors.Is(err, media.ErrStateConflict) {
		o.logger.Info("discarding concurrent delivery", err, fields)
		return nil
	}
	if err != nil {
		o.tracer.RecordErrorOnSpan(span, err)
		return err
	}
	if takeover {
		o.logger.Warn("took over expired lease", nil, fields)
	} else {
		o.pipeline.Transition(from.String(), media.StateProcessing.String())
	}

	res, err := o.embed(ctx, rec)
	if err == nil {
		err = o.store.CommitIndexed(ctx, rec.ID, p.JobID, indexedFields(rec, res, o.now()))
		if errors.Is(err, media.ErrStateConflict) {
			// Another worker took the lease over and owns the outcome.
			o.logger.Warn("lost lease before commit", err, fields)
			return nil
		}
	}
	if err != nil {
		o.tracer.RecordErrorOnSpan(span, err)
		if ctx.Err() != nil {
			// Shutting down. The lease runs out and the redelivery takes over.
			return ctx.Err()
		}
		return o.fail(ctx, rec, p, err)
	}

	o.pipeline.Transition(media.StateProcessing.String(), media.StateIndexed.String())
	fields["model_version"] = res.ModelVersion
	o.logger.Info("media indexed", nil, fields)
	o.emit(ctx, Event{
		Type:         EventIndexed,
		MediaID:      rec.ID,
		OwnerID:      rec.OwnerID,
		JobID:        p.JobID,
		Attempt:      p.Attempt,
		ModelVersion: res.ModelVersion,
	})
	return nil
}

// embed fetches the blob, extracts features and upserts the vector. When it
// returns nil the vector entry is durable.
func (o *Orchestrator) embed(ctx context.Context, rec media.Record) (embedResult, error) {
	if err := o.ensureIndex(ctx); err != nil {
		return embedResult{}, err
	}

	data, err := o.blobs.Get(ctx, rec.BlobKey)
	if err != nil {
		return embedResult{}, err
	}

	mediaType := rec.MediaType
	if mediaType == "" {
		if mediaType, err = media.DetectMediaType(rec.Filename, rec.ContentType); err != nil {
			return embedResult{}, err
		}
	}

	started := o.now()
	out, err := o.extractor.Extract(ctx, data, mediaType)
	o.pipeline.ObserveExtract(o.now().Sub(started))
	if err != nil {
		return embedResult{}, err
	}

	indexedAt := o.now().UTC()
	if err := o.index.Upsert(ctx, media.EmbeddingEntry{
		MediaID:      rec.ID,
		OwnerID:      rec.OwnerID,
		Vector:       out.Vector,
		ModelVersion: out.ModelVersion,
		IndexedAt:    indexedAt,
		Tags:         out.Tags.Names(),
	}); err != nil {
		return embedResult{}, err
	}
	return embedResult{
		Caption:      out.Caption,
		Tags:         out.Tags,
		ModelVersion: out.ModelVersion,
		ThumbnailKey: o.storeThumbnail(ctx, rec, mediaType, data, out.KeyFrame),
		IndexedAt:    indexedAt,
	}, nil
}

// storeThumbnail stores a preview of an image, or of the key frame the extractor
// returned for a video, and returns its blob key. Previews are best effort:
// on any failure the record is indexed without one.
func (o *Orchestrator) storeThumbnail(ctx context.Context, rec media.Record, mediaType string, data, keyFrame []byte) string {
	src := data
	if mediaType == media.TypeVideo {
		src = keyFrame
	}
	fields := map[string]interface{}{"media_id": rec.ID, "media_type": mediaType}
	if len(src) == 0 {
		o.logger.Debug("no key frame for thumbnail", nil, fields)
		return ""
	}
	thumb, err := thumbnail.Generate(src, o.cfg.ThumbnailSize)
	if err != nil {
		o.logger.Warn("thumbnail generation failed", err, fields)
		return ""
	}
	key := thumbnail.Key(rec.BlobKey)
	if err := o.blobs.Put(ctx, key, thumb, "image/jpeg"); err != nil {
		o.logger.Warn("thumbnail upload failed", err, fields)
		return ""
	}
	return key
}

type embedResult struct {
	Caption      string
	Tags         media.Tags
	ModelVersion string
	ThumbnailKey string
	IndexedAt    time.Time
}

func indexedFields(rec media.Record, res embedResult, now time.Time) store.IndexedFields {
	at := res.IndexedAt
	if at.IsZero() {
		at = now
	}
	return store.IndexedFields{
		EmbeddingRef: rec.ID,
		ModelVersion: res.ModelVersion,
		Caption:      res.Caption,
		Tags:         res.Tags,
		ThumbnailKey: res.ThumbnailKey,
		IndexedAt:    at,
	}
}

// fail records a failed attempt and either schedules the next one or
// retires the record.
func (o *Orchestrator) fail(ctx context.Context, rec media.Record, p media.Payload, cause error) error {
	kind := media.Classify(cause)
	o.pipeline.Failure(media.KindName(kind))

	retry := media.IsRetryable(cause) && p.Attempt < o.cfg.MaxAttempts
	reason := media.FailureReason(kind, p.Attempt-1, cause)
	fields := map[string]interface{}{
		"job_id":   p.JobID,
		"media_id": p.MediaID,
		"attempt":  p.Attempt,
		"kind":     media.KindName(kind),
		"retry":    retry,
	}

	err := o.store.Transition(ctx, store.Transition{
		MediaID: rec.ID,
		From:    media.StateProcessing,
		To:      media.StateFailed,
		JobID:   p.JobID,
		Fields:  map[string]interface{}{"failure_reason": reason},
	})
	if errors.Is(err, media.ErrStateConflict) {
		o.logger.Warn("lost lease before recording failure", cause, fields)
		return nil
	}
	if err != nil {
		o.logger.Error("failed to record failure", err, fields)
		return err
	}
	o.pipeline.Transition(media.StateProcessing.String(), media.StateFailed.String())
	o.logger.Warn("processing attempt failed", cause, fields)

	return o.settleFailed(ctx, rec, p.JobID, p.Attempt, kind, retry, reason)
}

// settleFailed moves a FAILED record on: back to PENDING with a delayed
// enqueue, or to DEAD.
func (o *Orchestrator) settleFailed(ctx context.Context, rec media.Record, jobID string, attempt int, kind error, retry bool, reason string) error {
	if !retry {
		if err := o.store.MarkDead(ctx, rec.ID, jobID, reason); err != nil {
			if errors.Is(err, media.ErrStateConflict) {
				return nil
			}
			return err
		}
		o.pipeline.Transition(media.StateFailed.String(), media.StateDead.String())
		o.logger.Warn("media is dead", nil, map[string]interface{}{
			"media_id": rec.ID,
			"job_id":   jobID,
			"reason":   reason,
		})
		o.emit(ctx, Event{
			Type:    EventDead,
			MediaID: rec.ID,
			OwnerID: rec.OwnerID,
			JobID:   jobID,
			Attempt: attempt,
			Kind:    media.KindName(kind),
			Reason:  reason,
		})
		return nil
	}

	next, err := o.store.Requeue(ctx, rec.ID, jobID)
	if err != nil {
		if errors.Is(err, media.ErrStateConflict) {
			return nil
		}
		return err
	}
	o.pipeline.Transition(media.StateFailed.String(), media.StatePending.String())

	delay := Backoff(kind, attempt)
	if err := o.queue.Enqueue(ctx, media.NewPayload(next, o.tracer.GetCarrier(ctx)), delay); err != nil {
		o.logger.Warn("retry enqueue failed, leaving it to the sweep", err, map[string]interface{}{
			"media_id": rec.ID,
			"job_id":   next.ID,
		})
		return nil
	}
	o.logger.Info("retry scheduled", nil, map[string]interface{}{
		"media_id": rec.ID,
		"job_id":   next.ID,
		"attempt":  next.Attempt,
		"delay":    delay.String(),
	})
	return nil
}

// Reindex re-embeds an INDEXED record whose vector entry is missing or was
// written by another model generation. The record stays INDEXED.
func (o *Orchestrator) Reindex(ctx context.Context, rec media.Record) error {
	ctx, span := o.tracer.StartSpan(ctx, "ingest.reindex")
	defer span.End()

	if rec.State != media.StateIndexed {
		return media.E("reindex", media.ErrInvalidTransition, errors.New("only indexed media can be reindexed"))
	}
	res, err := o.embed(ctx, rec)
	if err != nil {
		o.tracer.RecordErrorOnSpan(span, err)
		return err
	}
	return o.store.RefreshIndexed(ctx, rec.ID, indexedFields(rec, res, o.now()))
}
