// Package ingest drives media records through the indexing state machine.
// The Orchestrator is the only writer of record state and of vector index
// contents; the Worker feeds it from the job queue and the Sweeper heals
// whatever partial failures leave behind.
package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/Aleph-Alpha/mediaindex/internal/blobstore"
	"github.com/Aleph-Alpha/mediaindex/internal/extractor"
	"github.com/Aleph-Alpha/mediaindex/internal/media"
	"github.com/Aleph-Alpha/mediaindex/internal/queue"
	"github.com/Aleph-Alpha/mediaindex/internal/store"
	"github.com/Aleph-Alpha/mediaindex/internal/telemetry"
	"github.com/Aleph-Alpha/mediaindex/internal/vectorindex"
	"go.opentelemetry.io/otel/trace"
)

// Store is the part of the metadata store ingestion needs.
type Store interface {
	CreateMedia(ctx context.Context, rec *media.Record) error
	GetMedia(ctx context.Context, id string) (media.Record, error)
	GetMediaBatch(ctx context.Context, ids []string) (map[string]media.Record, error)
	DeleteMedia(ctx context.Context, id string) error
	UpdateTags(ctx context.Context, id string, tags media.Tags) (media.Record, error)
	IndexedPage(ctx context.Context, afterID string, limit int) ([]media.Record, error)
	StuckFailed(ctx context.Context, cutoff time.Time, limit int) ([]media.Record, error)
	ExpiredLeases(ctx context.Context, cutoff time.Time, limit int) ([]media.Record, error)

	OpenJob(ctx context.Context, mediaID string) (media.Job, bool, error)
	AcquireLease(ctx context.Context, mediaID, jobID string, lease time.Duration) (media.Record, bool, error)
	Transition(ctx context.Context, t store.Transition) error
	CommitIndexed(ctx context.Context, mediaID, jobID string, f store.IndexedFields) error
	RefreshIndexed(ctx context.Context, mediaID string, f store.IndexedFields) error
	Requeue(ctx context.Context, mediaID, jobID string) (media.Job, error)
	MarkDead(ctx context.Context, mediaID, jobID, reason string) error
	GetJob(ctx context.Context, id string) (media.Job, error)
	StaleJobs(ctx context.Context, cutoff time.Time, limit int) ([]media.Job, error)
	TouchJob(ctx context.Context, jobID string) error
	PurgeJobs(ctx context.Context, cutoff time.Time) (int64, error)
}

// Extractor produces embeddings, captions and tags.
type Extractor interface {
	Extract(ctx context.Context, data []byte, mediaType string) (extractor.Result, error)
	ModelVersion() string
	Dimension(ctx context.Context) (int, error)
}

// Tracer is the part of pkg/tracer the orchestrator uses.
type Tracer interface {
	StartSpan(ctx context.Context, name string) (context.Context, trace.Span)
	RecordErrorOnSpan(span trace.Span, err error)
	GetCarrier(ctx context.Context) map[string]string
	SetCarrierOnContext(ctx context.Context, carrier map[string]string) context.Context
}

// Logger is the logging surface ingestion needs.
type Logger interface {
	Debug(msg string, err error, fields ...map[string]interface{})
	Info(msg string, err error, fields ...map[string]interface{})
	Warn(msg string, err error, fields ...map[string]interface{})
	Error(msg string, err error, fields ...map[string]interface{})
}

// JobHandle identifies the job a Submit resolved to.
type JobHandle struct {
	JobID          string `json:"job_id"`
	MediaID        string `json:"media_id"`
	IdempotencyKey string `json:"idempotency_key"`
	Attempt        int    `json:"attempt"`
	// Existing is true when an outstanding job was returned instead of a new one.
	Existing bool `json:"existing"`
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Store     Store
	Blobs     blobstore.Store
	Index     vectorindex.Index
	Extractor Extractor
	Queue     queue.Queue
	Events    EventPublisher
	Tracer    Tracer
	Pipeline  *telemetry.Pipeline
	Logger    Logger
	Now       func() time.Time
}

type Orchestrator struct {
	store     Store
	blobs     blobstore.Store
	index     vectorindex.Index
	extractor Extractor
	queue     queue.Queue
	events    EventPublisher
	tracer    Tracer
	pipeline  *telemetry.Pipeline
	logger    Logger
	now       func() time.Time
	cfg       Config

	indexMu    sync.Mutex
	indexReady bool
}

// New builds an Orchestrator. Events, Pipeline and Now are optional.
func New(deps Deps, cfg Config) *Orchestrator {
	o := &Orchestrator{
		store:     deps.Store,
		blobs:     deps.Blobs,
		index:     deps.Index,
		extractor: deps.Extractor,
		queue:     deps.Queue,
		events:    deps.Events,
		tracer:    deps.Tracer,
		pipeline:  deps.Pipeline,
		logger:    deps.Logger,
		now:       deps.Now,
		cfg:       cfg.withDefaults(),
	}
	if o.events == nil {
		o.events = NopEvents{}
	}
	if o.pipeline == nil {
		o.pipeline = telemetry.NewNop()
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// Submit opens a job for a PENDING record and enqueues it. An outstanding
// job for the same idempotency key is returned as is.
func (o *Orchestrator) Submit(ctx context.Context, mediaID string) (JobHandle, error) {
	ctx, span := o.tracer.StartSpan(ctx, "ingest.submit")
	defer span.End()

	job, existing, err := o.store.OpenJob(ctx, mediaID)
	if err != nil {
		o.tracer.RecordErrorOnSpan(span, err)
		return JobHandle{}, err
	}
	handle := JobHandle{
		JobID:          job.ID,
		MediaID:        job.MediaID,
		IdempotencyKey: job.IdempotencyKey,
		Attempt:        job.Attempt,
		Existing:       existing,
	}
	if existing {
		o.logger.Debug("submit resolved to outstanding job", nil, handleFields(handle))
		return handle, nil
	}

	if err := o.queue.Enqueue(ctx, media.NewPayload(job, o.tracer.GetCarrier(ctx)), 0); err != nil {
		// The job row is durable; the sweep republishes it.
		o.logger.Warn("enqueue failed after job was opened", err, handleFields(handle))
	}
	o.logger.Info("media submitted", nil, handleFields(handle))
	return handle, nil
}

// Status returns the current record.
func (o *Orchestrator) Status(ctx context.Context, mediaID string) (media.Record, error) {
	return o.store.GetMedia(ctx, mediaID)
}

// Delete removes the vector entry, then the blob and its thumbnail, then the
// record. A missing blob does not stop the delete.
func (o *Orchestrator) Delete(ctx context.Context, mediaID string) error {
	rec, err := o.store.GetMedia(ctx, mediaID)
	if err != nil {
		return err
	}
	if err := o.index.Delete(ctx, rec.ID); err != nil {
		return err
	}
	for _, key := range []string{rec.BlobKey, rec.ThumbnailKey} {
		if key == "" {
			continue
		}
		if err := o.blobs.Delete(ctx, key); err != nil && !errors.Is(err, media.ErrNotFound) {
			return err
		}
	}
	if err := o.store.DeleteMedia(ctx, rec.ID); err != nil {
		return err
	}
	o.logger.Info("media deleted", nil, map[string]interface{}{"media_id": rec.ID, "owner_id": rec.OwnerID})
	return nil
}

// UpdateTags replaces the tags of an INDEXED record with names at full
// confidence and mirrors the names into the vector entry's payload.
func (o *Orchestrator) UpdateTags(ctx context.Context, mediaID string, names []string) (media.Record, error) {
	ctx, span := o.tracer.StartSpan(ctx, "ingest.update_tags")
	defer span.End()

	tags := media.Tags{}
	for _, name := range names {
		if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
			tags[name] = 1
		}
	}
	rec, err := o.store.UpdateTags(ctx, mediaID, tags)
	if err != nil {
		o.tracer.RecordErrorOnSpan(span, err)
		return media.Record{}, err
	}
	if err := o.index.SetTags(ctx, rec.ID, rec.Tags.Names()); err != nil {
		o.tracer.RecordErrorOnSpan(span, err)
		return media.Record{}, err
	}
	o.logger.Info("media tags updated", nil, map[string]interface{}{
		"media_id": rec.ID,
		"tags":     rec.Tags.Names(),
	})
	return rec, nil
}

// ensureIndex confirms the embedding dimension from the extractor and checks
// it against the collection, once per process.
func (o *Orchestrator) ensureIndex(ctx context.Context) error {
	o.indexMu.Lock()
	defer o.indexMu.Unlock()
	if o.indexReady {
		return nil
	}
	dim, err := o.extractor.Dimension(ctx)
	if err != nil {
		return err
	}
	if err := o.index.EnsureCollection(ctx, dim); err != nil {
		return err
	}
	o.indexReady = true
	o.logger.Info("vector index ready", nil, map[string]interface{}{
		"dimension":     dim,
		"model_version": o.extractor.ModelVersion(),
	})
	return nil
}

func (o *Orchestrator) emit(ctx context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = o.now().UTC()
	}
	if err := o.events.Publish(ctx, ev); err != nil {
		o.logger.Warn("failed to publish lifecycle event", err, map[string]interface{}{
			"type":     ev.Type,
			"media_id": ev.MediaID,
		})
	}
}

func handleFields(h JobHandle) map[string]interface{} {
	return map[string]interface{}{
		"job_id":   h.JobID,
		"media_id": h.MediaID,
		"attempt":  h.Attempt,
		"existing": h.Existing,
	}
}
