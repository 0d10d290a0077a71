package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Aleph-Alpha/mediaindex/internal/media"
	"github.com/Aleph-Alpha/mediaindex/internal/store"
	"github.com/Aleph-Alpha/mediaindex/pkg/redis"
)

const (
	sweepLockKey = "lock:mediaindex:sweep"
	uploadPrefix = "users/"
)

// Finding kinds reported by the sweep.
const (
	FindingOrphanVector   = "orphan_vector"
	FindingMissingVector  = "missing_vector"
	FindingStaleModel     = "stale_model"
	FindingLostMessage    = "lost_message"
	FindingExpiredLease   = "expired_lease"
	FindingStuckFailed    = "stuck_failed"
	FindingAbortedUploads = "incomplete_upload"
)

// Locker hands out a cluster-wide lock so only one sweeper runs at a time.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (Unlocker, error)
}

// Unlocker releases a held lock.
type Unlocker interface {
	Release(ctx context.Context) error
}

// RedisLocker implements Locker on pkg/redis. A held lock surfaces as
// redis.ErrLockNotAcquired.
type RedisLocker struct {
	client *redis.RedisClient
}

func NewRedisLocker(client *redis.RedisClient) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (Unlocker, error) {
	lock, err := l.client.AcquireLock(ctx, key, ttl)
	if err != nil {
		return nil, err
	}
	return lock, nil
}

// UploadCleaner aborts multipart uploads that were never completed.
// *minio.Minio implements it.
type UploadCleaner interface {
	CleanupIncompleteUploads(ctx context.Context, prefix string, olderThan time.Duration) (int, error)
}

// SweepReport counts what one sweep did.
type SweepReport struct {
	OrphansDeleted int   `json:"orphans_deleted"`
	Reindexed      int   `json:"reindexed"`
	Republished    int   `json:"republished"`
	LeasesExpired  int   `json:"leases_expired"`
	Finalized      int   `json:"finalized"`
	JobsPurged     int64 `json:"jobs_purged"`
	UploadsAborted int   `json:"uploads_aborted"`
}

// Sweeper reconciles the metadata store, the vector index and the queue.
// Every step is idempotent and safe to run next to live ingestion.
type Sweeper struct {
	o       *Orchestrator
	cfg     SweepConfig
	locker  Locker
	uploads UploadCleaner
}

// NewSweeper builds a sweeper. locker and uploads may be nil.
func NewSweeper(o *Orchestrator, cfg SweepConfig, locker Locker, uploads UploadCleaner) *Sweeper {
	return &Sweeper{o: o, cfg: cfg.withDefaults(), locker: locker, uploads: uploads}
}

// Run sweeps immediately and then every Interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		s.RunOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce sweeps once under the lock. It returns false when another sweeper
// holds the lock.
func (s *Sweeper) RunOnce(ctx context.Context) (SweepReport, bool) {
	log := s.o.logger
	if s.locker != nil {
		lock, err := s.locker.TryLock(ctx, sweepLockKey, s.cfg.LockTTL)
		switch {
		case errors.Is(err, redis.ErrLockNotAcquired):
			log.Debug("sweep skipped, another sweeper holds the lock", nil)
			return SweepReport{}, false
		case err != nil:
			log.Warn("sweep lock unavailable, sweeping without it", err)
		default:
			defer func() {
				if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
					log.Warn("failed to release sweep lock", err)
				}
			}()
		}
	}

	report, err := s.Sweep(ctx)
	fields := map[string]interface{}{
		"orphans_deleted": report.OrphansDeleted,
		"reindexed":       report.Reindexed,
		"republished":     report.Republished,
		"leases_expired":  report.LeasesExpired,
		"finalized":       report.Finalized,
		"jobs_purged":     report.JobsPurged,
		"uploads_aborted": report.UploadsAborted,
	}
	if err != nil {
		log.Error("sweep finished with errors", err, fields)
	} else {
		log.Info("sweep finished", nil, fields)
	}
	return report, true
}

// Sweep runs every reconciliation step once. A failing step does not stop
// the others; their errors are joined.
func (s *Sweeper) Sweep(ctx context.Context) (SweepReport, error) {
	ctx, span := s.o.tracer.StartSpan(ctx, "ingest.sweep")
	defer span.End()

	var (
		report SweepReport
		errs   []error
	)
	started := s.o.now()

	seen, err := s.reconcileVectors(ctx, started, &report)
	if err != nil {
		errs = append(errs, err)
	} else if err := s.reconcileRecords(ctx, started, seen, &report); err != nil {
		errs = append(errs, err)
	}
	if err := s.republishStale(ctx, started, &report); err != nil {
		errs = append(errs, err)
	}
	if err := s.expireLeases(ctx, started, &report); err != nil {
		errs = append(errs, err)
	}
	if err := s.finalizeFailed(ctx, started, &report); err != nil {
		errs = append(errs, err)
	}

	purged, err := s.o.store.PurgeJobs(ctx, started.Add(-s.cfg.JobRetention))
	if err != nil {
		errs = append(errs, err)
	}
	report.JobsPurged = purged

	if s.uploads != nil {
		n, err := s.uploads.CleanupIncompleteUploads(ctx, uploadPrefix, s.cfg.UploadCleanupAge)
		if err != nil {
			errs = append(errs, err)
		}
		report.UploadsAborted = n
		if n > 0 {
			s.finding(ctx, FindingAbortedUploads, "", fmt.Sprintf("aborted %d incomplete uploads", n))
		}
	}

	err = errors.Join(errs...)
	if err != nil {
		s.o.tracer.RecordErrorOnSpan(span, err)
	}
	return report, err
}

// reconcileVectors walks the vector index. Entries without an INDEXED record
// are deleted once past the grace period; entries of another model
// generation are re-embedded. It returns the ids present in the index.
func (s *Sweeper) reconcileVectors(ctx context.Context, started time.Time, report *SweepReport) (map[string]struct{}, error) {
	seen := make(map[string]struct{})
	current := s.o.extractor.ModelVersion()
	cursor := ""

	for {
		entries, next, err := s.o.index.Scan(ctx, cursor, s.cfg.BatchSize)
		if err != nil {
			return nil, err
		}
		ids := make([]string, len(entries))
		for i, e := range entries {
			ids[i] = e.MediaID
			seen[e.MediaID] = struct{}{}
		}
		recs, err := s.o.store.GetMediaBatch(ctx, ids)
		if err != nil {
			return nil, err
		}

		var orphans []string
		for _, e := range entries {
			rec, ok := recs[e.MediaID]
			if ok && rec.State == media.StateIndexed {
				if e.ModelVersion != current {
					s.finding(ctx, FindingStaleModel, e.MediaID, fmt.Sprintf("entry has model %q, current is %q", e.ModelVersion, current))
					if s.reindex(ctx, rec) {
						report.Reindexed++
					}
				}
				continue
			}
			if started.Sub(e.IndexedAt) < s.cfg.Grace {
				continue
			}
			orphans = append(orphans, e.MediaID)
		}

		if len(orphans) > 0 {
			n, err := s.deleteOrphans(ctx, started.Add(-s.cfg.Grace), orphans)
			if err != nil {
				return nil, err
			}
			report.OrphansDeleted += n
		}

		if next == "" || len(entries) == 0 {
			return seen, nil
		}
		cursor = next
	}
}

// deleteOrphans deletes entries still older than cutoff. A retry may commit
// between the record read and the delete; its fresh entry does not match the
// cutoff and survives. Records that became INDEXED meanwhile are not reported.
func (s *Sweeper) deleteOrphans(ctx context.Context, cutoff time.Time, orphans []string) (int, error) {
	if err := s.o.index.DeleteIndexedBefore(ctx, cutoff, orphans...); err != nil {
		return 0, err
	}
	recs, err := s.o.store.GetMediaBatch(ctx, orphans)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range orphans {
		if rec, ok := recs[id]; ok && rec.State == media.StateIndexed {
			continue
		}
		s.finding(ctx, FindingOrphanVector, id, "vector entry without indexed record")
		n++
	}
	return n, nil
}

// reconcileRecords re-embeds INDEXED records whose vector entry is missing.
func (s *Sweeper) reconcileRecords(ctx context.Context, started time.Time, seen map[string]struct{}, report *SweepReport) error {
	after := ""
	for {
		recs, err := s.o.store.IndexedPage(ctx, after, s.cfg.BatchSize)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			if rec.IndexedAt != nil && !rec.IndexedAt.Before(started) {
				// Indexed after the vector scan began.
				continue
			}
			_, present := seen[rec.ID]
			if present && rec.EmbeddingRef != nil {
				continue
			}
			s.finding(ctx, FindingMissingVector, rec.ID, "indexed record without vector entry")
			if s.reindex(ctx, rec) {
				report.Reindexed++
			}
		}
		if len(recs) < s.cfg.BatchSize {
			return nil
		}
		after = recs[len(recs)-1].ID
	}
}

func (s *Sweeper) reindex(ctx context.Context, rec media.Record) bool {
	if err := s.o.Reindex(ctx, rec); err != nil {
		s.o.logger.Warn("reindex failed", err, map[string]interface{}{"media_id": rec.ID})
		return false
	}
	return true
}

// republishStale publishes outstanding jobs again when their record is still
// PENDING long after the enqueue.
func (s *Sweeper) republishStale(ctx context.Context, started time.Time, report *SweepReport) error {
	jobs, err := s.o.store.StaleJobs(ctx, started.Add(-s.cfg.RepublishAfter), s.cfg.BatchSize)
	if err != nil {
		return err
	}
	var errs []error
	for _, job := range jobs {
		s.finding(ctx, FindingLostMessage, job.MediaID, fmt.Sprintf("job %s pending since %s", job.ID, job.EnqueuedAt.Format(time.RFC3339)))
		if err := s.o.queue.Republish(ctx, media.NewPayload(job, nil)); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := s.o.store.TouchJob(ctx, job.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		report.Republished++
	}
	return errors.Join(errs...)
}

// expireLeases fails PROCESSING records whose worker vanished and whose
// delivery did not come back within the grace period.
func (s *Sweeper) expireLeases(ctx context.Context, started time.Time, report *SweepReport) error {
	recs, err := s.o.store.ExpiredLeases(ctx, started.Add(-s.cfg.Grace), s.cfg.BatchSize)
	if err != nil {
		return err
	}
	var errs []error
	for _, rec := range recs {
		if rec.CurrentJobID == nil {
			continue
		}
		jobID := *rec.CurrentJobID
		s.finding(ctx, FindingExpiredLease, rec.ID, "processing lease expired")

		reason := media.FailureReason(media.ErrTransientStore, rec.Attempts-1, errors.New("processing lease expired"))
		err := s.o.store.Transition(ctx, store.Transition{
			MediaID: rec.ID,
			From:    media.StateProcessing,
			To:      media.StateFailed,
			JobID:   jobID,
			Fields:  map[string]interface{}{"failure_reason": reason},
		})
		if errors.Is(err, media.ErrStateConflict) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		s.o.pipeline.Transition(media.StateProcessing.String(), media.StateFailed.String())

		retry := rec.Attempts < s.o.cfg.MaxAttempts
		if err := s.o.settleFailed(ctx, rec, jobID, rec.Attempts, media.ErrTransientStore, retry, reason); err != nil {
			errs = append(errs, err)
			continue
		}
		report.LeasesExpired++
	}
	return errors.Join(errs...)
}

// finalizeFailed settles records left in FAILED by an interrupted failure path.
func (s *Sweeper) finalizeFailed(ctx context.Context, started time.Time, report *SweepReport) error {
	recs, err := s.o.store.StuckFailed(ctx, started.Add(-s.cfg.FailedAfter), s.cfg.BatchSize)
	if err != nil {
		return err
	}
	var errs []error
	for _, rec := range recs {
		if rec.CurrentJobID == nil {
			continue
		}
		s.finding(ctx, FindingStuckFailed, rec.ID, rec.FailureReason)

		retry := rec.Attempts < s.o.cfg.MaxAttempts && media.ReasonAllowsRetry(rec.FailureReason)
		reason := rec.FailureReason
		if reason == "" {
			reason = media.FailureReason(media.ErrTransientStore, rec.Attempts-1, errors.New("interrupted"))
		}
		if err := s.o.settleFailed(ctx, rec, *rec.CurrentJobID, rec.Attempts, media.ErrTransientStore, retry, reason); err != nil {
			errs = append(errs, err)
			continue
		}
		report.Finalized++
	}
	return errors.Join(errs...)
}

// finding logs, counts and announces one consistency violation.
func (s *Sweeper) finding(ctx context.Context, kind, mediaID, detail string) {
	s.o.pipeline.Finding(kind)
	s.o.logger.Warn("consistency violation healed", media.E("sweep", media.ErrConsistencyViolation, errors.New(detail)), map[string]interface{}{
		"finding":  kind,
		"media_id": mediaID,
	})
	s.o.emit(ctx, Event{
		Type:    EventConsistency,
		MediaID: mediaID,
		Kind:    kind,
		Reason:  detail,
	})
}
