package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Aleph-Alpha/mediaindex/internal/media"
	"github.com/Aleph-Alpha/mediaindex/pkg/postgres"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Job outcomes recorded when a job is archived.
const (
	OutcomeIndexed    = "indexed"
	OutcomeRetried    = "retried"
	OutcomeDead       = "dead"
	OutcomeSuperseded = "superseded"
)

// OpenJob returns the outstanding job for mediaID if there is one. Otherwise
// it opens the next attempt, which requires the record to be PENDING.
func (s *Store) OpenJob(ctx context.Context, mediaID string) (media.Job, bool, error) {
	if err := checkID("open job", mediaID); err != nil {
		return media.Job{}, false, err
	}
	key := media.IdempotencyKey(mediaID)
	var (
		job      media.Job
		existing bool
	)

	err := s.pg.Transaction(ctx, func(tx *gorm.DB) error {
		var rec media.Record
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", mediaID).First(&rec).Error; err != nil {
			return err
		}

		found, err := outstandingJob(tx, key)
		if err != nil {
			return err
		}
		if found != nil {
			job, existing = *found, true
			return nil
		}

		if rec.State != media.StatePending {
			return media.E("open job", media.ErrInvalidTransition,
				fmt.Errorf("media %s is %s, submit requires %s", mediaID, rec.State, media.StatePending))
		}

		job = media.Job{
			ID:             uuid.NewString(),
			MediaID:        mediaID,
			IdempotencyKey: key,
			Attempt:        rec.Attempts + 1,
			EnqueuedAt:     s.now(),
		}
		if err := tx.Create(&job).Error; err != nil {
			return err
		}
		return tx.Model(&media.Record{}).Where("id = ?", mediaID).Updates(map[string]interface{}{
			"current_job_id": job.ID,
			"attempts":       job.Attempt,
			"updated_at":     s.now(),
		}).Error
	})

	if errors.Is(postgres.TranslateError(err), postgres.ErrDuplicateKey) {
		// Lost the race on the outstanding-key index; the winner's job is the answer.
		found, ferr := outstandingJob(s.pg.DB(ctx), key)
		if ferr == nil && found != nil {
			return *found, true, nil
		}
	}
	if err != nil {
		return media.Job{}, false, translate("open job", err)
	}
	return job, existing, nil
}

func outstandingJob(tx *gorm.DB, key string) (*media.Job, error) {
	var jobs []media.Job
	if err := tx.Where("idempotency_key = ? AND finished_at IS NULL", key).Limit(1).Find(&jobs).Error; err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	return &jobs[0], nil
}

// AcquireLease moves a record to PROCESSING for jobID. It succeeds from
// PENDING, or from PROCESSING when the previous holder's lease has expired.
// The returned bool reports whether this was a takeover.
func (s *Store) AcquireLease(ctx context.Context, mediaID, jobID string, lease time.Duration) (media.Record, bool, error) {
	now := s.now()
	var (
		rec      media.Record
		takeover bool
	)

	err := s.pg.Transaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", mediaID).First(&rec).Error; err != nil {
			return err
		}
		if rec.CurrentJobID == nil || *rec.CurrentJobID != jobID {
			return media.E("acquire lease", media.ErrStateConflict, fmt.Errorf("job %s is not current", jobID))
		}
		switch rec.State {
		case media.StatePending:
		case media.StateProcessing:
			if rec.LeaseUntil != nil && rec.LeaseUntil.After(now) {
				return media.E("acquire lease", media.ErrStateConflict, fmt.Errorf("lease held until %s", rec.LeaseUntil.Format(time.RFC3339)))
			}
			takeover = true
		default:
			return media.E("acquire lease", media.ErrStateConflict, fmt.Errorf("media is %s", rec.State))
		}

		until := now.Add(lease)
		if err := tx.Model(&media.Record{}).Where("id = ?", mediaID).Updates(map[string]interface{}{
			"state":       string(media.StateProcessing),
			"lease_until": until,
			"updated_at":  now,
		}).Error; err != nil {
			return err
		}
		rec.State = media.StateProcessing
		rec.LeaseUntil = &until
		rec.UpdatedAt = now
		return nil
	})
	if err != nil {
		return media.Record{}, false, translate("acquire lease", err)
	}
	return rec, takeover, nil
}

// Transition describes one conditional state change.
type Transition struct {
	MediaID string
	From    media.State
	To      media.State
	// JobID, when set, must be the record's current job.
	JobID  string
	Fields map[string]interface{}
}

// Transition applies t as a single conditional update. It returns
// ErrInvalidTransition for edges the state machine lacks and
// ErrStateConflict when the record was not in t.From.
func (s *Store) Transition(ctx context.Context, t Transition) error {
	if !media.CanTransition(t.From, t.To) {
		return media.E("transition", media.ErrInvalidTransition, fmt.Errorf("%s -> %s", t.From, t.To))
	}

	updates := map[string]interface{}{
		"state":      string(t.To),
		"updated_at": s.now(),
	}
	for k, v := range t.Fields {
		updates[k] = v
	}
	if t.To != media.StateProcessing {
		updates["lease_until"] = nil
	}

	q := s.pg.DB(ctx).Model(&media.Record{}).Where("id = ? AND state = ?", t.MediaID, string(t.From))
	if t.JobID != "" {
		q = q.Where("current_job_id = ?", t.JobID)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return translate("transition", res.Error)
	}
	if res.RowsAffected == 0 {
		return media.E("transition", media.ErrStateConflict, fmt.Errorf("media %s not in %s", t.MediaID, t.From))
	}
	return nil
}

// IndexedFields are written together with the INDEXED state.
type IndexedFields struct {
	EmbeddingRef string
	ModelVersion string
	Caption      string
	Tags         media.Tags
	ThumbnailKey string
	IndexedAt    time.Time
}

// CommitIndexed moves PROCESSING to INDEXED and archives the job in one transaction.
func (s *Store) CommitIndexed(ctx context.Context, mediaID, jobID string, f IndexedFields) error {
	now := s.now()
	err := s.pg.Transaction(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&media.Record{}).
			Where("id = ? AND state = ? AND current_job_id = ?", mediaID, string(media.StateProcessing), jobID).
			Updates(map[string]interface{}{
				"state":          string(media.StateIndexed),
				"embedding_ref":  f.EmbeddingRef,
				"model_version":  f.ModelVersion,
				"caption":        f.Caption,
				"tags":           f.Tags,
				"thumbnail_key":  f.ThumbnailKey,
				"indexed_at":     f.IndexedAt,
				"lease_until":    nil,
				"failure_reason": "",
				"updated_at":     now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return media.E("commit indexed", media.ErrStateConflict, fmt.Errorf("media %s is no longer processing job %s", mediaID, jobID))
		}
		return finishJob(tx, jobID, OutcomeIndexed, now)
	})
	return translate("commit indexed", err)
}

// RefreshIndexed rewrites the embedding fields of an INDEXED record without
// changing its state.
func (s *Store) RefreshIndexed(ctx context.Context, mediaID string, f IndexedFields) error {
	res := s.pg.DB(ctx).Model(&media.Record{}).
		Where("id = ? AND state = ?", mediaID, string(media.StateIndexed)).
		Updates(map[string]interface{}{
			"embedding_ref": f.EmbeddingRef,
			"model_version": f.ModelVersion,
			"caption":       f.Caption,
			"tags":          f.Tags,
			"thumbnail_key": f.ThumbnailKey,
			"indexed_at":    f.IndexedAt,
			"updated_at":    s.now(),
		})
	if res.Error != nil {
		return translate("refresh indexed", res.Error)
	}
	if res.RowsAffected == 0 {
		return media.E("refresh indexed", media.ErrStateConflict, fmt.Errorf("media %s is not indexed", mediaID))
	}
	return nil
}

// Requeue moves FAILED back to PENDING, archives jobID and opens the next
// attempt, all in one transaction.
func (s *Store) Requeue(ctx context.Context, mediaID, jobID string) (media.Job, error) {
	now := s.now()
	var next media.Job

	err := s.pg.Transaction(ctx, func(tx *gorm.DB) error {
		var rec media.Record
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", mediaID).First(&rec).Error; err != nil {
			return err
		}
		if rec.State != media.StateFailed || rec.CurrentJobID == nil || *rec.CurrentJobID != jobID {
			return media.E("requeue", media.ErrStateConflict, fmt.Errorf("media %s is %s", mediaID, rec.State))
		}
		if err := finishJob(tx, jobID, OutcomeRetried, now); err != nil {
			return err
		}

		next = media.Job{
			ID:             uuid.NewString(),
			MediaID:        mediaID,
			IdempotencyKey: media.IdempotencyKey(mediaID),
			Attempt:        rec.Attempts + 1,
			EnqueuedAt:     now,
		}
		if err := tx.Create(&next).Error; err != nil {
			return err
		}
		return tx.Model(&media.Record{}).Where("id = ?", mediaID).Updates(map[string]interface{}{
			"state":          string(media.StatePending),
			"current_job_id": next.ID,
			"attempts":       next.Attempt,
			"lease_until":    nil,
			"updated_at":     now,
		}).Error
	})
	if err != nil {
		return media.Job{}, translate("requeue", err)
	}
	return next, nil
}

// FinishJob archives a job with outcome. Finishing an archived job is a no-op.
func (s *Store) FinishJob(ctx context.Context, jobID, outcome string) error {
	return translate("finish job", finishJob(s.pg.DB(ctx), jobID, outcome, s.now()))
}

func finishJob(tx *gorm.DB, jobID, outcome string, at time.Time) error {
	return tx.Model(&media.Job{}).
		Where("id = ? AND finished_at IS NULL", jobID).
		Updates(map[string]interface{}{"finished_at": at, "outcome": outcome}).Error
}

// GetJob loads one job.
func (s *Store) GetJob(ctx context.Context, id string) (media.Job, error) {
	var job media.Job
	err := s.pg.DB(ctx).Where("id = ?", id).First(&job).Error
	return job, translate("get job", err)
}

// StaleJobs returns outstanding jobs enqueued before cutoff whose record is
// still PENDING on that job. Their queue message may have been lost.
func (s *Store) StaleJobs(ctx context.Context, cutoff time.Time, limit int) ([]media.Job, error) {
	var jobs []media.Job
	err := s.pg.DB(ctx).
		Joins("JOIN media_records ON media_records.current_job_id = ingestion_jobs.id").
		Where("ingestion_jobs.finished_at IS NULL AND ingestion_jobs.enqueued_at < ?", cutoff).
		Where("media_records.state = ?", string(media.StatePending)).
		Order("ingestion_jobs.enqueued_at ASC").
		Limit(positive(limit, 100)).
		Find(&jobs).Error
	return jobs, translate("stale jobs", err)
}

// TouchJob bumps the enqueue time after a re-publish.
func (s *Store) TouchJob(ctx context.Context, jobID string) error {
	err := s.pg.DB(ctx).Model(&media.Job{}).
		Where("id = ? AND finished_at IS NULL", jobID).
		Update("enqueued_at", s.now()).Error
	return translate("touch job", err)
}

// PurgeJobs deletes archived jobs finished before cutoff.
func (s *Store) PurgeJobs(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.pg.DB(ctx).Where("finished_at IS NOT NULL AND finished_at < ?", cutoff).Delete(&media.Job{})
	return res.RowsAffected, translate("purge jobs", res.Error)
}

// MarkDead moves FAILED to DEAD with reason and archives jobID in one transaction.
func (s *Store) MarkDead(ctx context.Context, mediaID, jobID, reason string) error {
	now := s.now()
	err := s.pg.Transaction(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&media.Record{}).
			Where("id = ? AND state = ? AND current_job_id = ?", mediaID, string(media.StateFailed), jobID).
			Updates(map[string]interface{}{
				"state":          string(media.StateDead),
				"failure_reason": reason,
				"lease_until":    nil,
				"updated_at":     now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return media.E("mark dead", media.ErrStateConflict, fmt.Errorf("media %s is not failed on job %s", mediaID, jobID))
		}
		return finishJob(tx, jobID, OutcomeDead, now)
	})
	return translate("mark dead", err)
}

// ExpiredLeases returns PROCESSING records whose lease ran out before cutoff.
// Their worker is gone and no delivery is left to take them over.
func (s *Store) ExpiredLeases(ctx context.Context, cutoff time.Time, limit int) ([]media.Record, error) {
	var recs []media.Record
	err := s.pg.DB(ctx).
		Where("state = ? AND lease_until < ?", string(media.StateProcessing), cutoff).
		Order("lease_until ASC, id ASC").
		Limit(positive(limit, 100)).
		Find(&recs).Error
	return recs, translate("expired leases", err)
}
