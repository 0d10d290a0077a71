package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Aleph-Alpha/mediaindex/internal/media"
	"gorm.io/gorm"
)

// CreateMedia inserts a new record in PENDING.
func (s *Store) CreateMedia(ctx context.Context, rec *media.Record) error {
	now := s.now()
	rec.State = media.StatePending
	rec.Attempts = 0
	rec.CurrentJobID = nil
	rec.EmbeddingRef = nil
	if rec.Tags == nil {
		rec.Tags = media.Tags{}
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	return translate("create media", s.pg.DB(ctx).Create(rec).Error)
}

// GetMedia loads one record.
func (s *Store) GetMedia(ctx context.Context, id string) (media.Record, error) {
	if err := checkID("get media", id); err != nil {
		return media.Record{}, err
	}
	var rec media.Record
	err := s.pg.DB(ctx).Where("id = ?", id).First(&rec).Error
	return rec, translate("get media", err)
}

// GetMediaBatch loads the records with the given ids. Missing ids are simply absent.
func (s *Store) GetMediaBatch(ctx context.Context, ids []string) (map[string]media.Record, error) {
	out := make(map[string]media.Record, len(ids))
	ids = validIDs(ids)
	if len(ids) == 0 {
		return out, nil
	}
	var recs []media.Record
	if err := s.pg.DB(ctx).Where("id IN ?", ids).Find(&recs).Error; err != nil {
		return nil, translate("get media batch", err)
	}
	for _, r := range recs {
		out[r.ID] = r
	}
	return out, nil
}

// QueryMedia lists records matching filter, newest first with id as tie-break.
func (s *Store) QueryMedia(ctx context.Context, filter media.Filter, page media.Page) ([]media.Record, error) {
	page = page.Normalize(50, 500)
	var recs []media.Record
	err := applyFilter(s.pg.DB(ctx).Model(&media.Record{}), filter).
		Order("created_at DESC").
		Order("id ASC").
		Offset(page.Offset).
		Limit(page.Limit).
		Find(&recs).Error
	return recs, translate("query media", err)
}

// DeleteMedia removes a record and its job history.
func (s *Store) DeleteMedia(ctx context.Context, id string) error {
	if err := checkID("delete media", id); err != nil {
		return err
	}
	err := s.pg.Transaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("media_id = ?", id).Delete(&media.Job{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&media.Record{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	return translate("delete media", err)
}

// IndexedPage walks INDEXED records in id order, starting after afterID.
func (s *Store) IndexedPage(ctx context.Context, afterID string, limit int) ([]media.Record, error) {
	q := s.pg.DB(ctx).Where("state = ?", string(media.StateIndexed))
	if afterID != "" {
		q = q.Where("id > ?", afterID)
	}
	var recs []media.Record
	err := q.Order("id ASC").Limit(positive(limit, 100)).Find(&recs).Error
	return recs, translate("indexed page", err)
}

// StuckFailed returns FAILED records last touched before cutoff. These are
// records whose requeue or dead-lettering did not complete.
func (s *Store) StuckFailed(ctx context.Context, cutoff time.Time, limit int) ([]media.Record, error) {
	var recs []media.Record
	err := s.pg.DB(ctx).
		Where("state = ? AND updated_at < ?", string(media.StateFailed), cutoff).
		Order("updated_at ASC").
		Limit(positive(limit, 100)).
		Find(&recs).Error
	return recs, translate("stuck failed", err)
}

// KeywordCandidates returns INDEXED records whose caption or tags mention any
// of terms, ordered by how many whole-word matches they carry so that the
// limit drops the weakest matches first. Exact scoring happens in the caller.
func (s *Store) KeywordCandidates(ctx context.Context, terms []string, filter media.Filter, limit int) ([]media.Record, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	filter.States = []media.State{media.StateIndexed}
	q := applyFilter(s.pg.DB(ctx).Model(&media.Record{}), filter)

	match := s.pg.DB(ctx).Where("1 = 0")
	relevance := make([]string, 0, 2*len(terms))
	vars := make([]interface{}, 0, 2*len(terms))
	for _, term := range terms {
		pattern := "%" + escapeLike(term) + "%"
		match = match.Or("caption ILIKE ?", pattern).Or("tags::text ILIKE ?", pattern)

		word := `\m` + term + `\M`
		relevance = append(relevance,
			"(SELECT COUNT(*) FROM regexp_matches(lower(caption), ?, 'g'))",
			"(SELECT COUNT(*) FROM jsonb_object_keys(tags) AS k, regexp_matches(lower(k), ?, 'g'))")
		vars = append(vars, word, word)
	}

	var recs []media.Record
	err := q.Select("media_records.*, ("+strings.Join(relevance, " + ")+") AS relevance", vars...).
		Where(match).
		Order("relevance DESC").
		Order("created_at DESC").
		Order("id ASC").
		Limit(positive(limit, 1000)).
		Find(&recs).Error
	return recs, translate("keyword candidates", err)
}

// UpdateTags replaces the tags of an INDEXED record.
func (s *Store) UpdateTags(ctx context.Context, id string, tags media.Tags) (media.Record, error) {
	if err := checkID("update tags", id); err != nil {
		return media.Record{}, err
	}
	if tags == nil {
		tags = media.Tags{}
	}
	res := s.pg.DB(ctx).Model(&media.Record{}).
		Where("id = ? AND state = ?", id, string(media.StateIndexed)).
		Updates(map[string]interface{}{"tags": tags, "updated_at": s.now()})
	if res.Error != nil {
		return media.Record{}, translate("update tags", res.Error)
	}
	rec, err := s.GetMedia(ctx, id)
	if err != nil {
		return media.Record{}, err
	}
	if res.RowsAffected == 0 {
		return media.Record{}, media.E("update tags", media.ErrInvalidTransition, fmt.Errorf("media %s is %s", id, rec.State))
	}
	return rec, nil
}

// TagCount is one row of the popular tags aggregate.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int64  `json:"count"`
}

// TagCounts ranks tags across INDEXED records, optionally for one owner.
func (s *Store) TagCounts(ctx context.Context, ownerID string, limit int) ([]TagCount, error) {
	q := s.pg.DB(ctx).
		Table("media_records, jsonb_object_keys(media_records.tags) AS tag").
		Select("tag, COUNT(*) AS count").
		Where("media_records.state = ?", string(media.StateIndexed))
	if ownerID != "" {
		q = q.Where("media_records.owner_id = ?", ownerID)
	}
	var out []TagCount
	err := q.Group("tag").Order("count DESC").Order("tag ASC").Limit(positive(limit, 20)).Scan(&out).Error
	return out, translate("tag counts", err)
}

func applyFilter(q *gorm.DB, f media.Filter) *gorm.DB {
	if f.OwnerID != "" {
		q = q.Where("owner_id = ?", f.OwnerID)
	}
	for _, tag := range f.Tags {
		q = q.Where("jsonb_exists(tags, ?)", tag)
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at <= ?", *f.To)
	}
	if len(f.States) > 0 {
		q = q.Where("state IN ?", stateStrings(f.States))
	}
	return q
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func positive(n, fallback int) int {
	if n <= 0 {
		return fallback
	}
	return n
}
