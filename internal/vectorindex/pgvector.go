package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Aleph-Alpha/mediaindex/internal/media"
	"github.com/Aleph-Alpha/mediaindex/pkg/postgres"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm/clause"
)

// ErrDimensionMismatch is returned when stored vectors have another dimension.
var ErrDimensionMismatch = errors.New("stored vector dimension mismatch")

// embeddingRow is the pgvector table layout. The column has no fixed
// dimension; EnsureCollection pins it for the life of the process.
type embeddingRow struct {
	MediaID      string          `gorm:"primaryKey;type:uuid"`
	OwnerID      string          `gorm:"index"`
	Embedding    pgvector.Vector `gorm:"type:vector;not null"`
	ModelVersion string          `gorm:"not null"`
	IndexedAt    time.Time       `gorm:"not null"`
	Tags         pq.StringArray  `gorm:"type:text[]"`
}

func (embeddingRow) TableName() string { return "media_embeddings" }

// Pgvector keeps embeddings in postgres next to the metadata.
type Pgvector struct {
	pg  *postgres.Postgres
	dim int
}

// NewPgvector builds the index over an open connection.
func NewPgvector(pg *postgres.Postgres) *Pgvector {
	return &Pgvector{pg: pg}
}

// EnsureCollection installs the extension and table and checks that any
// stored vectors have dimension dim.
func (p *Pgvector) EnsureCollection(ctx context.Context, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("invalid vector dimension %d", dim)
	}
	if err := p.pg.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return wrap("ensure collection", err)
	}
	if err := p.pg.Migrate(ctx, []interface{}{&embeddingRow{}}); err != nil {
		return wrap("ensure collection", err)
	}

	var dims []int
	err := p.pg.DB(ctx).Raw("SELECT vector_dims(embedding) FROM media_embeddings LIMIT 1").Scan(&dims).Error
	if err != nil {
		return wrap("ensure collection", err)
	}
	if len(dims) > 0 && dims[0] != dim {
		return fmt.Errorf("%w: stored %d, extractor produces %d", ErrDimensionMismatch, dims[0], dim)
	}
	p.dim = dim
	return nil
}

func (p *Pgvector) Upsert(ctx context.Context, e media.EmbeddingEntry) error {
	if len(e.Vector) == 0 || (p.dim > 0 && len(e.Vector) != p.dim) {
		return media.E("vector upsert", media.ErrNonRetryableMedia,
			fmt.Errorf("vector for %s has dimension %d, index expects %d", e.MediaID, len(e.Vector), p.dim))
	}
	row := embeddingRow{
		MediaID:      e.MediaID,
		OwnerID:      e.OwnerID,
		Embedding:    pgvector.NewVector(e.Vector),
		ModelVersion: e.ModelVersion,
		IndexedAt:    e.IndexedAt,
		Tags:         pq.StringArray(e.Tags),
	}
	err := p.pg.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "media_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"owner_id", "embedding", "model_version", "indexed_at", "tags"}),
	}).Create(&row).Error
	return wrap("vector upsert", err)
}

func (p *Pgvector) Delete(ctx context.Context, mediaIDs ...string) error {
	if len(mediaIDs) == 0 {
		return nil
	}
	err := p.pg.DB(ctx).Where("media_id IN ?", mediaIDs).Delete(&embeddingRow{}).Error
	return wrap("vector delete", err)
}

// DeleteIndexedBefore re-checks indexed_at inside the DELETE statement.
func (p *Pgvector) DeleteIndexedBefore(ctx context.Context, cutoff time.Time, mediaIDs ...string) error {
	if len(mediaIDs) == 0 {
		return nil
	}
	err := p.pg.DB(ctx).Where("media_id IN ? AND indexed_at < ?", mediaIDs, cutoff).Delete(&embeddingRow{}).Error
	return wrap("vector delete", err)
}

func (p *Pgvector) SetTags(ctx context.Context, mediaID string, tags []string) error {
	err := p.pg.DB(ctx).Model(&embeddingRow{}).Where("media_id = ?", mediaID).
		Update("tags", pq.StringArray(tags)).Error
	return wrap("vector set tags", err)
}

// QueryTopK ranks by the cosine distance operator. Cosine similarity is 1 - distance.
func (p *Pgvector) QueryTopK(ctx context.Context, vector []float32, k int) ([]media.VectorMatch, error) {
	if k <= 0 {
		return nil, nil
	}
	type hit struct {
		MediaID  string
		Distance float64
	}
	var hits []hit
	v := pgvector.NewVector(vector)
	err := p.pg.DB(ctx).
		Model(&embeddingRow{}).
		Select("media_id, embedding <=> ? AS distance", v).
		Order(clause.OrderBy{Expression: clause.Expr{SQL: "embedding <=> ?, media_id", Vars: []interface{}{v}}}).
		Limit(k).
		Scan(&hits).Error
	if err != nil {
		return nil, wrap("vector query", err)
	}
	out := make([]media.VectorMatch, 0, len(hits))
	for _, h := range hits {
		out = append(out, media.VectorMatch{MediaID: h.MediaID, Cosine: float32(1 - h.Distance)})
	}
	return out, nil
}

func (p *Pgvector) Scan(ctx context.Context, cursor string, limit int) ([]media.EntryInfo, string, error) {
	if limit <= 0 {
		limit = 256
	}
	q := p.pg.DB(ctx).Model(&embeddingRow{}).Select("media_id, model_version, indexed_at")
	if cursor != "" {
		q = q.Where("media_id > ?", cursor)
	}
	var rows []embeddingRow
	if err := q.Order("media_id").Limit(limit).Find(&rows).Error; err != nil {
		return nil, "", wrap("vector scan", err)
	}
	out := make([]media.EntryInfo, 0, len(rows))
	for _, r := range rows {
		out = append(out, media.EntryInfo{MediaID: r.MediaID, ModelVersion: r.ModelVersion, IndexedAt: r.IndexedAt})
	}
	next := ""
	if len(rows) == limit {
		next = rows[len(rows)-1].MediaID
	}
	return out, next, nil
}
