package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Aleph-Alpha/mediaindex/internal/media"
	"github.com/Aleph-Alpha/mediaindex/pkg/qdrant"
	qc "github.com/qdrant/go-client/qdrant"
)

// Qdrant stores one point per media id, using the media id as point id.
type Qdrant struct {
	client *qdrant.Client
}

// NewQdrant wraps a connected client.
func NewQdrant(client *qdrant.Client) *Qdrant {
	return &Qdrant{client: client}
}

// EnsureCollection creates the collection or verifies its dimension.
func (q *Qdrant) EnsureCollection(ctx context.Context, dim int) error {
	err := q.client.EnsureCollection(ctx, dim)
	if errors.Is(err, qdrant.ErrDimensionMismatch) {
		return err
	}
	return wrap("ensure collection", err)
}

func (q *Qdrant) Upsert(ctx context.Context, e media.EmbeddingEntry) error {
	if len(e.Vector) == 0 {
		return media.E("vector upsert", media.ErrNonRetryableMedia, fmt.Errorf("empty vector for %s", e.MediaID))
	}
	return wrap("vector upsert", q.client.Upsert(ctx, qdrant.Point{
		ID:     e.MediaID,
		Vector: e.Vector,
		Payload: map[string]any{
			payloadMediaID:      e.MediaID,
			payloadOwnerID:      e.OwnerID,
			payloadModelVersion: e.ModelVersion,
			payloadIndexedAt:    e.IndexedAt.Unix(),
			payloadTags:         tagList(e.Tags),
		},
	}))
}

func (q *Qdrant) Delete(ctx context.Context, mediaIDs ...string) error {
	return wrap("vector delete", q.client.Delete(ctx, mediaIDs...))
}

// DeleteIndexedBefore lets the server match indexed_at, so a point rewritten
// by a concurrent Upsert survives.
func (q *Qdrant) DeleteIndexedBefore(ctx context.Context, cutoff time.Time, mediaIDs ...string) error {
	lt := float64(cutoff.Unix())
	return wrap("vector delete", q.client.DeleteWhere(ctx, mediaIDs, qc.NewRange(payloadIndexedAt, &qc.Range{Lt: &lt})))
}

func (q *Qdrant) SetTags(ctx context.Context, mediaID string, tags []string) error {
	return wrap("vector set tags", q.client.SetPayload(ctx, map[string]any{payloadTags: tagList(tags)}, mediaID))
}

func (q *Qdrant) QueryTopK(ctx context.Context, vector []float32, k int) ([]media.VectorMatch, error) {
	hits, err := q.client.Query(ctx, vector, k)
	if err != nil {
		return nil, wrap("vector query", err)
	}
	out := make([]media.VectorMatch, 0, len(hits))
	for _, h := range hits {
		out = append(out, media.VectorMatch{MediaID: h.ID, Cosine: h.Score})
	}
	return out, nil
}

func (q *Qdrant) Scan(ctx context.Context, cursor string, limit int) ([]media.EntryInfo, string, error) {
	points, next, err := q.client.Scroll(ctx, cursor, limit)
	if err != nil {
		return nil, "", wrap("vector scan", err)
	}
	out := make([]media.EntryInfo, 0, len(points))
	for _, p := range points {
		out = append(out, media.EntryInfo{
			MediaID:      p.ID,
			ModelVersion: qdrant.StringValue(p.Payload, payloadModelVersion),
			IndexedAt:    time.Unix(qdrant.IntValue(p.Payload, payloadIndexedAt), 0).UTC(),
		})
	}
	return out, next, nil
}

// tagList converts tags for TryValueMap, which only accepts []any for lists.
func tagList(tags []string) []any {
	out := make([]any, len(tags))
	for i, t := range tags {
		out[i] = t
	}
	return out
}

// wrap classifies every vector store failure as transient.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return media.E(op, media.ErrTransientStore, err)
}
