// Package vectorindex adapts the vector stores to the media domain. Two
// backends exist: Qdrant and pgvector on the metadata database.
package vectorindex

import (
	"context"
	"time"

	"github.com/Aleph-Alpha/mediaindex/internal/media"
)

// Index is the vector index contract used by ingestion, search and the sweep.
// Each indexed media id has at most one entry; Upsert replaces it.
type Index interface {
	EnsureCollection(ctx context.Context, dim int) error
	Upsert(ctx context.Context, entry media.EmbeddingEntry) error
	Delete(ctx context.Context, mediaIDs ...string) error
	// DeleteIndexedBefore deletes the entries among mediaIDs whose indexed_at
	// is still before cutoff when the delete executes.
	DeleteIndexedBefore(ctx context.Context, cutoff time.Time, mediaIDs ...string) error
	SetTags(ctx context.Context, mediaID string, tags []string) error
	QueryTopK(ctx context.Context, vector []float32, k int) ([]media.VectorMatch, error)
	Scan(ctx context.Context, cursor string, limit int) ([]media.EntryInfo, string, error)
}

// Payload keys written next to every vector.
const (
	payloadMediaID      = "media_id"
	payloadOwnerID      = "owner_id"
	payloadModelVersion = "model_version"
	payloadIndexedAt    = "indexed_at"
	payloadTags         = "tags"
)
