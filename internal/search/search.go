// Package search answers semantic, keyword and hybrid queries over INDEXED
// media. Every ranking ends on the media id so equal inputs always produce
// the same order and pages never overlap.
package search

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/Aleph-Alpha/mediaindex/internal/media"
	"github.com/Aleph-Alpha/mediaindex/internal/store"
	"github.com/Aleph-Alpha/mediaindex/internal/telemetry"
	"go.opentelemetry.io/otel/trace"
)

// Search modes, also used as the metric label.
const (
	ModeSemantic = "semantic"
	ModeKeyword  = "keyword"
	ModeHybrid   = "hybrid"
)

// ErrEmptyQuery is returned when the query text has no searchable terms.
var ErrEmptyQuery = errors.New("search: empty query")

// Store is the read side of the metadata store.
type Store interface {
	GetMediaBatch(ctx context.Context, ids []string) (map[string]media.Record, error)
	KeywordCandidates(ctx context.Context, terms []string, filter media.Filter, limit int) ([]media.Record, error)
	TagCounts(ctx context.Context, ownerID string, limit int) ([]store.TagCount, error)
}

// Embedder turns query text into a vector of the indexed space.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// Index is the query side of the vector index.
type Index interface {
	QueryTopK(ctx context.Context, vector []float32, k int) ([]media.VectorMatch, error)
}

type Tracer interface {
	StartSpan(ctx context.Context, name string) (context.Context, trace.Span)
	RecordErrorOnSpan(span trace.Span, err error)
}

type Logger interface {
	Debug(msg string, err error, fields ...map[string]interface{})
	Warn(msg string, err error, fields ...map[string]interface{})
}

// Coordinator runs queries against the index and the metadata store.
type Coordinator struct {
	store    Store
	embedder Embedder
	index    Index
	tracer   Tracer
	pipeline *telemetry.Pipeline
	logger   Logger
	cfg      Config
}

// New builds a Coordinator. pipeline may be nil.
func New(s Store, embedder Embedder, index Index, tracer Tracer, pipeline *telemetry.Pipeline, logger Logger, cfg Config) *Coordinator {
	if pipeline == nil {
		pipeline = telemetry.NewNop()
	}
	return &Coordinator{
		store:    s,
		embedder: embedder,
		index:    index,
		tracer:   tracer,
		pipeline: pipeline,
		logger:   logger,
		cfg:      cfg.withDefaults(),
	}
}

// PopularTags ranks tags across indexed media, optionally for one owner.
func (c *Coordinator) PopularTags(ctx context.Context, ownerID string, limit int) ([]store.TagCount, error) {
	if limit <= 0 {
		limit = DefaultPopularTags
	}
	if limit > 200 {
		limit = 200
	}
	return c.store.TagCounts(ctx, ownerID, limit)
}

// scored is one candidate before pagination.
type scored struct {
	rec   media.Record
	score float64
	match string
}

// rank orders by score desc and media id asc.
func rank(list []scored) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].score != list[j].score {
			return list[i].score > list[j].score
		}
		return list[i].rec.ID < list[j].rec.ID
	})
}

// results turns list[start:end] into ranked results. Ranks are positions in
// the whole list, so they continue across pages.
func results(list []scored, start, end int) []media.SearchResult {
	out := make([]media.SearchResult, 0, end-start)
	for i := start; i < end; i++ {
		rec := list[i].rec
		out = append(out, media.SearchResult{
			MediaID: rec.ID,
			Score:   list[i].score,
			Match:   list[i].match,
			Rank:    i + 1,
			Record:  &rec,
		})
	}
	return out
}

// indexedOnly adds the INDEXED state to a caller's filter.
func indexedOnly(f media.Filter) media.Filter {
	f.States = []media.State{media.StateIndexed}
	return f
}

func (c *Coordinator) observe(mode string, started time.Time) {
	c.pipeline.Search(mode, time.Since(started))
}
