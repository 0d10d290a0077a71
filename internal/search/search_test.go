package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/Aleph-Alpha/mediaindex/internal/media"
	"github.com/Aleph-Alpha/mediaindex/internal/store"
	"github.com/Aleph-Alpha/mediaindex/pkg/logger"
	"github.com/Aleph-Alpha/mediaindex/pkg/tracer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

// memStore answers from a fixed set of records.
type memStore struct {
	records map[string]media.Record
}

func (s *memStore) GetMediaBatch(_ context.Context, ids []string) (map[string]media.Record, error) {
	out := map[string]media.Record{}
	for _, id := range ids {
		if r, ok := s.records[id]; ok {
			out[id] = r
		}
	}
	return out, nil
}

// KeywordCandidates returns every record whose caption or tags contain a
// term, strongest match first and then newest, the way the postgres query
// orders them before applying the limit.
func (s *memStore) KeywordCandidates(_ context.Context, terms []string, filter media.Filter, limit int) ([]media.Record, error) {
	filter.States = []media.State{media.StateIndexed}
	var out []media.Record
	for _, r := range s.records {
		if filter.Matches(r) && TermFrequency(terms, r) > 0 {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if a, b := TermFrequency(terms, out[i]), TermFrequency(terms, out[j]); a != b {
			return a > b
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) TagCounts(_ context.Context, ownerID string, limit int) ([]store.TagCount, error) {
	counts := map[string]int64{}
	for _, r := range s.records {
		if r.State != media.StateIndexed || (ownerID != "" && r.OwnerID != ownerID) {
			continue
		}
		for tag := range r.Tags {
			counts[tag]++
		}
	}
	var out []store.TagCount
	for tag, n := range counts {
		out = append(out, store.TagCount{Tag: tag, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Tag < out[j].Tag
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// wordEmbedder maps a word to a fixed axis; unknown text embeds to zero.
type wordEmbedder struct {
	err error
}

var axes = map[string][]float32{
	"red car":    {1, 0, 0},
	"blue boat":  {0, 1, 0},
	"green tree": {0, 0, 1},
}

func (e wordEmbedder) EmbedText(_ context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	if v, ok := axes[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 0}, nil
}

// vecIndex scores by dot product against stored unit vectors.
type vecIndex struct {
	vectors map[string][]float32
}

func (x *vecIndex) QueryTopK(_ context.Context, q []float32, k int) ([]media.VectorMatch, error) {
	var out []media.VectorMatch
	for id, v := range x.vectors {
		var dot float32
		for i := range v {
			dot += v[i] * q[i]
		}
		out = append(out, media.VectorMatch{MediaID: id, Cosine: dot})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Cosine != out[j].Cosine {
			return out[i].Cosine > out[j].Cosine
		}
		return out[i].MediaID < out[j].MediaID
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

type fixture struct {
	c     *Coordinator
	store *memStore
	index *vecIndex
}

func indexed(id, owner, caption string, vec []float32, age time.Duration, tags ...string) (media.Record, []float32) {
	t := media.Tags{}
	for _, tag := range tags {
		t[tag] = 0.9
	}
	at := base.Add(-age)
	return media.Record{
		ID:        id,
		OwnerID:   owner,
		State:     media.StateIndexed,
		Caption:   caption,
		Tags:      t,
		CreatedAt: at,
		IndexedAt: &at,
	}, vec
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tr, err := tracer.NewClient(tracer.Config{ServiceName: "search-test"}, logger.NewNop())
	require.NoError(t, err)

	f := &fixture{
		store: &memStore{records: map[string]media.Record{}},
		index: &vecIndex{vectors: map[string][]float32{}},
	}
	add := func(rec media.Record, vec []float32) {
		f.store.records[rec.ID] = rec
		f.index.vectors[rec.ID] = vec
	}
	add(indexed("m-car", "alice", "a red car parked on the street", []float32{1, 0, 0}, 3*time.Hour, "car", "red"))
	add(indexed("m-car2", "bob", "an old red car", []float32{0.8, 0.6, 0}, 2*time.Hour, "car", "vintage"))
	add(indexed("m-boat", "alice", "a blue boat on the lake", []float32{0, 1, 0}, time.Hour, "boat", "lake"))
	add(indexed("m-tree", "alice", "a green tree", []float32{0, 0, 1}, 4*time.Hour, "tree"))

	// A vector whose record is not indexed yet must never surface.
	pending, vec := indexed("m-pending", "alice", "a red car in the rain", []float32{1, 0, 0}, 0, "car")
	pending.State = media.StatePending
	add(pending, vec)

	f.c = New(f.store, wordEmbedder{}, f.index, tr, nil, logger.NewNop(), Config{})
	return f
}

func ids(results []media.SearchResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.MediaID
	}
	return out
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, 1.0, Normalize(1))
	assert.Equal(t, 0.5, Normalize(0))
	assert.Equal(t, 0.0, Normalize(-1))
	assert.Equal(t, 1.0, Normalize(1.0001))
}

func TestSemantic(t *testing.T) {
	ctx := context.Background()

	t.Run("RanksClosestFirst", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.c.Semantic(ctx, SemanticQuery{Text: "red car", TopK: 10})
		require.NoError(t, err)

		require.NotEmpty(t, res)
		assert.Equal(t, "m-car", res[0].MediaID)
		assert.Equal(t, 1.0, res[0].Score)
		assert.Equal(t, 1, res[0].Rank)
		assert.NotContains(t, ids(res), "m-pending")
		for i := 1; i < len(res); i++ {
			assert.GreaterOrEqual(t, res[i-1].Score, res[i].Score)
		}
		require.NotNil(t, res[0].Record)
		assert.Equal(t, "alice", res[0].Record.OwnerID)
	})

	t.Run("FiltersAndRenormalizes", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.c.Semantic(ctx, SemanticQuery{Text: "red car", TopK: 10, Filters: media.Filter{OwnerID: "bob"}})
		require.NoError(t, err)

		require.Len(t, res, 1)
		assert.Equal(t, "m-car2", res[0].MediaID)
		assert.Equal(t, 1.0, res[0].Score)
	})

	t.Run("UnderfilledIsNotPadded", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.c.Semantic(ctx, SemanticQuery{Text: "red car", TopK: 2, Filters: media.Filter{Tags: []string{"tree"}}})
		require.NoError(t, err)
		assert.Empty(t, res)
	})

	t.Run("TagAndDateFilters", func(t *testing.T) {
		f := newFixture(t)
		from := base.Add(-150 * time.Minute)
		res, err := f.c.Semantic(ctx, SemanticQuery{Text: "red car", TopK: 10, Filters: media.Filter{Tags: []string{"car"}, From: &from}})
		require.NoError(t, err)
		assert.Equal(t, []string{"m-car2"}, ids(res))
	})

	t.Run("MinScore", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.c.Semantic(ctx, SemanticQuery{Text: "red car", TopK: 10, MinScore: 0.75})
		require.NoError(t, err)
		assert.Equal(t, []string{"m-car", "m-car2"}, ids(res))
	})

	t.Run("TiesBreakOnID", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.c.Semantic(ctx, SemanticQuery{Text: "nothing known", TopK: 10})
		require.NoError(t, err)
		assert.Equal(t, []string{"m-boat", "m-car", "m-car2", "m-tree"}, ids(res))
		for _, r := range res {
			assert.Equal(t, 1.0, r.Score)
		}
	})

	t.Run("EmptyQuery", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.c.Semantic(ctx, SemanticQuery{Text: "   "})
		assert.ErrorIs(t, err, ErrEmptyQuery)
	})

	t.Run("EmbedderDown", func(t *testing.T) {
		f := newFixture(t)
		f.c.embedder = wordEmbedder{err: media.E("embed text", media.ErrCapacity, errors.New("429"))}
		_, err := f.c.Semantic(ctx, SemanticQuery{Text: "red car"})
		assert.ErrorIs(t, err, media.ErrCapacity)
	})
}

func TestKeyword(t *testing.T) {
	ctx := context.Background()

	t.Run("RanksByTermFrequency", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.c.Keyword(ctx, KeywordQuery{Text: "red car"})
		require.NoError(t, err)

		// m-car matches four times, m-car2 three times.
		assert.Equal(t, []string{"m-car", "m-car2"}, ids(res))
		assert.Equal(t, 1.0, res[0].Score)
		assert.Equal(t, 0.75, res[1].Score)
	})

	t.Run("TiesGoToNewest", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.c.Keyword(ctx, KeywordQuery{Text: "car"})
		require.NoError(t, err)
		assert.Equal(t, []string{"m-car2", "m-car"}, ids(res))
	})

	t.Run("StopWordsOnly", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.c.Keyword(ctx, KeywordQuery{Text: "the a of"})
		assert.ErrorIs(t, err, ErrEmptyQuery)
	})

	t.Run("StrongOldMatchSurvivesCandidateCap", func(t *testing.T) {
		f := newFixture(t)
		for i := 0; i < DefaultKeywordCandidates; i++ {
			rec, _ := indexed(fmt.Sprintf("m-weak-%04d", i), "dave", "a car", nil, time.Duration(i)*time.Second)
			f.store.records[rec.ID] = rec
		}
		strong, _ := indexed("m-strong", "dave", "car car car red car", nil, 48*time.Hour, "car")
		f.store.records[strong.ID] = strong

		res, err := f.c.Keyword(ctx, KeywordQuery{Text: "car", Page: media.Page{Limit: 5}})
		require.NoError(t, err)
		require.NotEmpty(t, res)
		assert.Equal(t, "m-strong", res[0].MediaID)
		assert.Equal(t, 1.0, res[0].Score)
	})

	t.Run("Pagination", func(t *testing.T) {
		f := newFixture(t)
		for i := 0; i < 5; i++ {
			rec, _ := indexed(fmt.Sprintf("m-lake-%d", i), "carol", "lake view", nil, 5*time.Hour, "lake")
			f.store.records[rec.ID] = rec
		}
		var all []string
		for offset := 0; offset < 10; offset += 2 {
			res, err := f.c.Keyword(ctx, KeywordQuery{Text: "lake", Page: media.Page{Offset: offset, Limit: 2}})
			require.NoError(t, err)
			for i, r := range res {
				assert.Equal(t, offset+i+1, r.Rank)
			}
			all = append(all, ids(res)...)
		}
		assert.Equal(t, []string{"m-boat", "m-lake-0", "m-lake-1", "m-lake-2", "m-lake-3", "m-lake-4"}, all)
	})
}

func TestTermFrequency(t *testing.T) {
	rec := media.Record{Caption: "A red car next to a red wall", Tags: media.Tags{"car": 1, "red": 1, "cartoon": 1}}
	assert.Equal(t, 5, TermFrequency([]string{"red", "car"}, rec))
	assert.Equal(t, 0, TermFrequency([]string{"boat"}, rec))
}

func TestHybrid(t *testing.T) {
	ctx := context.Background()

	t.Run("MergesByMaxScore", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.c.Hybrid(ctx, HybridQuery{Text: "red car"})
		require.NoError(t, err)

		require.NotEmpty(t, res)
		assert.Equal(t, "m-car", res[0].MediaID)
		seen := map[string]bool{}
		for _, r := range res {
			assert.False(t, seen[r.MediaID], "duplicate %s", r.MediaID)
			seen[r.MediaID] = true
		}
		assert.NotContains(t, ids(res), "m-pending")
	})

	t.Run("WeightOneIsSemanticOnly", func(t *testing.T) {
		f := newFixture(t)
		w := 1.0
		hybrid, err := f.c.Hybrid(ctx, HybridQuery{Text: "red car", Weight: &w, Page: media.Page{Limit: 10}})
		require.NoError(t, err)
		semantic, err := f.c.Semantic(ctx, SemanticQuery{Text: "red car", TopK: 10})
		require.NoError(t, err)

		require.Len(t, hybrid, len(semantic))
		for i := range semantic {
			assert.Equal(t, semantic[i].MediaID, hybrid[i].MediaID)
			assert.InDelta(t, semantic[i].Score, hybrid[i].Score, 1e-9)
		}
	})

	t.Run("OutOfRangeWeightUsesDefault", func(t *testing.T) {
		f := newFixture(t)
		bad := 7.0
		a, err := f.c.Hybrid(ctx, HybridQuery{Text: "red car", Weight: &bad})
		require.NoError(t, err)
		b, err := f.c.Hybrid(ctx, HybridQuery{Text: "red car"})
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("StopWordsOnlyFallsBackToSemantic", func(t *testing.T) {
		f := newFixture(t)
		w := 1.0
		hybrid, err := f.c.Hybrid(ctx, HybridQuery{Text: "a", Page: media.Page{Limit: 10}})
		require.NoError(t, err)
		semantic, err := f.c.Semantic(ctx, SemanticQuery{Text: "a", TopK: 10})
		require.NoError(t, err)
		weighted, err := f.c.Hybrid(ctx, HybridQuery{Text: "a", Weight: &w, Page: media.Page{Limit: 10}})
		require.NoError(t, err)

		require.NotEmpty(t, hybrid)
		assert.Equal(t, ids(semantic), ids(hybrid))
		assert.Equal(t, ids(semantic), ids(weighted))
	})

	t.Run("ZeroDefaultWeightIsKeywordOnly", func(t *testing.T) {
		f := newFixture(t)
		zero := 0.0
		f.c.cfg = Config{DefaultWeight: &zero}.withDefaults()

		hybrid, err := f.c.Hybrid(ctx, HybridQuery{Text: "red car", Page: media.Page{Limit: 10}})
		require.NoError(t, err)
		keyword, err := f.c.Keyword(ctx, KeywordQuery{Text: "red car", Page: media.Page{Limit: 10}})
		require.NoError(t, err)

		require.GreaterOrEqual(t, len(hybrid), len(keyword))
		for i := range keyword {
			assert.Equal(t, keyword[i].MediaID, hybrid[i].MediaID)
			assert.InDelta(t, keyword[i].Score, hybrid[i].Score, 1e-9)
		}
		for _, r := range hybrid[len(keyword):] {
			assert.Zero(t, r.Score)
		}
	})

	t.Run("Deterministic", func(t *testing.T) {
		f := newFixture(t)
		first, err := f.c.Hybrid(ctx, HybridQuery{Text: "red car"})
		require.NoError(t, err)
		for i := 0; i < 10; i++ {
			again, err := f.c.Hybrid(ctx, HybridQuery{Text: "red car"})
			require.NoError(t, err)
			assert.Equal(t, ids(first), ids(again))
		}
	})

	t.Run("FailsWhenASideFails", func(t *testing.T) {
		f := newFixture(t)
		f.c.embedder = wordEmbedder{err: errors.New("extractor unreachable")}
		_, err := f.c.Hybrid(ctx, HybridQuery{Text: "red car"})
		assert.Error(t, err)
	})
}

func TestConfigWeightDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	require.NotNil(t, cfg.DefaultWeight)
	assert.Equal(t, DefaultWeight, *cfg.DefaultWeight)

	zero := 0.0
	cfg = Config{DefaultWeight: &zero}.withDefaults()
	assert.Equal(t, 0.0, *cfg.DefaultWeight)

	bad := 1.5
	cfg = Config{DefaultWeight: &bad}.withDefaults()
	assert.Equal(t, DefaultWeight, *cfg.DefaultWeight)
}

func TestPopularTags(t *testing.T) {
	f := newFixture(t)

	tags, err := f.c.PopularTags(context.Background(), "", 2)
	require.NoError(t, err)
	assert.Equal(t, []store.TagCount{{Tag: "car", Count: 2}, {Tag: "boat", Count: 1}}, tags)

	tags, err = f.c.PopularTags(context.Background(), "bob", 0)
	require.NoError(t, err)
	assert.Len(t, tags, 2)
}
