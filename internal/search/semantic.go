package search

import (
	"context"
	"strings"
	"time"

	"github.com/Aleph-Alpha/mediaindex/internal/media"
)

// SemanticQuery asks for the media closest to Text in embedding space.
type SemanticQuery struct {
	Text    string
	TopK    int
	Filters media.Filter
	// MinScore drops matches whose normalized similarity is below it.
	MinScore float64
}

// Semantic embeds the query, takes the top K vector matches and keeps those
// whose record is INDEXED and passes the filters. Scores are rescaled so the
// best remaining match is 1. Filtering can leave fewer than TopK results;
// the index is not queried again.
func (c *Coordinator) Semantic(ctx context.Context, q SemanticQuery) ([]media.SearchResult, error) {
	defer c.observe(ModeSemantic, time.Now())
	ctx, span := c.tracer.StartSpan(ctx, "search.semantic")
	defer span.End()

	topK := q.TopK
	if topK <= 0 {
		topK = c.cfg.DefaultTopK
	}
	if topK > c.cfg.MaxTopK {
		topK = c.cfg.MaxTopK
	}

	list, err := c.semantic(ctx, q.Text, topK, q.Filters, q.MinScore)
	if err != nil {
		c.tracer.RecordErrorOnSpan(span, err)
		return nil, err
	}
	return results(list, 0, len(list)), nil
}

func (c *Coordinator) semantic(ctx context.Context, text string, topK int, filter media.Filter, minScore float64) ([]scored, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyQuery
	}
	vector, err := c.embedder.EmbedText(ctx, text)
	if err != nil {
		return nil, err
	}
	matches, err := c.index.QueryTopK(ctx, vector, topK)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}

	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.MediaID
	}
	recs, err := c.store.GetMediaBatch(ctx, ids)
	if err != nil {
		return nil, err
	}

	filter = indexedOnly(filter)
	list := make([]scored, 0, len(matches))
	best := 0.0
	for _, m := range matches {
		rec, ok := recs[m.MediaID]
		if !ok || !filter.Matches(rec) {
			continue
		}
		norm := Normalize(m.Cosine)
		if norm < minScore {
			continue
		}
		if norm > best {
			best = norm
		}
		list = append(list, scored{rec: rec, score: norm, match: ModeSemantic})
	}
	if dropped := len(matches) - len(list); dropped > 0 {
		c.logger.Debug("semantic matches filtered out", nil, map[string]interface{}{
			"matched": len(matches),
			"dropped": dropped,
		})
	}

	if best > 0 {
		for i := range list {
			list[i].score /= best
		}
	}
	rank(list)
	return list, nil
}

// Normalize maps a cosine similarity onto [0,1].
func Normalize(cosine float32) float64 {
	n := (float64(cosine) + 1) / 2
	switch {
	case n < 0:
		return 0
	case n > 1:
		return 1
	}
	return n
}
