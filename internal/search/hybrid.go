package search

import (
	"context"
	"errors"
	"time"

	"github.com/Aleph-Alpha/mediaindex/internal/media"
	"golang.org/x/sync/errgroup"
)

// HybridQuery merges semantic and keyword rankings. Weight is the share of
// the semantic score; nil or a value outside [0,1] uses the configured default.
type HybridQuery struct {
	Text    string
	Weight  *float64
	Filters media.Filter
	Page    media.Page
}

// Hybrid runs both searches in parallel, scales semantic scores by w and
// keyword scores by 1-w and keeps the higher score per media id.
func (c *Coordinator) Hybrid(ctx context.Context, q HybridQuery) ([]media.SearchResult, error) {
	defer c.observe(ModeHybrid, time.Now())
	ctx, span := c.tracer.StartSpan(ctx, "search.hybrid")
	defer span.End()

	w := *c.cfg.DefaultWeight
	if q.Weight != nil && *q.Weight >= 0 && *q.Weight <= 1 {
		w = *q.Weight
	}

	var semantic, keyword []scored
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		semantic, err = c.semantic(gctx, q.Text, c.cfg.HybridCandidates, q.Filters, 0)
		return err
	})
	g.Go(func() error {
		var err error
		keyword, err = c.keyword(gctx, q.Text, q.Filters)
		if errors.Is(err, ErrEmptyQuery) {
			// Only stop words: the semantic leg still ranks.
			return nil
		}
		return err
	})
	if err := g.Wait(); err != nil {
		c.tracer.RecordErrorOnSpan(span, err)
		return nil, err
	}

	list := merge(semantic, keyword, w)
	start, end := q.Page.Normalize(c.cfg.DefaultPageSize, c.cfg.MaxPageSize).Slice(len(list))
	return results(list, start, end), nil
}

// merge weights both lists and dedupes them by media id, keeping the higher
// weighted score.
func merge(semantic, keyword []scored, w float64) []scored {
	best := make(map[string]scored, len(semantic)+len(keyword))
	add := func(list []scored, weight float64) {
		for _, s := range list {
			s.score *= weight
			if cur, ok := best[s.rec.ID]; ok && cur.score >= s.score {
				continue
			}
			best[s.rec.ID] = s
		}
	}
	add(semantic, w)
	add(keyword, 1-w)

	out := make([]scored, 0, len(best))
	for _, s := range best {
		out = append(out, s)
	}
	rank(out)
	return out
}
