package search

import (
	"context"
	"sort"
	"time"

	"github.com/Aleph-Alpha/mediaindex/internal/media"
)

// KeywordQuery matches terms against captions and tags.
type KeywordQuery struct {
	Text    string
	Filters media.Filter
	Page    media.Page
}

// Keyword ranks INDEXED media by how often the query terms occur in the
// caption and tag tokens. Equal counts go to the newest upload, then to the
// lower media id.
func (c *Coordinator) Keyword(ctx context.Context, q KeywordQuery) ([]media.SearchResult, error) {
	defer c.observe(ModeKeyword, time.Now())
	ctx, span := c.tracer.StartSpan(ctx, "search.keyword")
	defer span.End()

	list, err := c.keyword(ctx, q.Text, q.Filters)
	if err != nil {
		c.tracer.RecordErrorOnSpan(span, err)
		return nil, err
	}
	start, end := q.Page.Normalize(c.cfg.DefaultPageSize, c.cfg.MaxPageSize).Slice(len(list))
	return results(list, start, end), nil
}

func (c *Coordinator) keyword(ctx context.Context, text string, filter media.Filter) ([]scored, error) {
	terms := uniqueTerms(text)
	if len(terms) == 0 {
		return nil, ErrEmptyQuery
	}
	candidates, err := c.store.KeywordCandidates(ctx, terms, filter, c.cfg.KeywordCandidates)
	if err != nil {
		return nil, err
	}

	filter = indexedOnly(filter)
	type hit struct {
		rec media.Record
		tf  int
	}
	hits := make([]hit, 0, len(candidates))
	maxTF := 0
	for _, rec := range candidates {
		if !filter.Matches(rec) {
			continue
		}
		tf := TermFrequency(terms, rec)
		if tf == 0 {
			// Substring match in the store without a whole-token match.
			continue
		}
		if tf > maxTF {
			maxTF = tf
		}
		hits = append(hits, hit{rec: rec, tf: tf})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.tf != b.tf {
			return a.tf > b.tf
		}
		if !a.rec.CreatedAt.Equal(b.rec.CreatedAt) {
			return a.rec.CreatedAt.After(b.rec.CreatedAt)
		}
		return a.rec.ID < b.rec.ID
	})

	list := make([]scored, len(hits))
	for i, h := range hits {
		list[i] = scored{rec: h.rec, score: float64(h.tf) / float64(maxTF), match: ModeKeyword}
	}
	return list, nil
}

// TermFrequency counts occurrences of terms among the caption tokens and
// the tokens of the tag names.
func TermFrequency(terms []string, rec media.Record) int {
	want := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		want[t] = struct{}{}
	}
	tf := 0
	count := func(tokens []string) {
		for _, tok := range tokens {
			if _, ok := want[tok]; ok {
				tf++
			}
		}
	}
	count(media.Tokenize(rec.Caption))
	for _, tag := range rec.Tags.Names() {
		count(media.Tokenize(tag))
	}
	return tf
}

func uniqueTerms(text string) []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range media.Tokenize(text) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
