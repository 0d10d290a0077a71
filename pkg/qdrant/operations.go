package qdrant

import (
	"context"
	"fmt"
	"slices"

	qdrant "github.com/qdrant/go-client/qdrant"
)

// Point is one stored vector with its payload.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// ScoredPoint is one similarity hit. Score is the raw cosine similarity.
type ScoredPoint struct {
	ID      string
	Score   float32
	Payload map[string]*qdrant.Value
}

// EnsureCollection creates the collection for vectors of size dim with cosine
// distance. An existing collection must already have that size.
func (c *Client) EnsureCollection(ctx context.Context, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("[Qdrant] invalid vector size %d", dim)
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	collections, err := c.api.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("[Qdrant] failed to list collections: %w", TranslateError(err))
	}

	if slices.Contains(collections, c.cfg.Collection) {
		size, err := c.VectorSize(ctx)
		if err != nil {
			return err
		}
		if size != dim {
			return fmt.Errorf("%w: collection %q has size %d, extractor produces %d",
				ErrDimensionMismatch, c.cfg.Collection, size, dim)
		}
		c.logger.Debug("[Qdrant] collection exists", nil, map[string]interface{}{"collection": c.cfg.Collection, "size": size})
		return nil
	}

	err = c.api.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: c.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("[Qdrant] failed to create collection %q: %w", c.cfg.Collection, TranslateError(err))
	}

	c.logger.Info("[Qdrant] created collection", nil, map[string]interface{}{"collection": c.cfg.Collection, "size": dim})
	return nil
}

// VectorSize reads the configured vector size of the collection.
func (c *Client) VectorSize(ctx context.Context) (int, error) {
	info, err := c.api.GetCollectionInfo(ctx, c.cfg.Collection)
	if err != nil {
		return 0, fmt.Errorf("[Qdrant] failed to get collection %q: %w", c.cfg.Collection, TranslateError(err))
	}
	size, _ := extractVectorDetails(info)
	if size == 0 {
		return 0, fmt.Errorf("[Qdrant] collection %q has no single dense vector config", c.cfg.Collection)
	}
	return size, nil
}

// Upsert writes points and waits until they are persisted.
func (c *Client) Upsert(ctx context.Context, points ...Point) error {
	if len(points) == 0 {
		return nil
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	structs := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		payload, err := qdrant.TryValueMap(p.Payload)
		if err != nil {
			return fmt.Errorf("[Qdrant] invalid payload for %s: %w", p.ID, err)
		}
		structs = append(structs, &qdrant.PointStruct{
			Id:      qdrant.NewID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: payload,
		})
	}

	wait := true
	_, err := c.api.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: c.cfg.Collection,
		Points:         structs,
		Wait:           &wait,
	})
	if err != nil {
		return fmt.Errorf("[Qdrant] upsert failed: %w", TranslateError(err))
	}
	return nil
}

// Delete removes points by id. Unknown ids are ignored by the server.
func (c *Client) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	wait := true
	_, err := c.api.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: c.cfg.Collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: pointIDs(ids)},
			},
		},
		Wait: &wait,
	})
	if err != nil {
		return fmt.Errorf("[Qdrant] delete failed: %w", TranslateError(err))
	}
	return nil
}

// DeleteWhere removes the points among ids that also match every condition in
// must. The filter is evaluated by the server, so a point rewritten after the
// caller read it is kept when it no longer matches.
func (c *Client) DeleteWhere(ctx context.Context, ids []string, must ...*qdrant.Condition) error {
	if len(ids) == 0 {
		return nil
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	conditions := append([]*qdrant.Condition{qdrant.NewHasID(pointIDs(ids)...)}, must...)
	wait := true
	_, err := c.api.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: c.cfg.Collection,
		Points:         qdrant.NewPointsSelectorFilter(&qdrant.Filter{Must: conditions}),
		Wait:           &wait,
	})
	if err != nil {
		return fmt.Errorf("[Qdrant] filtered delete failed: %w", TranslateError(err))
	}
	return nil
}

// SetPayload merges payload into the stored payload of the given points.
func (c *Client) SetPayload(ctx context.Context, payload map[string]any, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	values, err := qdrant.TryValueMap(payload)
	if err != nil {
		return fmt.Errorf("[Qdrant] invalid payload: %w", err)
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	wait := true
	_, err = c.api.SetPayload(ctx, &qdrant.SetPayloadPoints{
		CollectionName: c.cfg.Collection,
		Payload:        values,
		PointsSelector: qdrant.NewPointsSelector(pointIDs(ids)...),
		Wait:           &wait,
	})
	if err != nil {
		return fmt.Errorf("[Qdrant] set payload failed: %w", TranslateError(err))
	}
	return nil
}

func pointIDs(ids []string) []*qdrant.PointId {
	out := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		out = append(out, qdrant.NewID(id))
	}
	return out
}

// Query returns the limit nearest points to vector.
func (c *Client) Query(ctx context.Context, vector []float32, limit int) ([]ScoredPoint, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("[Qdrant] query vector cannot be empty")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("[Qdrant] limit must be greater than 0")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	l := uint64(limit)
	resp, err := c.api.Query(ctx, &qdrant.QueryPoints{
		CollectionName: c.cfg.Collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &l,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("[Qdrant] search failed: %w", TranslateError(err))
	}

	out := make([]ScoredPoint, 0, len(resp))
	for _, r := range resp {
		id, err := pointID(r.GetId())
		if err != nil {
			return nil, err
		}
		out = append(out, ScoredPoint{ID: id, Score: r.GetScore(), Payload: r.GetPayload()})
	}
	return out, nil
}

// ScrolledPoint is a point read back by Scroll, without its vector.
type ScrolledPoint struct {
	ID      string
	Payload map[string]*qdrant.Value
}

// Scroll pages through the collection in id order. cursor is the last id of
// the previous page or empty for the first page. next is empty once the
// collection is exhausted.
func (c *Client) Scroll(ctx context.Context, cursor string, limit int) ([]ScrolledPoint, string, error) {
	if limit <= 0 {
		limit = 256
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	// The server treats the offset as inclusive, so ask for one extra and drop the cursor itself.
	want := limit
	req := &qdrant.ScrollPoints{
		CollectionName: c.cfg.Collection,
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if cursor != "" {
		want++
		req.Offset = qdrant.NewID(cursor)
	}
	l := uint32(want)
	req.Limit = &l

	resp, err := c.api.Scroll(ctx, req)
	if err != nil {
		return nil, "", fmt.Errorf("[Qdrant] scroll failed: %w", TranslateError(err))
	}

	out := make([]ScrolledPoint, 0, len(resp))
	for _, r := range resp {
		id, err := pointID(r.GetId())
		if err != nil {
			return nil, "", err
		}
		if id == cursor {
			continue
		}
		out = append(out, ScrolledPoint{ID: id, Payload: r.GetPayload()})
	}

	next := ""
	if len(resp) == want && len(out) > 0 {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

// Count returns the exact number of points in the collection.
func (c *Client) Count(ctx context.Context) (uint64, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	exact := true
	n, err := c.api.Count(ctx, &qdrant.CountPoints{
		CollectionName: c.cfg.Collection,
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("[Qdrant] count failed: %w", TranslateError(err))
	}
	return n, nil
}
