// Package extractor turns media bytes into an embedding, caption and tags,
// and query text into a vector, on top of the inference client.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Aleph-Alpha/mediaindex/internal/media"
	"github.com/Aleph-Alpha/mediaindex/pkg/embedding"
)

const (
	// DefaultTimeout bounds one extraction call.
	DefaultTimeout = 60 * time.Second

	// captionTagConfidence is assigned to tags derived from caption words.
	captionTagConfidence = 0.5

	dimensionSample = "dimension sample"
)

// Logger is the logging surface this package needs.
type Logger interface {
	Warn(msg string, err error, fields ...map[string]interface{})
}

// Config pins the model generation and the per-call timeout.
type Config struct {
	Timeout      time.Duration
	ModelVersion string
}

// Result is one successful extraction.
type Result struct {
	Vector       []float32
	Caption      string
	Tags         media.Tags
	ModelVersion string
	// KeyFrame is the still a video was embedded from, when the model sent one.
	KeyFrame     []byte
}

// Extractor applies the timeout, classifies failures into the media error
// kinds and keeps every output on one model version.
type Extractor struct {
	provider     embedding.Provider
	timeout      time.Duration
	modelVersion string
	logger       Logger

	mu  sync.RWMutex
	dim int
}

// New builds an Extractor. ModelVersion is required.
func New(provider embedding.Provider, cfg Config, logger Logger) (*Extractor, error) {
	if cfg.ModelVersion == "" {
		return nil, errors.New("extractor: model version is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Extractor{
		provider:     provider,
		timeout:      cfg.Timeout,
		modelVersion: cfg.ModelVersion,
		logger:       logger,
	}, nil
}

// ModelVersion is the version tag written next to every vector.
func (e *Extractor) ModelVersion() string { return e.modelVersion }

// Extract runs the model over data. The returned tags merge the model's own
// tags with words from the caption.
func (e *Extractor) Extract(ctx context.Context, data []byte, mediaType string) (Result, error) {
	const op = "extract"

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	out, err := e.provider.Extract(ctx, mediaType, data)
	if err != nil {
		return Result{}, classify(op, err)
	}
	if len(out.Embedding) == 0 {
		return Result{}, media.E(op, media.ErrNonRetryableMedia, errors.New("model returned an empty embedding"))
	}
	if out.ModelVersion != "" && out.ModelVersion != e.modelVersion {
		// The service is serving another generation, probably mid-rollout.
		e.logger.Warn("extractor returned an unexpected model version", nil, map[string]interface{}{
			"expected": e.modelVersion,
			"got":      out.ModelVersion,
		})
		return Result{}, media.E(op, media.ErrTransientStore,
			fmt.Errorf("model version %q does not match pinned %q", out.ModelVersion, e.modelVersion))
	}
	if d, ok := e.knownDimension(); ok && d != len(out.Embedding) {
		return Result{}, media.E(op, media.ErrTransientStore,
			fmt.Errorf("embedding dimension %d does not match %d", len(out.Embedding), d))
	}

	tags := make(media.Tags, len(out.Tags))
	for _, t := range out.Tags {
		name := strings.ToLower(strings.TrimSpace(t.Name))
		if name == "" {
			continue
		}
		if cur, ok := tags[name]; !ok || t.Confidence > cur {
			tags[name] = t.Confidence
		}
	}

	return Result{
		Vector:       out.Embedding,
		Caption:      out.Caption,
		Tags:         tags.Merge(media.CaptionTags(out.Caption, captionTagConfidence)),
		ModelVersion: e.modelVersion,
		KeyFrame:     out.KeyFrame,
	}, nil
}

// EmbedText embeds a search query in the same space as media vectors.
func (e *Extractor) EmbedText(ctx context.Context, text string) ([]float32, error) {
	const op = "embed text"

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	vecs, err := e.provider.Embed(ctx, text)
	if err != nil {
		return nil, classify(op, err)
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, media.E(op, media.ErrTransientStore, errors.New("empty query embedding"))
	}
	return vecs[0], nil
}

// Dimension learns D from a real model output. The first successful answer
// is cached; failures are retried on the next call.
func (e *Extractor) Dimension(ctx context.Context) (int, error) {
	if d, ok := e.knownDimension(); ok {
		return d, nil
	}
	vec, err := e.EmbedText(ctx, dimensionSample)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dim == 0 {
		e.dim = len(vec)
	}
	return e.dim, nil
}

func (e *Extractor) knownDimension() (int, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dim, e.dim > 0
}

func classify(op string, err error) error {
	switch {
	case errors.Is(err, embedding.ErrUnsupportedMedia):
		return media.E(op, media.ErrNonRetryableMedia, err)
	case errors.Is(err, embedding.ErrCapacity):
		return media.E(op, media.ErrCapacity, err)
	default:
		return media.E(op, media.ErrTransientStore, err)
	}
}
