package embedding

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// Provider is what the rest of the module needs from the inference service.
type Provider interface {
	Extract(ctx context.Context, mediaType string, content []byte) (Extraction, error)
	Embed(ctx context.Context, texts ...string) ([][]float32, error)
}

// InferenceProvider talks to the inference service over HTTP.
type InferenceProvider struct {
	baseURL      string
	model        string
	serviceToken string
	httpClient   *http.Client
}

// NewInferenceProvider validates cfg and builds the HTTP client.
func NewInferenceProvider(cfg Config) (*InferenceProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &InferenceProvider{
		baseURL:      strings.TrimRight(cfg.Endpoint, "/"),
		model:        cfg.Model,
		serviceToken: cfg.ServiceToken,
		httpClient:   &http.Client{Timeout: timeout},
	}, nil
}

// Extract runs the multimodal model over raw media bytes.
func (p *InferenceProvider) Extract(ctx context.Context, mediaType string, content []byte) (Extraction, error) {
	if len(content) == 0 {
		return Extraction{}, fmt.Errorf("inference: empty content: %w", ErrUnsupportedMedia)
	}

	var out Extraction
	err := p.postJSON(ctx, p.baseURL+"/extract", ExtractRequest{
		Model:     p.model,
		MediaType: mediaType,
		Content:   content,
	}, &out)
	if err != nil {
		return Extraction{}, err
	}
	return out, nil
}

// Embed embeds text through the OpenAI-compatible /embeddings endpoint,
// returning vectors in input order.
func (p *InferenceProvider) Embed(ctx context.Context, texts ...string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("inference: no texts provided")
	}

	var parsed embeddingsResponse
	if err := p.postJSON(ctx, p.baseURL+"/embeddings", embeddingsRequest{
		Model: p.model,
		Input: texts,
	}, &parsed); err != nil {
		return nil, err
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("inference: got %d embeddings for %d inputs: %w", len(parsed.Data), len(texts), ErrUpstream)
	}

	out := make([][]float32, len(texts))
	for i, d := range parsed.Data {
		idx := d.Index
		if idx < 0 || idx >= len(out) {
			idx = i
		}
		out[idx] = d.Embedding
	}
	return out, nil
}

// Close releases idle connections.
func (p *InferenceProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}
