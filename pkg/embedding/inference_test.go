package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProvider(t *testing.T, h http.HandlerFunc) *InferenceProvider {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	p, err := NewInferenceProvider(Config{Endpoint: srv.URL + "/", Model: "clip-test", ServiceToken: "secret"})
	require.NoError(t, err)
	return p
}

func TestExtract(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/extract", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req ExtractRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "clip-test", req.Model)
		assert.Equal(t, "image", req.MediaType)
		assert.Equal(t, []byte{0x89, 0x50}, req.Content)

		_ = json.NewEncoder(w).Encode(Extraction{
			Embedding:    []float32{0.1, 0.2, 0.3},
			Caption:      "a red car",
			Tags:         []Tag{{Name: "car", Confidence: 0.9}},
			ModelVersion: "clip-test@1",
		})
	})

	got, err := p.Extract(context.Background(), "image", []byte{0x89, 0x50})
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, got.Embedding)
	assert.Equal(t, "a red car", got.Caption)
	assert.Equal(t, "clip-test@1", got.ModelVersion)
	require.Len(t, got.Tags, 1)
	assert.Equal(t, "car", got.Tags[0].Name)
}

func TestExtractStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnsupportedMediaType, ErrUnsupportedMedia},
		{http.StatusUnprocessableEntity, ErrUnsupportedMedia},
		{http.StatusTooManyRequests, ErrCapacity},
		{http.StatusServiceUnavailable, ErrCapacity},
		{http.StatusInternalServerError, ErrUpstream},
		{http.StatusBadRequest, ErrUpstream},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			})
			_, err := p.Extract(context.Background(), "video", []byte("x"))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var se *StatusError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.status, se.StatusCode)
			assert.Equal(t, "nope", se.Body)
		})
	}
}

func TestExtractRejectsEmptyContent(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	_, err := p.Extract(context.Background(), "image", nil)
	assert.ErrorIs(t, err, ErrUnsupportedMedia)
}

func TestEmbedKeepsInputOrder(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		_, _ = w.Write([]byte(`{"data":[{"index":1,"embedding":[2]},{"index":0,"embedding":[1]}]}`))
	})

	got, err := p.Embed(context.Background(), "first", "second")
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1}, {2}}, got)
}

func TestEmbedCountMismatch(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	})
	_, err := p.Embed(context.Background(), "red car")
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestConfigValidate(t *testing.T) {
	_, err := NewInferenceProvider(Config{Model: "m"})
	assert.Error(t, err)
	_, err = NewInferenceProvider(Config{Endpoint: "http://x"})
	assert.Error(t, err)
}
