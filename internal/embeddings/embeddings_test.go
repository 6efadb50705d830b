package embeddings

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestHashProvider(t *testing.T) {
	p := NewHashProvider(0)
	assert.Equal(t, DefaultHashDimension, p.Dimension())
	ctx := context.Background()

	a, err := p.EmbedQuery(ctx, "Following up on the proposal we discussed")
	require.NoError(t, err)
	b, err := p.EmbedQuery(ctx, "following up on the proposal")
	require.NoError(t, err)
	c, err := p.EmbedQuery(ctx, "quarterly tax filing deadline")
	require.NoError(t, err)

	again, err := p.EmbedQuery(ctx, "Following up on the proposal we discussed")
	require.NoError(t, err)
	assert.Equal(t, a, again, "embedding is deterministic")
	assert.InDelta(t, 1.0, cosine(a, a), 1e-5)
	assert.Greater(t, cosine(a, b), cosine(a, c))

	docs, err := p.EmbedDocuments(ctx, []string{"one", "two"})
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	_, err = p.EmbedQuery(ctx, "")
	assert.ErrorIs(t, err, ErrEmptyInput)
	_, err = p.EmbedDocuments(ctx, nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestTEIProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embed", r.URL.Path)
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		switch in := req["inputs"].(type) {
		case string:
			_ = json.NewEncoder(w).Encode([][]float32{{0.1, 0.2}})
		case []any:
			out := make([][]float32, len(in))
			for i := range in {
				out[i] = []float32{float32(i), 1}
			}
			_ = json.NewEncoder(w).Encode(out)
		}
	}))
	defer srv.Close()

	p, err := NewTEIProvider(TEIConfig{BaseURL: srv.URL, Model: "m"}, 2)
	require.NoError(t, err)
	ctx := context.Background()

	q, err := p.EmbedQuery(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2}, q)

	docs, err := p.EmbedDocuments(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Len(t, docs, 3)
	assert.Equal(t, 2, p.Dimension())
}

func TestTEIProvider_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, err := NewTEIProvider(TEIConfig{BaseURL: srv.URL}, 384)
	require.NoError(t, err)
	_, err = p.EmbedQuery(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.Contains(t, err.Error(), "503")
}

func TestNewTEIProvider_RequiresBaseURL(t *testing.T) {
	_, err := NewTEIProvider(TEIConfig{}, 384)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(ProviderConfig{Provider: "hash", Dimension: 64}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 64, p.Dimension())

	_, err = NewProvider(ProviderConfig{Provider: "word2vec"}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	p, err = NewProvider(ProviderConfig{Provider: "tei", BaseURL: "http://localhost:1", Model: "BAAI/bge-base-en-v1.5"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 768, p.Dimension())
}

func TestDetectDimensionFromModel(t *testing.T) {
	assert.Equal(t, 384, detectDimensionFromModel("BAAI/bge-small-en-v1.5"))
	assert.Equal(t, 512, detectDimensionFromModel("BAAI/bge-small-zh-v1.5"))
	assert.Equal(t, 1536, detectDimensionFromModel("text-embedding-3-small"))
	assert.Equal(t, 3072, detectDimensionFromModel("text-embedding-3-large"))
	assert.Equal(t, 1024, detectDimensionFromModel("e5-large"))
	assert.Equal(t, 384, detectDimensionFromModel("unknown"))
}

func TestOpenAIProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		data := make([]map[string]any, len(req.Input))
		for i := range req.Input {
			data[i] = map[string]any{"object": "embedding", "index": i, "embedding": []float32{0.5, 0.5, 0.5}}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data, "model": "m"})
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL, Model: "text-embedding-3-small"}, 3)
	require.NoError(t, err)

	v, err := p.EmbedQuery(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, v, 3)

	_, err = NewOpenAIProvider(OpenAIConfig{}, 3)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestInstruments_Observe(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	ins, err := newInstruments(mp.Meter(meterName))
	require.NoError(t, err)

	ctx := context.Background()
	ins.observe(ctx, "hash", "embed_documents", 10*time.Millisecond, 4, nil)
	ins.observe(ctx, "hash", "embed_query", 5*time.Millisecond, 1, errors.New("boom"))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, mt := range sm.Metrics {
			names[mt.Name] = true
			if mt.Name == "mailsmith.embedding.errors_total" {
				sum, ok := mt.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				require.Len(t, sum.DataPoints, 1)
				assert.Equal(t, int64(1), sum.DataPoints[0].Value)
			}
		}
	}
	assert.True(t, names["mailsmith.embedding.duration_seconds"])
	assert.True(t, names["mailsmith.embedding.batch_size"])
	assert.True(t, names["mailsmith.embedding.errors_total"])
}
