package similarity

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mailsmith/internal/embeddings"
)

// RetrieverConfig is the query policy.
type RetrieverConfig struct {
	// Threshold is the minimum score a hit must reach.
	Threshold float32
	// TopK is used when a query asks for k <= 0.
	TopK int
	// Timeout bounds a whole query, embedding included.
	Timeout time.Duration
}

// Retriever answers "which of this owner's past drafts resemble this text".
type Retriever struct {
	embedder embeddings.Embedder
	index    Index
	cfg      RetrieverConfig
	logger   *zap.Logger
}

// NewRetriever creates a Retriever.
func NewRetriever(embedder embeddings.Embedder, index Index, cfg RetrieverConfig, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 3
	}
	return &Retriever{embedder: embedder, index: index, cfg: cfg, logger: logger}
}

// Query returns at most k of owner's drafts scoring at least the threshold
// against text, best first. An owner with no history, or no qualifying
// draft, gets an empty slice and no error.
func (r *Retriever) Query(ctx context.Context, owner, text string, k int) ([]Hit, error) {
	start := time.Now()
	defer func() { QueryDuration.Observe(time.Since(start).Seconds()) }()

	if k <= 0 {
		k = r.cfg.TopK
	}
	if owner == "" || strings.TrimSpace(text) == "" {
		QueryResults.WithLabelValues("empty").Inc()
		return []Hit{}, nil
	}
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	vector, err := r.embedder.EmbedQuery(ctx, text)
	if err != nil {
		QueryResults.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	raw, err := r.index.Query(ctx, owner, vector, k)
	if err != nil {
		QueryResults.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("querying index: %w", err)
	}

	hits := applyPolicy(raw, r.cfg.Threshold, k)
	if len(hits) == 0 {
		QueryResults.WithLabelValues("empty").Inc()
	} else {
		QueryResults.WithLabelValues("hits").Inc()
	}
	r.logger.Debug("personalization query",
		zap.Int("candidates", len(raw)),
		zap.Int("hits", len(hits)))
	return hits, nil
}

// applyPolicy drops hits below threshold, orders by descending score and
// keeps at most k.
func applyPolicy(hits []Hit, threshold float32, k int) []Hit {
	out := make([]Hit, 0, len(hits))
	for _, h := range hits {
		if h.Score >= threshold {
			out = append(out, h)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > k {
		out = out[:k]
	}
	return out
}
