package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Embedder turns text into vectors.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Provider is an Embedder with a fixed dimension and releasable resources.
type Provider interface {
	Embedder
	Dimension() int
	Close() error
}

// ProviderConfig selects and configures a provider.
type ProviderConfig struct {
	// Provider is one of "hash", "tei", "openai", "fastembed".
	Provider string
	Model    string
	// BaseURL is used by the tei and openai providers.
	BaseURL string
	APIKey  string
	// CacheDir is the fastembed model cache.
	CacheDir string
	// Dimension is used by the hash provider, and overrides model detection
	// for the others when set.
	Dimension int
}

// NewProvider creates the configured provider, instrumented with metrics.
func NewProvider(cfg ProviderConfig, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		p   Provider
		err error
	)
	switch cfg.Provider {
	case "hash", "":
		p = NewHashProvider(cfg.Dimension)
	case "tei":
		p, err = NewTEIProvider(TEIConfig{BaseURL: cfg.BaseURL, Model: cfg.Model, APIKey: cfg.APIKey}, dimensionFor(cfg))
	case "openai":
		p, err = NewOpenAIProvider(OpenAIConfig{BaseURL: cfg.BaseURL, Model: cfg.Model, APIKey: cfg.APIKey}, dimensionFor(cfg))
	case "fastembed":
		p, err = NewFastEmbedProvider(FastEmbedConfig{Model: cfg.Model, CacheDir: cfg.CacheDir})
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	model := cfg.Model
	if cfg.Provider == "hash" || cfg.Provider == "" {
		model = "hash"
	}
	return instrument(p, model, logger), nil
}

func dimensionFor(cfg ProviderConfig) int {
	if cfg.Dimension > 0 {
		return cfg.Dimension
	}
	return detectDimensionFromModel(cfg.Model)
}

// detectDimensionFromModel guesses the vector size from a model name,
// defaulting to 384.
func detectDimensionFromModel(model string) int {
	if dim, ok := knownModelDimensions[model]; ok {
		return dim
	}
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "text-embedding-3-large"):
		return 3072
	case strings.Contains(m, "text-embedding"):
		return 1536
	case strings.Contains(m, "large"):
		return 1024
	case strings.Contains(m, "base"):
		return 768
	default:
		return 384
	}
}

var knownModelDimensions = map[string]int{
	"BAAI/bge-small-en-v1.5":                 384,
	"BAAI/bge-small-en":                      384,
	"BAAI/bge-base-en-v1.5":                  768,
	"BAAI/bge-base-en":                       768,
	"BAAI/bge-small-zh-v1.5":                 512,
	"sentence-transformers/all-MiniLM-L6-v2": 384,
}
