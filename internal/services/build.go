package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mailsmith/internal/assistant"
	"github.com/fyrsmithlabs/mailsmith/internal/config"
	"github.com/fyrsmithlabs/mailsmith/internal/embeddings"
	"github.com/fyrsmithlabs/mailsmith/internal/generation"
	"github.com/fyrsmithlabs/mailsmith/internal/logging"
	"github.com/fyrsmithlabs/mailsmith/internal/persistence"
	"github.com/fyrsmithlabs/mailsmith/internal/regeneration"
	"github.com/fyrsmithlabs/mailsmith/internal/similarity"
	"github.com/fyrsmithlabs/mailsmith/internal/stages"
	"github.com/fyrsmithlabs/mailsmith/internal/workflow"
)

// Build wires every component described by cfg and starts the indexer.
// On failure, anything already opened is closed again.
func Build(cfg *config.Config, logger *logging.Logger) (_ Registry, err error) {
	zl := logger.Underlying()
	var opts Options
	defer func() {
		if err != nil {
			_ = NewRegistry(opts).Close(context.Background())
		}
	}()

	if opts.Store, err = OpenStore(cfg.Storage, zl); err != nil {
		return nil, err
	}
	if opts.Embedder, err = embeddings.NewProvider(embeddings.ProviderConfig{
		Provider:  cfg.Embeddings.Provider,
		Model:     cfg.Embeddings.Model,
		BaseURL:   cfg.Embeddings.BaseURL,
		APIKey:    cfg.Embeddings.APIKey.Value(),
		CacheDir:  cfg.Embeddings.CacheDir,
		Dimension: cfg.Embeddings.Dimension,
	}, zl.Named("embeddings")); err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	if opts.Index, err = OpenIndex(cfg.Index, opts.Embedder.Dimension(), zl); err != nil {
		return nil, err
	}
	if opts.Provider, err = NewProvider(cfg.Provider, cfg.Pipeline.StageTimeout.Duration(), zl); err != nil {
		return nil, err
	}

	retriever := similarity.NewRetriever(opts.Embedder, opts.Index, similarity.RetrieverConfig{
		Threshold: float32(cfg.Personalization.SimilarityThreshold),
		TopK:      cfg.Personalization.TopKSimilar,
		Timeout:   cfg.Personalization.QueryTimeout.Duration(),
	}, zl.Named("retriever"))

	opts.Indexer = similarity.NewIndexer(similarity.IndexerConfig{
		Enabled:    cfg.Indexing.EnableIndexing,
		Workers:    cfg.Indexing.Workers,
		QueueSize:  cfg.Indexing.QueueSize,
		JobTimeout: cfg.Indexing.JobTimeout.Duration(),
	}, opts.Embedder, opts.Index, opts.Store, zl.Named("indexer"))

	var router workflow.Router = workflow.HeuristicRouter{}
	if cfg.Pipeline.EnableLLMRouter {
		router = workflow.NewLLMRouter(opts.Provider, zl.Named("router"))
	}
	engine := workflow.NewEngine(workflow.Config{
		RetryBound: cfg.Pipeline.RetryBound,
		RetryDelay: cfg.Pipeline.RetryDelay.Duration(),
	}, router, zl.Named("workflow"))

	set := stages.NewSet(stages.Deps{
		Provider:        opts.Provider,
		Retriever:       retriever,
		Logger:          zl.Named("stages"),
		TopK:            cfg.Personalization.TopKSimilar,
		MaxExcerptChars: cfg.Personalization.MaxExcerptChars,
		Review:          true,
	})

	if opts.Assistant, err = assistant.New(assistant.Options{
		Engine:      engine,
		Stages:      set,
		Store:       opts.Store,
		Indexer:     opts.Indexer,
		Policy:      regeneration.NewPolicy(cfg.Regeneration.DiffThreshold),
		Logger:      logger,
		Diagnostics: cfg.Pipeline.Diagnostics,
	}); err != nil {
		return nil, fmt.Errorf("creating assistant: %w", err)
	}

	opts.Indexer.Start()
	return NewRegistry(opts), nil
}

// OpenStore opens the configured persistence gateway.
func OpenStore(cfg config.StorageConfig, logger *zap.Logger) (persistence.Gateway, error) {
	switch cfg.Driver {
	case "memory":
		return persistence.NewMemoryStore(), nil
	case "sqlite", "":
		s, err := persistence.OpenSQLite(persistence.SQLiteConfig{
			Path:    cfg.Path,
			Timeout: cfg.Timeout.Duration(),
		}, logger.Named("sqlite"))
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// OpenIndex opens the configured similarity index.
func OpenIndex(cfg config.IndexConfig, dimension int, logger *zap.Logger) (similarity.Index, error) {
	switch cfg.Backend {
	case "chromem", "":
		idx, err := similarity.NewChromemIndex(similarity.ChromemConfig{
			Path:     cfg.Path,
			Compress: cfg.Compress,
		}, logger.Named("chromem"))
		if err != nil {
			return nil, fmt.Errorf("opening chromem index: %w", err)
		}
		return idx, nil
	case "qdrant":
		idx, err := similarity.NewQdrantIndex(similarity.QdrantConfig{
			Host:       cfg.Qdrant.Host,
			Port:       cfg.Qdrant.Port,
			UseTLS:     cfg.Qdrant.UseTLS,
			APIKey:     cfg.Qdrant.APIKey.Value(),
			Collection: cfg.Qdrant.Collection,
			Dimension:  dimension,
		}, logger.Named("qdrant"))
		if err != nil {
			return nil, fmt.Errorf("opening qdrant index: %w", err)
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unknown index backend %q", cfg.Backend)
	}
}

// NewProvider creates the configured generation provider behind a Guard.
func NewProvider(cfg config.ProviderConfig, timeout time.Duration, logger *zap.Logger) (generation.Provider, error) {
	var inner generation.Provider
	switch cfg.Name {
	case "stub", "":
		inner = generation.NewStub()
	case "openai":
		p, err := generation.NewOpenAI(generation.OpenAIConfig{
			APIKey:      cfg.APIKey.Value(),
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("creating openai provider: %w", err)
		}
		inner = p
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Name)
	}
	name := cfg.Name
	if name == "" {
		name = "stub"
	}
	return generation.NewGuard(inner, generation.GuardConfig{
		Name:              name,
		Timeout:           timeout,
		RequestsPerMinute: cfg.RequestsPerMinute,
	}, logger.Named("generation")), nil
}
