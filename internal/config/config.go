// Package config provides configuration loading for mailsmith.
//
// A Config is built once at process start by Load and is treated as
// immutable afterwards. Components receive the section they need by value.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete mailsmith configuration.
type Config struct {
	Server          ServerConfig          `koanf:"server"`
	Logging         LoggingConfig         `koanf:"logging"`
	Pipeline        PipelineConfig        `koanf:"pipeline"`
	Personalization PersonalizationConfig `koanf:"personalization"`
	Regeneration    RegenerationConfig    `koanf:"regeneration"`
	Indexing        IndexingConfig        `koanf:"indexing"`
	Provider        ProviderConfig        `koanf:"provider"`
	Embeddings      EmbeddingsConfig      `koanf:"embeddings"`
	Index           IndexConfig           `koanf:"index"`
	Storage         StorageConfig         `koanf:"storage"`
	Telemetry       TelemetryConfig       `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig selects the log level and encoder.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`

	// OTEL also ships entries through the OTLP log exporter. Needs
	// telemetry.enabled.
	OTEL bool `koanf:"otel"`
}

// PipelineConfig controls the workflow engine.
type PipelineConfig struct {
	// RetryBound is the maximum number of retries per stage.
	RetryBound int `koanf:"retry_bound"`
	// RetryDelay is the fixed pause between attempts of the same stage.
	RetryDelay Duration `koanf:"retry_delay"`
	// StageTimeout is the deadline applied to each provider call.
	StageTimeout    Duration `koanf:"stage_timeout"`
	EnableLLMRouter bool     `koanf:"enable_llm_router"`
	// Diagnostics records per-stage trace snapshots for every request.
	Diagnostics bool `koanf:"diagnostics"`
}

// PersonalizationConfig controls similarity retrieval.
type PersonalizationConfig struct {
	SimilarityThreshold float64  `koanf:"similarity_threshold"`
	TopKSimilar         int      `koanf:"top_k_similar"`
	QueryTimeout        Duration `koanf:"query_timeout"`
	MaxExcerptChars     int      `koanf:"max_excerpt_chars"`
}

// RegenerationConfig controls the light/full regeneration boundary.
type RegenerationConfig struct {
	DiffThreshold float64 `koanf:"diff_threshold"`
}

// IndexingConfig controls asynchronous write-back into the similarity index.
type IndexingConfig struct {
	EnableIndexing bool     `koanf:"enable_indexing"`
	Workers        int      `koanf:"workers"`
	QueueSize      int      `koanf:"queue_size"`
	JobTimeout     Duration `koanf:"job_timeout"`
}

// ProviderConfig configures the text-generation provider.
type ProviderConfig struct {
	// Name is "openai" or "stub".
	Name              string  `koanf:"name"`
	Model             string  `koanf:"model"`
	APIKey            Secret  `koanf:"api_key"`
	BaseURL           string  `koanf:"base_url"`
	Temperature       float64 `koanf:"temperature"`
	MaxTokens         int     `koanf:"max_tokens"`
	RequestsPerMinute int     `koanf:"requests_per_minute"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is one of "hash", "tei", "openai", "fastembed".
	Provider  string `koanf:"provider"`
	Model     string `koanf:"model"`
	BaseURL   string `koanf:"base_url"`
	APIKey    Secret `koanf:"api_key"`
	CacheDir  string `koanf:"cache_dir"`
	Dimension int    `koanf:"dimension"`
}

// IndexConfig selects and configures the similarity index backend.
type IndexConfig struct {
	// Backend is "chromem" or "qdrant".
	Backend  string       `koanf:"backend"`
	Path     string       `koanf:"path"`
	Compress bool         `koanf:"compress"`
	Qdrant   QdrantConfig `koanf:"qdrant"`
}

// QdrantConfig holds Qdrant gRPC connection settings.
type QdrantConfig struct {
	Host       string `koanf:"host"`
	Port       int    `koanf:"port"`
	UseTLS     bool   `koanf:"use_tls"`
	Collection string `koanf:"collection"`
	APIKey     Secret `koanf:"api_key"`
}

// StorageConfig configures the persistence gateway.
type StorageConfig struct {
	// Driver is "sqlite" or "memory".
	Driver  string   `koanf:"driver"`
	Path    string   `koanf:"path"`
	Timeout Duration `koanf:"timeout"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled      bool    `koanf:"enabled"`
	Endpoint     string  `koanf:"endpoint"`
	Protocol     string  `koanf:"protocol"`
	Insecure     bool    `koanf:"insecure"`
	SamplingRate float64 `koanf:"sampling_rate"`
}

// Default returns a Config populated with production defaults.
func Default() *Config {
	cfg := &Config{
		Indexing: IndexingConfig{EnableIndexing: true},
		Index:    IndexConfig{Compress: true},
		Telemetry: TelemetryConfig{
			Insecure:     true,
			SamplingRate: 1.0,
		},
	}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults fills zero-valued fields. Booleans are left untouched since
// their zero value is a legitimate setting.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8085
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Pipeline.RetryBound == 0 {
		cfg.Pipeline.RetryBound = 2
	}
	if cfg.Pipeline.RetryDelay == 0 {
		cfg.Pipeline.RetryDelay = Duration(200 * time.Millisecond)
	}
	if cfg.Pipeline.StageTimeout == 0 {
		cfg.Pipeline.StageTimeout = Duration(30 * time.Second)
	}

	if cfg.Personalization.SimilarityThreshold == 0 {
		cfg.Personalization.SimilarityThreshold = 0.35
	}
	if cfg.Personalization.TopKSimilar == 0 {
		cfg.Personalization.TopKSimilar = 3
	}
	if cfg.Personalization.QueryTimeout == 0 {
		cfg.Personalization.QueryTimeout = Duration(5 * time.Second)
	}
	if cfg.Personalization.MaxExcerptChars == 0 {
		cfg.Personalization.MaxExcerptChars = 600
	}

	if cfg.Regeneration.DiffThreshold == 0 {
		cfg.Regeneration.DiffThreshold = 0.20
	}

	if cfg.Indexing.Workers == 0 {
		cfg.Indexing.Workers = 2
	}
	if cfg.Indexing.QueueSize == 0 {
		cfg.Indexing.QueueSize = 64
	}
	if cfg.Indexing.JobTimeout == 0 {
		cfg.Indexing.JobTimeout = Duration(30 * time.Second)
	}

	if cfg.Provider.Name == "" {
		cfg.Provider.Name = "stub"
	}
	if cfg.Provider.Model == "" {
		cfg.Provider.Model = "gpt-4o-mini"
	}
	if cfg.Provider.Temperature == 0 {
		cfg.Provider.Temperature = 0.7
	}
	if cfg.Provider.MaxTokens == 0 {
		cfg.Provider.MaxTokens = 1024
	}
	if cfg.Provider.RequestsPerMinute == 0 {
		cfg.Provider.RequestsPerMinute = 60
	}

	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "hash"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "BAAI/bge-small-en-v1.5"
	}
	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "http://localhost:8080"
	}
	if cfg.Embeddings.Dimension == 0 {
		cfg.Embeddings.Dimension = 384
	}

	if cfg.Index.Backend == "" {
		cfg.Index.Backend = "chromem"
	}
	if cfg.Index.Path == "" {
		cfg.Index.Path = "~/.local/share/mailsmith/index"
	}
	if cfg.Index.Qdrant.Host == "" {
		cfg.Index.Qdrant.Host = "localhost"
	}
	if cfg.Index.Qdrant.Port == 0 {
		cfg.Index.Qdrant.Port = 6334
	}
	if cfg.Index.Qdrant.Collection == "" {
		cfg.Index.Qdrant.Collection = "mailsmith_drafts"
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "~/.local/share/mailsmith/mailsmith.db"
	}
	if cfg.Storage.Timeout == 0 {
		cfg.Storage.Timeout = Duration(5 * time.Second)
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		errs = append(errs, fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format))
	}

	if c.Pipeline.RetryBound < 0 || c.Pipeline.RetryBound > 10 {
		errs = append(errs, fmt.Errorf("pipeline.retry_bound must be 0-10, got %d", c.Pipeline.RetryBound))
	}
	if c.Pipeline.StageTimeout.Duration() <= 0 {
		errs = append(errs, errors.New("pipeline.stage_timeout must be positive"))
	}

	if c.Personalization.SimilarityThreshold < 0 || c.Personalization.SimilarityThreshold > 1 {
		errs = append(errs, fmt.Errorf("personalization.similarity_threshold must be within [0,1], got %v", c.Personalization.SimilarityThreshold))
	}
	if c.Personalization.TopKSimilar < 1 {
		errs = append(errs, fmt.Errorf("personalization.top_k_similar must be positive, got %d", c.Personalization.TopKSimilar))
	}

	if c.Regeneration.DiffThreshold <= 0 || c.Regeneration.DiffThreshold > 1 {
		errs = append(errs, fmt.Errorf("regeneration.diff_threshold must be within (0,1], got %v", c.Regeneration.DiffThreshold))
	}

	if c.Indexing.Workers < 1 {
		errs = append(errs, fmt.Errorf("indexing.workers must be positive, got %d", c.Indexing.Workers))
	}
	if c.Indexing.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("indexing.queue_size must be positive, got %d", c.Indexing.QueueSize))
	}

	switch c.Provider.Name {
	case "stub":
	case "openai":
		if !c.Provider.APIKey.IsSet() && c.Provider.BaseURL == "" {
			errs = append(errs, errors.New("provider.api_key is required for the openai provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("provider.name must be 'openai' or 'stub', got %q", c.Provider.Name))
	}

	switch c.Embeddings.Provider {
	case "hash", "tei", "openai", "fastembed":
	default:
		errs = append(errs, fmt.Errorf("embeddings.provider must be one of hash, tei, openai, fastembed, got %q", c.Embeddings.Provider))
	}

	switch c.Index.Backend {
	case "chromem", "qdrant":
	default:
		errs = append(errs, fmt.Errorf("index.backend must be 'chromem' or 'qdrant', got %q", c.Index.Backend))
	}

	switch c.Storage.Driver {
	case "sqlite", "memory":
	default:
		errs = append(errs, fmt.Errorf("storage.driver must be 'sqlite' or 'memory', got %q", c.Storage.Driver))
	}

	return errors.Join(errs...)
}
