package services

import (
	"context"
	"errors"

	"github.com/fyrsmithlabs/mailsmith/internal/assistant"
	"github.com/fyrsmithlabs/mailsmith/internal/embeddings"
	"github.com/fyrsmithlabs/mailsmith/internal/generation"
	"github.com/fyrsmithlabs/mailsmith/internal/persistence"
	"github.com/fyrsmithlabs/mailsmith/internal/similarity"
)

// Registry provides access to all mailsmith services.
// Use accessor methods to retrieve individual services.
type Registry interface {
	Assistant() *assistant.Assistant
	Store() persistence.Gateway
	Indexer() *similarity.Indexer
	Index() similarity.Index
	Embedder() embeddings.Provider
	Provider() generation.Provider

	// Close stops the indexer, then releases the index, embedder and store.
	Close(ctx context.Context) error
}

// Options configures the registry with service instances.
type Options struct {
	Assistant *assistant.Assistant
	Store     persistence.Gateway
	Indexer   *similarity.Indexer
	Index     similarity.Index
	Embedder  embeddings.Provider
	Provider  generation.Provider
}

// registry is the concrete implementation of Registry.
type registry struct {
	assistant *assistant.Assistant
	store     persistence.Gateway
	indexer   *similarity.Indexer
	index     similarity.Index
	embedder  embeddings.Provider
	provider  generation.Provider
}

// NewRegistry creates a new service registry.
func NewRegistry(opts Options) Registry {
	return &registry{
		assistant: opts.Assistant,
		store:     opts.Store,
		indexer:   opts.Indexer,
		index:     opts.Index,
		embedder:  opts.Embedder,
		provider:  opts.Provider,
	}
}

func (r *registry) Assistant() *assistant.Assistant { return r.assistant }
func (r *registry) Store() persistence.Gateway      { return r.store }
func (r *registry) Indexer() *similarity.Indexer    { return r.indexer }
func (r *registry) Index() similarity.Index         { return r.index }
func (r *registry) Embedder() embeddings.Provider   { return r.embedder }
func (r *registry) Provider() generation.Provider   { return r.provider }

func (r *registry) Close(ctx context.Context) error {
	var errs []error
	if r.indexer != nil {
		if err := r.indexer.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if r.index != nil {
		errs = append(errs, r.index.Close())
	}
	if r.embedder != nil {
		errs = append(errs, r.embedder.Close())
	}
	if r.store != nil {
		errs = append(errs, r.store.Close())
	}
	return errors.Join(errs...)
}
