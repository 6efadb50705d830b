package similarity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/fyrsmithlabs/mailsmith/internal/similarity")

// ChromemConfig configures the embedded index.
type ChromemConfig struct {
	// Path is the on-disk location. Empty keeps the index in memory.
	Path string
	// Compress gzips persisted documents.
	Compress bool
}

// ChromemIndex is an embedded Index backed by chromem-go. Each owner gets a
// collection of their own.
type ChromemIndex struct {
	db     *chromem.DB
	logger *zap.Logger

	// createMu serializes collection creation. chromem's get-or-create is
	// not atomic, and a second create replaces the first collection.
	createMu sync.Mutex
}

// NewChromemIndex opens or creates the index.
func NewChromemIndex(cfg ChromemConfig, logger *zap.Logger) (*ChromemIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Path == "" {
		return &ChromemIndex{db: chromem.NewDB(), logger: logger}, nil
	}

	path, err := expandPath(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(path, 0o700); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", path, err)
	}
	db, err := chromem.NewPersistentDB(path, cfg.Compress)
	if err != nil {
		return nil, fmt.Errorf("opening chromem db: %w", err)
	}

	logger.Info("similarity index opened",
		zap.String("backend", "chromem"),
		zap.String("path", path),
		zap.Bool("compress", cfg.Compress))
	return &ChromemIndex{db: db, logger: logger}, nil
}

func expandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, path[1:]), nil
}

func collectionName(owner string) string {
	return "drafts_" + ownerKey(owner)
}

// Vectors are always supplied by the caller, so the collection never embeds.
func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errors.New("similarity: documents must carry their embedding")
}

func (c *ChromemIndex) collection(owner string) (*chromem.Collection, error) {
	name := collectionName(owner)
	if col := c.db.GetCollection(name, noEmbedding); col != nil {
		return col, nil
	}
	c.createMu.Lock()
	defer c.createMu.Unlock()
	return c.db.GetOrCreateCollection(name, nil, noEmbedding)
}

// Upsert implements Index.
func (c *ChromemIndex) Upsert(ctx context.Context, e Entry) error {
	ctx, span := tracer.Start(ctx, "ChromemIndex.Upsert")
	defer span.End()

	if err := e.validate(); err != nil {
		return err
	}
	col, err := c.collection(e.Owner)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("getting collection: %w", err)
	}

	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	err = col.AddDocument(ctx, chromem.Document{
		ID:        e.DraftID,
		Content:   e.Content,
		Embedding: e.Vector,
		Metadata: map[string]string{
			"owner":      e.Owner,
			"created_at": created.Format(time.RFC3339Nano),
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("adding document: %w", err)
	}
	return nil
}

// Query implements Index.
func (c *ChromemIndex) Query(ctx context.Context, owner string, vector []float32, k int) ([]Hit, error) {
	ctx, span := tracer.Start(ctx, "ChromemIndex.Query")
	defer span.End()
	span.SetAttributes(attribute.Int("k", k))

	if owner == "" || k <= 0 || len(vector) == 0 {
		return []Hit{}, nil
	}
	col := c.db.GetCollection(collectionName(owner), noEmbedding)
	if col == nil {
		return []Hit{}, nil
	}
	// chromem rejects nResults above the document count.
	n := col.Count()
	if n == 0 {
		return []Hit{}, nil
	}
	k = min(k, n)

	results, err := col.QueryEmbedding(ctx, vector, k, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		h := Hit{DraftID: r.ID, Content: r.Content, Score: r.Similarity}
		if ts, err := time.Parse(time.RFC3339Nano, r.Metadata["created_at"]); err == nil {
			h.CreatedAt = ts
		}
		hits = append(hits, h)
	}
	span.SetAttributes(attribute.Int("results", len(hits)))
	return hits, nil
}

// Close implements Index. Persistent collections are written on every
// upsert, so there is nothing to flush.
func (c *ChromemIndex) Close() error { return nil }
