package similarity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mailsmith/internal/embeddings"
)

// MetadataAppender records that a draft has been indexed.
type MetadataAppender interface {
	AppendMetadata(ctx context.Context, owner, draftID string, meta map[string]any) error
}

// IndexerConfig configures the background write path.
type IndexerConfig struct {
	Enabled    bool
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
}

// Stats is a snapshot of indexer counters.
type Stats struct {
	Enabled bool  `json:"enabled"`
	Pending int   `json:"pending"`
	Queued  int64 `json:"queued"`
	Indexed int64 `json:"indexed"`
	Failed  int64 `json:"failed"`
	Dropped int64 `json:"dropped"`
}

type indexJob struct {
	owner     string
	draftID   string
	content   string
	createdAt time.Time
}

// Indexer embeds saved drafts and upserts them into the Index on a bounded
// worker pool. Callers never wait on it and never see its errors.
type Indexer struct {
	cfg      IndexerConfig
	embedder embeddings.Embedder
	index    Index
	appender MetadataAppender
	logger   *zap.Logger

	jobs chan indexJob
	quit chan struct{}

	// Detached from any request; cancelled only when Stop gives up draining.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	started  bool
	stopped  bool
	workers  sync.WaitGroup
	overflow sync.WaitGroup

	queued  atomic.Int64
	indexed atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64

	now func() time.Time
}

// NewIndexer creates an Indexer. appender may be nil.
func NewIndexer(cfg IndexerConfig, embedder embeddings.Embedder, index Index, appender MetadataAppender, logger *zap.Logger) *Indexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Indexer{
		cfg:      cfg,
		embedder: embedder,
		index:    index,
		appender: appender,
		logger:   logger,
		jobs:     make(chan indexJob, cfg.QueueSize),
		quit:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Enabled reports whether IndexAfterSave does anything.
func (ix *Indexer) Enabled() bool {
	return ix != nil && ix.cfg.Enabled
}

// Start launches the workers. It is a no-op when disabled or already started.
func (ix *Indexer) Start() {
	if !ix.Enabled() {
		return
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.started || ix.stopped {
		return
	}
	ix.started = true

	for i := 0; i < ix.cfg.Workers; i++ {
		ix.workers.Add(1)
		go func() {
			defer ix.workers.Done()
			for job := range ix.jobs {
				IndexQueueDepth.Set(float64(len(ix.jobs)))
				ix.process(job)
			}
		}()
	}
	ix.logger.Info("indexer started",
		zap.Int("workers", ix.cfg.Workers),
		zap.Int("queue_size", ix.cfg.QueueSize))
}

// Stop refuses new jobs and drains the queue. If ctx expires first, running
// jobs are cancelled and ctx.Err() is returned.
func (ix *Indexer) Stop(ctx context.Context) error {
	if !ix.Enabled() {
		return nil
	}
	ix.mu.Lock()
	if ix.stopped {
		ix.mu.Unlock()
		return nil
	}
	ix.stopped = true
	started := ix.started
	close(ix.quit)
	ix.mu.Unlock()

	done := make(chan struct{})
	go func() {
		ix.overflow.Wait()
		close(ix.jobs)
		if !started {
			for range ix.jobs {
				ix.dropped.Add(1)
				IndexJobs.WithLabelValues("dropped").Inc()
			}
		}
		ix.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		ix.cancel()
		IndexQueueDepth.Set(0)
		ix.logger.Info("indexer stopped", zap.Any("stats", ix.Stats()))
		return nil
	case <-ctx.Done():
		ix.cancel()
		<-done
		return ctx.Err()
	}
}

// IndexAfterSave schedules draftID for indexing and returns immediately.
// metadata may carry "created_at" as a time.Time.
func (ix *Indexer) IndexAfterSave(owner, draftID, content string, metadata map[string]any) {
	if !ix.Enabled() {
		IndexJobs.WithLabelValues("skipped").Inc()
		return
	}
	job := indexJob{owner: owner, draftID: draftID, content: content, createdAt: ix.now()}
	if ts, ok := metadata["created_at"].(time.Time); ok && !ts.IsZero() {
		job.createdAt = ts
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.stopped {
		ix.drop(job, "indexer stopped")
		return
	}
	ix.queued.Add(1)

	select {
	case ix.jobs <- job:
		IndexQueueDepth.Set(float64(len(ix.jobs)))
		return
	default:
	}

	// Queue full: wait for space off the caller's goroutine.
	ix.overflow.Add(1)
	go func() {
		defer ix.overflow.Done()
		select {
		case ix.jobs <- job:
		case <-ix.quit:
			select {
			case ix.jobs <- job:
			default:
				ix.drop(job, "queue full at shutdown")
			}
		}
	}()
}

func (ix *Indexer) drop(job indexJob, reason string) {
	ix.dropped.Add(1)
	IndexJobs.WithLabelValues("dropped").Inc()
	ix.logger.Warn("index job dropped",
		zap.String("draft_id", job.draftID),
		zap.String("reason", reason))
}

func (ix *Indexer) process(job indexJob) {
	ctx, cancel := context.WithTimeout(ix.ctx, ix.cfg.JobTimeout)
	defer cancel()

	if err := ix.indexOne(ctx, job); err != nil {
		ix.failed.Add(1)
		IndexJobs.WithLabelValues("failed").Inc()
		ix.logger.Error("indexing failed",
			zap.String("draft_id", job.draftID),
			zap.Error(err))
		return
	}
	ix.indexed.Add(1)
	IndexJobs.WithLabelValues("indexed").Inc()
}

func (ix *Indexer) indexOne(ctx context.Context, job indexJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("indexing panic: %v", r)
		}
	}()

	vectors, err := ix.embedder.EmbedDocuments(ctx, []string{job.content})
	if err != nil {
		return fmt.Errorf("embedding draft: %w", err)
	}
	if len(vectors) != 1 {
		return errors.New("embedder returned no vector")
	}
	err = ix.index.Upsert(ctx, Entry{
		Owner:     job.owner,
		DraftID:   job.draftID,
		Content:   job.content,
		Vector:    vectors[0],
		CreatedAt: job.createdAt,
	})
	if err != nil {
		return fmt.Errorf("upserting entry: %w", err)
	}

	if ix.appender != nil {
		meta := map[string]any{"indexed_at": ix.now().Format(time.RFC3339Nano)}
		if err := ix.appender.AppendMetadata(ctx, job.owner, job.draftID, meta); err != nil {
			// The entry is searchable already; only the marker is missing.
			ix.logger.Warn("recording indexed_at failed",
				zap.String("draft_id", job.draftID),
				zap.Error(err))
		}
	}
	return nil
}

// Stats returns a snapshot of the counters.
func (ix *Indexer) Stats() Stats {
	if ix == nil {
		return Stats{}
	}
	return Stats{
		Enabled: ix.cfg.Enabled,
		Pending: len(ix.jobs),
		Queued:  ix.queued.Load(),
		Indexed: ix.indexed.Load(),
		Failed:  ix.failed.Load(),
		Dropped: ix.dropped.Load(),
	}
}
