package embeddings

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const meterName = "github.com/fyrsmithlabs/mailsmith/internal/embeddings"

var latencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// instruments are the embedding call metrics. A nil instrument is skipped.
type instruments struct {
	latency metric.Float64Histogram
	texts   metric.Int64Histogram
	failed  metric.Int64Counter
}

func newInstruments(meter metric.Meter) (*instruments, error) {
	var ins instruments
	var e1, e2, e3 error
	ins.latency, e1 = meter.Float64Histogram("mailsmith.embedding.duration_seconds",
		metric.WithDescription("Embedding call latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...))
	ins.texts, e2 = meter.Int64Histogram("mailsmith.embedding.batch_size",
		metric.WithDescription("Texts per embedding call"),
		metric.WithUnit("{text}"),
		metric.WithExplicitBucketBoundaries(1, 2, 5, 10, 25, 50, 100))
	ins.failed, e3 = meter.Int64Counter("mailsmith.embedding.errors_total",
		metric.WithDescription("Failed embedding calls"),
		metric.WithUnit("{error}"))
	return &ins, errors.Join(e1, e2, e3)
}

func (ins *instruments) observe(ctx context.Context, model, op string, took time.Duration, n int, err error) {
	opt := metric.WithAttributes(attribute.String("model", model), attribute.String("operation", op))
	if ins.latency != nil {
		ins.latency.Record(ctx, took.Seconds(), opt)
	}
	if ins.texts != nil && n > 0 {
		ins.texts.Record(ctx, int64(n), opt)
	}
	if ins.failed != nil && err != nil {
		ins.failed.Add(ctx, 1, opt)
	}
}

// instrumented records metrics around every call of the wrapped provider.
type instrumented struct {
	Provider
	model string
	ins   *instruments
}

func instrument(p Provider, model string, logger *zap.Logger) Provider {
	ins, err := newInstruments(otel.Meter(meterName))
	if err != nil {
		logger.Warn("embedding metrics partially unavailable", zap.Error(err))
	}
	return &instrumented{Provider: p, model: model, ins: ins}
}

func (i *instrumented) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	out, err := i.Provider.EmbedDocuments(ctx, texts)
	i.ins.observe(ctx, i.model, "embed_documents", time.Since(start), len(texts), err)
	return out, err
}

func (i *instrumented) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	out, err := i.Provider.EmbedQuery(ctx, text)
	i.ins.observe(ctx, i.model, "embed_query", time.Since(start), 1, err)
	return out, err
}
