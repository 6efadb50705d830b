package generation

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const instrumentationName = "github.com/fyrsmithlabs/mailsmith/internal/generation"

// GuardConfig configures a Guard.
type GuardConfig struct {
	// Name labels metrics and spans, e.g. "openai".
	Name string
	// Timeout bounds each call. Zero disables the per-call deadline.
	Timeout time.Duration
	// RequestsPerMinute caps call throughput. Zero disables limiting.
	RequestsPerMinute int
}

// Guard wraps a Provider with a per-call timeout, a rate limiter, call
// counting and instrumentation. Every failure it returns is a *Error.
type Guard struct {
	inner   Provider
	cfg     GuardConfig
	limiter *rate.Limiter
	logger  *zap.Logger
	tracer  trace.Tracer

	calls    metric.Int64Counter
	duration metric.Float64Histogram
}

// NewGuard wraps inner.
func NewGuard(inner Provider, cfg GuardConfig, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Name == "" {
		cfg.Name = "provider"
	}

	g := &Guard{
		inner:  inner,
		cfg:    cfg,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
	}
	if cfg.RequestsPerMinute > 0 {
		perSecond := rate.Limit(float64(cfg.RequestsPerMinute) / 60.0)
		g.limiter = rate.NewLimiter(perSecond, max(1, cfg.RequestsPerMinute/10))
	}

	meter := otel.Meter(instrumentationName)
	var err error
	g.calls, err = meter.Int64Counter(
		"mailsmith.generation.calls_total",
		metric.WithDescription("Provider calls by task and outcome"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		logger.Warn("failed to create calls counter", zap.Error(err))
	}
	g.duration, err = meter.Float64Histogram(
		"mailsmith.generation.duration_seconds",
		metric.WithDescription("Provider call duration in seconds by task"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		logger.Warn("failed to create duration histogram", zap.Error(err))
	}
	return g
}

// Complete implements Provider.
func (g *Guard) Complete(ctx context.Context, prompt Prompt) (string, error) {
	ctx, span := g.tracer.Start(ctx, "generation.Complete", trace.WithAttributes(
		attribute.String("provider", g.cfg.Name),
		attribute.String("task", string(prompt.Task)),
	))
	defer span.End()

	countCall(ctx)
	start := time.Now()

	out, err := g.complete(ctx, prompt)
	g.record(ctx, prompt.Task, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.logger.Debug("provider call failed",
			zap.String("task", string(prompt.Task)),
			zap.Error(err))
		return "", err
	}
	return out, nil
}

func (g *Guard) complete(ctx context.Context, prompt Prompt) (string, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			// Wait fails when the deadline cannot accommodate the next token.
			return "", newError(ErrQuotaExceeded, g.cfg.Name, err)
		}
	}

	callCtx := ctx
	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	out, err := g.inner.Complete(callCtx, prompt)
	if err == nil {
		return out, nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		return "", classified
	}
	if ctx.Err() != nil {
		// The caller gave up. Surface that rather than a retryable timeout.
		return "", ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "", newError(ErrTimeout, g.cfg.Name, err)
	}
	return "", newError(ErrProvider, g.cfg.Name, err)
}

func (g *Guard) record(ctx context.Context, task Task, d time.Duration, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrTimeout):
		outcome = "timeout"
	case errors.Is(err, ErrQuotaExceeded):
		outcome = "quota"
	default:
		outcome = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("provider", g.cfg.Name),
		attribute.String("task", string(task)),
		attribute.String("outcome", outcome),
	)
	if g.calls != nil {
		g.calls.Add(ctx, 1, attrs)
	}
	if g.duration != nil {
		g.duration.Record(ctx, d.Seconds(), attrs)
	}
}
