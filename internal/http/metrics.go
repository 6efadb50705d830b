package http

import (
	"errors"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const meterName = "github.com/fyrsmithlabs/mailsmith/internal/http"

// Generation requests run a whole pipeline, hence the long tail.
var requestBuckets = []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}

type instruments struct {
	requests metric.Int64Counter
	latency  metric.Float64Histogram
	inFlight metric.Int64UpDownCounter
}

func newInstruments(meter metric.Meter) (*instruments, error) {
	var ins instruments
	var e1, e2, e3 error
	ins.requests, e1 = meter.Int64Counter("mailsmith.http.requests_total",
		metric.WithDescription("HTTP requests by method, route and status"),
		metric.WithUnit("{request}"))
	ins.latency, e2 = meter.Float64Histogram("mailsmith.http.request_duration_seconds",
		metric.WithDescription("HTTP request latency by method, route and status"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(requestBuckets...))
	ins.inFlight, e3 = meter.Int64UpDownCounter("mailsmith.http.active_requests",
		metric.WithDescription("In-flight HTTP requests"),
		metric.WithUnit("{request}"))
	return &ins, errors.Join(e1, e2, e3)
}

// metricsMiddleware records one sample per request on the global meter.
func metricsMiddleware(logger *zap.Logger) echo.MiddlewareFunc {
	ins, err := newInstruments(otel.Meter(meterName))
	if err != nil {
		logger.Warn("http metrics partially unavailable", zap.Error(err))
	}
	return ins.middleware
}

func (ins *instruments) middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		ctx := c.Request().Context()
		if ins.inFlight != nil {
			ins.inFlight.Add(ctx, 1)
			defer ins.inFlight.Add(ctx, -1)
		}

		// The error handler writes the response here so the status is final.
		if err := next(c); err != nil {
			c.Error(err)
		}

		attrs := metric.WithAttributes(
			attribute.String("method", c.Request().Method),
			attribute.String("route", normalizePath(c.Path())),
			attribute.Int("status", c.Response().Status),
		)
		if ins.requests != nil {
			ins.requests.Add(ctx, 1, attrs)
		}
		if ins.latency != nil {
			ins.latency.Record(ctx, time.Since(start).Seconds(), attrs)
		}
		return nil
	}
}

// normalizePath turns an echo route template into a metric label. Owner ids
// never appear in labels: c.Path() already yields ":owner", which is
// rewritten to "{owner}". Requests that match no route share one label.
func normalizePath(path string) string {
	if path == "" {
		return "unmatched"
	}
	segments := strings.Split(path, "/")
	for i, s := range segments {
		if name, ok := strings.CutPrefix(s, ":"); ok {
			segments[i] = "{" + name + "}"
		}
	}
	return strings.Join(segments, "/")
}
