package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

func TestMetricsMiddleware(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))

	ins, err := newInstruments(mp.Meter(meterName))
	require.NoError(t, err)

	e := echo.New()
	e.Use(ins.middleware)
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/api/v1/owners/:owner/drafts", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"owner": c.Param("owner")})
	})
	e.POST("/api/v1/generate", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusBadRequest, "nope")
	})

	for _, r := range []struct{ method, path string }{
		{http.MethodGet, "/health"},
		{http.MethodGet, "/api/v1/owners/alice/drafts"},
		{http.MethodGet, "/api/v1/owners/bob/drafts"},
		{http.MethodPost, "/api/v1/generate"},
	} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(r.method, r.path, nil))
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	byRoute := map[string]int64{}
	statuses := map[int64]int64{}
	var durations uint64
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			switch md.Name {
			case "mailsmith.http.requests_total":
				sum, ok := md.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				for _, dp := range sum.DataPoints {
					route, _ := dp.Attributes.Value(attribute.Key("route"))
					status, _ := dp.Attributes.Value(attribute.Key("status"))
					byRoute[route.AsString()] += dp.Value
					statuses[status.AsInt64()] += dp.Value
				}
			case "mailsmith.http.request_duration_seconds":
				hist, ok := md.Data.(metricdata.Histogram[float64])
				require.True(t, ok)
				for _, dp := range hist.DataPoints {
					durations += dp.Count
				}
			}
		}
	}

	assert.Equal(t, int64(2), byRoute["/api/v1/owners/{owner}/drafts"], "owner ids must not become labels")
	assert.Equal(t, int64(1), byRoute["/health"])
	assert.Equal(t, int64(1), statuses[http.StatusBadRequest], "status is recorded after error handling")
	assert.Equal(t, uint64(4), durations)
}

func TestMetricsMiddleware_ErrorIsHandledOnce(t *testing.T) {
	e := echo.New()
	calls := 0
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		calls++
		_ = c.NoContent(http.StatusTeapot)
	}
	e.Use(metricsMiddleware(zap.NewNop()))
	e.GET("/boom", func(echo.Context) error { return errors.New("boom") })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, 1, calls)
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", "unmatched"},
		{"/health", "/health"},
		{"/api/v1/generate", "/api/v1/generate"},
		{"/api/v1/owners/:owner/drafts", "/api/v1/owners/{owner}/drafts"},
		{"/api/v1/owners/:owner/profile", "/api/v1/owners/{owner}/profile"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, normalizePath(tt.input), tt.input)
	}
}
