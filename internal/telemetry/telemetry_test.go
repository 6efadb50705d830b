package telemetry

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/fyrsmithlabs/mailsmith/internal/config"
	"github.com/fyrsmithlabs/mailsmith/internal/email"
	"github.com/fyrsmithlabs/mailsmith/internal/workflow"
)

func TestFromAppConfig(t *testing.T) {
	cfg := FromAppConfig(config.Default().Telemetry, "1.2.3")
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.Equal(t, ProtocolGRPC, cfg.Protocol)
	assert.Equal(t, "1.2.3", cfg.ServiceVersion)
	assert.Equal(t, 1.0, cfg.SamplingRate)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	enabled := func(mut func(*Config)) *Config {
		c := NewDefaultConfig()
		c.Enabled = true
		mut(c)
		return c
	}
	tests := []struct {
		name    string
		cfg     *Config
		wantErr string
	}{
		{"disabled skips checks", &Config{}, ""},
		{"defaults", enabled(func(*Config) {}), ""},
		{"missing endpoint", enabled(func(c *Config) { c.Endpoint = "" }), "endpoint is required"},
		{"bad protocol", enabled(func(c *Config) { c.Protocol = "udp" }), "protocol must be"},
		{"insecure remote", enabled(func(c *Config) { c.Endpoint = "otel.example.com:4317" }), "insecure export"},
		{"secure remote", enabled(func(c *Config) { c.Endpoint = "otel.example.com:4317"; c.Insecure = false }), ""},
		{"sampling above one", enabled(func(c *Config) { c.SamplingRate = 1.5 }), "sampling rate"},
		{"zero interval", enabled(func(c *Config) { c.ExportInterval = 0 }), "export interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestConfig_IsLocalEndpoint(t *testing.T) {
	for endpoint, want := range map[string]bool{
		"localhost:4317":         true,
		"127.0.0.1:4317":         true,
		"127.1.2.3:4317":         true,
		"[::1]:4317":             true,
		"::1":                    true,
		"http://localhost:4318":  true,
		"otel.example.com:4317":  false,
		"https://10.0.0.5:4318":  false,
		"localhost.evil.com:443": false,
	} {
		c := &Config{Endpoint: endpoint}
		assert.Equal(t, want, c.isLocalEndpoint(), endpoint)
	}
}

func TestSampler(t *testing.T) {
	assert.Contains(t, sampler(1).Description(), "AlwaysOnSampler")
	assert.Contains(t, sampler(0).Description(), "AlwaysOffSampler")
	assert.Contains(t, sampler(0.5).Description(), "TraceIDRatioBased")
}

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig(), nil)
	require.NoError(t, err)
	assert.Equal(t, HealthStatus{}, tel.Health())
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.SamplingRate = -1
	_, err := New(context.Background(), cfg, nil)
	assert.ErrorContains(t, err, "invalid telemetry config")
}

func TestNew_WithExporters(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	spans := tracetest.NewInMemoryExporter()

	tel, err := New(context.Background(), cfg, nil,
		WithTraceExporter(spans),
		WithMetricExporter(noopMetricExporter{}),
		WithLogExporter(&memoryLogExporter{}))
	require.NoError(t, err)
	assert.Equal(t, HealthStatus{Enabled: true}, tel.Health())

	_, span := tel.tracerProvider.Tracer("test").Start(context.Background(), "sample")
	span.End()
	require.NoError(t, tel.tracerProvider.ForceFlush(context.Background()))
	require.Len(t, spans.GetSpans(), 1)
	assert.Equal(t, "sample", spans.GetSpans()[0].Name)

	require.NoError(t, tel.Shutdown(context.Background()))
	assert.False(t, tel.Health().Enabled)
	assert.NoError(t, tel.Shutdown(context.Background()), "second shutdown is a no-op")
}

type noopMetricExporter struct{}

func (noopMetricExporter) Temporality(k metric.InstrumentKind) metricdata.Temporality {
	return metric.DefaultTemporalitySelector(k)
}

func (noopMetricExporter) Aggregation(k metric.InstrumentKind) metric.Aggregation {
	return metric.DefaultAggregationSelector(k)
}

func (noopMetricExporter) Export(context.Context, *metricdata.ResourceMetrics) error { return nil }
func (noopMetricExporter) ForceFlush(context.Context) error                          { return nil }
func (noopMetricExporter) Shutdown(context.Context) error                            { return nil }

// memoryLogExporter keeps exported log bodies.
type memoryLogExporter struct {
	mu     sync.Mutex
	bodies []string
}

func (e *memoryLogExporter) Export(_ context.Context, records []sdklog.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range records {
		e.bodies = append(e.bodies, r.Body().AsString())
	}
	return nil
}

func (e *memoryLogExporter) Shutdown(context.Context) error   { return nil }
func (e *memoryLogExporter) ForceFlush(context.Context) error { return nil }

func (e *memoryLogExporter) Bodies() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.bodies...)
}

func TestNew_LoggerProvider(t *testing.T) {
	disabled, err := New(context.Background(), NewDefaultConfig(), nil)
	require.NoError(t, err)
	assert.Nil(t, disabled.LoggerProvider())

	cfg := NewDefaultConfig()
	cfg.Enabled = true
	logs := &memoryLogExporter{}
	tel, err := New(context.Background(), cfg, nil,
		WithTraceExporter(tracetest.NewInMemoryExporter()),
		WithMetricExporter(noopMetricExporter{}),
		WithLogExporter(logs))
	require.NoError(t, err)
	require.NotNil(t, tel.LoggerProvider())

	var rec otellog.Record
	rec.SetBody(otellog.StringValue("draft saved"))
	tel.LoggerProvider().Logger("test").Emit(context.Background(), rec)

	require.NoError(t, tel.Shutdown(context.Background()), "shutdown flushes the batch processor")
	assert.Equal(t, []string{"draft saved"}, logs.Bodies())
}

func TestNilTelemetryIsSafe(t *testing.T) {
	var tel *Telemetry
	assert.NoError(t, tel.Shutdown(context.Background()))
	assert.Equal(t, HealthStatus{}, tel.Health())
	assert.Nil(t, tel.LoggerProvider())
}

func TestTestTelemetry_RecordsEngineSpans(t *testing.T) {
	tt := NewTestTelemetry()
	tt.Install(t)

	engine := workflow.NewEngine(workflow.Config{RetryBound: 1}, workflow.HeuristicRouter{}, nil)
	state, err := workflow.NewState("owner-1", workflow.RawRequest{Prompt: "hello"}, email.ToneFormal, email.Profile{})
	require.NoError(t, err)

	_, err = engine.Run(context.Background(), state, []workflow.Stage{
		workflow.NewStage("draft", func(_ context.Context, s workflow.State) (workflow.State, error) {
			s.Draft = "Dear Sam,\n\nHello.\n\nBest regards"
			return s, nil
		}),
		workflow.NewStage("refine", func(_ context.Context, s workflow.State) (workflow.State, error) {
			s.FinalDraft = s.Draft
			return s, nil
		}),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, tt.SpanCount("workflow.Run"))
	tt.AssertSpanAttribute(t, "workflow.Run", "invocations", int64(2))
	assert.Equal(t, []string{"draft", "refine"}, tt.StageOrder())
}

func TestTestTelemetry_MetricNames(t *testing.T) {
	tt := NewTestTelemetry()
	counter, err := tt.meterProvider.Meter("test").Int64Counter("requests_total")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)

	names, err := tt.MetricNames(context.Background())
	require.NoError(t, err)
	assert.Contains(t, names, "requests_total")
}
