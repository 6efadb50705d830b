package logging

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/mailsmith/internal/config"
)

type exportedRecord struct {
	body  string
	attrs map[string]string
}

type recordExporter struct {
	mu      sync.Mutex
	records []exportedRecord
}

func (e *recordExporter) Export(_ context.Context, records []sdklog.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range records {
		rec := exportedRecord{body: r.Body().AsString(), attrs: map[string]string{}}
		r.WalkAttributes(func(kv otellog.KeyValue) bool {
			rec.attrs[kv.Key] = kv.Value.String()
			return true
		})
		e.records = append(e.records, rec)
	}
	return nil
}

func (e *recordExporter) Shutdown(context.Context) error   { return nil }
func (e *recordExporter) ForceFlush(context.Context) error { return nil }

func (e *recordExporter) all() []exportedRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]exportedRecord(nil), e.records...)
}

func newBridgedLogger(t *testing.T, mutate func(*Config)) (*Logger, *bytes.Buffer, *recordExporter) {
	t.Helper()
	exp := &recordExporter{}
	lp := sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewSimpleProcessor(exp)))
	t.Cleanup(func() { _ = lp.Shutdown(context.Background()) })

	cfg := NewDefaultConfig()
	cfg.Sampling.Enabled = false
	cfg.Caller = false
	cfg.Output.OTEL = true
	if mutate != nil {
		mutate(cfg)
	}
	var buf bytes.Buffer
	logger, err := newLogger(cfg, &buf, lp)
	require.NoError(t, err)
	return logger, &buf, exp
}

func TestLogger_OTELBridge(t *testing.T) {
	logger, buf, exp := newBridgedLogger(t, nil)
	ctx := WithOwner(context.Background(), "owner-7")

	logger.With(zap.String("token", "abc123")).Info(ctx, "draft saved",
		zap.String("api_key", "sk-live"),
		zap.String("draft_id", "d-1"))
	logger.Debug(ctx, "below the configured level")

	records := exp.all()
	require.Len(t, records, 1)
	assert.Equal(t, "draft saved", records[0].body)
	assert.Equal(t, "d-1", records[0].attrs["draft_id"])
	assert.Equal(t, redacted, records[0].attrs["api_key"])
	assert.Equal(t, redacted, records[0].attrs["token"])
	assert.Equal(t, "owner-7", records[0].attrs["owner.id"])

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1, "stdout still receives the entry")
	assert.Equal(t, "draft saved", lines[0]["msg"])
}

func TestLogger_OTELOnly(t *testing.T) {
	logger, buf, exp := newBridgedLogger(t, func(c *Config) { c.Output.Stdout = false })

	logger.Warn(context.Background(), "index unavailable")

	assert.Empty(t, buf.String())
	require.Len(t, exp.all(), 1)
	assert.Equal(t, "index unavailable", exp.all()[0].body)
}

func TestLogger_OTELWithoutProvider(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Output = OutputConfig{OTEL: true}

	_, err := NewLoggerTo(cfg, &bytes.Buffer{})
	assert.ErrorContains(t, err, "at least one log output")

	cfg.Output.Stdout = true
	logger, err := NewLoggerTo(cfg, &bytes.Buffer{})
	require.NoError(t, err)
	assert.True(t, logger.Enabled(zapcore.InfoLevel))
}

func TestConfig_RequiresAnOutput(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Output = OutputConfig{}
	assert.ErrorContains(t, cfg.Validate(), "at least one output")

	fromApp, err := FromAppConfig(config.LoggingConfig{Level: "info", OTEL: true})
	require.NoError(t, err)
	assert.Equal(t, OutputConfig{Stdout: true, OTEL: true}, fromApp.Output)
}
