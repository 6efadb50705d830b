package logging

import (
	"errors"
	"fmt"
	"io"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap/zapcore"
)

// bridgeScope names the instrumentation scope of bridged records.
const bridgeScope = "github.com/fyrsmithlabs/mailsmith"

// newDualCore builds the writer core and, when OTEL output is on and a
// provider is available, tees it with the otelzap bridge. Sampling wraps
// both.
func newDualCore(cfg *Config, w io.Writer, lp log.LoggerProvider) (zapcore.Core, error) {
	cores := make([]zapcore.Core, 0, 2)

	if cfg.Output.Stdout {
		enc, err := NewRedactingEncoder(newEncoder(cfg.Format), cfg.Redaction)
		if err != nil {
			return nil, fmt.Errorf("failed to create redacting encoder: %w", err)
		}
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(w), cfg.Level))
	}

	if cfg.Output.OTEL && lp != nil {
		r, err := newRedactor(cfg.Redaction)
		if err != nil {
			return nil, err
		}
		cores = append(cores, &bridgeCore{
			Core:  otelzap.NewCore(bridgeScope, otelzap.WithLoggerProvider(lp)),
			level: cfg.Level,
			r:     r,
		})
	}

	if len(cores) == 0 {
		return nil, errors.New("at least one log output must be enabled and available")
	}
	return newSampledCore(zapcore.NewTee(cores...), cfg.Sampling), nil
}

// bridgeCore gives the otel bridge the level and redaction rules the
// encoded output already has.
type bridgeCore struct {
	zapcore.Core
	level zapcore.LevelEnabler
	r     *redactor
}

func (c *bridgeCore) Enabled(l zapcore.Level) bool {
	return c.level.Enabled(l) && c.Core.Enabled(l)
}

func (c *bridgeCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(e.Level) {
		return ce.AddCore(e, c)
	}
	return ce
}

func (c *bridgeCore) With(fields []zapcore.Field) zapcore.Core {
	return &bridgeCore{Core: c.Core.With(c.redact(fields)), level: c.level, r: c.r}
}

func (c *bridgeCore) Write(e zapcore.Entry, fields []zapcore.Field) error {
	return c.Core.Write(e, c.redact(fields))
}

func (c *bridgeCore) redact(fields []zapcore.Field) []zapcore.Field {
	if c.r.empty() || len(fields) == 0 {
		return fields
	}
	out := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		out[i] = c.r.field(f)
	}
	return out
}
