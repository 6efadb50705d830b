package logging

import (
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger records every entry, trace level included, for assertions.
type TestLogger struct {
	*Logger
	logs *observer.ObservedLogs
}

// NewTestLogger returns a TestLogger with default config and no output.
func NewTestLogger() *TestLogger {
	core, logs := observer.New(TraceLevel)
	return &TestLogger{
		Logger: &Logger{zap: zap.New(core), config: NewDefaultConfig()},
		logs:   logs,
	}
}

// Entries returns everything logged so far.
func (t *TestLogger) Entries() []observer.LoggedEntry { return t.logs.All() }

// Count returns how many entries carry exactly msg.
func (t *TestLogger) Count(msg string) int { return t.logs.FilterMessage(msg).Len() }

// Reset drops the recorded entries.
func (t *TestLogger) Reset() { t.logs.TakeAll() }

func (t *TestLogger) find(level zapcore.Level, substr string) (observer.LoggedEntry, bool) {
	for _, e := range t.logs.All() {
		if e.Level == level && strings.Contains(e.Message, substr) {
			return e, true
		}
	}
	return observer.LoggedEntry{}, false
}

// AssertLogged fails tb unless an entry at level contains substr.
func (t *TestLogger) AssertLogged(tb testing.TB, level zapcore.Level, substr string) {
	tb.Helper()
	if _, ok := t.find(level, substr); !ok {
		tb.Errorf("no %v entry containing %q in %d entries", level, substr, len(t.logs.All()))
	}
}

// AssertNotLogged fails tb if an entry at level contains substr.
func (t *TestLogger) AssertNotLogged(tb testing.TB, level zapcore.Level, substr string) {
	tb.Helper()
	if e, ok := t.find(level, substr); ok {
		tb.Errorf("unexpected %v entry %q", level, e.Message)
	}
}

// AssertField fails tb unless an entry with message msg has key set to want.
func (t *TestLogger) AssertField(tb testing.TB, msg, key string, want any) {
	tb.Helper()
	for _, e := range t.logs.FilterMessage(msg).All() {
		if got, ok := e.ContextMap()[key]; ok && got == want {
			return
		}
	}
	tb.Errorf("no %q entry with %s=%v", msg, key, want)
}

// AssertNoSecrets fails tb if a field named like a credential holds a value
// that was not redacted.
func (t *TestLogger) AssertNoSecrets(tb testing.TB) {
	tb.Helper()
	keys := NewDefaultConfig().Redaction.Fields
	for _, e := range t.logs.All() {
		for _, f := range e.Context {
			if f.Type != zapcore.StringType || f.String == "" || strings.HasPrefix(f.String, "[REDACTED") {
				continue
			}
			name := strings.ToLower(f.Key)
			for _, k := range keys {
				if strings.Contains(name, k) {
					tb.Errorf("field %q in %q is not redacted", f.Key, e.Message)
				}
			}
		}
	}
}
