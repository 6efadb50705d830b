package logging

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/fyrsmithlabs/mailsmith/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

const (
	redacted        = "[REDACTED]"
	redactedPattern = "[REDACTED:pattern]"

	maxPatternLen = 200
	previewRunes  = 80
)

// Secret logs a config.Secret as its length only.
func Secret(key string, val config.Secret) zap.Field {
	return RedactedString(key, val.Value())
}

// RedactedString logs val as its length only.
func RedactedString(key, val string) zap.Field {
	return zap.String(key, fmt.Sprintf("[REDACTED:%d]", len(val)))
}

// DraftPreview logs the first runes of a draft body. Full drafts stay out of
// the logs.
func DraftPreview(key, draft string) zap.Field {
	flat := strings.Join(strings.Fields(draft), " ")
	if utf8.RuneCountInString(flat) <= previewRunes {
		return zap.String(key, flat)
	}
	return zap.String(key, string([]rune(flat)[:previewRunes])+"...")
}

// redactor decides which keys and values are masked.
type redactor struct {
	keys     map[string]struct{}
	patterns []*regexp.Regexp
}

func newRedactor(cfg RedactionConfig) (*redactor, error) {
	r := &redactor{keys: make(map[string]struct{}, len(cfg.Fields))}
	if !cfg.Enabled {
		return r, nil
	}
	for _, k := range cfg.Fields {
		r.keys[strings.ToLower(k)] = struct{}{}
	}
	for _, p := range cfg.Patterns {
		if len(p) > maxPatternLen {
			return nil, fmt.Errorf("redaction pattern longer than %d chars: %q", maxPatternLen, p)
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
		}
		r.patterns = append(r.patterns, re)
	}
	return r, nil
}

func (r *redactor) empty() bool { return len(r.keys) == 0 && len(r.patterns) == 0 }

func (r *redactor) hidesKey(key string) bool {
	_, ok := r.keys[strings.ToLower(key)]
	return ok
}

// mask returns the replacement for a string value, if any.
func (r *redactor) mask(key, val string) (string, bool) {
	if r.hidesKey(key) {
		return redacted, true
	}
	for _, re := range r.patterns {
		if re.MatchString(val) {
			return redactedPattern, true
		}
	}
	return "", false
}

func (r *redactor) field(f zapcore.Field) zapcore.Field {
	if f.Type == zapcore.StringType {
		if m, ok := r.mask(f.Key, f.String); ok {
			return zap.String(f.Key, m)
		}
		return f
	}
	if r.hidesKey(f.Key) {
		return zap.String(f.Key, redacted)
	}
	return f
}

// redactingEncoder masks sensitive fields before they reach the wrapped
// encoder. Fields attached with With go through the Add* methods; per-call
// fields go through EncodeEntry.
type redactingEncoder struct {
	zapcore.Encoder
	r *redactor
}

// NewRedactingEncoder wraps base with the redaction rules in cfg.
func NewRedactingEncoder(base zapcore.Encoder, cfg RedactionConfig) (zapcore.Encoder, error) {
	r, err := newRedactor(cfg)
	if err != nil {
		return nil, err
	}
	return &redactingEncoder{Encoder: base, r: r}, nil
}

func (e *redactingEncoder) AddString(key, val string) {
	if m, ok := e.r.mask(key, val); ok {
		val = m
	}
	e.Encoder.AddString(key, val)
}

func (e *redactingEncoder) AddByteString(key string, val []byte) {
	if e.r.hidesKey(key) {
		val = []byte(redacted)
	}
	e.Encoder.AddByteString(key, val)
}

func (e *redactingEncoder) AddBinary(key string, val []byte) {
	if e.r.hidesKey(key) {
		val = []byte(redacted)
	}
	e.Encoder.AddBinary(key, val)
}

// AddReflected replaces the whole value; nested keys are not inspected.
func (e *redactingEncoder) AddReflected(key string, val any) error {
	if e.r.hidesKey(key) {
		e.Encoder.AddString(key, redacted)
		return nil
	}
	return e.Encoder.AddReflected(key, val)
}

func (e *redactingEncoder) AddArray(key string, arr zapcore.ArrayMarshaler) error {
	if e.r.hidesKey(key) {
		e.Encoder.AddString(key, redacted)
		return nil
	}
	return e.Encoder.AddArray(key, arr)
}

func (e *redactingEncoder) AddObject(key string, obj zapcore.ObjectMarshaler) error {
	if e.r.hidesKey(key) {
		e.Encoder.AddString(key, redacted)
		return nil
	}
	return e.Encoder.AddObject(key, obj)
}

func (e *redactingEncoder) Clone() zapcore.Encoder {
	return &redactingEncoder{Encoder: e.Encoder.Clone(), r: e.r}
}

func (e *redactingEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	if e.r.empty() {
		return e.Encoder.EncodeEntry(ent, fields)
	}
	clean := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		clean[i] = e.r.field(f)
	}
	return e.Encoder.EncodeEntry(ent, clean)
}
