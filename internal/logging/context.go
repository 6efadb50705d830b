package logging

import (
	"context"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const maxIDLen = 128

type requestCtxKey struct{}
type ownerCtxKey struct{}
type loggerCtxKey struct{}

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 4)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request.id", requestID))
	}
	if owner := OwnerFromContext(ctx); owner != "" {
		fields = append(fields, zap.String("owner.id", owner))
	}
	return fields
}

// WithRequestID adds a request ID to ctx. Invalid or oversized IDs are
// ignored rather than propagated into log lines.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if !validID(requestID) {
		return ctx
	}
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// RequestIDFromContext extracts the request ID from ctx.
func RequestIDFromContext(ctx context.Context) string {
	if r, ok := ctx.Value(requestCtxKey{}).(string); ok {
		return r
	}
	return ""
}

// WithOwner adds the owner on whose behalf the request runs.
func WithOwner(ctx context.Context, owner string) context.Context {
	if !validID(owner) {
		return ctx
	}
	return context.WithValue(ctx, ownerCtxKey{}, owner)
}

// OwnerFromContext extracts the owner ID from ctx.
func OwnerFromContext(ctx context.Context) string {
	if o, ok := ctx.Value(ownerCtxKey{}).(string); ok {
		return o
	}
	return ""
}

func validID(id string) bool {
	return id != "" && len(id) <= maxIDLen && utf8.ValidString(id)
}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a nop logger if none is stored.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return &Logger{zap: zap.NewNop(), config: NewDefaultConfig()}
}
