package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type (
	sessionCtxKey    struct{}
	projectCtxKey    struct{}
	workerTypeCtxKey struct{}
	traceIDCtxKey    struct{}
	loggerCtxKey     struct{}
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("otel.trace_id", sc.TraceID().String()),
			zap.String("otel.span_id", sc.SpanID().String()),
		)
	}
	if v := stringValue(ctx, sessionCtxKey{}); v != "" {
		fields = append(fields, zap.String("session.id", v))
	}
	if v := stringValue(ctx, projectCtxKey{}); v != "" {
		fields = append(fields, zap.String("project.id", v))
	}
	if v := stringValue(ctx, workerTypeCtxKey{}); v != "" {
		fields = append(fields, zap.String("worker.type", v))
	}
	if v := stringValue(ctx, traceIDCtxKey{}); v != "" {
		fields = append(fields, zap.String("trace.id", v))
	}
	return fields
}

func stringValue(ctx context.Context, key any) string {
	if s, ok := ctx.Value(key).(string); ok {
		return s
	}
	return ""
}

// WithSessionID adds the host session id to ctx. Empty ids are ignored.
func WithSessionID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionCtxKey{}, id)
}

// SessionIDFromContext extracts the session id from ctx.
func SessionIDFromContext(ctx context.Context) string {
	return stringValue(ctx, sessionCtxKey{})
}

// WithProjectID adds the project id to ctx.
func WithProjectID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, projectCtxKey{}, id)
}

// WithWorkerType adds the worker type to ctx.
func WithWorkerType(ctx context.Context, workerType string) context.Context {
	if workerType == "" {
		return ctx
	}
	return context.WithValue(ctx, workerTypeCtxKey{}, workerType)
}

// WithTraceID adds the trace record id to ctx.
func WithTraceID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, traceIDCtxKey{}, id)
}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok && l != nil {
		return l
	}
	return NewNop()
}
