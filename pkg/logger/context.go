package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

type contextKey string

const (
	traceIDKey     contextKey = "trace_id"
	principalIDKey contextKey = "principal_id"
)

// WithTraceID 在 Context 中写入 trace_id
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// WithPrincipalID 在 Context 中写入当前连接的用户 ID
func WithPrincipalID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, principalIDKey, id)
}

// TraceIDFrom 读取 trace_id，未显式设置时回退到 OpenTelemetry TraceID
func TraceIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey).(string); ok && id != "" {
		return id
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// PrincipalIDFrom 读取用户 ID
func PrincipalIDFrom(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(principalIDKey).(int64)
	return id, ok && id != 0
}
