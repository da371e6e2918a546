package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/tokmz/rtguard/pkg/logger"
)

// TracingConfig 链路追踪中间件配置
type TracingConfig struct {
	// 为空时每次请求从全局 provider 取 tracer
	TracerProvider trace.TracerProvider
	TracerName     string
	ExcludePaths   []string
}

// Tracing 创建 HTTP server span，并把 trace id 写入请求 context 供日志使用
func Tracing(cfgs ...*TracingConfig) gin.HandlerFunc {
	cfg := &TracingConfig{TracerName: "rtguard.http"}
	if len(cfgs) > 0 && cfgs[0] != nil {
		cfg = cfgs[0]
		if cfg.TracerName == "" {
			cfg.TracerName = "rtguard.http"
		}
	}

	skip := make(map[string]bool, len(cfg.ExcludePaths))
	for _, p := range cfg.ExcludePaths {
		skip[p] = true
	}

	return func(c *gin.Context) {
		if skip[c.Request.URL.Path] {
			c.Next()
			return
		}

		tp := cfg.TracerProvider
		if tp == nil {
			tp = otel.GetTracerProvider()
		}
		propagator := otel.GetTextMapPropagator()
		ctx := propagator.Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		attrs := []attribute.KeyValue{
			semconv.HTTPRequestMethodKey.String(c.Request.Method),
			semconv.URLPath(c.Request.URL.Path),
			semconv.ServerAddress(c.Request.Host),
			semconv.UserAgentOriginalKey.String(c.Request.UserAgent()),
			attribute.String("http.client_ip", c.ClientIP()),
		}
		if c.FullPath() != "" {
			attrs = append(attrs, semconv.HTTPRouteKey.String(c.FullPath()))
		}

		ctx, span := tp.Tracer(cfg.TracerName).Start(ctx, c.Request.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attrs...),
		)
		defer span.End()

		if sc := span.SpanContext(); sc.HasTraceID() {
			ctx = logger.WithTraceID(ctx, sc.TraceID().String())
		}
		propagator.Inject(ctx, propagation.HeaderCarrier(c.Writer.Header()))
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(semconv.HTTPResponseStatusCodeKey.Int(status))
		if status >= 500 {
			span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", status))
		}
	}
}
