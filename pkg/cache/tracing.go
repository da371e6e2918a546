package cache

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const cacheTracerName = "rtguard.cache"

// tracedCache 链路追踪装饰器
type tracedCache struct {
	Cache
	tracer trace.Tracer
}

// NewTracing 为缓存操作创建 client span
func NewTracing(c Cache) Cache {
	return &tracedCache{
		Cache:  c,
		tracer: otel.Tracer(cacheTracerName),
	}
}

// wrap 未命中不算错误，只记录 cache.hit=false
func (t *tracedCache) wrap(ctx context.Context, operation, key string, fn func(ctx context.Context) error) error {
	ctx, span := t.tracer.Start(ctx, "cache."+operation, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("cache.operation", operation),
		attribute.String("cache.key", key),
	)

	start := time.Now()
	err := fn(ctx)
	span.SetAttributes(attribute.Int64("cache.duration_ms", time.Since(start).Milliseconds()))

	switch {
	case errors.Is(err, ErrCacheNotFound):
		span.SetAttributes(attribute.Bool("cache.hit", false))
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	default:
		if operation == "get" {
			span.SetAttributes(attribute.Bool("cache.hit", true))
		}
		span.SetStatus(codes.Ok, "")
	}
	return err
}

// Get 获取
func (t *tracedCache) Get(ctx context.Context, key string, value any) error {
	return t.wrap(ctx, "get", key, func(ctx context.Context) error {
		return t.Cache.Get(ctx, key, value)
	})
}

// Set 设置
func (t *tracedCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return t.wrap(ctx, "set", key, func(ctx context.Context) error {
		return t.Cache.Set(ctx, key, value, ttl)
	})
}

// Delete 删除
func (t *tracedCache) Delete(ctx context.Context, keys ...string) error {
	key := ""
	if len(keys) == 1 {
		key = keys[0]
	}
	return t.wrap(ctx, "delete", key, func(ctx context.Context) error {
		return t.Cache.Delete(ctx, keys...)
	})
}

// Exists 是否存在
func (t *tracedCache) Exists(ctx context.Context, key string) (bool, error) {
	var found bool
	err := t.wrap(ctx, "exists", key, func(ctx context.Context) error {
		var err error
		found, err = t.Cache.Exists(ctx, key)
		return err
	})
	return found, err
}

// TTL 剩余时间
func (t *tracedCache) TTL(ctx context.Context, key string) (time.Duration, error) {
	var ttl time.Duration
	err := t.wrap(ctx, "ttl", key, func(ctx context.Context) error {
		var err error
		ttl, err = t.Cache.TTL(ctx, key)
		return err
	})
	return ttl, err
}
