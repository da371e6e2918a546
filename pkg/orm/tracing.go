package orm

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

const gormTracerName = "rtguard.gorm"

// TracingPlugin 为每条语句创建 client span
type TracingPlugin struct {
	enableSQLTrace bool // 记录完整 SQL，默认关闭
}

// TracingOption 追踪插件选项
type TracingOption func(*TracingPlugin)

// WithSQLTrace 在 span 上记录 SQL
func WithSQLTrace(enable bool) TracingOption {
	return func(p *TracingPlugin) {
		p.enableSQLTrace = enable
	}
}

// NewTracingPlugin 创建 GORM 追踪插件
func NewTracingPlugin(opts ...TracingOption) *TracingPlugin {
	p := &TracingPlugin{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name 实现 gorm.Plugin
func (p *TracingPlugin) Name() string {
	return "rtguard:tracing"
}

// Initialize 初始化插件
func (p *TracingPlugin) Initialize(db *gorm.DB) error {
	if err := p.registerCallbacks(db); err != nil {
		return fmt.Errorf("register tracing callbacks: %w", err)
	}
	return nil
}

// registerCallbacks 注册 before/after 回调
// gorm 的 processor 类型未导出，只能逐个注册
func (p *TracingPlugin) registerCallbacks(db *gorm.DB) error {
	cb := db.Callback()
	steps := []func() error{
		func() error { return cb.Create().Before("gorm:create").Register("otelgorm:before_create", p.before("gorm.Create")) },
		func() error { return cb.Create().After("gorm:create").Register("otelgorm:after_create", p.after()) },
		func() error { return cb.Query().Before("gorm:query").Register("otelgorm:before_query", p.before("gorm.Query")) },
		func() error { return cb.Query().After("gorm:query").Register("otelgorm:after_query", p.after()) },
		func() error { return cb.Update().Before("gorm:update").Register("otelgorm:before_update", p.before("gorm.Update")) },
		func() error { return cb.Update().After("gorm:update").Register("otelgorm:after_update", p.after()) },
		func() error { return cb.Delete().Before("gorm:delete").Register("otelgorm:before_delete", p.before("gorm.Delete")) },
		func() error { return cb.Delete().After("gorm:delete").Register("otelgorm:after_delete", p.after()) },
		func() error { return cb.Row().Before("gorm:row").Register("otelgorm:before_row", p.before("gorm.Row")) },
		func() error { return cb.Row().After("gorm:row").Register("otelgorm:after_row", p.after()) },
		func() error { return cb.Raw().Before("gorm:raw").Register("otelgorm:before_raw", p.before("gorm.Raw")) },
		func() error { return cb.Raw().After("gorm:raw").Register("otelgorm:after_raw", p.after()) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

// before 开启 span 并写回 Statement.Context
// tracer 每次获取，provider 可以在插件注册之后再设置
func (p *TracingPlugin) before(operation string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		ctx := db.Statement.Context
		if ctx == nil {
			ctx = context.Background()
		}
		system := "gorm"
		if db.Dialector != nil {
			system = db.Dialector.Name()
		}
		db.Statement.Context, _ = otel.Tracer(gormTracerName).Start(ctx, operation,
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				attribute.String("db.system", system),
				attribute.String("db.operation", operation),
			),
		)
	}
}

// after 补充表名、行数与错误后结束 span，未找到记录不算错误
func (p *TracingPlugin) after() func(*gorm.DB) {
	return func(db *gorm.DB) {
		span := trace.SpanFromContext(db.Statement.Context)
		if !span.IsRecording() {
			return
		}
		defer span.End()

		attrs := []attribute.KeyValue{attribute.Int64("db.rows_affected", db.Statement.RowsAffected)}
		if db.Statement.Table != "" {
			attrs = append(attrs, attribute.String("db.table", db.Statement.Table))
		}
		if sql := db.Statement.SQL.String(); p.enableSQLTrace && sql != "" {
			attrs = append(attrs, attribute.String("db.statement", sql))
		}
		span.SetAttributes(attrs...)

		if db.Error != nil && !errors.Is(db.Error, gorm.ErrRecordNotFound) {
			span.RecordError(db.Error)
			span.SetStatus(codes.Error, db.Error.Error())
			return
		}
		span.SetStatus(codes.Ok, "")
	}
}
