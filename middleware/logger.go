package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tokmz/rtguard/pkg/logger"
)

// LoggerConfig 日志中间件配置
type LoggerConfig struct {
	Logger logger.Logger
	// SkipFunc 返回 true 时不记录
	SkipFunc     func(c *gin.Context) bool
	ExcludePaths []string
}

// Logger 请求日志，按状态码选择级别
// websocket 握手在升级后才返回，耗时包含整个连接的生命周期
func Logger(log logger.Logger, cfgs ...*LoggerConfig) gin.HandlerFunc {
	cfg := &LoggerConfig{Logger: log}
	if len(cfgs) > 0 && cfgs[0] != nil {
		cfg = cfgs[0]
		if cfg.Logger == nil {
			cfg.Logger = log
		}
	}
	l := cfg.Logger.Named("http")

	skip := make(map[string]bool, len(cfg.ExcludePaths))
	for _, p := range cfg.ExcludePaths {
		skip[p] = true
	}

	return func(c *gin.Context) {
		if skip[c.Request.URL.Path] || (cfg.SkipFunc != nil && cfg.SkipFunc(c)) {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		ctx := c.Request.Context()
		switch {
		case status >= 500:
			l.ErrorContext(ctx, "request completed", fields...)
		case status >= 400:
			l.WarnContext(ctx, "request completed", fields...)
		default:
			l.InfoContext(ctx, "request completed", fields...)
		}
	}
}
