package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tokmz/rtguard/pkg/errors"
	"github.com/tokmz/rtguard/pkg/origin"
)

// OriginValidator 由 origin.Resolver 实现
type OriginValidator interface {
	Validate(origin string) bool
	IsWildcard() bool
}

// ConnectionValidator 由 origin.Resolver 实现
type ConnectionValidator interface {
	ValidateForConnection(origin, namespace string) (bool, origin.Reason)
}

// CORSConfig CORS 中间件配置，允许的源由 OriginValidator 决定
type CORSConfig struct {
	AllowMethods  []string
	AllowHeaders  []string
	ExposeHeaders []string
	// 为 true 时即使是通配模式也回显具体的 Origin
	AllowCredentials bool
	MaxAge           time.Duration
}

// DefaultCORSConfig 返回默认配置
func DefaultCORSConfig() *CORSConfig {
	return &CORSConfig{
		AllowMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodHead,
			http.MethodOptions,
		},
		AllowHeaders: []string{
			"Origin",
			"Content-Type",
			"Accept",
			"Authorization",
			"X-Session-ID",
		},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
}

// CORS 普通 HTTP 接口的跨域处理
// 不允许的源不设置任何 CORS 头；不允许的预检请求直接返回 403
func CORS(v OriginValidator, cfgs ...*CORSConfig) gin.HandlerFunc {
	cfg := DefaultCORSConfig()
	if len(cfgs) > 0 && cfgs[0] != nil {
		cfg = cfgs[0]
	}

	allowMethods := strings.Join(cfg.AllowMethods, ", ")
	allowHeaders := strings.Join(cfg.AllowHeaders, ", ")
	exposeHeaders := strings.Join(cfg.ExposeHeaders, ", ")
	maxAge := strconv.Itoa(int(cfg.MaxAge.Seconds()))

	return func(c *gin.Context) {
		o := c.GetHeader("Origin")
		if o == "" {
			c.Next()
			return
		}

		preflight := c.Request.Method == http.MethodOptions && c.GetHeader("Access-Control-Request-Method") != ""
		if !v.Validate(o) {
			if preflight {
				abortWithError(c, errors.ErrOriginNotPermitted)
				return
			}
			c.Next()
			return
		}

		if v.IsWildcard() && !cfg.AllowCredentials {
			c.Header("Access-Control-Allow-Origin", "*")
		} else {
			c.Header("Access-Control-Allow-Origin", o)
			c.Header("Vary", "Origin")
		}
		if cfg.AllowCredentials {
			c.Header("Access-Control-Allow-Credentials", "true")
		}
		if exposeHeaders != "" {
			c.Header("Access-Control-Expose-Headers", exposeHeaders)
		}

		if preflight {
			c.Header("Access-Control-Allow-Methods", allowMethods)
			c.Header("Access-Control-Allow-Headers", allowHeaders)
			c.Header("Access-Control-Max-Age", maxAge)
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// OriginGuard websocket 握手前的 Origin 检查，失败时返回 403 和拒绝原因
// namespace 从请求中取出命名空间，为 nil 时使用默认命名空间
func OriginGuard(v ConnectionValidator, namespace func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ns := ""
		if namespace != nil {
			ns = namespace(c)
		}
		ok, reason := v.ValidateForConnection(c.GetHeader("Origin"), ns)
		if !ok {
			abortWithError(c, reason.Err())
			return
		}
		c.Next()
	}
}

func abortWithError(c *gin.Context, e *errors.Error) {
	c.AbortWithStatusJSON(e.HTTPCode, e.Public())
}
