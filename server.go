package rtguard

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tokmz/rtguard/middleware"
	"github.com/tokmz/rtguard/pkg/logger"
)

// Server HTTP 服务：握手路由、健康检查和优雅关机
type Server struct {
	cfg    ServerConfig
	guard  *Guard
	log    logger.Logger
	engine *gin.Engine
	server *http.Server
}

// NewServer 创建服务并注册路由
// 握手路由为 /ws（默认命名空间）和 /ws/:namespace
func NewServer(cfg ServerConfig, guard *Guard, log logger.Logger) *Server {
	if log == nil {
		log = logger.NewNop()
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	// gin 默认信任所有代理，这里只信任显式配置的，握手限流的来源地址依赖这一点
	if err := engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		log.Warn("set trusted proxies failed, trusting none", zap.Error(err))
		_ = engine.SetTrustedProxies(nil)
	}

	engine.Use(
		middleware.Tracing(&middleware.TracingConfig{ExcludePaths: []string{"/healthz"}}),
		middleware.Logger(log, &middleware.LoggerConfig{ExcludePaths: []string{"/healthz"}}),
		middleware.CORS(guard.Resolver()),
	)

	s := &Server{
		cfg:    cfg,
		guard:  guard,
		log:    log.Named("server"),
		engine: engine,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	namespace := func(c *gin.Context) string { return c.Param(NamespaceParam) }
	originGuard := middleware.OriginGuard(s.guard.Resolver(), namespace)

	s.engine.GET("/ws", originGuard, s.guard.HandleConnect)
	s.engine.GET("/ws/:"+NamespaceParam, originGuard, s.guard.HandleConnect)
	s.engine.GET("/healthz", s.health)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"connections": s.guard.Manager().ClientCount(),
		"rooms":       s.guard.Manager().RoomCount(),
	})
}

// Handler 返回 http.Handler，便于测试或嵌入其它服务
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Engine 底层 gin 引擎，用于追加业务路由
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Run 启动 Guard 与 HTTP 服务，收到 SIGINT/SIGTERM 后优雅关机
func (s *Server) Run() error {
	if err := s.guard.Run(); err != nil {
		return err
	}

	s.server = &http.Server{
		Addr:           s.cfg.Addr,
		Handler:        s.engine,
		ReadTimeout:    s.cfg.ReadTimeout,
		WriteTimeout:   s.cfg.WriteTimeout,
		IdleTimeout:    s.cfg.IdleTimeout,
		MaxHeaderBytes: s.cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server listening", zap.String("addr", s.cfg.Addr))
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		_ = s.guard.Close(context.Background())
		return err
	case sig := <-quit:
		s.log.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return s.Shutdown(ctx)
}

// Shutdown 先停止接受新请求，再关闭连接与后台资源
// websocket 连接是被劫持的，http.Server.Shutdown 不会等待它们
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.guard.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		s.log.Error("shutdown incomplete", zap.Error(err))
		return err
	}
	s.log.Info("server stopped")
	return nil
}
