package rtguard

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tokmz/rtguard/pkg/audit"
	"github.com/tokmz/rtguard/pkg/auth"
	"github.com/tokmz/rtguard/pkg/cache"
	"github.com/tokmz/rtguard/pkg/directory"
	"github.com/tokmz/rtguard/pkg/logger"
	"github.com/tokmz/rtguard/pkg/orm"
	"github.com/tokmz/rtguard/pkg/origin"
	"github.com/tokmz/rtguard/pkg/ratelimit"
	"github.com/tokmz/rtguard/pkg/session"
	"github.com/tokmz/rtguard/pkg/tracing"
	"github.com/tokmz/rtguard/pkg/ws"
)

// NamespaceParam 握手路由中命名空间的参数名
const NamespaceParam = "namespace"

// Guard 把 origin 校验、限流、认证和连接管理组装在一起
type Guard struct {
	log      logger.Logger
	tracing  *tracing.Provider
	resolver *origin.Resolver
	limiter  *ratelimit.Limiter
	cache    cache.Cache
	sessions *session.Store
	db       *gorm.DB
	users    *directory.Directory
	audit    *audit.Dispatcher
	auth     *auth.Handler
	manager  *ws.Manager

	mu        sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewGuard 按配置创建全部组件
// 创建失败时已经打开的资源会被释放
func NewGuard(ctx context.Context, s Settings, log logger.Logger) (_ *Guard, err error) {
	if log == nil {
		log = logger.NewNop()
	}
	g := &Guard{log: log.Named("guard")}
	defer func() {
		if err != nil {
			g.release(context.Background())
		}
	}()

	g.tracing, err = tracing.New(ctx, &s.Tracing, true)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	g.resolver = origin.NewResolver(s.originOptions(), log)
	g.limiter = ratelimit.New(s.RateLimit, ratelimit.WithLogger(log))

	g.cache, err = cache.New(&s.Session.Cache)
	if err != nil {
		return nil, fmt.Errorf("init session cache: %w", err)
	}
	g.sessions = session.NewStore(g.cache, s.Session.TTL)

	g.db, err = orm.Open(&s.Directory.Config, log)
	if err != nil {
		return nil, fmt.Errorf("open directory: %w", err)
	}
	g.users = directory.New(g.db, log)
	if s.Directory.AutoMigrate {
		if err = g.users.AutoMigrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate directory: %w", err)
		}
	}

	sinks, err := auditSinks(s.Audit, log)
	if err != nil {
		return nil, err
	}
	g.audit = audit.NewDispatcher(audit.DispatcherConfig{
		QueueSize: s.Audit.QueueSize,
		Workers:   s.Audit.Workers,
	}, log, sinks...)

	g.auth = auth.NewHandler(g.sessions, g.users, g.limiter,
		auth.WithLogger(log),
		auth.WithAudit(g.audit),
		auth.WithTracerProvider(g.tracing.TracerProvider()),
	)

	g.manager, err = ws.NewManager(g.auth,
		ws.WithConfig(s.WS),
		ws.WithCheckOrigin(g.resolver.CheckOrigin),
		ws.WithLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("init websocket manager: %w", err)
	}
	return g, nil
}

// auditSinks 日志、Kafka、RabbitMQ 三种输出，按配置启用
func auditSinks(s AuditSettings, log logger.Logger) ([]audit.Sink, error) {
	var sinks []audit.Sink
	if s.Log {
		sinks = append(sinks, audit.NewLoggerSink(log))
	}
	if len(s.Kafka.Brokers) > 0 {
		k, err := audit.NewKafkaSink(s.Kafka.Brokers, s.Kafka.Topic, log)
		if err != nil {
			return nil, fmt.Errorf("init kafka audit sink: %w", err)
		}
		sinks = append(sinks, k)
	}
	if s.AMQP.URL != "" {
		a, err := audit.DialAMQP(s.AMQP.URL, s.AMQP.Exchange, s.AMQP.RoutingKey)
		if err != nil {
			for _, sink := range sinks {
				if k, ok := sink.(*audit.KafkaSink); ok {
					_ = k.Close()
				}
			}
			return nil, fmt.Errorf("init amqp audit sink: %w", err)
		}
		sinks = append(sinks, a)
	}
	return sinks, nil
}

// Resolver origin 解析器
func (g *Guard) Resolver() *origin.Resolver { return g.resolver }

// Limiter 握手限流器
func (g *Guard) Limiter() *ratelimit.Limiter { return g.limiter }

// Sessions 会话存储，登录流程通过它写入会话
func (g *Guard) Sessions() *session.Store { return g.sessions }

// Directory 用户目录
func (g *Guard) Directory() *directory.Directory { return g.users }

// Auth 认证处理器
func (g *Guard) Auth() *auth.Handler { return g.auth }

// Manager 命名空间与房间管理
func (g *Guard) Manager() *ws.Manager { return g.manager }

// Run 启动限流清理和连接管理的后台任务
// 命名空间必须在 Run 之前注册完
func (g *Guard) Run() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.limiter.Run(ctx)
	}()
	return g.manager.Run()
}

// Reload 配置变更时重新计算 origin 集合和限流参数
// 读路径只看到完整的旧快照或新快照
func (g *Guard) Reload(s Settings) {
	warnings := g.resolver.Reload(s.originOptions())
	warnings = append(warnings, g.limiter.Reconfigure(s.RateLimit)...)
	g.log.Info("settings reloaded",
		zap.Strings("allowed_origins", g.resolver.AllowedOrigins()),
		zap.Int("warnings", len(warnings)),
	)
}

// HandleConnect websocket 握手
// 认证失败返回对应的错误码，成功后升级为连接
func (g *Guard) HandleConnect(c *gin.Context) {
	ns := c.Param(NamespaceParam)
	ctx := c.Request.Context()

	res, ac := g.auth.Authenticate(ctx, auth.PayloadFromRequest(c.Request, c.ClientIP()), ns)
	if res != auth.ResultSuccess {
		e := res.Err()
		c.AbortWithStatusJSON(e.HTTPCode, e.Public())
		return
	}

	client, err := g.manager.Admit(c.Writer, c.Request, ns, ac)
	if err != nil {
		if stderrors.Is(err, ws.ErrUpgradeFailed) {
			// 升级失败时 upgrader 已经写出响应
			g.log.WarnContext(ctx, "websocket upgrade failed", zap.String("namespace", ns), zap.Error(err))
			c.Abort()
			return
		}
		e := ws.PublicError(err)
		g.log.InfoContext(ctx, "connection not admitted", zap.String("namespace", ns), zap.Error(err))
		c.AbortWithStatusJSON(e.HTTPCode, e.Public())
		return
	}
	ctx = logger.WithPrincipalID(ctx, ac.PrincipalID)
	g.log.DebugContext(ctx, "connection established", zap.String("client_id", client.ID))
}

// Close 关闭连接后按依赖的逆序释放资源
func (g *Guard) Close(ctx context.Context) error {
	var err error
	g.closeOnce.Do(func() {
		err = g.release(ctx)
	})
	return err
}

func (g *Guard) release(ctx context.Context) error {
	var errs []error
	if g.manager != nil {
		if err := g.manager.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown websocket manager: %w", err))
		}
	}

	g.mu.Lock()
	if g.cancel != nil {
		g.cancel()
	}
	g.mu.Unlock()
	g.wg.Wait()

	if g.audit != nil {
		if err := g.audit.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close audit: %w", err))
		}
	}
	if g.db != nil {
		if err := orm.Close(g.db); err != nil {
			errs = append(errs, fmt.Errorf("close directory: %w", err))
		}
	}
	if g.cache != nil {
		if err := g.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close session cache: %w", err))
		}
	}
	if err := g.tracing.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
	}
	_ = g.log.Sync()
	return stderrors.Join(errs...)
}
