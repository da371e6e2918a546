package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tokmz/rtguard/pkg/auth"
	"github.com/tokmz/rtguard/pkg/errors"
	"github.com/tokmz/rtguard/pkg/logger"
)

// Authorizer 管理权限判断与连接复核，auth.Handler 实现了它
type Authorizer interface {
	AdminAuthorizer
	Refresh(ctx context.Context, ac *auth.Context) (*auth.Context, bool)
}

// Option 管理器选项
type Option func(*Manager)

// WithConfig 替换默认配置
func WithConfig(cfg Config) Option {
	return func(m *Manager) {
		m.cfg = cfg
	}
}

// WithCheckOrigin 升级时的 Origin 校验，一般传 origin.Resolver.CheckOrigin
func WithCheckOrigin(fn func(*http.Request) bool) Option {
	return func(m *Manager) {
		m.checkOrigin = fn
	}
}

// WithLogger 设置日志
func WithLogger(log logger.Logger) Option {
	return func(m *Manager) {
		m.log = log
	}
}

// WithMetrics 设置监控
func WithMetrics(metrics Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// Manager 命名空间与房间管理
type Manager struct {
	cfg         Config
	authz       Authorizer
	checkOrigin func(*http.Request) bool
	upgrader    *websocket.Upgrader

	registry *registry
	rooms    *RoomManager
	pool     *clientPool

	log     logger.Logger
	metrics Metrics

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
	closing atomic.Bool
}

// NewManager 创建管理器
func NewManager(authz Authorizer, opts ...Option) (*Manager, error) {
	if authz == nil {
		return nil, fmt.Errorf("%w: authorizer is required", ErrInvalidConfig)
	}
	m := &Manager{
		cfg:     DefaultConfig(),
		authz:   authz,
		log:     logger.NewNop(),
		metrics: NoopMetrics{},
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.cfg.Validate(); err != nil {
		return nil, err
	}

	m.log = m.log.Named("ws")
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.upgrader = m.cfg.upgrader(m.checkOrigin)
	m.registry = newRegistry()
	m.rooms = NewRoomManager(m.cfg.Room, m.log.Named("rooms"))
	m.pool = newClientPool(m.cfg.MaxConnections)
	return m, nil
}

// RegisterNamespace 启动前声明命名空间及其处理器表
// adminOnly 的命名空间在每次分发时都会按连接当前身份再检查一次
func (m *Manager) RegisterNamespace(name string, handlers Handlers, adminOnly bool, mws ...MiddlewareFunc) error {
	ns := &namespace{
		name:       auth.NormalizeNamespace(name),
		adminOnly:  adminOnly,
		handlers:   make(Handlers, len(handlers)),
		middleware: mws,
	}
	for event, h := range handlers {
		ns.handlers[event] = h
	}
	if adminOnly {
		ns.guard = RequireAdmin(m.authz, "")
	}
	if err := m.registry.register(ns); err != nil {
		return fmt.Errorf("register namespace %q: %w", ns.name, err)
	}
	m.log.Debug("namespace registered",
		zap.String("namespace", ns.name),
		zap.Bool("admin_only", adminOnly),
		zap.Int("events", len(handlers)),
	)
	return nil
}

// Use 所有命名空间共用的中间件
func (m *Manager) Use(mws ...MiddlewareFunc) error {
	return m.registry.use(mws...)
}

// Run 冻结注册表并启动空房间清理和会话复核
func (m *Manager) Run() error {
	if !m.running.CompareAndSwap(false, true) {
		return nil
	}
	m.registry.freeze()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.rooms.RunCleanup(m.ctx)
	}()

	if m.cfg.SessionAuditInterval > 0 {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.runSessionAudit(m.ctx)
		}()
	}
	return nil
}

// Shutdown 关闭所有连接并等待后台任务退出
// 连接的 context 派生自管理器，必须先写出 1001 关闭帧再取消，否则 writePump 会先断开
func (m *Manager) Shutdown(ctx context.Context) error {
	m.closing.Store(true)

	var closing sync.WaitGroup
	m.pool.each(func(c *Client) bool {
		closing.Add(1)
		go func() {
			defer closing.Done()
			c.CloseWithReason(websocket.CloseGoingAway, "server shutting down")
		}()
		return true
	})
	closing.Wait()
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Admit 把认证通过的请求升级为连接
// 升级前的拒绝不写响应，由调用方处理；ErrUpgradeFailed 表示响应已经写出
func (m *Manager) Admit(w http.ResponseWriter, r *http.Request, namespace string, ac *auth.Context) (*Client, error) {
	name := auth.NormalizeNamespace(namespace)
	ns, ok := m.registry.lookup(name)
	if !ok {
		return nil, ErrNamespaceNotFound
	}
	if ac == nil {
		return nil, ErrUnauthenticated
	}
	if ns.adminOnly && !m.authz.AuthorizeAdmin(ac, "") {
		return nil, ErrForbidden
	}
	if m.closing.Load() || m.ctx.Err() != nil {
		return nil, ErrManagerClosed
	}
	if m.pool.full() {
		return nil, ErrTooManyConnections
	}
	m.registry.freeze()

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpgradeFailed, err)
	}

	c := newClient(conn, m, uuid.NewString(), name, ac)
	if err := m.pool.add(c); err != nil {
		c.CloseWithReason(websocket.CloseTryAgainLater, "too many connections")
		return nil, err
	}
	m.metrics.IncrementConnections(name)
	if m.closing.Load() {
		// Shutdown 遍历连接池之后才加入的连接
		c.CloseWithReason(websocket.CloseGoingAway, "server shutting down")
		return nil, ErrManagerClosed
	}

	m.joinDefaultRooms(c, ac)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		c.run()
	}()

	c.log.Info("connection admitted", zap.String("address", c.address), zap.String("role", string(ac.Role)))
	return c, nil
}

// joinDefaultRooms 个人房间和命名空间内的 auto_join 房间
func (m *Manager) joinDefaultRooms(c *Client, ac *auth.Context) {
	rooms := m.rooms.autoJoinRooms(c.namespace)
	if personal, err := m.rooms.ensureRoom(PersonalRoomID(c.namespace, ac.PrincipalID), c.namespace, CategoryPersonal, ac.PrincipalID); err == nil {
		rooms = append([]*Room{personal}, rooms...)
	} else {
		c.log.Warn("personal room unavailable", zap.Error(err))
	}

	for _, room := range rooms {
		if err := m.rooms.join(c, room); err != nil {
			c.log.Warn("auto join failed", zap.String("room", room.ID), zap.Error(err))
		}
	}
}

// Dispatch 把事件交给 (命名空间, 事件) 的处理器
// 未知事件只记录 debug 日志，不是错误
func (m *Manager) Dispatch(ctx context.Context, namespace, event string, payload json.RawMessage, ac *auth.Context) error {
	return m.dispatch(ctx, &Request{
		Namespace: auth.NormalizeNamespace(namespace),
		Event:     event,
		Payload:   payload,
		Auth:      ac,
	})
}

func (m *Manager) dispatch(ctx context.Context, req *Request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("event handler panic recovered",
				zap.String("namespace", req.Namespace),
				zap.String("event", req.Event),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			err = errors.ErrServer.WithError(fmt.Errorf("handler panic: %v", r))
		}
	}()

	if req.Auth == nil {
		return ErrUnauthenticated
	}
	h, ok, err := m.registry.handler(req.Namespace, req.Event)
	if err != nil {
		return err
	}
	if !ok {
		m.log.Debug("unknown event ignored",
			zap.String("namespace", req.Namespace),
			zap.String("event", req.Event),
		)
		return nil
	}
	m.metrics.IncrementMessages(req.Namespace, req.Event)
	return h(ctx, req)
}

// CreateRoom 在已注册的命名空间中创建房间，按 roomID 幂等
func (m *Manager) CreateRoom(roomID, namespace, category string, ownerID int64, metadata map[string]any) (*Room, error) {
	name := auth.NormalizeNamespace(namespace)
	if _, ok := m.registry.lookup(name); !ok {
		return nil, ErrNamespaceNotFound
	}
	return m.rooms.CreateRoom(roomID, name, category, ownerID, metadata)
}

// GetRoom 获取房间
func (m *Manager) GetRoom(roomID string) (*Room, bool) {
	return m.rooms.GetRoom(roomID)
}

// DeleteRoom 删除房间
func (m *Manager) DeleteRoom(roomID string) {
	m.rooms.DeleteRoom(roomID)
}

// RoomCount 房间数量
func (m *Manager) RoomCount() int {
	return m.rooms.Count()
}

// BroadcastToRoom 房间广播
func (m *Manager) BroadcastToRoom(roomID, event string, payload any) error {
	msg, err := encodeNotify(event, payload)
	if err != nil {
		return err
	}
	dropped, err := m.rooms.BroadcastToRoom(m.ctx, roomID, msg, nil)
	if dropped > 0 {
		m.metrics.IncrementDroppedMessages(dropped)
	}
	return err
}

// BroadcastToNamespace 命名空间广播
func (m *Manager) BroadcastToNamespace(namespace, event string, payload any) error {
	name := auth.NormalizeNamespace(namespace)
	if _, ok := m.registry.lookup(name); !ok {
		return ErrNamespaceNotFound
	}
	msg, err := encodeNotify(event, payload)
	if err != nil {
		return err
	}

	dropped := 0
	for _, c := range m.pool.inNamespace(name) {
		if c.SendBytes(msg) != nil {
			dropped++
		}
	}
	if dropped > 0 {
		m.metrics.IncrementDroppedMessages(dropped)
		m.log.Warn("broadcast messages dropped", zap.String("namespace", name), zap.Int("dropped", dropped))
	}
	return nil
}

// SendToPrincipal 发往该用户在命名空间内的个人房间（多设备）
func (m *Manager) SendToPrincipal(namespace string, principalID int64, event string, payload any) error {
	return m.BroadcastToRoom(PersonalRoomID(auth.NormalizeNamespace(namespace), principalID), event, payload)
}

// GetClient 获取连接
func (m *Manager) GetClient(id string) (*Client, bool) {
	return m.pool.get(id)
}

// ClientCount 在线连接数
func (m *Manager) ClientCount() int {
	return m.pool.len()
}

func (m *Manager) runSessionAudit(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SessionAuditInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.auditSessions(ctx)
		}
	}
}

// auditSessions 复核所有在线连接
// 会话失效或用户停用的连接被关闭；角色变化时替换身份，管理命名空间中被降级的连接被关闭
func (m *Manager) auditSessions(ctx context.Context) {
	var g errgroup.Group
	g.SetLimit(16)

	m.pool.each(func(c *Client) bool {
		g.Go(func() error {
			m.auditClient(ctx, c)
			return nil
		})
		return ctx.Err() == nil
	})
	_ = g.Wait()
}

func (m *Manager) auditClient(ctx context.Context, c *Client) {
	if c.IsClosed() {
		return
	}
	current := c.Auth()
	next, ok := m.authz.Refresh(ctx, current)
	if !ok {
		c.log.Info("session no longer valid, closing connection")
		m.metrics.IncrementRevokedConnections(c.namespace)
		c.CloseWithReason(CloseSessionRevoked, "session_revoked")
		return
	}
	if next == current {
		return
	}

	c.auth.CompareAndSwap(current, next)
	if ns, ok := m.registry.lookup(c.namespace); ok && ns.adminOnly && !m.authz.AuthorizeAdmin(next, "") {
		c.log.Info("admin role revoked, closing connection")
		m.metrics.IncrementRevokedConnections(c.namespace)
		c.CloseWithReason(CloseInsufficientPrivilege, "insufficient_privileges")
	}
}
