package auth

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/tokmz/rtguard/pkg/audit"
	"github.com/tokmz/rtguard/pkg/directory"
	"github.com/tokmz/rtguard/pkg/logger"
	"github.com/tokmz/rtguard/pkg/ratelimit"
	"github.com/tokmz/rtguard/pkg/session"
)

const tracerName = "rtguard.auth"

// SessionStore 会话存储，未找到返回 ok=false
type SessionStore interface {
	Lookup(ctx context.Context, id string) (*session.Record, bool, error)
}

// UserDirectory 用户目录，未找到返回 ok=false
type UserDirectory interface {
	FindUser(ctx context.Context, id int64) (*directory.User, bool, error)
}

// Limiter 限流器
type Limiter interface {
	CheckAndRecord(key string, ks ratelimit.Keyspace) bool
}

// Option 处理器选项
type Option func(*Handler)

// WithLogger 设置日志
func WithLogger(log logger.Logger) Option {
	return func(h *Handler) {
		h.log = log
	}
}

// WithAudit 设置安全事件发布者
func WithAudit(p audit.Publisher) Option {
	return func(h *Handler) {
		h.audit = p
	}
}

// WithClock 注入时钟
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		h.now = now
	}
}

// WithTracerProvider 指定 TracerProvider，默认使用全局
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(h *Handler) {
		h.tracer = tp.Tracer(tracerName)
	}
}

// Handler 认证与授权
// 所有公开方法都不会 panic，也不会把底层错误交给调用方
type Handler struct {
	sessions SessionStore
	users    UserDirectory
	limiter  Limiter
	audit    audit.Publisher
	log      logger.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// NewHandler 创建处理器
func NewHandler(sessions SessionStore, users UserDirectory, limiter Limiter, opts ...Option) *Handler {
	h := &Handler{
		sessions: sessions,
		users:    users,
		limiter:  limiter,
		log:      logger.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.tracer == nil {
		h.tracer = otel.Tracer(tracerName)
	}
	h.log = h.log.Named("auth")
	return h
}

// attempt 一次认证过程中的中间状态，用于日志和审计
type attempt struct {
	namespace   string
	address     string
	principalID int64
	reason      string
	err         error
}

// Authenticate 认证握手数据
// 顺序：地址限流、会话、用户限流、用户目录、角色权限、管理命名空间检查
// 成功时一定返回 Context，失败时一定返回 nil
func (h *Handler) Authenticate(ctx context.Context, p Payload, namespace string) (res Result, ac *Context) {
	ctx, span := h.tracer.Start(ctx, "auth.Authenticate", trace.WithAttributes(
		attribute.String("rtguard.namespace", namespace),
	))
	defer span.End()

	at := &attempt{namespace: NormalizeNamespace(namespace)}
	defer func() {
		if r := recover(); r != nil {
			res, ac = ResultSystemError, nil
			at.err = fmt.Errorf("panic: %v", r)
			at.reason = "internal failure"
		}
		if res != ResultSuccess {
			ac = nil
		}
		h.finish(ctx, span, res, at)
	}()

	return h.authenticate(ctx, p, at)
}

func (h *Handler) authenticate(ctx context.Context, p Payload, at *attempt) (Result, *Context) {
	hs, parseErr := ParseHandshake(p)
	at.address = hs.Address

	if !h.limiter.CheckAndRecord(hs.Address, ratelimit.KeyspaceAddress) {
		at.reason = "address limit exceeded"
		return ResultRateLimited, nil
	}

	if parseErr != nil {
		at.reason = parseErr.Error()
		return ResultInvalidSession, nil
	}
	rec, ok, err := h.sessions.Lookup(ctx, hs.SessionID)
	if err != nil {
		at.reason, at.err = "session store failure", err
		return ResultSystemError, nil
	}
	if !ok || rec == nil || rec.UserID <= 0 {
		at.reason = "session not found"
		return ResultInvalidSession, nil
	}
	at.principalID = rec.UserID

	if !h.limiter.CheckAndRecord(strconv.FormatInt(rec.UserID, 10), ratelimit.KeyspacePrincipal) {
		at.reason = "principal limit exceeded"
		return ResultRateLimited, nil
	}

	user, ok, err := h.users.FindUser(ctx, rec.UserID)
	if err != nil {
		at.reason, at.err = "directory failure", err
		return ResultSystemError, nil
	}
	if !ok || user == nil {
		at.reason = "principal not in directory"
		return ResultUserNotFound, nil
	}
	if !user.Active || !rec.Active {
		at.reason = "principal inactive"
		return ResultUserInactive, nil
	}

	// 角色只取自用户目录，会话里的角色字段不参与授权
	role := ParseRole(user.Role)
	if at.namespace == AdminNamespace && role != RoleAdmin {
		at.reason = "admin namespace requires admin role"
		return ResultInsufficientPrivileges, nil
	}

	ac := NewContext(user.ID, user.DisplayName, role)
	ac.SessionID = hs.SessionID
	ac.Namespace = at.namespace
	ac.Address = hs.Address
	ac.AuthenticatedAt = h.now()
	if rec.PlatformID != 0 || rec.PlatformName != "" || rec.PlatformType != "" {
		ac.Platform = &Platform{ID: rec.PlatformID, Name: rec.PlatformName, Type: rec.PlatformType}
	}
	return ResultSuccess, ac
}

// finish 记录日志、span 状态，必要时发出安全事件
func (h *Handler) finish(ctx context.Context, span trace.Span, res Result, at *attempt) {
	span.SetAttributes(attribute.String("rtguard.auth.result", res.String()))
	if at.principalID != 0 {
		ctx = logger.WithPrincipalID(ctx, at.principalID)
	}

	fields := []zap.Field{
		zap.String("result", res.String()),
		zap.String("namespace", at.namespace),
		zap.String("address", at.address),
	}
	if at.reason != "" {
		fields = append(fields, zap.String("reason", at.reason))
	}

	switch res {
	case ResultSuccess:
		span.SetStatus(codes.Ok, "")
		h.log.DebugContext(ctx, "connection authenticated", fields...)
	case ResultSystemError:
		span.SetStatus(codes.Error, at.reason)
		if at.err != nil {
			span.RecordError(at.err)
			fields = append(fields, zap.Error(at.err))
		}
		h.log.ErrorContext(ctx, "authentication failed", fields...)
	case ResultRateLimited, ResultInsufficientPrivileges:
		h.log.WarnContext(ctx, "authentication rejected", fields...)
	default:
		h.log.InfoContext(ctx, "authentication rejected", fields...)
	}

	if res.Audited() && h.audit != nil {
		e := audit.NewEvent(res.String(), at.address, at.namespace)
		e.PrincipalID = at.principalID
		e.Reason = at.reason
		h.audit.Publish(e)
	}
}

// AuthorizeAdmin 连接建立后的逐操作检查
// permission 为空时只要求 admin 角色
func (h *Handler) AuthorizeAdmin(ac *Context, permission string) bool {
	if !ac.IsAdmin() {
		return false
	}
	return permission == "" || ac.HasPermission(permission)
}

// ValidateSession 确认会话仍然属于该用户且用户仍处于启用状态
// 任何存储故障都按无效处理
func (h *Handler) ValidateSession(ctx context.Context, principalID int64, sessionID string) bool {
	_, ok := h.revalidate(ctx, principalID, sessionID)
	return ok
}

// Refresh 重新校验连接的身份，角色变化时返回新的 Context
// ok=false 表示连接应当断开
func (h *Handler) Refresh(ctx context.Context, ac *Context) (*Context, bool) {
	if ac == nil {
		return nil, false
	}
	user, ok := h.revalidate(ctx, ac.PrincipalID, ac.SessionID)
	if !ok {
		return nil, false
	}
	if role := ParseRole(user.Role); role != ac.Role {
		h.log.InfoContext(logger.WithPrincipalID(ctx, ac.PrincipalID), "principal role changed",
			zap.String("from", string(ac.Role)),
			zap.String("to", string(role)),
		)
		return ac.withRole(role), true
	}
	return ac, true
}

func (h *Handler) revalidate(ctx context.Context, principalID int64, sessionID string) (user *directory.User, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			h.log.ErrorContext(ctx, "session validation panic", zap.Any("panic", r))
			user, ok = nil, false
		}
	}()

	if principalID <= 0 || sessionID == "" {
		return nil, false
	}
	rec, found, err := h.sessions.Lookup(ctx, sessionID)
	if err != nil {
		h.log.ErrorContext(ctx, "session validation failed", zap.Int64("principal_id", principalID), zap.Error(err))
		return nil, false
	}
	if !found || rec == nil || rec.UserID != principalID || !rec.Active {
		return nil, false
	}

	u, found, err := h.users.FindUser(ctx, principalID)
	if err != nil {
		h.log.ErrorContext(ctx, "session validation failed", zap.Int64("principal_id", principalID), zap.Error(err))
		return nil, false
	}
	if !found || u == nil || !u.Active {
		return nil, false
	}
	return u, true
}
