package ws

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/tokmz/rtguard/pkg/auth"
)

// Request 一次事件分发
// Client 在服务端主动调用 Dispatch 时为 nil
type Request struct {
	Namespace string
	Event     string
	RequestID string
	Payload   json.RawMessage
	Auth      *auth.Context
	Client    *Client
}

// Bind 解析请求数据
func (r *Request) Bind(v any) error {
	if len(r.Payload) == 0 {
		return ErrInvalidMessage
	}
	if err := json.Unmarshal(r.Payload, v); err != nil {
		return ErrInvalidMessage
	}
	return nil
}

// Reply 向发起请求的连接发送应答，没有连接时忽略
func (r *Request) Reply(data any) error {
	if r.Client == nil {
		return nil
	}
	return r.Client.SendJSON(newResponse(r.RequestID, data))
}

// Handler 事件处理器
type Handler func(ctx context.Context, req *Request) error

// Handlers 事件名到处理器的映射
type Handlers map[string]Handler

// NextFunc 中间件下一步
type NextFunc func() error

// MiddlewareFunc 事件中间件
type MiddlewareFunc func(ctx context.Context, req *Request, next NextFunc) error

// AdminAuthorizer 管理权限判断，auth.Handler 实现了它
type AdminAuthorizer interface {
	AuthorizeAdmin(ac *auth.Context, permission string) bool
}

// RequireAdmin 要求当前身份为 admin，permission 非空时还要求具备该权限
// 检查的是连接当前的身份，复核后降级的连接会在这里被拒绝
func RequireAdmin(authz AdminAuthorizer, permission string) MiddlewareFunc {
	return func(ctx context.Context, req *Request, next NextFunc) error {
		if !authz.AuthorizeAdmin(req.Auth, permission) {
			return ErrForbidden
		}
		return next()
	}
}

// namespace 一个命名空间的处理器表
type namespace struct {
	name       string
	adminOnly  bool
	guard      MiddlewareFunc
	handlers   Handlers
	middleware []MiddlewareFunc
	compiled   Handlers
}

// registry 命名空间注册表，启动后冻结
type registry struct {
	mu         sync.RWMutex
	namespaces map[string]*namespace
	global     []MiddlewareFunc
	frozen     bool
}

func newRegistry() *registry {
	return &registry{namespaces: make(map[string]*namespace)}
}

func (r *registry) register(ns *namespace) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrRegistryFrozen
	}
	if _, ok := r.namespaces[ns.name]; ok {
		return ErrNamespaceExists
	}
	r.namespaces[ns.name] = ns
	return nil
}

func (r *registry) use(mw ...MiddlewareFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrRegistryFrozen
	}
	r.global = append(r.global, mw...)
	return nil
}

// freeze 预编译所有处理器链
func (r *registry) freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return
	}
	r.frozen = true
	for _, ns := range r.namespaces {
		ns.compiled = make(Handlers, len(ns.handlers))
		for event, h := range ns.handlers {
			ns.compiled[event] = r.chain(ns, h)
		}
	}
}

func (r *registry) lookup(name string) (*namespace, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ns, ok := r.namespaces[name]
	return ns, ok
}

// handler 返回 (命名空间, 事件) 的处理器链
func (r *registry) handler(name, event string) (Handler, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ns, ok := r.namespaces[name]
	if !ok {
		return nil, false, ErrNamespaceNotFound
	}
	if r.frozen {
		h, ok := ns.compiled[event]
		return h, ok, nil
	}
	h, ok := ns.handlers[event]
	if !ok {
		return nil, false, nil
	}
	return r.chain(ns, h), true, nil
}

// chain 顺序：管理员守卫、全局中间件、命名空间中间件、处理器
func (r *registry) chain(ns *namespace, h Handler) Handler {
	mws := make([]MiddlewareFunc, 0, len(r.global)+len(ns.middleware)+1)
	if ns.guard != nil {
		mws = append(mws, ns.guard)
	}
	mws = append(mws, r.global...)
	mws = append(mws, ns.middleware...)

	final := h
	for i := len(mws) - 1; i >= 0; i-- {
		mw, next := mws[i], final
		final = func(ctx context.Context, req *Request) error {
			return mw(ctx, req, func() error {
				return next(ctx, req)
			})
		}
	}
	return final
}
