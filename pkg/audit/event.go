package audit

import (
	"context"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event 安全事件，对外只暴露匿名化后的地址
type Event struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Outcome     string    `json:"outcome"`
	Address     string    `json:"address"`
	Namespace   string    `json:"namespace"`
	PrincipalID int64     `json:"principal_id,omitempty"`
	Reason      string    `json:"reason,omitempty"`
}

// NewEvent 创建事件，address 会被匿名化
func NewEvent(outcome, address, namespace string) Event {
	return Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Outcome:   outcome,
		Address:   AnonymizeAddress(address),
		Namespace: namespace,
	}
}

// Sink 事件输出端
type Sink interface {
	Emit(ctx context.Context, e Event) error
}

// SinkFunc 函数适配器
type SinkFunc func(ctx context.Context, e Event) error

// Emit 实现 Sink
func (f SinkFunc) Emit(ctx context.Context, e Event) error {
	return f(ctx, e)
}

// Publisher 认证层依赖的发布接口
type Publisher interface {
	Publish(e Event)
}

// AnonymizeAddress IPv4 保留 /24，IPv6 保留 /48，无法解析时返回 "unknown"
// 输入可以带端口
func AnonymizeAddress(address string) string {
	address = strings.TrimSpace(address)
	if host, _, err := net.SplitHostPort(address); err == nil {
		address = host
	}
	addr, err := netip.ParseAddr(strings.Trim(address, "[]"))
	if err != nil {
		return "unknown"
	}
	addr = addr.Unmap().WithZone("")

	bits := 48
	if addr.Is4() {
		bits = 24
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return "unknown"
	}
	return prefix.Addr().String()
}
