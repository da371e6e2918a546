package auth

import (
	"errors"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// 握手数据中会话引用的字段名
const (
	AuthKeySessionID = "session_id"
	HeaderSessionID  = "X-Session-ID"
	CookieSession    = "session"
)

var (
	ErrSessionMissing   = errors.New("session reference missing")
	ErrSessionMalformed = errors.New("session reference malformed")
)

// Payload 传输层交来的原始握手数据
type Payload struct {
	Auth       map[string]any
	Headers    http.Header
	RemoteAddr string

	// Address 传输层已按可信代理解析出的客户端地址，非空时优先于 Headers
	Address string
}

// Handshake 解析后的握手数据
type Handshake struct {
	SessionID string
	Address   string
}

// PayloadFromRequest 从 websocket 升级请求构建握手数据，查询参数进入 Auth
// address 是传输层解析出的客户端地址（gin 的 ClientIP 会校验可信代理），为空时回退到 ClientAddress
func PayloadFromRequest(r *http.Request, address string) Payload {
	auth := make(map[string]any)
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			auth[k] = v[0]
		}
	}
	return Payload{
		Auth:       auth,
		Headers:    r.Header,
		RemoteAddr: r.RemoteAddr,
		Address:    address,
	}
}

// ParseHandshake 提取来源地址与会话引用
// 地址总能得到；会话引用缺失或类型不对时返回错误，由调用方映射为 INVALID_SESSION
func ParseHandshake(p Payload) (Handshake, error) {
	hs := Handshake{Address: ClientAddress(p.Headers, p.RemoteAddr)}
	if addr, ok := parseIP(p.Address); ok {
		hs.Address = addr
	}

	if raw, ok := p.Auth[AuthKeySessionID]; ok {
		s, ok := raw.(string)
		if !ok {
			return hs, ErrSessionMalformed
		}
		if s = strings.TrimSpace(s); s != "" {
			hs.SessionID = s
			return hs, validSessionID(hs.SessionID)
		}
	}

	if p.Headers != nil {
		if s := strings.TrimSpace(p.Headers.Get(HeaderSessionID)); s != "" {
			hs.SessionID = s
			return hs, validSessionID(s)
		}
		req := http.Request{Header: p.Headers}
		if c, err := req.Cookie(CookieSession); err == nil && strings.TrimSpace(c.Value) != "" {
			hs.SessionID = strings.TrimSpace(c.Value)
			return hs, validSessionID(hs.SessionID)
		}
	}
	return hs, ErrSessionMissing
}

// validSessionID 会话引用是不透明字符串，只限制长度和可见字符
func validSessionID(s string) error {
	if len(s) > 256 {
		return ErrSessionMalformed
	}
	for i := 0; i < len(s); i++ {
		if s[i] <= ' ' || s[i] == 0x7f {
			return ErrSessionMalformed
		}
	}
	return nil
}

// ClientAddress X-Forwarded-For 第一跳优先，其次 X-Real-IP，最后是对端地址
// 转发头可以被客户端伪造，只适用于前面一定有可信代理的部署
func ClientAddress(h http.Header, remoteAddr string) string {
	if h != nil {
		if xff := h.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if addr, ok := parseIP(first); ok {
				return addr
			}
		}
		if addr, ok := parseIP(h.Get("X-Real-IP")); ok {
			return addr
		}
	}

	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	if addr, ok := parseIP(host); ok {
		return addr
	}
	return "unknown"
}

func parseIP(s string) (string, bool) {
	s = strings.Trim(strings.TrimSpace(s), "[]")
	if s == "" {
		return "", false
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return "", false
	}
	return addr.Unmap().String(), true
}
