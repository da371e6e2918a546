package origin

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// loopbackHosts 回环地址在 origin 中的几种写法
var loopbackHosts = []string{"localhost", "127.0.0.1", "[::1]"}

// commonPorts 模式匹配时额外放行的常见前端/工具端口
var commonPorts = map[int]struct{}{
	3000: {}, 3001: {}, 4200: {}, 5000: {},
	5173: {}, 8000: {}, 8080: {}, 8081: {},
}

// IsLoopback 判断 host 是否为回环别名，兼容带或不带方括号的 IPv6
func IsLoopback(host string) bool {
	h := strings.ToLower(strings.TrimSpace(host))
	switch h {
	case "localhost", "127.0.0.1", "::1", "[::1]":
		return true
	}
	return false
}

// Pattern 由单个 host 派生的 origin 匹配器
type Pattern struct {
	Host string // 派生来源的 host（URL 写法，IPv6 带方括号）
	Port int    // 部署端口，0 表示只接受无端口或常见端口

	re *regexp.Regexp
}

func newPattern(host string, port int) Pattern {
	return Pattern{
		Host: host,
		Port: port,
		re:   regexp.MustCompile(`^https?://` + regexp.QuoteMeta(host) + `(?::(\d{1,5}))?$`),
	}
}

// Match 协议必须是 http/https，host 完全一致，端口缺省、属于常见端口或等于部署端口
func (p Pattern) Match(origin string) bool {
	m := p.re.FindStringSubmatch(strings.ToLower(origin))
	if m == nil {
		return false
	}
	if m[1] == "" {
		return true
	}
	port, err := strconv.Atoi(m[1])
	if err != nil || port <= 0 || port > 65535 {
		return false
	}
	if _, ok := commonPorts[port]; ok {
		return true
	}
	return p.Port != 0 && port == p.Port
}

// PatternSet 回环别名匹配器加上部署 host 匹配器
// 只在精确匹配失败后使用
type PatternSet struct {
	patterns []Pattern
}

// NewPatternSet 根据部署 host 和端口构建匹配器集合
func NewPatternSet(host string, port int) *PatternSet {
	s := &PatternSet{}
	for _, h := range loopbackHosts {
		s.patterns = append(s.patterns, newPattern(h, port))
	}

	host = urlHost(host)
	if host != "" && !IsLoopback(host) {
		s.patterns = append(s.patterns, newPattern(host, port))
	}
	return s
}

// Match 任一匹配器命中即返回 true
func (s *PatternSet) Match(origin string) bool {
	for _, p := range s.patterns {
		if p.Match(origin) {
			return true
		}
	}
	return false
}

// Patterns 返回匹配器副本
func (s *PatternSet) Patterns() []Pattern {
	out := make([]Pattern, len(s.patterns))
	copy(out, s.patterns)
	return out
}

// urlHost 把配置里的 host 转成 URL 中的写法
func urlHost(host string) string {
	h := strings.ToLower(strings.TrimSpace(host))
	if strings.Contains(h, ":") && !strings.HasPrefix(h, "[") {
		return "[" + h + "]"
	}
	return h
}

// parsed 规范化后的 origin
type parsed struct {
	scheme string
	host   string // URL 写法
	port   string // 可能为空
}

func (p parsed) String() string {
	if p.port == "" {
		return p.scheme + "://" + p.host
	}
	return p.scheme + "://" + p.host + ":" + p.port
}

func (p parsed) withScheme(scheme string) parsed {
	p.scheme = scheme
	return p
}

func (p parsed) withHost(host string) parsed {
	p.host = host
	return p
}

// parseOrigin 解析 scheme://host[:port]，不允许路径、查询、用户信息
func parseOrigin(raw string) (parsed, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "null") {
		return parsed{}, false
	}

	u, err := url.Parse(raw)
	if err != nil {
		return parsed{}, false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return parsed{}, false
	}
	if u.Opaque != "" || u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return parsed{}, false
	}
	if u.Path != "" && u.Path != "/" {
		return parsed{}, false
	}

	hostname := u.Hostname()
	if hostname == "" {
		return parsed{}, false
	}
	port := u.Port()
	if port != "" {
		n, err := strconv.Atoi(port)
		if err != nil || n <= 0 || n > 65535 {
			return parsed{}, false
		}
	}

	return parsed{scheme: scheme, host: urlHost(hostname), port: port}, true
}

func oppositeScheme(scheme string) string {
	if scheme == "https" {
		return "http"
	}
	return "https"
}
