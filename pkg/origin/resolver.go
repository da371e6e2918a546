package origin

import (
	"net/http"
	"net/netip"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/tokmz/rtguard/pkg/errors"
	"github.com/tokmz/rtguard/pkg/logger"
)

// Wildcard 允许所有 origin 的哨兵值
const Wildcard = "*"

// Mode 部署模式
type Mode string

const (
	ModeDevelopment Mode = "development"
	ModeStaging     Mode = "staging"
	ModeProduction  Mode = "production"
)

// ParseMode 解析部署模式，大小写不敏感
func ParseMode(s string) (Mode, bool) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeDevelopment:
		return ModeDevelopment, true
	case ModeStaging:
		return ModeStaging, true
	case ModeProduction:
		return ModeProduction, true
	}
	return ModeProduction, false
}

// devToolingPorts 开发模式下额外放行的本地工具端口
var devToolingPorts = []int{3000, 3001, 4200, 5173, 8080}

const (
	defaultHost = "localhost"
	defaultPort = 5000
)

// Options 解析器输入
type Options struct {
	Host      string
	Port      int
	Mode      Mode
	AllowList []string
}

// ParseAllowList 解析逗号分隔的 allow-list
func ParseAllowList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Reason 连接校验结果的原因
type Reason string

const (
	ReasonPermitted    Reason = "origin permitted"
	ReasonMissing      Reason = "no Origin header supplied"
	ReasonMalformed    Reason = "malformed origin"
	ReasonNotPermitted Reason = "origin not permitted"
)

// Err 转为对外的错误码，允许时返回 nil
func (r Reason) Err() *errors.Error {
	switch r {
	case ReasonPermitted:
		return nil
	case ReasonMissing:
		return errors.ErrOriginMissing
	case ReasonMalformed:
		return errors.ErrOriginMalformed
	default:
		return errors.ErrOriginNotPermitted
	}
}

// snapshot 不可变的解析结果，通过原子指针整体替换
type snapshot struct {
	opts     Options
	origins  []string
	set      map[string]struct{}
	wildcard bool
	patterns *PatternSet
}

// Resolver 计算并缓存允许的浏览器 origin 集合
// 读操作只做一次原子加载，Reload 构建新快照后整体替换
type Resolver struct {
	log  logger.Logger
	mu   sync.Mutex
	snap atomic.Pointer[snapshot]
}

// NewResolver 创建解析器并立即计算一次
// 配置问题只记录警告，不会导致创建失败
func NewResolver(opts Options, log logger.Logger) *Resolver {
	if log == nil {
		log = logger.NewNop()
	}
	r := &Resolver{log: log.Named("origin")}
	r.Reload(opts)
	return r
}

// Reload 重新计算允许集合并原子替换，返回配置校验警告
func (r *Resolver) Reload(opts Options) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap, warnings := build(opts)
	for _, w := range warnings {
		r.log.Warn("origin config warning", zap.String("warning", w))
	}
	r.snap.Store(snap)

	r.log.Info("allowed origins resolved",
		zap.String("host", snap.opts.Host),
		zap.Int("port", snap.opts.Port),
		zap.String("mode", string(snap.opts.Mode)),
		zap.Int("count", len(snap.origins)),
		zap.Bool("wildcard", snap.wildcard),
	)
	return warnings
}

// AllowedOrigins 当前允许集合的副本，已去重排序
func (r *Resolver) AllowedOrigins() []string {
	s := r.snap.Load()
	out := make([]string, len(s.origins))
	copy(out, s.origins)
	return out
}

// IsWildcard 当前是否允许所有 origin
func (r *Resolver) IsWildcard() bool {
	return r.snap.Load().wildcard
}

// Validate 精确匹配、通配或模式匹配任一成立即允许
func (r *Resolver) Validate(origin string) bool {
	ok, _ := r.check(origin)
	return ok
}

// ValidateForConnection 校验实时连接的 origin 并给出原因
func (r *Resolver) ValidateForConnection(origin string, namespace string) (bool, Reason) {
	ok, reason := r.check(origin)
	if !ok {
		r.log.Info("connection origin rejected",
			zap.String("origin", origin),
			zap.String("namespace", namespace),
			zap.String("reason", string(reason)),
		)
	}
	return ok, reason
}

// CheckOrigin 可直接用作 websocket.Upgrader.CheckOrigin
func (r *Resolver) CheckOrigin(req *http.Request) bool {
	return r.Validate(req.Header.Get("Origin"))
}

func (r *Resolver) check(origin string) (bool, Reason) {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return false, ReasonMissing
	}
	p, ok := parseOrigin(origin)
	if !ok {
		return false, ReasonMalformed
	}

	s := r.snap.Load()
	if s.wildcard {
		return true, ReasonPermitted
	}
	norm := p.String()
	if _, ok := s.set[norm]; ok {
		return true, ReasonPermitted
	}
	if s.patterns.Match(norm) {
		return true, ReasonPermitted
	}
	return false, ReasonNotPermitted
}

// sanitize 校验输入，非法项替换为安全默认值并返回警告
func sanitize(opts Options) (Options, []string) {
	var warnings []string

	host := strings.TrimSpace(opts.Host)
	switch {
	case host == "":
		host = defaultHost
	case !validHost(host):
		warnings = append(warnings, "invalid host "+strconv.Quote(opts.Host)+", using "+defaultHost)
		host = defaultHost
	}
	opts.Host = strings.ToLower(host)

	if opts.Port <= 0 || opts.Port > 65535 {
		if opts.Port != 0 {
			warnings = append(warnings, "invalid port "+strconv.Itoa(opts.Port)+", using "+strconv.Itoa(defaultPort))
		}
		opts.Port = defaultPort
	}

	if mode, ok := ParseMode(string(opts.Mode)); ok {
		opts.Mode = mode
	} else {
		if opts.Mode != "" {
			warnings = append(warnings, "unknown mode "+strconv.Quote(string(opts.Mode))+", using production")
		}
		opts.Mode = ModeProduction
	}

	return opts, warnings
}

// validHost 只接受裸 host 名或 IP，不允许协议、端口、路径
func validHost(host string) bool {
	if strings.ContainsAny(host, "/ @?#") {
		return false
	}
	if strings.Contains(host, ":") {
		_, err := netip.ParseAddr(strings.Trim(host, "[]"))
		return err == nil
	}
	return true
}

func build(in Options) (*snapshot, []string) {
	opts, warnings := sanitize(in)
	snap := &snapshot{
		opts:     opts,
		patterns: NewPatternSet(opts.Host, opts.Port),
	}

	if len(opts.AllowList) == 1 && strings.TrimSpace(opts.AllowList[0]) == Wildcard {
		msg := "wildcard origin allows every origin"
		if opts.Mode == ModeProduction {
			msg = "wildcard origin configured in production mode"
		}
		warnings = append(warnings, msg)
		snap.wildcard = true
		snap.origins = []string{Wildcard}
		snap.set = map[string]struct{}{Wildcard: {}}
		return snap, warnings
	}

	set := make(map[string]struct{})
	add := func(p parsed) {
		for _, v := range expand(p) {
			set[v] = struct{}{}
		}
	}

	add(deploymentOrigin(opts))

	for _, raw := range opts.AllowList {
		raw = strings.TrimSpace(raw)
		if raw == Wildcard {
			warnings = append(warnings, "wildcard mixed with explicit origins is ignored")
			continue
		}
		p, ok := parseOrigin(raw)
		if !ok {
			warnings = append(warnings, "malformed origin "+strconv.Quote(raw)+" ignored")
			continue
		}
		add(p)
	}

	if opts.Mode == ModeDevelopment {
		for _, port := range devToolingPorts {
			add(parsed{scheme: "http", host: "localhost", port: strconv.Itoa(port)})
		}
	} else if opts.Port == 443 {
		set["https://"+urlHost(opts.Host)] = struct{}{}
	}

	origins := make([]string, 0, len(set))
	for o := range set {
		origins = append(origins, o)
	}
	sort.Strings(origins)

	snap.origins = origins
	snap.set = set
	return snap, warnings
}

// deploymentOrigin 部署自身的 origin，默认端口省略
func deploymentOrigin(opts Options) parsed {
	p := parsed{scheme: "http", host: urlHost(opts.Host), port: strconv.Itoa(opts.Port)}
	switch opts.Port {
	case 80:
		p.port = ""
	case 443:
		p.scheme, p.port = "https", ""
	}
	return p
}

// expand 生成协议互换以及回环别名的全部变体
func expand(p parsed) []string {
	hosts := []string{p.host}
	if IsLoopback(p.host) {
		hosts = loopbackHosts
	}

	out := make([]string, 0, len(hosts)*2)
	for _, h := range hosts {
		v := p.withHost(h)
		out = append(out, v.String(), v.withScheme(oppositeScheme(v.scheme)).String())
	}
	return out
}
