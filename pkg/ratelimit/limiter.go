package ratelimit

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tokmz/rtguard/pkg/logger"
	"go.uber.org/zap"
)

// Keyspace 限流 key 的命名空间，两个空间互相独立
type Keyspace int

const (
	KeyspacePrincipal Keyspace = iota + 1
	KeyspaceAddress
)

func (k Keyspace) String() string {
	switch k {
	case KeyspacePrincipal:
		return "principal"
	case KeyspaceAddress:
		return "address"
	}
	return fmt.Sprintf("keyspace(%d)", int(k))
}

// window 单个 key 的尝试时间戳，按时间递增
type window struct {
	stamps []time.Time
}

// prune 丢弃不晚于 cutoff 的时间戳
func (w *window) prune(cutoff time.Time) {
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return
	}
	n := copy(w.stamps, w.stamps[i:])
	w.stamps = w.stamps[:n]
}

type shard struct {
	mu      sync.Mutex
	windows map[string]*window
}

type space struct {
	shards []*shard
}

func newSpace(n int) *space {
	s := &space{shards: make([]*shard, n)}
	for i := range s.shards {
		s.shards[i] = &shard{windows: make(map[string]*window)}
	}
	return s
}

func (s *space) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

// Stats 限流统计
type Stats struct {
	Keys     int   // 当前跟踪的 key 数
	Rejected int64 // 被拒绝的尝试次数
	FailOpen int64 // 内部异常放行次数
}

// Option 限流器选项
type Option func(*Limiter)

// WithClock 注入时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// WithLogger 设置日志
func WithLogger(log logger.Logger) Option {
	return func(l *Limiter) {
		l.log = log
	}
}

// Limiter 按用户 id 与来源地址分别计数的滑动窗口限流器
// 每个 keyspace 按 key 哈希分片加锁，不同 key 之间不互相阻塞
type Limiter struct {
	cfg    atomic.Pointer[Config]
	spaces map[Keyspace]*space
	now    func() time.Time
	log    logger.Logger

	rejected atomic.Int64
	failOpen atomic.Int64
}

// New 创建限流器，非法配置回退为默认值并记录告警
func New(cfg Config, opts ...Option) *Limiter {
	l := &Limiter{
		now: time.Now,
		log: logger.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.log = l.log.Named("ratelimit")

	cfg, warnings := cfg.Sanitize()
	for _, w := range warnings {
		l.log.Warn("rate limit config warning", zap.String("warning", w))
	}
	l.cfg.Store(&cfg)

	l.spaces = map[Keyspace]*space{
		KeyspacePrincipal: newSpace(cfg.Shards),
		KeyspaceAddress:   newSpace(cfg.Shards),
	}
	return l
}

// Config 当前生效的配置
func (l *Limiter) Config() Config {
	return *l.cfg.Load()
}

// Reconfigure 替换窗口和上限，已有计数保留，分片数不变
func (l *Limiter) Reconfigure(cfg Config) []string {
	cfg, warnings := cfg.Sanitize()
	cfg.Shards = l.cfg.Load().Shards
	for _, w := range warnings {
		l.log.Warn("rate limit config warning", zap.String("warning", w))
	}
	l.cfg.Store(&cfg)
	l.log.Info("rate limit reconfigured",
		zap.Duration("window", cfg.Window),
		zap.Int("principal_limit", cfg.PrincipalLimit),
		zap.Int("address_limit", cfg.AddressLimit),
	)
	return warnings
}

// CheckAndRecord 检查 key 是否仍有额度，有则记录本次尝试
// 被拒绝的尝试不记录，避免攻击方的重试无限延长窗口
// 内部异常时放行，并以 fail_open 日志与普通放行区分
func (l *Limiter) CheckAndRecord(key string, ks Keyspace) (allowed bool) {
	defer func() {
		if r := recover(); r != nil {
			l.openOnFailure(key, ks, fmt.Errorf("panic: %v", r))
			allowed = true
		}
	}()

	sp, ok := l.spaces[ks]
	if !ok {
		l.openOnFailure(key, ks, fmt.Errorf("unknown keyspace %s", ks))
		return true
	}
	if key == "" {
		l.openOnFailure(key, ks, fmt.Errorf("empty key"))
		return true
	}

	cfg := l.cfg.Load()
	limit := cfg.limitFor(ks)

	sh := sp.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := l.now()
	w, ok := sh.windows[key]
	if !ok {
		w = &window{}
		sh.windows[key] = w
	}
	w.prune(now.Add(-cfg.Window))

	if len(w.stamps) >= limit {
		l.rejected.Add(1)
		l.log.Debug("rate limit exceeded",
			zap.String("keyspace", ks.String()),
			zap.String("key", key),
			zap.Int("limit", limit),
		)
		return false
	}
	w.stamps = append(w.stamps, now)
	return true
}

func (l *Limiter) openOnFailure(key string, ks Keyspace, err error) {
	l.failOpen.Add(1)
	l.log.Error("rate limiter failure, allowing attempt",
		zap.Bool("fail_open", true),
		zap.String("keyspace", ks.String()),
		zap.String("key", key),
		zap.Error(err),
	)
}

// Count 窗口内已记录的尝试次数，不记录新的尝试
func (l *Limiter) Count(key string, ks Keyspace) int {
	sp, ok := l.spaces[ks]
	if !ok {
		return 0
	}
	cfg := l.cfg.Load()

	sh := sp.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	w, ok := sh.windows[key]
	if !ok {
		return 0
	}
	w.prune(l.now().Add(-cfg.Window))
	return len(w.stamps)
}

// Reset 清除指定 key 的全部记录
func (l *Limiter) Reset(key string, ks Keyspace) {
	sp, ok := l.spaces[ks]
	if !ok {
		return
	}
	sh := sp.shardFor(key)
	sh.mu.Lock()
	delete(sh.windows, key)
	sh.mu.Unlock()
}

// Sweep 丢弃早于 maxAge 的记录并删除空 key，返回删除的 key 数
// maxAge 不大于 0 时使用窗口长度
func (l *Limiter) Sweep(maxAge time.Duration) int {
	if maxAge <= 0 {
		maxAge = l.cfg.Load().Window
	}
	cutoff := l.now().Add(-maxAge)

	removed := 0
	for _, sp := range l.spaces {
		for _, sh := range sp.shards {
			sh.mu.Lock()
			for key, w := range sh.windows {
				w.prune(cutoff)
				if len(w.stamps) == 0 {
					delete(sh.windows, key)
					removed++
				}
			}
			sh.mu.Unlock()
		}
	}
	return removed
}

// Run 按 SweepInterval 周期清理，直到 ctx 取消
func (l *Limiter) Run(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.Load().SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Sweep(0); n > 0 {
				l.log.Debug("rate limit sweep", zap.Int("removed", n))
			}
		}
	}
}

// Stats 当前统计
func (l *Limiter) Stats() Stats {
	keys := 0
	for _, sp := range l.spaces {
		for _, sh := range sp.shards {
			sh.mu.Lock()
			keys += len(sh.windows)
			sh.mu.Unlock()
		}
	}
	return Stats{
		Keys:     keys,
		Rejected: l.rejected.Load(),
		FailOpen: l.failOpen.Load(),
	}
}
