package cache

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// memoryCache 基于 go-cache 的进程内实现，单机部署或测试使用
type memoryCache struct {
	cache      *gocache.Cache
	serializer Serializer
	keyPrefix  string
	defaultTTL time.Duration
}

func newMemoryCache(cfg *Config) *memoryCache {
	mc := cfg.Memory
	if mc == nil {
		mc = DefaultMemoryConfig()
	}
	return &memoryCache{
		cache:      gocache.New(gocache.NoExpiration, mc.CleanupInterval),
		serializer: cfg.Serializer,
		keyPrefix:  cfg.KeyPrefix,
		defaultTTL: cfg.DefaultTTL,
	}
}

func (m *memoryCache) buildKey(key string) string {
	return m.keyPrefix + key
}

func (m *memoryCache) expiration(ttl time.Duration) time.Duration {
	switch {
	case ttl < 0:
		return gocache.NoExpiration
	case ttl == 0 && m.defaultTTL > 0:
		return m.defaultTTL
	case ttl == 0:
		return gocache.NoExpiration
	}
	return ttl
}

// Get 获取
func (m *memoryCache) Get(_ context.Context, key string, value any) error {
	data, found := m.cache.Get(m.buildKey(key))
	if !found {
		return ErrCacheNotFound
	}
	raw, ok := data.([]byte)
	if !ok {
		return fmt.Errorf("%w: unexpected value type %T", ErrCacheSerialization, data)
	}
	if err := m.serializer.Unmarshal(raw, value); err != nil {
		return ErrCacheSerialization.WithError(err)
	}
	return nil
}

// Set 设置
func (m *memoryCache) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	raw, err := m.serializer.Marshal(value)
	if err != nil {
		return ErrCacheSerialization.WithError(err)
	}
	m.cache.Set(m.buildKey(key), raw, m.expiration(ttl))
	return nil
}

// Delete 删除
func (m *memoryCache) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		m.cache.Delete(m.buildKey(key))
	}
	return nil
}

// Exists 是否存在
func (m *memoryCache) Exists(_ context.Context, key string) (bool, error) {
	_, found := m.cache.Get(m.buildKey(key))
	return found, nil
}

// TTL 剩余时间，-1 表示不过期
func (m *memoryCache) TTL(_ context.Context, key string) (time.Duration, error) {
	_, exp, found := m.cache.GetWithExpiration(m.buildKey(key))
	if !found {
		return 0, ErrCacheNotFound
	}
	if exp.IsZero() {
		return -1, nil
	}
	return time.Until(exp), nil
}

// Ping 内存实现始终可用
func (m *memoryCache) Ping(context.Context) error {
	return nil
}

// Close 清空数据
func (m *memoryCache) Close() error {
	m.cache.Flush()
	return nil
}
