package session

import (
	"context"
	"strings"
	"time"

	"github.com/tokmz/rtguard/pkg/cache"
	"github.com/tokmz/rtguard/pkg/errors"
)

// keyPrefix 会话在缓存中的键前缀
const keyPrefix = "session:"

// Record 会话存储中的数据，由登录流程写入
type Record struct {
	UserID       int64  `json:"user_id"`
	Role         string `json:"role,omitempty"`
	Active       bool   `json:"active"`
	PlatformID   int64  `json:"platform_id,omitempty"`
	PlatformName string `json:"platform_name,omitempty"`
	PlatformType string `json:"platform_type,omitempty"`
}

// Store 基于 cache 的会话存储
type Store struct {
	cache cache.Cache
	ttl   time.Duration
}

// NewStore ttl 为 0 时使用缓存的默认 TTL
func NewStore(c cache.Cache, ttl time.Duration) *Store {
	return &Store{cache: c, ttl: ttl}
}

func key(id string) string {
	return keyPrefix + id
}

// Lookup 查找会话
// 未找到或数据损坏返回 ok=false，只有存储故障才返回 error
func (s *Store) Lookup(ctx context.Context, id string) (*Record, bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, false, nil
	}

	var rec Record
	err := s.cache.Get(ctx, key(id), &rec)
	switch {
	case err == nil:
	case errors.Is(err, cache.ErrCacheNotFound), errors.Is(err, cache.ErrCacheSerialization):
		return nil, false, nil
	default:
		return nil, false, err
	}

	if rec.UserID <= 0 {
		return nil, false, nil
	}
	return &rec, true, nil
}

// Save 写入会话
func (s *Store) Save(ctx context.Context, id string, rec Record) error {
	return s.cache.Set(ctx, key(id), rec, s.ttl)
}

// Delete 注销会话
func (s *Store) Delete(ctx context.Context, ids ...string) error {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = key(id)
	}
	return s.cache.Delete(ctx, keys...)
}
