package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisCache 基于 UniversalClient，单机/集群/哨兵共用
type redisCache struct {
	client     redis.UniversalClient
	serializer Serializer
	keyPrefix  string
	defaultTTL time.Duration
}

func newRedisClient(cfg *RedisConfig) redis.UniversalClient {
	switch cfg.Mode {
	case RedisCluster:
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        cfg.Addrs,
			Username:     cfg.Username,
			Password:     cfg.Password,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			MaxRetries:   cfg.MaxRetries,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
	case RedisSentinel:
		return redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    cfg.MasterName,
			SentinelAddrs: cfg.Addrs,
			Username:      cfg.Username,
			Password:      cfg.Password,
			DB:            cfg.DB,
			PoolSize:      cfg.PoolSize,
			MinIdleConns:  cfg.MinIdleConns,
			MaxRetries:    cfg.MaxRetries,
			DialTimeout:   cfg.DialTimeout,
			ReadTimeout:   cfg.ReadTimeout,
			WriteTimeout:  cfg.WriteTimeout,
		})
	default:
		return redis.NewClient(&redis.Options{
			Addr:         cfg.Addr,
			Username:     cfg.Username,
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			MaxRetries:   cfg.MaxRetries,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
	}
}

func newRedisCache(cfg *Config) (Cache, error) {
	client := newRedisClient(cfg.Redis)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, ErrCacheConnection.WithError(err)
	}

	return NewRedisWithClient(client, cfg), nil
}

// NewRedisWithClient 使用已有客户端，不做连接检查
func NewRedisWithClient(client redis.UniversalClient, cfg *Config) Cache {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	serializer := cfg.Serializer
	if serializer == nil {
		serializer = JSONSerializer{}
	}
	return &redisCache{
		client:     client,
		serializer: serializer,
		keyPrefix:  cfg.KeyPrefix,
		defaultTTL: cfg.DefaultTTL,
	}
}

func (r *redisCache) buildKey(key string) string {
	return r.keyPrefix + key
}

func (r *redisCache) expiration(ttl time.Duration) time.Duration {
	switch {
	case ttl < 0:
		return 0
	case ttl == 0:
		return r.defaultTTL
	}
	return ttl
}

// Get 获取
func (r *redisCache) Get(ctx context.Context, key string, value any) error {
	data, err := r.client.Get(ctx, r.buildKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCacheNotFound
		}
		return ErrCacheOperation.WithError(err)
	}
	if err := r.serializer.Unmarshal(data, value); err != nil {
		return ErrCacheSerialization.WithError(err)
	}
	return nil
}

// Set 设置
func (r *redisCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := r.serializer.Marshal(value)
	if err != nil {
		return ErrCacheSerialization.WithError(err)
	}
	if err := r.client.Set(ctx, r.buildKey(key), data, r.expiration(ttl)).Err(); err != nil {
		return ErrCacheOperation.WithError(err)
	}
	return nil
}

// Delete 删除
// 集群模式下多个 key 可能跨 slot，逐个删除
func (r *redisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if _, ok := r.client.(*redis.ClusterClient); ok {
		for _, key := range keys {
			if err := r.client.Del(ctx, r.buildKey(key)).Err(); err != nil {
				return ErrCacheOperation.WithError(err)
			}
		}
		return nil
	}

	full := make([]string, len(keys))
	for i, key := range keys {
		full[i] = r.buildKey(key)
	}
	if err := r.client.Del(ctx, full...).Err(); err != nil {
		return ErrCacheOperation.WithError(err)
	}
	return nil
}

// Exists 是否存在
func (r *redisCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, r.buildKey(key)).Result()
	if err != nil {
		return false, ErrCacheOperation.WithError(err)
	}
	return n > 0, nil
}

// TTL 剩余时间，-1 表示不过期
func (r *redisCache) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := r.client.TTL(ctx, r.buildKey(key)).Result()
	if err != nil {
		return 0, ErrCacheOperation.WithError(err)
	}
	switch ttl {
	case -2:
		return 0, ErrCacheNotFound
	case -1:
		return -1, nil
	}
	return ttl, nil
}

// Ping 连接检查
func (r *redisCache) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCacheConnection, err)
	}
	return nil
}

// Close 关闭客户端
func (r *redisCache) Close() error {
	return r.client.Close()
}
