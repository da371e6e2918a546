package cache

import (
	"fmt"
	"time"
)

// DriverType 驱动类型
type DriverType string

const (
	DriverRedis  DriverType = "redis"
	DriverMemory DriverType = "memory"
)

// RedisMode Redis 部署模式
type RedisMode string

const (
	RedisStandalone RedisMode = "standalone"
	RedisCluster    RedisMode = "cluster"
	RedisSentinel   RedisMode = "sentinel"
)

// Config 缓存配置
type Config struct {
	Driver     DriverType    `mapstructure:"driver"`
	Redis      *RedisConfig  `mapstructure:"redis"`
	Memory     *MemoryConfig `mapstructure:"memory"`
	KeyPrefix  string        `mapstructure:"key_prefix"`
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
	Tracing    bool          `mapstructure:"tracing"` // 是否包一层 otel span

	Serializer Serializer `mapstructure:"-"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Addrs        []string      `mapstructure:"addrs"`
	Mode         RedisMode     `mapstructure:"mode"`
	Username     string        `mapstructure:"username"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	MaxRetries   int           `mapstructure:"max_retries"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MasterName   string        `mapstructure:"master_name"` // 哨兵模式
}

// MemoryConfig 内存缓存配置
type MemoryConfig struct {
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// DefaultConfig 默认使用内存驱动
func DefaultConfig() *Config {
	return &Config{
		Driver:     DriverMemory,
		DefaultTTL: 24 * time.Hour,
		Memory:     DefaultMemoryConfig(),
	}
}

// DefaultRedisConfig 默认单机 Redis
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:         "localhost:6379",
		Mode:         RedisStandalone,
		PoolSize:     50,
		MinIdleConns: 5,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// DefaultMemoryConfig 默认内存配置
func DefaultMemoryConfig() *MemoryConfig {
	return &MemoryConfig{CleanupInterval: 5 * time.Minute}
}

// Option 配置选项
type Option func(*Config)

// WithRedis 使用 Redis
func WithRedis(cfg *RedisConfig) Option {
	return func(c *Config) {
		c.Driver = DriverRedis
		c.Redis = cfg
	}
}

// WithMemory 使用内存
func WithMemory(cfg *MemoryConfig) Option {
	return func(c *Config) {
		c.Driver = DriverMemory
		c.Memory = cfg
	}
}

// WithKeyPrefix 键前缀
func WithKeyPrefix(prefix string) Option {
	return func(c *Config) {
		c.KeyPrefix = prefix
	}
}

// WithDefaultTTL 默认 TTL
func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *Config) {
		c.DefaultTTL = ttl
	}
}

// WithTracing 启用链路追踪
func WithTracing(enabled bool) Option {
	return func(c *Config) {
		c.Tracing = enabled
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverMemory:
		return nil
	case DriverRedis:
	default:
		return fmt.Errorf("%w: invalid driver %q", ErrCacheInvalidConfig, c.Driver)
	}

	if c.Redis == nil {
		return fmt.Errorf("%w: redis config is required", ErrCacheInvalidConfig)
	}
	switch c.Redis.Mode {
	case RedisStandalone, "":
		if c.Redis.Addr == "" {
			return fmt.Errorf("%w: redis addr is required for standalone mode", ErrCacheInvalidConfig)
		}
	case RedisCluster:
		if len(c.Redis.Addrs) == 0 {
			return fmt.Errorf("%w: redis cluster requires addrs", ErrCacheInvalidConfig)
		}
	case RedisSentinel:
		if len(c.Redis.Addrs) == 0 || c.Redis.MasterName == "" {
			return fmt.Errorf("%w: redis sentinel requires addrs and master name", ErrCacheInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: invalid redis mode %q", ErrCacheInvalidConfig, c.Redis.Mode)
	}
	return nil
}
