package cache

import "fmt"

// New 根据配置创建缓存
func New(cfg *Config) (Cache, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Serializer == nil {
		cfg.Serializer = JSONSerializer{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		c   Cache
		err error
	)
	switch cfg.Driver {
	case DriverRedis:
		c, err = newRedisCache(cfg)
	case DriverMemory:
		c = newMemoryCache(cfg)
	default:
		err = fmt.Errorf("%w: unsupported driver %q", ErrCacheInvalidConfig, cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Tracing {
		c = NewTracing(c)
	}
	return c, nil
}

// NewWithOptions Options 模式创建
func NewWithOptions(opts ...Option) (Cache, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return New(cfg)
}
