package cache

import "github.com/tokmz/rtguard/pkg/errors"

var (
	ErrCacheNotFound      = errors.New(5001, 404, "cache_not_found")
	ErrCacheConnection    = errors.New(5002, 500, "cache_connection_failed")
	ErrCacheSerialization = errors.New(5003, 500, "cache_serialization_failed")
	ErrCacheInvalidConfig = errors.New(5004, 500, "cache_invalid_config")
	ErrCacheOperation     = errors.New(5005, 500, "cache_operation_failed")
)
