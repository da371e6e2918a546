package config

import "github.com/tokmz/rtguard/pkg/errors"

var (
	// ErrConfigNotFound 配置文件未找到
	ErrConfigNotFound = errors.New(1101, 500, "config_not_found")
	// ErrConfigReadFailed 配置读取失败
	ErrConfigReadFailed = errors.New(1102, 500, "config_read_failed")
)
