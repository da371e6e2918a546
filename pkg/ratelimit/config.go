package ratelimit

import (
	"fmt"
	"time"
)

// Config 限流配置
type Config struct {
	// Window 滑动窗口长度（默认 300s）
	Window time.Duration

	// PrincipalLimit 窗口内每个用户 id 的上限（默认 10）
	PrincipalLimit int

	// AddressLimit 窗口内每个来源地址的上限（默认 50，共享 NAT 需要更宽松）
	AddressLimit int

	// Shards 每个 keyspace 的分片数（默认 32），只在创建时生效
	Shards int

	// SweepInterval 后台清理间隔（默认 10 分钟）
	SweepInterval time.Duration
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		Window:         300 * time.Second,
		PrincipalLimit: 10,
		AddressLimit:   50,
		Shards:         32,
		SweepInterval:  10 * time.Minute,
	}
}

// Sanitize 将非法参数替换为默认值，返回告警信息
// 窗口和两个上限的零值也视为显式配置的非法值
func (c Config) Sanitize() (Config, []string) {
	def := DefaultConfig()
	var warnings []string

	if c.Window <= 0 {
		warnings = append(warnings, fmt.Sprintf("non-positive window %s, using %s", c.Window, def.Window))
		c.Window = def.Window
	}
	if c.PrincipalLimit <= 0 {
		warnings = append(warnings, fmt.Sprintf("non-positive principal limit %d, using %d", c.PrincipalLimit, def.PrincipalLimit))
		c.PrincipalLimit = def.PrincipalLimit
	}
	if c.AddressLimit <= 0 {
		warnings = append(warnings, fmt.Sprintf("non-positive address limit %d, using %d", c.AddressLimit, def.AddressLimit))
		c.AddressLimit = def.AddressLimit
	}
	// 分片数与清理间隔不属于对外的限流参数，缺省时静默取默认值
	if c.Shards <= 0 {
		c.Shards = def.Shards
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = def.SweepInterval
	}
	return c, warnings
}

func (c *Config) limitFor(ks Keyspace) int {
	if ks == KeyspacePrincipal {
		return c.PrincipalLimit
	}
	return c.AddressLimit
}
