package config

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
)

// startWatch 开始监控配置文件，调用方持有 mu
func (c *Config) startWatch() {
	c.viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}

		c.mu.RLock()
		watching := c.watching
		onChange := c.onChange
		c.mu.RUnlock()

		if watching && onChange != nil {
			onChange()
		}
	})
	c.viper.WatchConfig()
	c.watching = true
}

// StartWatch 开始监控配置文件变更，重复调用无副作用
func (c *Config) StartWatch() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.watching {
		return nil
	}
	if c.viper.ConfigFileUsed() == "" {
		return fmt.Errorf("%w: no config file loaded", ErrConfigNotFound)
	}
	c.startWatch()
	return nil
}

// StopWatch 停止触发回调
// viper 没有关闭底层 fsnotify watcher 的接口，这里只标记状态
func (c *Config) StopWatch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watching = false
}

// IsWatching 是否正在监控
func (c *Config) IsWatching() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.watching
}
