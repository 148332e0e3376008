package config

import (
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
)

// startWatch 开始监控配置文件变更
// 调用方必须持有 mu 写锁
func (c *Config) startWatch() {
	c.viper.OnConfigChange(func(e fsnotify.Event) {
		c.mu.RLock()
		watching := c.watching
		onChange := c.onChange
		c.mu.RUnlock()

		if !watching {
			return
		}
		if onChange != nil {
			onChange()
		}
	})
	c.viper.WatchConfig()
	c.watching = true
}

// StartWatch 开始监控配置文件变更
// 已在监控或没有可监控的文件时直接返回
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

// StopWatch 停止监控配置文件
// viper 未提供停止底层 fsnotify watcher 的方法，这里只让回调失效
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

// reportError 报告错误，优先使用 onError 回调，否则输出到 stderr
func (c *Config) reportError(err error) {
	c.mu.RLock()
	onError := c.onError
	c.mu.RUnlock()

	if onError != nil {
		onError(err)
	} else {
		fmt.Fprintf(os.Stderr, "[config] %v\n", err)
	}
}
