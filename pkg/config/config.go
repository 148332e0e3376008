package config

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Config 配置管理器
type Config struct {
	viper *viper.Viper
	mu    sync.RWMutex

	configFile  string   // 配置文件完整路径
	configName  string   // 配置文件名（不含扩展名）
	configType  string   // 配置文件类型
	configPaths []string // 配置文件搜索路径
	optional    bool     // 配置文件不存在时是否忽略

	autoWatch bool        // 是否自动开启文件监控
	watching  bool        // 是否正在监控
	onChange  func()      // 配置变更回调
	onError   func(error) // 错误回调

	defaults       map[string]any
	envPrefix      string
	envKeyReplacer *strings.Replacer
	envBindings    map[string][]string // key -> 显式绑定的环境变量名
}

// New 创建新的配置管理器
func New(opts ...Option) *Config {
	c := &Config{
		viper: viper.New(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Load 加载配置
// 未指定配置文件时只读取默认值和环境变量
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, v := range c.defaults {
		c.viper.SetDefault(k, v)
	}

	if c.envPrefix != "" {
		c.viper.SetEnvPrefix(c.envPrefix)
	}
	if c.envKeyReplacer != nil {
		c.viper.SetEnvKeyReplacer(c.envKeyReplacer)
	}
	c.viper.AutomaticEnv()
	for key, names := range c.envBindings {
		args := append([]string{key}, names...)
		if err := c.viper.BindEnv(args...); err != nil {
			return fmt.Errorf("%w: %w", ErrConfigReadFailed, err)
		}
	}

	if !c.hasFile() {
		return nil
	}

	if c.configFile != "" {
		c.viper.SetConfigFile(c.configFile)
	} else {
		c.viper.SetConfigName(c.configName)
		if c.configType != "" {
			c.viper.SetConfigType(c.configType)
		}
		for _, path := range c.configPaths {
			c.viper.AddConfigPath(path)
		}
	}

	if err := c.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if stderrors.As(err, &notFound) || stderrors.Is(err, fs.ErrNotExist) {
			if c.optional {
				return nil
			}
			return fmt.Errorf("%w: %w", ErrConfigNotFound, err)
		}
		return fmt.Errorf("%w: %w", ErrConfigReadFailed, err)
	}

	if c.autoWatch {
		c.startWatch()
	}

	return nil
}

func (c *Config) hasFile() bool {
	return c.configFile != "" || c.configName != ""
}

// ConfigFileUsed 返回实际读取的配置文件路径
func (c *Config) ConfigFileUsed() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viper.ConfigFileUsed()
}

// GetString 获取字符串配置值
func (c *Config) GetString(key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viper.GetString(key)
}

// GetInt 获取整数配置值
func (c *Config) GetInt(key string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viper.GetInt(key)
}

// GetBool 获取布尔配置值
func (c *Config) GetBool(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viper.GetBool(key)
}

// GetDuration 获取时间间隔配置值
func (c *Config) GetDuration(key string) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viper.GetDuration(key)
}

// GetStringSlice 获取字符串切片配置值
func (c *Config) GetStringSlice(key string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viper.GetStringSlice(key)
}

// Set 设置配置值
func (c *Config) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.viper.Set(key, value)
}

// IsSet 检查配置键是否存在
func (c *Config) IsSet(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viper.IsSet(key)
}

// Unmarshal 将配置反序列化到结构体
func (c *Config) Unmarshal(rawVal any) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viper.Unmarshal(rawVal)
}

// Close 关闭配置管理器，停止监控
func (c *Config) Close() {
	c.StopWatch()
}
