package directory

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

// Config 目录配置
type Config struct {
	Driver DriverType

	// Redis 配置
	Redis *RedisConfig

	// 单次存储操作超时
	Timeout time.Duration
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr         string        // 地址
	Password     string        // 密码
	DB           int           // 数据库编号
	Key          string        // 存放房间目录的 hash 键
	PoolSize     int           // 连接池大小
	DialTimeout  time.Duration // 连接超时
	ReadTimeout  time.Duration // 读超时
	WriteTimeout time.Duration // 写超时
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Driver:  DriverMemory,
		Timeout: 3 * time.Second,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:         "localhost:6379",
		Key:          "relay:rooms",
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverMemory:
	case DriverRedis:
		if c.Redis == nil || c.Redis.Addr == "" {
			return fmt.Errorf("%w: redis addr is required", ErrInvalidConfig)
		}
		if c.Redis.Key == "" {
			return fmt.Errorf("%w: redis key is required", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unsupported driver %q", ErrInvalidConfig, c.Driver)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive", ErrInvalidConfig)
	}
	return nil
}

// Option 配置选项
type Option func(*Config)

// WithMemory 使用内存存储
func WithMemory() Option {
	return func(c *Config) {
		c.Driver = DriverMemory
	}
}

// WithRedis 使用 Redis 存储
func WithRedis(cfg *RedisConfig) Option {
	return func(c *Config) {
		c.Driver = DriverRedis
		c.Redis = cfg
	}
}

// WithTimeout 设置存储操作超时
func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.Timeout = d
	}
}
