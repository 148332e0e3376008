package config

import (
	"fmt"
	"strings"
	"time"
)

// EnvPrefix 环境变量前缀，例如 RELAY_LOG_LEVEL 对应 log.level
const EnvPrefix = "RELAY"

// Settings 服务运行配置
type Settings struct {
	Server    ServerSettings    `mapstructure:"server"`
	Frontend  string            `mapstructure:"frontend"` // 允许的跨域来源，* 表示任意
	Log       LogSettings       `mapstructure:"log"`
	WS        WSSettings        `mapstructure:"ws"`
	RateLimit RateLimitSettings `mapstructure:"ratelimit"`
	Tracing   TracingSettings   `mapstructure:"tracing"`
	Directory DirectorySettings `mapstructure:"directory"`
}

// ServerSettings HTTP 服务配置
type ServerSettings struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // debug/release/test
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr 监听地址
func (s ServerSettings) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

// LogSettings 日志配置
type LogSettings struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"` // 轮转日志文件，空则只输出到控制台
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// WSSettings 信令核心配置
type WSSettings struct {
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	RoomTTL        time.Duration `mapstructure:"room_ttl"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongTimeout    time.Duration `mapstructure:"pong_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
}

// RateLimitSettings WebSocket 升级限流
type RateLimitSettings struct {
	Enabled bool    `mapstructure:"enabled"`
	Rate    float64 `mapstructure:"rate"` // 每秒令牌数
	Burst   int     `mapstructure:"burst"`
}

// TracingSettings 链路追踪配置
type TracingSettings struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	Exporter    string  `mapstructure:"exporter"` // otlp/otlp-grpc/stdout/noop
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

// DirectorySettings 房间目录镜像配置
type DirectorySettings struct {
	Driver   string        `mapstructure:"driver"` // memory/redis
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Key      string        `mapstructure:"key"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// DefaultValues 默认配置
func DefaultValues() map[string]any {
	return map[string]any{
		"server.port":             5000,
		"server.mode":             "release",
		"server.shutdown_timeout": 10 * time.Second,
		"frontend":                "*",

		"log.level":       "info",
		"log.format":      "json",
		"log.file":        "",
		"log.max_size":    100,
		"log.max_age":     30,
		"log.max_backups": 10,
		"log.compress":    false,

		"ws.sweep_interval":   30 * time.Second,
		"ws.room_ttl":         time.Hour,
		"ws.send_buffer":      256,
		"ws.max_message_size": 64 * 1024,
		"ws.ping_interval":    54 * time.Second,
		"ws.pong_timeout":     60 * time.Second,
		"ws.write_timeout":    10 * time.Second,

		"ratelimit.enabled": true,
		"ratelimit.rate":    20.0,
		"ratelimit.burst":   40,

		"tracing.enabled":      false,
		"tracing.service_name": "relay",
		"tracing.exporter":     "noop",
		"tracing.endpoint":     "",
		"tracing.insecure":     true,
		"tracing.sample_rate":  1.0,

		"directory.driver":   "memory",
		"directory.addr":     "localhost:6379",
		"directory.password": "",
		"directory.db":       0,
		"directory.key":      "relay:rooms",
		"directory.timeout":  3 * time.Second,
	}
}

// Validate 校验配置值
func (s *Settings) Validate() error {
	if s.Server.Port <= 0 || s.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port %d", ErrInvalidSettings, s.Server.Port)
	}
	switch s.Directory.Driver {
	case "memory", "redis":
	default:
		return fmt.Errorf("%w: directory.driver %q", ErrInvalidSettings, s.Directory.Driver)
	}
	switch s.Tracing.Exporter {
	case "otlp", "otlp-grpc", "stdout", "noop":
	default:
		return fmt.Errorf("%w: tracing.exporter %q", ErrInvalidSettings, s.Tracing.Exporter)
	}
	if s.WS.SendBuffer <= 0 {
		return fmt.Errorf("%w: ws.send_buffer %d", ErrInvalidSettings, s.WS.SendBuffer)
	}
	if s.WS.SweepInterval <= 0 || s.WS.RoomTTL <= 0 {
		return fmt.Errorf("%w: ws intervals must be positive", ErrInvalidSettings)
	}
	if s.Directory.Timeout <= 0 {
		return fmt.Errorf("%w: directory.timeout must be positive", ErrInvalidSettings)
	}
	return nil
}

// LoadSettings 加载服务配置
// path 为空或文件不存在时使用默认值与环境变量；PORT 与 FRONTEND 两个环境变量无需前缀。
// onReload 非空时监控配置文件，变更后以新配置回调。
func LoadSettings(path string, onReload func(*Settings)) (*Settings, *Config, error) {
	var c *Config
	opts := []Option{
		WithDefaults(DefaultValues()),
		WithEnvPrefix(EnvPrefix),
		WithEnvKeyReplacer(strings.NewReplacer(".", "_")),
		WithBindEnv("server.port", "PORT"),
		WithBindEnv("frontend", "FRONTEND"),
		WithOptional(true),
	}
	if path != "" {
		opts = append(opts, WithConfigFile(path))
	}
	if onReload != nil {
		opts = append(opts,
			WithAutoWatch(true),
			WithOnChange(func() {
				s, err := decodeSettings(c)
				if err != nil {
					c.reportError(fmt.Errorf("reload settings: %w", err))
					return
				}
				onReload(s)
			}),
		)
	}

	c = New(opts...)
	if err := c.Load(); err != nil {
		return nil, nil, err
	}

	s, err := decodeSettings(c)
	if err != nil {
		return nil, nil, err
	}
	return s, c, nil
}

func decodeSettings(c *Config) (*Settings, error) {
	var s Settings
	if err := c.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigReadFailed, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}
