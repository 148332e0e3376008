package ws

import (
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tokmz/relay/pkg/logger"
)

// Config 信令核心配置
type Config struct {
	MaxConnections   int           // 最大连接数
	HandshakeTimeout time.Duration // 握手超时时间
	MaxMessageSize   int64         // 单帧最大字节数

	// 心跳
	PingInterval time.Duration // ping 间隔
	PongTimeout  time.Duration // 未收到 pong 视为断开
	WriteTimeout time.Duration // 单次写超时

	SendBuffer int // 每个连接的发送缓冲（帧数），满则丢弃

	RoomTTL       time.Duration // 房间创建后到空房检查的时长
	SweepInterval time.Duration // 失效连接清扫间隔

	UpgraderConfig UpgraderConfig

	Logger  logger.Logger
	Metrics Metrics
}

// UpgraderConfig Upgrader 配置
type UpgraderConfig struct {
	ReadBufferSize    int
	WriteBufferSize   int
	CheckOrigin       func(*http.Request) bool
	EnableCompression bool
	AllowedOrigins    []string // Origin 白名单
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		MaxConnections:   10000,
		HandshakeTimeout: 10 * time.Second,
		MaxMessageSize:   64 * 1024,
		PingInterval:     54 * time.Second,
		PongTimeout:      60 * time.Second,
		WriteTimeout:     10 * time.Second,
		SendBuffer:       256,
		RoomTTL:          time.Hour,
		SweepInterval:    30 * time.Second,
		UpgraderConfig: UpgraderConfig{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.MaxConnections <= 0 {
		return fmt.Errorf("%w: MaxConnections must be positive, got %d", ErrInvalidConfig, c.MaxConnections)
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("%w: MaxMessageSize must be positive, got %d", ErrInvalidConfig, c.MaxMessageSize)
	}
	if c.PingInterval <= 0 {
		return fmt.Errorf("%w: PingInterval must be positive, got %v", ErrInvalidConfig, c.PingInterval)
	}
	if c.PongTimeout <= c.PingInterval {
		return fmt.Errorf("%w: PongTimeout (%v) must be greater than PingInterval (%v)",
			ErrInvalidConfig, c.PongTimeout, c.PingInterval)
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("%w: WriteTimeout must be positive, got %v", ErrInvalidConfig, c.WriteTimeout)
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("%w: SendBuffer must be positive, got %d", ErrInvalidConfig, c.SendBuffer)
	}
	if c.RoomTTL <= 0 {
		return fmt.Errorf("%w: RoomTTL must be positive, got %v", ErrInvalidConfig, c.RoomTTL)
	}
	if c.SweepInterval < time.Second {
		return fmt.Errorf("%w: SweepInterval must be at least 1s, got %v", ErrInvalidConfig, c.SweepInterval)
	}
	if c.UpgraderConfig.ReadBufferSize <= 0 || c.UpgraderConfig.WriteBufferSize <= 0 {
		return fmt.Errorf("%w: upgrader buffer sizes must be positive", ErrInvalidConfig)
	}
	return nil
}

// Option 配置选项
type Option func(*Config)

// WithMaxConnections 设置最大连接数
func WithMaxConnections(max int) Option {
	return func(c *Config) {
		c.MaxConnections = max
	}
}

// WithHeartbeat 设置 ping 间隔与 pong 超时
func WithHeartbeat(ping, pong time.Duration) Option {
	return func(c *Config) {
		c.PingInterval = ping
		c.PongTimeout = pong
	}
}

// WithWriteTimeout 设置写超时
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.WriteTimeout = d
	}
}

// WithMessageSizeLimit 设置消息大小限制
func WithMessageSizeLimit(size int64) Option {
	return func(c *Config) {
		c.MaxMessageSize = size
	}
}

// WithSendBuffer 设置每个连接的发送缓冲
func WithSendBuffer(size int) Option {
	return func(c *Config) {
		c.SendBuffer = size
	}
}

// WithRoomTTL 设置房间空房检查时长
func WithRoomTTL(ttl time.Duration) Option {
	return func(c *Config) {
		c.RoomTTL = ttl
	}
}

// WithSweepInterval 设置失效连接清扫间隔
func WithSweepInterval(d time.Duration) Option {
	return func(c *Config) {
		c.SweepInterval = d
	}
}

// WithCheckOrigin 设置 Origin 检查函数
func WithCheckOrigin(fn func(*http.Request) bool) Option {
	return func(c *Config) {
		c.UpgraderConfig.CheckOrigin = fn
	}
}

// WithCheckOriginWhitelist 设置 Origin 白名单
func WithCheckOriginWhitelist(allowedOrigins []string) Option {
	return func(c *Config) {
		c.UpgraderConfig.AllowedOrigins = allowedOrigins
		c.UpgraderConfig.CheckOrigin = createWhitelistChecker(allowedOrigins)
	}
}

// WithAllowAllOrigins 允许所有来源
func WithAllowAllOrigins() Option {
	return func(c *Config) {
		c.UpgraderConfig.CheckOrigin = func(*http.Request) bool { return true }
	}
}

// WithFrontendOrigin 按 FRONTEND 配置设置来源检查
// 多个来源用逗号分隔，空值或 * 表示任意来源
func WithFrontendOrigin(frontend string) Option {
	var origins []string
	for _, o := range strings.Split(frontend, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		return WithAllowAllOrigins()
	}
	return WithCheckOriginWhitelist(origins)
}

// WithEnableCompression 启用压缩
func WithEnableCompression(enable bool) Option {
	return func(c *Config) {
		c.UpgraderConfig.EnableCompression = enable
	}
}

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithMetrics 设置监控
func WithMetrics(m Metrics) Option {
	return func(c *Config) {
		c.Metrics = m
	}
}

// defaultCheckOrigin 同源检查
func defaultCheckOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return false
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}

// createWhitelistChecker 创建白名单检查器
func createWhitelistChecker(allowedOrigins []string) func(*http.Request) bool {
	whitelist := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		whitelist[origin] = true
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return false
		}
		return whitelist[origin]
	}
}

// Upgrader WebSocket 升级器
type Upgrader struct {
	upgrader websocket.Upgrader
}

// NewUpgrader 创建升级器
func NewUpgrader(config UpgraderConfig, handshakeTimeout time.Duration) *Upgrader {
	checkOrigin := config.CheckOrigin
	if checkOrigin == nil {
		if len(config.AllowedOrigins) > 0 {
			checkOrigin = createWhitelistChecker(config.AllowedOrigins)
		} else {
			checkOrigin = defaultCheckOrigin
		}
	}

	return &Upgrader{
		upgrader: websocket.Upgrader{
			HandshakeTimeout:  handshakeTimeout,
			ReadBufferSize:    config.ReadBufferSize,
			WriteBufferSize:   config.WriteBufferSize,
			CheckOrigin:       checkOrigin,
			EnableCompression: config.EnableCompression,
		},
	}
}

// Upgrade 升级 HTTP 连接为 WebSocket
func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return u.upgrader.Upgrade(w, r, nil)
}
