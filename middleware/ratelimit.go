package middleware

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/tokmz/relay"
	"github.com/tokmz/relay/pkg/errors"
	"github.com/tokmz/relay/pkg/logger"
)

// RateLimiterConfig 限流中间件配置
type RateLimiterConfig struct {
	// RequestsPerSecond 每秒补充的令牌数（默认 20）
	RequestsPerSecond float64

	// Burst 突发容量（默认 40）
	Burst int

	// KeyFunc 自定义限流 key 函数（默认使用客户端 IP）
	KeyFunc func(c *relay.Context) string

	// SkipFunc 跳过限流的函数
	SkipFunc func(c *relay.Context) bool

	// Paths 只对这些路径限流，为空时对所有路径限流
	Paths []string

	// Logger 日志实例
	Logger logger.Logger

	// BucketExpiry 令牌桶保留时间（默认 30 分钟）
	BucketExpiry time.Duration

	// CleanupInterval 过期桶清理间隔（默认 10 分钟）
	// 小于 0 时不启动清理协程，过期桶在下次访问同一 key 时重建
	CleanupInterval time.Duration
}

// defaultRateLimiterConfig 返回默认配置
func defaultRateLimiterConfig() *RateLimiterConfig {
	return &RateLimiterConfig{
		RequestsPerSecond: 20,
		Burst:             40,
		BucketExpiry:      30 * time.Minute,
		CleanupInterval:   10 * time.Minute,
	}
}

// tokenBucket 令牌桶
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64
	lastRefill time.Time
}

func newTokenBucket(rate float64, burst int) *tokenBucket {
	return &tokenBucket{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: rate,
		lastRefill: time.Now(),
	}
}

// allow 取一个令牌
func (t *tokenBucket) allow(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.tokens += now.Sub(t.lastRefill).Seconds() * t.refillRate
	if t.tokens > t.maxTokens {
		t.tokens = t.maxTokens
	}
	t.lastRefill = now

	if t.tokens >= 1 {
		t.tokens--
		return true
	}
	return false
}

// limiterStore 按 key 保存令牌桶，过期由 go-cache 清理
// 桶过期后重建为满桶，等价于长时间未访问后令牌已补满
type limiterStore struct {
	buckets *cache.Cache
	rate    float64
	burst   int
}

// newLimiterStore 创建令牌桶存储
// CleanupInterval > 0 时 go-cache 启动一个清理协程，该协程在存储不可达后由 finalizer 停止
func newLimiterStore(cfg *RateLimiterConfig) *limiterStore {
	expiry := cfg.BucketExpiry
	if expiry <= 0 {
		expiry = 30 * time.Minute
	}
	cleanup := cfg.CleanupInterval
	if cleanup == 0 {
		cleanup = 10 * time.Minute
	}
	return &limiterStore{
		buckets: cache.New(expiry, cleanup),
		rate:    cfg.RequestsPerSecond,
		burst:   cfg.Burst,
	}
}

func (s *limiterStore) bucket(key string) *tokenBucket {
	if v, ok := s.buckets.Get(key); ok {
		return v.(*tokenBucket)
	}
	b := newTokenBucket(s.rate, s.burst)
	if err := s.buckets.Add(key, b, cache.DefaultExpiration); err != nil {
		// 并发创建，使用先写入的桶
		if v, ok := s.buckets.Get(key); ok {
			return v.(*tokenBucket)
		}
	}
	return b
}

// RateLimiter 创建限流中间件
// 使用令牌桶算法，按 key（默认客户端 IP）限流，超限返回 429
//
// 每次调用都会创建独立的桶存储，默认配置下附带一个 go-cache 清理协程。
// 应在装配路由时调用一次并复用返回的 HandlerFunc；测试中可将 CleanupInterval 设为负数。
func RateLimiter(cfgs ...*RateLimiterConfig) relay.HandlerFunc {
	cfg := defaultRateLimiterConfig()
	if len(cfgs) > 0 && cfgs[0] != nil {
		cfg = cfgs[0]
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = func(c *relay.Context) string {
			return c.ClientIP()
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.Burst <= 0 {
		cfg.Burst = max(1, int(cfg.RequestsPerSecond))
	}

	paths := make(map[string]bool)
	for _, path := range cfg.Paths {
		paths[path] = true
	}

	store := newLimiterStore(cfg)

	return func(c *relay.Context) {
		if cfg.SkipFunc != nil && cfg.SkipFunc(c) {
			c.Next()
			return
		}
		if len(paths) > 0 && !paths[c.Request().URL.Path] {
			c.Next()
			return
		}

		key := cfg.KeyFunc(c)
		if !store.bucket(key).allow(time.Now()) {
			cfg.Logger.Warn("rate limit exceeded",
				zap.String("key", key),
				zap.String("path", c.Request().URL.Path),
				zap.Float64("rate", cfg.RequestsPerSecond),
			)
			c.AbortWithError(errors.ErrTooManyRequests)
			return
		}

		c.Next()
	}
}
