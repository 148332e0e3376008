// Command relay 启动 WebRTC 信令服务
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tokmz/relay"
	"github.com/tokmz/relay/api"
	"github.com/tokmz/relay/middleware"
	"github.com/tokmz/relay/pkg/config"
	"github.com/tokmz/relay/pkg/directory"
	"github.com/tokmz/relay/pkg/logger"
	"github.com/tokmz/relay/pkg/tracing"
	"github.com/tokmz/relay/pkg/ws"
)

func main() {
	configPath := flag.String("config", os.Getenv("RELAY_CONFIG"), "配置文件路径（可选）")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "relay: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// 热更新回调可能早于日志初始化触发
	var current atomic.Value

	settings, cfg, err := config.LoadSettings(configPath, func(s *config.Settings) {
		log, ok := current.Load().(logger.Logger)
		if !ok {
			return
		}
		level, err := logger.ParseLevel(s.Log.Level)
		if err != nil {
			log.Warn("ignore invalid log level", zap.String("level", s.Log.Level))
			return
		}
		log.SetLevel(level)
		log.Info("settings reloaded", zap.String("log_level", level.String()))
	})
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	defer cfg.Close()

	log, err := newLogger(settings.Log)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()
	current.Store(log)

	if file := cfg.ConfigFileUsed(); file != "" {
		log.Info("settings loaded", zap.String("file", file))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := tracing.NewTracerProvider(ctx, tracingConfig(settings.Tracing)); err != nil {
		return fmt.Errorf("create tracer provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			log.Warn("tracer provider shutdown", zap.Error(err))
		}
	}()

	metrics := ws.NewCounterMetrics()
	hub, err := ws.NewHub(
		ws.WithLogger(log.With(zap.String("component", "hub"))),
		ws.WithMetrics(metrics),
		ws.WithFrontendOrigin(settings.Frontend),
		ws.WithRoomTTL(settings.WS.RoomTTL),
		ws.WithSweepInterval(settings.WS.SweepInterval),
		ws.WithSendBuffer(settings.WS.SendBuffer),
		ws.WithMessageSizeLimit(settings.WS.MaxMessageSize),
		ws.WithHeartbeat(settings.WS.PingInterval, settings.WS.PongTimeout),
		ws.WithWriteTimeout(settings.WS.WriteTimeout),
	)
	if err != nil {
		return fmt.Errorf("create hub: %w", err)
	}

	dir := newDirectory(ctx, settings.Directory, log.With(zap.String("component", "directory")))
	defer func() { _ = dir.Close() }()
	dir.Attach(hub)

	engine := relay.New(
		relay.WithMode(settings.Server.Mode),
		relay.WithAddr(settings.Server.Addr()),
		relay.WithLogger(log),
		relay.WithShutdownTimeout(settings.Server.ShutdownTimeout),
	)
	engine.Use(
		middleware.Tracing(&middleware.TracingConfig{
			TracerName: "relay.http",
			SpanNameFormatter: func(c *relay.Context) string {
				return c.Request().Method + " " + c.FullPath()
			},
			ExcludePaths: []string{"/", "/health"},
		}),
		relay.Logger(log, &relay.LoggerConfig{ExcludePaths: []string{"/", "/health"}}),
		middleware.CORS(middleware.CORSFromOrigin(settings.Frontend)),
	)

	var upgrade []relay.HandlerFunc
	if settings.RateLimit.Enabled {
		upgrade = append(upgrade, middleware.RateLimiter(&middleware.RateLimiterConfig{
			RequestsPerSecond: settings.RateLimit.Rate,
			Burst:             settings.RateLimit.Burst,
			Logger:            log,
			BucketExpiry:      30 * time.Minute,
			CleanupInterval:   10 * time.Minute,
		}))
	}
	api.New(hub,
		api.WithDirectory(dir),
		api.WithMetrics(metrics),
		api.WithLogger(log),
	).Register(engine.RouterGroup(), upgrade...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hub.Run(gctx)
	})
	g.Go(func() error {
		return engine.RunContext(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), settings.Server.ShutdownTimeout)
		defer cancel()
		return hub.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("relay stopped with error", zap.Error(err))
		return err
	}
	log.Info("relay stopped")
	return nil
}

// newLogger 按配置创建日志，配置了文件时使用 lumberjack 轮转
func newLogger(s config.LogSettings) (logger.Logger, error) {
	level, err := logger.ParseLevel(s.Level)
	if err != nil {
		return nil, err
	}
	cfg := &logger.Config{
		Level:   level,
		Format:  logger.Format(s.Format),
		Console: true,
	}
	if s.File != "" {
		cfg.Rotate = &logger.RotateConfig{
			Filename:   s.File,
			MaxSize:    s.MaxSize,
			MaxAge:     s.MaxAge,
			MaxBackups: s.MaxBackups,
			Compress:   s.Compress,
		}
	}
	return logger.New(cfg)
}

func tracingConfig(s config.TracingSettings) *tracing.Config {
	cfg := tracing.DefaultConfig()
	cfg.Enabled = s.Enabled
	cfg.ServiceName = s.ServiceName
	cfg.ServiceVersion = relay.Version
	cfg.ExporterType = s.Exporter
	cfg.ExporterEndpoint = s.Endpoint
	cfg.Insecure = s.Insecure
	cfg.SamplingRate = s.SampleRate
	return cfg
}

// newDirectory 创建房间目录，redis 不可用时退回内存存储
func newDirectory(ctx context.Context, s config.DirectorySettings, log logger.Logger) *directory.Directory {
	cfg := &directory.Config{
		Driver:  directory.DriverType(s.Driver),
		Timeout: s.Timeout,
	}
	if cfg.Driver == directory.DriverRedis {
		redisCfg := directory.DefaultRedisConfig()
		redisCfg.Addr = s.Addr
		redisCfg.Password = s.Password
		redisCfg.DB = s.DB
		redisCfg.Key = s.Key
		cfg.Redis = redisCfg
	}

	store, err := directory.NewStore(cfg)
	if err != nil {
		log.Warn("directory store unavailable, falling back to memory",
			zap.String("driver", s.Driver),
			zap.Error(err),
		)
		store, _ = directory.NewStoreWithOptions(directory.WithMemory())
	}

	dir := directory.New(store, log, s.Timeout)
	// 上次运行留下的房间已失效
	if err := dir.Reset(ctx); err != nil {
		log.Warn("reset directory", zap.Error(err))
	}
	return dir
}
