package relay

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tokmz/relay/pkg/logger"
)

type Engine struct {
	config *Config
	engine *gin.Engine
	server *http.Server
	log    logger.Logger
}

// New 创建一个新的 Engine 实例，使用 Options 模式配置
func New(opts ...Option) *Engine {
	config := defaultConfig()
	for _, opt := range opts {
		opt(config)
	}
	if config.Logger == nil {
		config.Logger = logger.NewNop()
	}

	// gin.SetMode 是全局操作，建议进程内只创建一个 Engine
	if gin.Mode() == gin.DebugMode || config.Mode != gin.DebugMode {
		gin.SetMode(config.Mode)
	}

	// 静默 Gin 默认输出，由 Relay 自行打印
	silenceGin()

	ginEngine := gin.New()

	e := &Engine{
		engine: ginEngine,
		config: config,
		log:    config.Logger,
	}

	// 默认 Recovery，panic 时返回统一响应格式
	ginEngine.Use(wrap(Recovery(config.Logger)))

	if config.TrustedProxies != nil {
		if err := ginEngine.SetTrustedProxies(config.TrustedProxies); err != nil {
			e.log.Warn("set trusted proxies", zap.Error(err))
		}
	}

	return e
}

// Default 创建一个带有请求日志中间件的 Engine
func Default(opts ...Option) *Engine {
	e := New(opts...)
	e.Use(Logger(e.log))
	return e
}

// Use 注册全局中间件
func (e *Engine) Use(middlewares ...HandlerFunc) {
	e.engine.Use(WrapMiddlewares(middlewares...)...)
}

// Group 返回路由组
func (e *Engine) Group(path string) *RouterGroup {
	return &RouterGroup{
		group: e.engine.Group(path),
	}
}

// RouterGroup 返回根路由组
func (e *Engine) RouterGroup() *RouterGroup {
	return &RouterGroup{
		group: &e.engine.RouterGroup,
	}
}

// Handler 返回底层 http.Handler，可直接用于 httptest
func (e *Engine) Handler() http.Handler {
	return e.engine
}

// Run 启动 HTTP 服务器，收到 SIGINT/SIGTERM 时优雅关机
func (e *Engine) Run(addr ...string) error {
	return e.RunContext(context.Background(), addr...)
}

// RunContext 启动 HTTP 服务器，ctx 取消或收到 SIGINT/SIGTERM 时优雅关机
func (e *Engine) RunContext(ctx context.Context, addr ...string) error {
	address := e.config.Server.Addr
	if len(addr) > 0 && addr[0] != "" {
		address = addr[0]
	}

	e.server = e.newServer(address)
	e.printBanner(address)

	return e.serve(ctx, func() error {
		return e.server.ListenAndServe()
	})
}

// RunListener 在已有的监听器上提供服务，常用于测试
func (e *Engine) RunListener(ctx context.Context, ln net.Listener) error {
	e.server = e.newServer(ln.Addr().String())
	return e.serve(ctx, func() error {
		return e.server.Serve(ln)
	})
}

// RunTLS 启动 HTTPS 服务器，支持优雅关机
func (e *Engine) RunTLS(ctx context.Context, addr, certFile, keyFile string) error {
	e.server = e.newServer(addr)
	e.printBanner(addr)

	return e.serve(ctx, func() error {
		return e.server.ListenAndServeTLS(certFile, keyFile)
	})
}

func (e *Engine) newServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           e.engine,
		ReadHeaderTimeout: e.config.Server.ReadHeaderTimeout,
		ReadTimeout:       e.config.Server.ReadTimeout,
		WriteTimeout:      e.config.Server.WriteTimeout,
		IdleTimeout:       e.config.Server.IdleTimeout,
		MaxHeaderBytes:    e.config.Server.MaxHeaderBytes,
	}
}

// serve 统一的服务器启动和优雅关机逻辑
func (e *Engine) serve(ctx context.Context, startFunc func() error) error {
	errChan := make(chan error, 1)

	go func() {
		if err := startFunc(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errChan:
		return err
	case sig := <-quit:
		e.log.Info("shutting down server", zap.String("signal", sig.String()))
	case <-ctx.Done():
		e.log.Info("shutting down server", zap.Error(context.Cause(ctx)))
	}

	return e.gracefulShutdown()
}

// gracefulShutdown 执行优雅关机流程
func (e *Engine) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), e.config.Shutdown.Timeout)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		e.log.Error("server forced to shutdown", zap.Error(err))
		return err
	}

	e.log.Info("server exited")
	return nil
}

// Shutdown 手动关闭服务器
func (e *Engine) Shutdown(ctx context.Context) error {
	if e.server == nil {
		return nil
	}

	if e.config.Shutdown.BeforeShutdown != nil {
		e.config.Shutdown.BeforeShutdown()
	}

	err := e.server.Shutdown(ctx)

	if e.config.Shutdown.AfterShutdown != nil {
		e.config.Shutdown.AfterShutdown()
	}

	return err
}
