package logger

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type contextKey string

const (
	traceIDKey  contextKey = "trace_id"
	clientIDKey contextKey = "client_id"
)

// Logger 日志接口
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
	Fatal(msg string, fields ...zap.Field)

	// 带 Context 的日志方法（自动提取 trace_id、span_id、client_id）
	DebugContext(ctx context.Context, msg string, fields ...zap.Field)
	InfoContext(ctx context.Context, msg string, fields ...zap.Field)
	WarnContext(ctx context.Context, msg string, fields ...zap.Field)
	ErrorContext(ctx context.Context, msg string, fields ...zap.Field)

	With(fields ...zap.Field) Logger // 创建子 Logger
	Sync() error                     // 刷新缓冲区
	SetLevel(level Level)            // 动态调整级别，对所有子 Logger 生效
	Level() Level                    // 获取当前级别
}

type logger struct {
	zap   *zap.Logger
	level zap.AtomicLevel
}

// New 创建 Logger
func New(config *Config) (Logger, error) {
	if config == nil {
		config = &Config{}
	}
	config.setDefaults()

	encoder := buildEncoder(config)

	writers, err := buildWriters(config)
	if err != nil {
		return nil, err
	}

	level := zap.NewAtomicLevelAt(config.Level.toZapLevel())
	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(writers...), level)

	if config.Sampling != nil {
		core = zapcore.NewSamplerWithOptions(core, 1e9, config.Sampling.Initial, config.Sampling.Thereafter)
	}

	opts := []zap.Option{}
	if config.EnableCaller {
		opts = append(opts, zap.AddCaller(), zap.AddCallerSkip(1))
	}
	if config.EnableStacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	return &logger{
		zap:   zap.New(core, opts...),
		level: level,
	}, nil
}

// NewWithOptions 创建 Logger（使用 Options 模式）
func NewWithOptions(opts ...Option) (Logger, error) {
	config := &Config{}
	for _, opt := range opts {
		opt(config)
	}
	return New(config)
}

// NewProduction 创建生产环境 Logger
func NewProduction() (Logger, error) {
	return NewWithOptions(
		WithLevel(InfoLevel),
		WithFormat(JSONFormat),
		WithConsoleOutput(),
		WithStacktrace(true),
	)
}

// NewDevelopment 创建开发环境 Logger
func NewDevelopment() (Logger, error) {
	return NewWithOptions(
		WithLevel(DebugLevel),
		WithFormat(ConsoleFormat),
		WithConsoleOutput(),
		WithCaller(true),
		WithStacktrace(true),
	)
}

// NewNop 创建不输出任何内容的 Logger
func NewNop() Logger {
	return &logger{
		zap:   zap.NewNop(),
		level: zap.NewAtomicLevelAt(zapcore.FatalLevel),
	}
}

// NewFromZap 包装已有的 zap.Logger（测试中配合 zaptest/observer 使用）
func NewFromZap(z *zap.Logger, level Level) Logger {
	return &logger{
		zap:   z,
		level: zap.NewAtomicLevelAt(level.toZapLevel()),
	}
}

func buildEncoder(config *Config) zapcore.Encoder {
	encoderConfig := config.EncoderConfig
	if encoderConfig == nil {
		encoderConfig = &zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		}
	}

	if config.Format == ConsoleFormat {
		return zapcore.NewConsoleEncoder(*encoderConfig)
	}
	return zapcore.NewJSONEncoder(*encoderConfig)
}

func buildWriters(config *Config) ([]zapcore.WriteSyncer, error) {
	var writers []zapcore.WriteSyncer

	if config.Console {
		writers = append(writers, zapcore.AddSync(os.Stdout))
	}

	if config.File != "" {
		writer, _, err := zap.Open(config.File)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", config.File, err)
		}
		writers = append(writers, writer)
	}

	if config.Rotate != nil {
		if config.Rotate.Filename == "" {
			return nil, fmt.Errorf("rotate output requires a filename")
		}
		writers = append(writers, zapcore.AddSync(&lumberjack.Logger{
			Filename:   config.Rotate.Filename,
			MaxSize:    config.Rotate.MaxSize,
			MaxAge:     config.Rotate.MaxAge,
			MaxBackups: config.Rotate.MaxBackups,
			LocalTime:  true,
			Compress:   config.Rotate.Compress,
		}))
	}

	if len(writers) == 0 {
		return nil, fmt.Errorf("no output configured")
	}
	return writers, nil
}

func (l *logger) Debug(msg string, fields ...zap.Field) { l.zap.Debug(msg, fields...) }
func (l *logger) Info(msg string, fields ...zap.Field)  { l.zap.Info(msg, fields...) }
func (l *logger) Warn(msg string, fields ...zap.Field)  { l.zap.Warn(msg, fields...) }
func (l *logger) Error(msg string, fields ...zap.Field) { l.zap.Error(msg, fields...) }
func (l *logger) Fatal(msg string, fields ...zap.Field) { l.zap.Fatal(msg, fields...) }

func (l *logger) DebugContext(ctx context.Context, msg string, fields ...zap.Field) {
	l.zap.Debug(msg, contextFields(ctx, fields)...)
}

func (l *logger) InfoContext(ctx context.Context, msg string, fields ...zap.Field) {
	l.zap.Info(msg, contextFields(ctx, fields)...)
}

func (l *logger) WarnContext(ctx context.Context, msg string, fields ...zap.Field) {
	l.zap.Warn(msg, contextFields(ctx, fields)...)
}

func (l *logger) ErrorContext(ctx context.Context, msg string, fields ...zap.Field) {
	l.zap.Error(msg, contextFields(ctx, fields)...)
}

// contextFields 从 context.Context 提取字段
// OpenTelemetry 的 SpanContext 优先于手动注入的 trace_id
func contextFields(ctx context.Context, fields []zap.Field) []zap.Field {
	if ctx == nil {
		return fields
	}
	out := make([]zap.Field, 0, len(fields)+3)

	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		out = append(out,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	} else if traceID, ok := ctx.Value(traceIDKey).(string); ok && traceID != "" {
		out = append(out, zap.String("trace_id", traceID))
	}

	if clientID, ok := ctx.Value(clientIDKey).(string); ok && clientID != "" {
		out = append(out, ClientID(clientID))
	}

	return append(out, fields...)
}

func (l *logger) With(fields ...zap.Field) Logger {
	return &logger{
		zap:   l.zap.With(fields...),
		level: l.level,
	}
}

func (l *logger) Sync() error {
	return l.zap.Sync()
}

func (l *logger) SetLevel(level Level) {
	l.level.SetLevel(level.toZapLevel())
}

func (l *logger) Level() Level {
	return Level(l.level.Level())
}

// WithTraceID 将 trace_id 注入 context.Context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// WithClientID 将连接 ID 注入 context.Context
func WithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, clientIDKey, clientID)
}

// ClientID 连接 ID 字段
func ClientID(id string) zap.Field {
	return zap.String("client_id", id)
}

// RoomID 房间 ID 字段
func RoomID(id string) zap.Field {
	return zap.String("room_id", id)
}

// FrameType 帧类型字段
func FrameType(t string) zap.Field {
	return zap.String("frame_type", t)
}
