package tracing

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

var (
	globalProvider *trace.TracerProvider
	providerMu     sync.Mutex
)

// NewTracerProvider 创建 TracerProvider 并注册为全局 Provider
func NewTracerProvider(ctx context.Context, cfg *Config) (*trace.TracerProvider, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	exporterType := cfg.ExporterType
	if !cfg.Enabled {
		exporterType = ExporterNoop
	}

	exporter, err := newExporter(ctx, &Config{
		ExporterType:     exporterType,
		ExporterEndpoint: cfg.ExporterEndpoint,
		ExporterHeaders:  cfg.ExporterHeaders,
		Insecure:         cfg.Insecure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	opts := []trace.TracerProviderOption{
		trace.WithSampler(newSampler(cfg)),
		trace.WithResource(res),
	}
	if exporterType == ExporterNoop {
		opts = append(opts, trace.WithSyncer(exporter))
	} else {
		opts = append(opts, trace.WithBatcher(exporter,
			trace.WithBatchTimeout(cfg.BatchTimeout),
			trace.WithMaxExportBatchSize(cfg.MaxExportBatchSize),
			trace.WithMaxQueueSize(cfg.MaxQueueSize),
		))
	}
	tp := trace.NewTracerProvider(opts...)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	providerMu.Lock()
	globalProvider = tp
	providerMu.Unlock()

	return tp, nil
}

// newResource 服务信息 + 自定义属性 + OTEL_RESOURCE_ATTRIBUTES
func newResource(ctx context.Context, cfg *Config) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(cfg.ServiceName),
		semconv.ServiceVersionKey.String(cfg.ServiceVersion),
	}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironmentKey.String(cfg.Environment))
	}
	for k, v := range cfg.ResourceAttributes {
		attrs = append(attrs, attribute.String(k, v))
	}
	if env := os.Getenv("OTEL_RESOURCE_ATTRIBUTES"); env != "" {
		attrs = append(attrs, parseResourceAttributes(env)...)
	}

	return resource.New(ctx,
		resource.WithAttributes(attrs...),
		resource.WithTelemetrySDK(),
	)
}

// parseResourceAttributes 解析 key1=value1,key2=value2
func parseResourceAttributes(s string) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		attrs = append(attrs, attribute.String(strings.TrimSpace(k), strings.TrimSpace(v)))
	}
	return attrs
}

// Shutdown 关闭全局 TracerProvider，等待 Span 导出完成
func Shutdown(ctx context.Context) error {
	providerMu.Lock()
	tp := globalProvider
	globalProvider = nil
	providerMu.Unlock()

	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

// GetTracerProvider 获取全局 TracerProvider
func GetTracerProvider() *trace.TracerProvider {
	providerMu.Lock()
	defer providerMu.Unlock()
	return globalProvider
}
