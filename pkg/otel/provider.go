package otel

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// instrumentationName 追踪器与 meter 的作用域名
const instrumentationName = "github.com/easyops/contextinject-go"

// Provider 管理注入引擎的追踪、指标和日志
type Provider struct {
	config   Config
	tracer   trace.Tracer
	metrics  *Metrics
	logger   *slog.Logger
	shutdown []func(context.Context) error
	mu       sync.Mutex
}

// ProviderOption 配置 Provider
type ProviderOption func(*providerOptions)

type providerOptions struct {
	logWriter    io.Writer
	exportWriter io.Writer
}

// WithLogWriter 设置日志输出目标
func WithLogWriter(w io.Writer) ProviderOption {
	return func(o *providerOptions) {
		o.logWriter = w
	}
}

// WithExportWriter 设置 stdout 导出器的输出目标
func WithExportWriter(w io.Writer) ProviderOption {
	return func(o *providerOptions) {
		o.exportWriter = w
	}
}

// NewProvider 按配置创建 Provider
//
// 日志始终可用；追踪和指标在未启用时退化为 noop 实现。
func NewProvider(ctx context.Context, cfg Config, opts ...ProviderOption) (*Provider, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	options := &providerOptions{exportWriter: os.Stdout}
	for _, opt := range opts {
		opt(options)
	}

	p := &Provider{
		config:  cfg,
		tracer:  tracenoop.NewTracerProvider().Tracer(instrumentationName),
		metrics: NewNoopMetrics(),
		logger:  NewLogger(cfg.Logging, options.logWriter),
	}
	if !cfg.Enabled {
		return p, nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceNameKey.String(cfg.ServiceName),
		semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		semconv.DeploymentEnvironmentKey.String(cfg.Environment),
	))
	if err != nil {
		return nil, err
	}

	if cfg.Tracing.Enabled {
		if err := p.initTracing(ctx, res, options.exportWriter); err != nil {
			return nil, err
		}
	}
	if cfg.Metrics.Enabled {
		if err := p.initMetrics(ctx, res, options.exportWriter); err != nil {
			_ = p.Shutdown(ctx)
			return nil, err
		}
	}
	return p, nil
}

func (p *Provider) initTracing(ctx context.Context, res *resource.Resource, w io.Writer) error {
	exporter, err := newSpanExporter(ctx, p.config.Tracing, w)
	if err != nil {
		return err
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(p.config.Tracing.SampleRate))),
	}
	// ExporterNone 仍生成 span，日志可以关联 trace_id
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}
	tp := sdktrace.NewTracerProvider(opts...)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	p.shutdown = append(p.shutdown, tp.Shutdown)
	p.tracer = tp.Tracer(instrumentationName)
	return nil
}

func (p *Provider) initMetrics(ctx context.Context, res *resource.Resource, w io.Writer) error {
	exporter, err := newMetricExporter(ctx, p.config.Metrics, w)
	if err != nil {
		return err
	}
	if exporter == nil {
		return nil
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(p.config.Metrics.Interval),
		)),
	)
	otel.SetMeterProvider(mp)
	p.shutdown = append(p.shutdown, mp.Shutdown)

	metrics, err := NewMetrics(mp.Meter(instrumentationName))
	if err != nil {
		return err
	}
	p.metrics = metrics
	return nil
}

// Tracer 返回追踪器
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Metrics 返回指标集合
func (p *Provider) Metrics() *Metrics {
	return p.metrics
}

// Logger 返回日志器
func (p *Provider) Logger() *slog.Logger {
	return p.logger
}

// Shutdown 刷新并关闭导出器，可重复调用
func (p *Provider) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for _, fn := range p.shutdown {
		errs = append(errs, fn(ctx))
	}
	p.shutdown = nil
	return errors.Join(errs...)
}

var (
	globalProvider *Provider
	globalMu       sync.RWMutex
)

// SetGlobal 设置全局 Provider，NewInjector 在未显式配置时从这里取值
func SetGlobal(p *Provider) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalProvider = p
}

// GetTracer 返回全局追踪器，未设置时为 noop
func GetTracer() trace.Tracer {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalProvider != nil {
		return globalProvider.Tracer()
	}
	return tracenoop.NewTracerProvider().Tracer(instrumentationName)
}

// GetMetrics 返回全局指标集合，未设置时为 noop
func GetMetrics() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalProvider != nil {
		return globalProvider.Metrics()
	}
	return NewNoopMetrics()
}

// GetLogger 返回全局日志器，未设置时丢弃所有记录
func GetLogger() *slog.Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalProvider != nil {
		return globalProvider.Logger()
	}
	return NewNoopLogger()
}
