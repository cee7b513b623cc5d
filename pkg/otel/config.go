package otel

import (
	"errors"
	"fmt"
	"time"

	coreerrors "github.com/easyops/contextinject-go/pkg/core/errors"
)

// Config 注入引擎的可观测性配置
//
// 日志始终生效；追踪与指标只有在 Enabled 和各自开关同时打开时才导出。
type Config struct {
	Enabled        bool   `koanf:"enabled"`
	ServiceName    string `koanf:"service_name"`
	ServiceVersion string `koanf:"service_version"`
	Environment    string `koanf:"environment"`

	Tracing TracingConfig `koanf:"tracing"`
	Metrics MetricsConfig `koanf:"metrics"`
	Logging LoggingConfig `koanf:"logging"`
}

// TracingConfig 追踪导出配置
type TracingConfig struct {
	Enabled  bool         `koanf:"enabled"`
	Exporter ExporterType `koanf:"exporter"`
	Endpoint string       `koanf:"endpoint"`
	Insecure bool         `koanf:"insecure"`
	// SampleRate 采样率，取值 [0, 1]
	SampleRate float64       `koanf:"sample_rate"`
	Timeout    time.Duration `koanf:"timeout"`
}

// MetricsConfig 指标导出配置
type MetricsConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Exporter ExporterType  `koanf:"exporter"`
	Endpoint string        `koanf:"endpoint"`
	Insecure bool          `koanf:"insecure"`
	Interval time.Duration `koanf:"interval"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	// Level 日志级别 (debug, info, warn, error)
	Level string `koanf:"level"`
	// Format 日志格式 (text, json)
	Format string `koanf:"format"`
	// IncludeTraceID 在日志中附加当前 span 的 trace_id 和 span_id
	IncludeTraceID bool `koanf:"include_trace_id"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		ServiceName:    "contextinject",
		ServiceVersion: "0.1.0",
		Environment:    "development",
		Tracing: TracingConfig{
			Exporter:   ExporterOTLPGRPC,
			Endpoint:   "localhost:4317",
			Insecure:   true,
			SampleRate: 1.0,
			Timeout:    30 * time.Second,
		},
		Metrics: MetricsConfig{
			Exporter: ExporterOTLPGRPC,
			Endpoint: "localhost:4317",
			Insecure: true,
			Interval: 60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:          "info",
			Format:         "text",
			IncludeTraceID: true,
		},
	}
}

// Validate 验证配置，所有问题合并为一个 ErrInvalidConfig 错误
func (c *Config) Validate() error {
	var errs []error
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("%w: tracing sample rate %v outside [0, 1]", coreerrors.ErrInvalidConfig, c.Tracing.SampleRate))
	}
	if !c.Tracing.Exporter.valid() {
		errs = append(errs, fmt.Errorf("%w: unknown tracing exporter %q", coreerrors.ErrInvalidConfig, c.Tracing.Exporter))
	}
	if !c.Metrics.Exporter.valid() {
		errs = append(errs, fmt.Errorf("%w: unknown metrics exporter %q", coreerrors.ErrInvalidConfig, c.Metrics.Exporter))
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("%w: unknown log format %q", coreerrors.ErrInvalidConfig, c.Logging.Format))
	}
	return errors.Join(errs...)
}

// WithDefaults 为零值字段填充默认值
func (c Config) WithDefaults() Config {
	d := DefaultConfig()

	if c.ServiceName == "" {
		c.ServiceName = d.ServiceName
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = d.ServiceVersion
	}
	if c.Environment == "" {
		c.Environment = d.Environment
	}
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = d.Tracing.Exporter
	}
	if c.Tracing.Endpoint == "" {
		c.Tracing.Endpoint = d.Tracing.Endpoint
	}
	if c.Tracing.Timeout == 0 {
		c.Tracing.Timeout = d.Tracing.Timeout
	}
	if c.Metrics.Exporter == "" {
		c.Metrics.Exporter = d.Metrics.Exporter
	}
	if c.Metrics.Endpoint == "" {
		c.Metrics.Endpoint = d.Metrics.Endpoint
	}
	if c.Metrics.Interval == 0 {
		c.Metrics.Interval = d.Metrics.Interval
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = d.Logging.Format
	}
	return c
}
