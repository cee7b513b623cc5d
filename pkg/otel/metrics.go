package otel

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metrics 注入引擎与存储层的指标集合
//
// 所有仪表在创建时一次性注册，记录方法可并发调用。
type Metrics struct {
	injectionRequests     metric.Int64Counter
	injectionErrors       metric.Int64Counter
	injectionSkipped      metric.Int64Counter
	injectionCompressions metric.Int64Counter
	injectionCandidates   metric.Int64Histogram
	injectionIncluded     metric.Int64Histogram
	injectionTokens       metric.Int64Histogram
	injectionDuration     metric.Float64Histogram

	storeOperations metric.Int64Counter
	storeErrors     metric.Int64Counter
	storePruned     metric.Int64Counter
	storeDuration   metric.Float64Histogram
	storeActive     metric.Int64Gauge
}

// InjectionRecord 一次 SelectAndFormat 的结果摘要
type InjectionRecord struct {
	Model      string
	Candidates int
	Included   int
	Skipped    int
	Tokens     int
	Compressed bool
	Elapsed    time.Duration
}

// NewMetrics 在 meter 上注册全部仪表
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var errs []error
	counter := func(name, desc, unit string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
		errs = append(errs, err)
		return c
	}
	histogram := func(name, desc, unit string) metric.Int64Histogram {
		h, err := meter.Int64Histogram(name, metric.WithDescription(desc), metric.WithUnit(unit))
		errs = append(errs, err)
		return h
	}
	duration := func(name, desc string) metric.Float64Histogram {
		h, err := meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit(unitMilliseconds))
		errs = append(errs, err)
		return h
	}

	m.injectionRequests = counter(MetricInjectionRequests, "Context selection requests", unitCount)
	m.injectionErrors = counter(MetricInjectionErrors, "Context selection requests failed by the store", unitCount)
	m.injectionSkipped = counter(MetricInjectionSkipped, "Candidates left out of the formatted context", unitCount)
	m.injectionCompressions = counter(MetricInjectionCompressions, "Requests that compressed at least one context", unitCount)
	m.injectionCandidates = histogram(MetricInjectionCandidates, "Candidates per request", unitCount)
	m.injectionIncluded = histogram(MetricInjectionIncluded, "Contexts included per request", unitCount)
	m.injectionTokens = histogram(MetricInjectionTokens, "Tokens of formatted context per request", unitToken)
	m.injectionDuration = duration(MetricInjectionDuration, "Duration of context selection")

	m.storeOperations = counter(MetricStoreOperations, "Store operations", unitCount)
	m.storeErrors = counter(MetricStoreErrors, "Store operations that failed", unitCount)
	m.storePruned = counter(MetricStorePruned, "Contexts deactivated by pruning", unitCount)
	m.storeDuration = duration(MetricStoreOperationDuration, "Duration of store operations")

	active, err := meter.Int64Gauge(MetricStoreActive,
		metric.WithDescription("Active contexts in the store"), metric.WithUnit(unitCount))
	errs = append(errs, err)
	m.storeActive = active

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return m, nil
}

// NewNoopMetrics 返回不记录任何数据的指标集合
func NewNoopMetrics() *Metrics {
	// noop meter 不会返回错误
	m, _ := NewMetrics(noop.NewMeterProvider().Meter(""))
	return m
}

// RecordInjection 记录一次成功的选择
func (m *Metrics) RecordInjection(ctx context.Context, rec InjectionRecord) {
	var opts []metric.RecordOption
	var addOpts []metric.AddOption
	if rec.Model != "" {
		set := metric.WithAttributes(attribute.String(AttrInjectionModel, rec.Model))
		opts = append(opts, set)
		addOpts = append(addOpts, set)
	}

	m.injectionRequests.Add(ctx, 1, addOpts...)
	m.injectionSkipped.Add(ctx, int64(rec.Skipped), addOpts...)
	if rec.Compressed {
		m.injectionCompressions.Add(ctx, 1, addOpts...)
	}
	m.injectionCandidates.Record(ctx, int64(rec.Candidates), opts...)
	m.injectionIncluded.Record(ctx, int64(rec.Included), opts...)
	m.injectionTokens.Record(ctx, int64(rec.Tokens), opts...)
	m.injectionDuration.Record(ctx, milliseconds(rec.Elapsed), opts...)
}

// RecordInjectionError 记录一次因存储不可用而失败的选择
func (m *Metrics) RecordInjectionError(ctx context.Context) {
	m.injectionRequests.Add(ctx, 1)
	m.injectionErrors.Add(ctx, 1)
}

// RecordStoreOperation 记录一次存储操作
func (m *Metrics) RecordStoreOperation(ctx context.Context, backend, op string, elapsed time.Duration, failed bool) {
	set := metric.WithAttributes(StoreAttrs(backend, op)...)
	m.storeOperations.Add(ctx, 1, set)
	m.storeDuration.Record(ctx, milliseconds(elapsed), set)
	if failed {
		m.storeErrors.Add(ctx, 1, set)
	}
}

// RecordPruned 记录剪枝数量
func (m *Metrics) RecordPruned(ctx context.Context, backend string, n int) {
	m.storePruned.Add(ctx, int64(n), metric.WithAttributes(attribute.String(AttrStoreBackend, backend)))
}

// RecordActive 更新活跃上下文数量
func (m *Metrics) RecordActive(ctx context.Context, backend string, n int) {
	m.storeActive.Record(ctx, int64(n), metric.WithAttributes(attribute.String(AttrStoreBackend, backend)))
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
