// Package oteltest 提供测试用的追踪器和可读取的指标集合
package oteltest

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/easyops/contextinject-go/pkg/otel"
)

// NewTracer 返回记录所有已结束 span 的追踪器
func NewTracer(t testing.TB) (trace.Tracer, *tracetest.SpanRecorder) {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp.Tracer("oteltest"), recorder
}

// SpanAttr 查找 span 上的属性
func SpanAttr(span sdktrace.ReadOnlySpan, key string) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

// MetricReader 按需收集 NewMetrics 记录的数据
type MetricReader struct {
	t      testing.TB
	reader *sdkmetric.ManualReader
}

// NewMetrics 返回由 ManualReader 支撑的指标集合
func NewMetrics(t testing.TB) (*otel.Metrics, *MetricReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	metrics, err := otel.NewMetrics(mp.Meter("oteltest"))
	if err != nil {
		t.Fatalf("register metrics: %v", err)
	}
	return metrics, &MetricReader{t: t, reader: reader}
}

func (r *MetricReader) collect(name string) metricdata.Aggregation {
	r.t.Helper()

	var rm metricdata.ResourceMetrics
	if err := r.reader.Collect(context.Background(), &rm); err != nil {
		r.t.Fatalf("collect metrics: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m.Data
			}
		}
	}
	return nil
}

// Counter 返回计数器在所有属性组合上的累计值
func (r *MetricReader) Counter(name string) int64 {
	r.t.Helper()
	return r.CounterFor(name)
}

// CounterFor 只累加带有全部给定属性的数据点
func (r *MetricReader) CounterFor(name string, attrs ...attribute.KeyValue) int64 {
	r.t.Helper()

	sum, ok := r.collect(name).(metricdata.Sum[int64])
	if !ok {
		return 0
	}
	var total int64
	for _, dp := range sum.DataPoints {
		if hasAll(dp.Attributes, attrs) {
			total += dp.Value
		}
	}
	return total
}

// HistogramCount 返回直方图的记录次数
func (r *MetricReader) HistogramCount(name string) uint64 {
	r.t.Helper()
	count, _ := r.histogram(name)
	return count
}

// HistogramSum 返回直方图记录值之和
func (r *MetricReader) HistogramSum(name string) float64 {
	r.t.Helper()
	_, sum := r.histogram(name)
	return sum
}

func (r *MetricReader) histogram(name string) (uint64, float64) {
	r.t.Helper()

	switch data := r.collect(name).(type) {
	case metricdata.Histogram[int64]:
		return histogramTotals(data.DataPoints)
	case metricdata.Histogram[float64]:
		return histogramTotals(data.DataPoints)
	}
	return 0, 0
}

func histogramTotals[N int64 | float64](points []metricdata.HistogramDataPoint[N]) (uint64, float64) {
	var count uint64
	var sum float64
	for _, dp := range points {
		count += dp.Count
		sum += float64(dp.Sum)
	}
	return count, sum
}

// Gauge 返回带有全部给定属性的仪表值，未记录时 ok 为 false
func (r *MetricReader) Gauge(name string, attrs ...attribute.KeyValue) (value int64, ok bool) {
	r.t.Helper()

	gauge, isGauge := r.collect(name).(metricdata.Gauge[int64])
	if !isGauge {
		return 0, false
	}
	for _, dp := range gauge.DataPoints {
		if hasAll(dp.Attributes, attrs) {
			return dp.Value, true
		}
	}
	return 0, false
}

func hasAll(set attribute.Set, attrs []attribute.KeyValue) bool {
	for _, kv := range attrs {
		v, ok := set.Value(kv.Key)
		if !ok || v.Emit() != kv.Value.Emit() {
			return false
		}
	}
	return true
}
