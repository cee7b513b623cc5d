package store

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	injctx "github.com/easyops/contextinject-go/pkg/context"
	"github.com/easyops/contextinject-go/pkg/core/errors"
	"github.com/easyops/contextinject-go/pkg/otel"
)

// TracedStore 为任意 Store 添加追踪与指标
type TracedStore struct {
	store   injctx.Store
	backend string
	tracer  trace.Tracer
	metrics *otel.Metrics
}

// TracedStoreOption 配置 TracedStore
type TracedStoreOption func(*TracedStore)

// WithStoreTracer 设置追踪器
func WithStoreTracer(tracer trace.Tracer) TracedStoreOption {
	return func(s *TracedStore) {
		s.tracer = tracer
	}
}

// WithStoreMetrics 设置指标
func WithStoreMetrics(metrics *otel.Metrics) TracedStoreOption {
	return func(s *TracedStore) {
		s.metrics = metrics
	}
}

// NewTracedStore 包装存储
func NewTracedStore(store injctx.Store, backend StoreType, opts ...TracedStoreOption) *TracedStore {
	ts := &TracedStore{
		store:   store,
		backend: string(backend),
		tracer:  tracenoop.NewTracerProvider().Tracer(""),
		metrics: otel.NewNoopMetrics(),
	}

	for _, opt := range opts {
		opt(ts)
	}

	return ts
}

// Unwrap 返回被包装的存储
func (s *TracedStore) Unwrap() injctx.Store {
	return s.store
}

// observe 开启 span 并返回结束函数
func (s *TracedStore) observe(ctx context.Context, op string, id string) (context.Context, func(err error, results int)) {
	ctx, span := s.tracer.Start(ctx, otel.SpanStorePrefix+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(otel.StoreAttrs(s.backend, op)...),
	)
	if id != "" {
		span.SetAttributes(otel.StoreContextID(id))
	}

	startTime := time.Now()
	return ctx, func(err error, results int) {
		defer span.End()

		// 未找到是正常结果，不计为错误
		failed := err != nil && !errors.IsNotFound(err)
		s.metrics.RecordStoreOperation(ctx, s.backend, op, time.Since(startTime), failed)

		if results >= 0 {
			span.SetAttributes(otel.StoreResultCount(results))
		}
		if failed {
			span.RecordError(err)
			span.SetAttributes(otel.ErrorRetryable(errors.IsRetryable(err)))
			span.SetStatus(codes.Error, err.Error())
			return
		}
		span.SetStatus(codes.Ok, "")
	}
}

// Create 存储新上下文
func (s *TracedStore) Create(ctx context.Context, c *injctx.Context) (string, error) {
	id := ""
	if c != nil {
		id = c.ID
	}
	ctx, done := s.observe(ctx, "create", id)
	id, err := s.store.Create(ctx, c)
	done(err, -1)
	return id, err
}

// Get 获取上下文
func (s *TracedStore) Get(ctx context.Context, id string) (*injctx.Context, error) {
	ctx, done := s.observe(ctx, "get", id)
	c, err := s.store.Get(ctx, id)
	done(err, -1)
	return c, err
}

// Update 更新上下文字段
func (s *TracedStore) Update(ctx context.Context, c *injctx.Context) error {
	id := ""
	if c != nil {
		id = c.ID
	}
	ctx, done := s.observe(ctx, "update", id)
	err := s.store.Update(ctx, c)
	done(err, -1)
	return err
}

// GetHierarchy 返回从根到该节点的链
func (s *TracedStore) GetHierarchy(ctx context.Context, id string) ([]*injctx.Context, error) {
	ctx, done := s.observe(ctx, "get_hierarchy", id)
	chain, err := s.store.GetHierarchy(ctx, id)
	done(err, len(chain))
	return chain, err
}

// GetRelated 返回出边指向的上下文
func (s *TracedStore) GetRelated(ctx context.Context, id string, relType string) ([]injctx.Related, error) {
	ctx, done := s.observe(ctx, "get_related", id)
	related, err := s.store.GetRelated(ctx, id, relType)
	done(err, len(related))
	return related, err
}

// CreateRelationship 添加一条边
func (s *TracedStore) CreateRelationship(ctx context.Context, rel injctx.Relationship) error {
	ctx, done := s.observe(ctx, "create_relationship", rel.SourceID)
	err := s.store.CreateRelationship(ctx, rel)
	done(err, -1)
	return err
}

// Reinforce 强化上下文
func (s *TracedStore) Reinforce(ctx context.Context, id string) error {
	ctx, done := s.observe(ctx, "reinforce", id)
	err := s.store.Reinforce(ctx, id)
	done(err, -1)
	return err
}

// Prune 剪枝低分上下文
func (s *TracedStore) Prune(ctx context.Context, threshold float64) ([]string, error) {
	ctx, done := s.observe(ctx, "prune", "")
	pruned, err := s.store.Prune(ctx, threshold)
	done(err, len(pruned))
	if err == nil && len(pruned) > 0 {
		s.metrics.RecordPruned(ctx, s.backend, len(pruned))
	}
	return pruned, err
}

// Activate 重新激活上下文
func (s *TracedStore) Activate(ctx context.Context, id string) error {
	ctx, done := s.observe(ctx, "activate", id)
	err := s.store.Activate(ctx, id)
	done(err, -1)
	return err
}

// FindRelevant 按查询词检索
func (s *TracedStore) FindRelevant(ctx context.Context, query string, ctype injctx.ContextType, limit int) ([]*injctx.Context, error) {
	ctx, done := s.observe(ctx, "find_relevant", "")
	results, err := s.store.FindRelevant(ctx, query, ctype, limit)
	done(err, len(results))
	return results, err
}

// Stats 返回存储统计，并更新活跃数量仪表
func (s *TracedStore) Stats(ctx context.Context) (*injctx.StoreStats, error) {
	ctx, done := s.observe(ctx, "stats", "")
	stats, err := s.store.Stats(ctx)
	done(err, -1)
	if err == nil {
		s.metrics.RecordActive(ctx, s.backend, stats.ActiveCount)
	}
	return stats, err
}

// Close 关闭底层存储
func (s *TracedStore) Close() error {
	return s.store.Close()
}

// 编译时接口检查
var _ injctx.Store = (*TracedStore)(nil)
