package context

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	ierrors "github.com/easyops/contextinject-go/pkg/core/errors"
	"github.com/easyops/contextinject-go/pkg/otel"
)

// defaultCandidateLimit 是 FindRelevant 的默认返回上限。
const defaultCandidateLimit = 20

// relatedFetchConcurrency 限制并发读取关联上下文的数量。
const relatedFetchConcurrency = 8

// Injector 是上下文注入的门面：查询存储、评分、排序并交给打包器。
//
// Injector 本身无状态，可在多个 goroutine 间共享；
// 并发安全性取决于 Store 的实现。
type Injector struct {
	store          Store
	counter        TokenCounter
	scorer         Scorer
	renderer       Renderer
	packer         Packer
	tracer         trace.Tracer
	metrics        *otel.Metrics
	logger         *slog.Logger
	now            func() time.Time
	candidateLimit int
}

// InjectorOption 配置 Injector。
type InjectorOption func(*Injector)

// WithTokenCounter 设置 Token 计数器。
func WithTokenCounter(counter TokenCounter) InjectorOption {
	return func(i *Injector) {
		i.counter = counter
	}
}

// WithScorer 设置评分器。
func WithScorer(scorer Scorer) InjectorOption {
	return func(i *Injector) {
		i.scorer = scorer
	}
}

// WithRenderer 设置渲染器。
func WithRenderer(renderer Renderer) InjectorOption {
	return func(i *Injector) {
		i.renderer = renderer
	}
}

// WithPacker 设置打包器。
func WithPacker(packer Packer) InjectorOption {
	return func(i *Injector) {
		i.packer = packer
	}
}

// WithClock 设置时钟，评分时读取一次。
func WithClock(now func() time.Time) InjectorOption {
	return func(i *Injector) {
		i.now = now
	}
}

// WithCandidateLimit 设置 FindRelevant 的返回上限。
func WithCandidateLimit(limit int) InjectorOption {
	return func(i *Injector) {
		i.candidateLimit = limit
	}
}

// WithTracer 设置追踪器。
func WithTracer(tracer trace.Tracer) InjectorOption {
	return func(i *Injector) {
		i.tracer = tracer
	}
}

// WithMetrics 设置指标收集器。
func WithMetrics(metrics *otel.Metrics) InjectorOption {
	return func(i *Injector) {
		i.metrics = metrics
	}
}

// WithLogger 设置日志器。
func WithLogger(logger *slog.Logger) InjectorOption {
	return func(i *Injector) {
		i.logger = logger
	}
}

// NewInjector 使用给定存储和选项创建 Injector。
func NewInjector(store Store, opts ...InjectorOption) *Injector {
	i := &Injector{
		store:          store,
		candidateLimit: defaultCandidateLimit,
	}

	for _, opt := range opts {
		opt(i)
	}

	// 如果未配置则设置默认值
	if i.counter == nil {
		i.counter = DefaultTokenCounter()
	}
	if i.scorer == nil {
		i.scorer = NewRelevanceScorer()
	}
	if i.renderer == nil {
		i.renderer = NewDefaultRenderer()
	}
	if i.packer == nil {
		i.packer = NewBudgetPacker(i.counter, WithPackerRenderer(i.renderer))
	}
	if i.now == nil {
		i.now = time.Now
	}
	if i.tracer == nil {
		i.tracer = otel.GetTracer()
	}
	if i.metrics == nil {
		i.metrics = otel.GetMetrics()
	}
	if i.logger == nil {
		i.logger = otel.GetLogger()
	}

	return i
}

// SelectAndFormat 选择并格式化与查询相关的上下文。
//
// requiredIDs 中能解析的上下文排在其余候选项之前，但仍受预算约束；
// 无法解析的 ID 被静默忽略。只有 ErrStoreUnavailable 会返回给调用方。
func (i *Injector) SelectAndFormat(ctx context.Context, query string, config *InjectionConfig, requiredIDs ...string) (*InjectionResult, error) {
	if config == nil {
		config = DefaultInjectionConfig()
	}

	start := i.now()
	ctx, span := i.tracer.Start(ctx, otel.SpanSelectAndFormat,
		trace.WithAttributes(otel.InjectionRequestAttrs(len(strings.Fields(query)), config.ModelName)...),
	)
	defer span.End()

	if err := config.Validate(); err != nil {
		i.logger.WarnContext(ctx, "injection config is invalid, packing degrades", "error", err)
	}

	candidates, err := i.Candidates(ctx, query, start, requiredIDs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		i.metrics.RecordInjectionError(ctx)
		return nil, err
	}

	result := i.packer.Pack(candidates, config)

	for _, skipped := range result.Skipped {
		i.logger.DebugContext(ctx, "context skipped", "id", skipped.ID, "reason", string(skipped.Reason))
	}

	record := otel.InjectionRecord{
		Model:      config.ModelName,
		Candidates: len(candidates),
		Included:   len(result.Included),
		Skipped:    len(result.Skipped),
		Tokens:     result.TotalTokens,
		Compressed: result.CompressionApplied,
		Elapsed:    i.now().Sub(start),
	}
	span.SetAttributes(otel.InjectionResultAttrs(record)...)
	span.SetStatus(codes.Ok, "")
	i.metrics.RecordInjection(ctx, record)

	i.logger.InfoContext(ctx, "context selected",
		"model", config.ModelName,
		"candidates", len(candidates),
		"included", len(result.Included),
		"total_tokens", result.TotalTokens,
		"compression_applied", result.CompressionApplied,
	)

	return result, nil
}

// Candidates 构建、评分并排序候选项，返回打包前的顺序。
func (i *Injector) Candidates(ctx context.Context, query string, now time.Time, requiredIDs ...string) ([]ScoredCandidate, error) {
	seen := make(map[string]struct{}, len(requiredIDs))
	candidates := make([]ScoredCandidate, 0, len(requiredIDs)+i.candidateLimit)

	// 1. 显式要求的上下文优先
	for _, id := range requiredIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		c, err := i.store.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ierrors.ErrNotFound) {
				continue
			}
			return nil, err
		}
		seen[id] = struct{}{}
		candidates = append(candidates, ScoredCandidate{Context: c, Pinned: true})
	}

	// 2. 追加查询命中的上下文，按 ID 去重
	found, err := i.store.FindRelevant(ctx, query, "", i.candidateLimit)
	if err != nil {
		return nil, err
	}
	for _, c := range found {
		if _, dup := seen[c.ID]; dup {
			continue
		}
		seen[c.ID] = struct{}{}
		candidates = append(candidates, ScoredCandidate{Context: c})
	}

	// 3. 并发读取关联上下文，再按顺序评分
	related := make([][]Related, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(relatedFetchConcurrency)
	for idx := range candidates {
		g.Go(func() error {
			rel, err := i.store.GetRelated(gctx, candidates[idx].Context.ID, "")
			if err != nil && !errors.Is(err, ierrors.ErrNotFound) {
				return err
			}
			related[idx] = rel
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for idx := range candidates {
		candidates[idx].Score = i.scorer.Score(candidates[idx].Context, related[idx], now)
	}

	// 4. 稳定排序
	RankCandidates(candidates)
	return candidates, nil
}

// AnalyzeTokenUsage 返回文本的 Token 统计与分桶，仅供诊断。
func (i *Injector) AnalyzeTokenUsage(text string) TokenUsage {
	return AnalyzeTokenUsage(i.counter, text)
}

// Store 返回底层存储。
func (i *Injector) Store() Store {
	return i.store
}
