package context

// compressionScoreFloor 分数必须严格大于该值才允许压缩。
const compressionScoreFloor = 0.8

// partSeparator 是渲染片段之间的分隔符。
const partSeparator = "\n\n"

// Packer 定义在 Token 预算内打包候选项的接口。
type Packer interface {
	// Pack 按给定顺序单遍打包，不回溯。
	Pack(ranked []ScoredCandidate, config *InjectionConfig) *InjectionResult
}

// BudgetPacker 实现贪心的预算打包，溢出时升级到压缩链。
type BudgetPacker struct {
	counter  TokenCounter
	renderer Renderer
	chain    *CompressionChain
}

// PackerOption 配置 BudgetPacker。
type PackerOption func(*BudgetPacker)

// WithPackerRenderer 设置渲染器。
func WithPackerRenderer(renderer Renderer) PackerOption {
	return func(p *BudgetPacker) {
		p.renderer = renderer
	}
}

// WithCompressionChain 设置压缩链。
func WithCompressionChain(chain *CompressionChain) PackerOption {
	return func(p *BudgetPacker) {
		p.chain = chain
	}
}

// NewBudgetPacker 使用给定计数器创建 BudgetPacker。
func NewBudgetPacker(counter TokenCounter, opts ...PackerOption) *BudgetPacker {
	if counter == nil {
		counter = DefaultTokenCounter()
	}

	p := &BudgetPacker{counter: counter}
	for _, opt := range opts {
		opt(p)
	}

	if p.renderer == nil {
		p.renderer = NewDefaultRenderer()
	}
	if p.chain == nil {
		p.chain = NewDefaultCompressionChain(counter)
	}
	return p
}

// Pack 将候选项依次放入预算：
//
//  1. 分数低于 PriorityThreshold 的直接跳过，永不压缩；
//  2. 放不下时，仅当分数 > 0.8 且 Token 数 > CompressionThreshold 才尝试压缩；
//  3. 压缩后仍放不下则跳过，绝不部分纳入。
//
// 预算按拼接后的完整文本计算，片段间的分隔符也占用 Token。
// MaxContextTokens <= 0 时返回空结果。MaxTotalTokens 与 TokenBuffer 不在此处执行。
func (p *BudgetPacker) Pack(ranked []ScoredCandidate, config *InjectionConfig) *InjectionResult {
	if config == nil {
		config = DefaultInjectionConfig()
	}

	result := &InjectionResult{
		Included: make([]IncludedItem, 0),
	}

	budget := config.MaxContextTokens
	if budget <= 0 {
		for _, cand := range ranked {
			result.Skipped = append(result.Skipped, SkippedItem{ID: cand.Context.ID, Reason: SkipOverBudget})
		}
		return result
	}

	separatorTokens := p.counter.Count(partSeparator)
	formatted := ""
	usedTokens := 0

	for _, cand := range ranked {
		c := cand.Context

		if cand.Score < config.PriorityThreshold {
			result.Skipped = append(result.Skipped, SkippedItem{ID: c.ID, Reason: SkipBelowThreshold})
			continue
		}

		// 非首个片段需要为分隔符预留 Token
		remaining := budget - usedTokens
		if formatted != "" {
			remaining -= separatorTokens
		}

		text := p.renderer.Render(c, c.Content)
		tokens := p.counter.Count(text)
		compressed := false

		if tokens > remaining {
			if cand.Score <= compressionScoreFloor || tokens <= config.CompressionThreshold {
				result.Skipped = append(result.Skipped, SkippedItem{ID: c.ID, Reason: SkipOverBudget})
				continue
			}

			var ok bool
			text, tokens, ok = p.compress(c, remaining)
			if !ok {
				result.Skipped = append(result.Skipped, SkippedItem{ID: c.ID, Reason: SkipCompressionFailed})
				continue
			}
			compressed = true
		}

		// 以拼接后的实际文本复核预算
		next := text
		if formatted != "" {
			next = formatted + partSeparator + text
		}
		nextTokens := p.counter.Count(next)
		if nextTokens > budget {
			reason := SkipOverBudget
			if compressed {
				reason = SkipCompressionFailed
			}
			result.Skipped = append(result.Skipped, SkippedItem{ID: c.ID, Reason: reason})
			continue
		}

		formatted = next
		usedTokens = nextTokens
		if compressed {
			result.CompressionApplied = true
		}
		result.Included = append(result.Included, IncludedItem{
			ID:     c.ID,
			Type:   c.Type,
			Title:  c.Title,
			Tokens: tokens,
			Score:  cand.Score,
		})
	}

	result.FormattedText = formatted
	result.TotalTokens = usedTokens
	return result
}

// compress 在剩余预算内压缩正文并重新渲染。
// 标签占用的 Token 会先从目标中扣除。
func (p *BudgetPacker) compress(c *Context, remaining int) (string, int, bool) {
	overhead := p.counter.Count(p.renderer.Render(c, ""))
	target := remaining - overhead

	content, _, ok := p.chain.Compress(c.Content, target)
	if !ok {
		return "", 0, false
	}

	text := p.renderer.Render(c, content)
	return text, p.counter.Count(text), true
}

// 编译时接口检查
var _ Packer = (*BudgetPacker)(nil)
