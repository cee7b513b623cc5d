package context

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter 定义 Token 计数接口。
type TokenCounter interface {
	// Count 返回给定文本的 Token 数量。
	Count(text string) int
}

// TokenEncoder 是可以返回 Token ID 序列的计数器。
// AnalyzeTokenUsage 依赖它对 Token 分桶。
type TokenEncoder interface {
	TokenCounter

	// Encode 返回文本的 Token ID 序列。
	Encode(text string) []int
}

// TiktokenCounter 使用 tiktoken 实现精确的 Token 计数。
type TiktokenCounter struct {
	encoding *tiktoken.Tiktoken
	model    string
}

// TiktokenOption 配置 TiktokenCounter。
type TiktokenOption func(*TiktokenCounter)

// WithModel 设置 Token 编码使用的模型。
// 支持的模型：gpt-4、gpt-4o、gpt-3.5-turbo 等。
func WithModel(model string) TiktokenOption {
	return func(c *TiktokenCounter) {
		if model != "" {
			c.model = model
		}
	}
}

// NewTiktokenCounter 创建新的 TiktokenCounter。
// 默认使用 cl100k_base 编码（GPT-4、GPT-4o 等使用）。
func NewTiktokenCounter(opts ...TiktokenOption) (*TiktokenCounter, error) {
	c := &TiktokenCounter{
		model: "gpt-4o",
	}

	for _, opt := range opts {
		opt(c)
	}

	// 尝试获取模型对应的编码
	encoding, err := tiktoken.EncodingForModel(c.model)
	if err != nil {
		// 降级到 cl100k_base 编码
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, err
		}
	}

	c.encoding = encoding
	return c, nil
}

// Count 返回给定文本的 Token 数量。
func (c *TiktokenCounter) Count(text string) int {
	if c.encoding == nil {
		return estimateTokens(text)
	}
	return len(c.encoding.Encode(text, nil, nil))
}

// Encode 返回给定文本的 Token ID 序列。
func (c *TiktokenCounter) Encode(text string) []int {
	if c.encoding == nil {
		return nil
	}
	return c.encoding.Encode(text, nil, nil)
}

// Model 返回计数器使用的模型名称。
func (c *TiktokenCounter) Model() string {
	return c.model
}

// EstimatedCounter 使用字符估算实现 Token 计数。
// 这是当 tiktoken 不可用时的降级方案。
type EstimatedCounter struct {
	// CharsPerToken 是每个 Token 的平均字符数。
	// 默认值为 4，这是英文文本的合理估计。
	CharsPerToken float64
}

// NewEstimatedCounter 创建新的 EstimatedCounter。
func NewEstimatedCounter() *EstimatedCounter {
	return &EstimatedCounter{
		CharsPerToken: 4.0,
	}
}

// Count 返回估算的 Token 数量。
func (c *EstimatedCounter) Count(text string) int {
	perToken := c.CharsPerToken
	if perToken <= 0 {
		perToken = 4.0
	}
	return int(float64(len(text)) / perToken)
}

// estimateTokens 提供简单的 Token 估算降级方案。
func estimateTokens(text string) int {
	// 粗略估算：英文 1 token ≈ 4 字符，
	// 但中文/日文字符通常每个 1-2 个 token
	charCount := len(text)
	wordCount := len(strings.Fields(text))

	if wordCount == 0 {
		return charCount / 4
	}

	// 取字符估算和词估算的平均值
	charBasedTokens := charCount / 4
	wordBasedTokens := int(float64(wordCount) * 1.3) // 平均每词约 1.3 个 token

	return (charBasedTokens + wordBasedTokens) / 2
}

var (
	defaultCounter     TokenCounter
	defaultCounterOnce sync.Once
)

// DefaultTokenCounter 返回一个 TokenCounter，
// 优先使用 TiktokenCounter，如果不可用则降级到 EstimatedCounter。
// 编码只加载一次。
func DefaultTokenCounter() TokenCounter {
	defaultCounterOnce.Do(func() {
		counter, err := NewTiktokenCounter()
		if err != nil {
			defaultCounter = NewEstimatedCounter()
			return
		}
		defaultCounter = counter
	})
	return defaultCounter
}

// Token 分桶名称
const (
	TokenBucketSpecial = "special"
	TokenBucketCommon  = "common"
	TokenBucketRare    = "rare"
)

// Token ID 分桶边界（基于 cl100k_base 词表布局）。
const (
	// commonTokenLimit 以下的 ID 为高频 BPE 合并结果。
	commonTokenLimit = 10000
	// specialTokenStart 及以上的 ID 为特殊 Token。
	specialTokenStart = 100256
)

// TokenUsage 是 AnalyzeTokenUsage 的结果，仅供诊断。
type TokenUsage struct {
	TotalTokens       int            `json:"total_tokens"`
	TokenDistribution map[string]int `json:"token_distribution"`
}

// AnalyzeTokenUsage 统计文本 Token 数量并按 ID 区间分桶。
//
// 计数器无法提供 Token ID 时，全部计入 common。
func AnalyzeTokenUsage(counter TokenCounter, text string) TokenUsage {
	usage := TokenUsage{
		TokenDistribution: map[string]int{
			TokenBucketSpecial: 0,
			TokenBucketCommon:  0,
			TokenBucketRare:    0,
		},
	}

	encoder, ok := counter.(TokenEncoder)
	if !ok {
		usage.TotalTokens = counter.Count(text)
		usage.TokenDistribution[TokenBucketCommon] = usage.TotalTokens
		return usage
	}

	ids := encoder.Encode(text)
	usage.TotalTokens = len(ids)
	for _, id := range ids {
		usage.TokenDistribution[tokenBucket(id)]++
	}
	return usage
}

// tokenBucket 返回 Token ID 所属的分桶。
func tokenBucket(id int) string {
	switch {
	case id >= specialTokenStart:
		return TokenBucketSpecial
	case id < commonTokenLimit:
		return TokenBucketCommon
	default:
		return TokenBucketRare
	}
}

// 编译时接口检查
var _ TokenEncoder = (*TiktokenCounter)(nil)
var _ TokenCounter = (*EstimatedCounter)(nil)
