package context

import (
	"fmt"

	"github.com/easyops/contextinject-go/pkg/core/errors"
)

// 默认配置值
const (
	DefaultMaxTotalTokens       = 4096
	DefaultMaxContextTokens     = 2048
	DefaultTokenBuffer          = 500
	DefaultPriorityThreshold    = 0.3
	DefaultCompressionThreshold = 1000
)

// InjectionConfig 保存一次注入请求的配置。
type InjectionConfig struct {
	// ModelName 是下游模型名称，在引擎内部仅作记录。
	ModelName string `koanf:"model_name" json:"model_name"`

	// MaxTotalTokens 是调用方整体提示词的预算提示，打包器不强制执行。
	MaxTotalTokens int `koanf:"max_total_tokens" json:"max_total_tokens"`

	// MaxContextTokens 是格式化上下文的硬上限。
	// 小于等于 0 时不纳入任何内容。
	MaxContextTokens int `koanf:"max_context_tokens" json:"max_context_tokens"`

	// TokenBuffer 是为调用方预留的余量提示，打包器不强制执行。
	TokenBuffer int `koanf:"token_buffer" json:"token_buffer"`

	// PriorityThreshold 是候选项被考虑的最低分数。
	PriorityThreshold float64 `koanf:"priority_threshold" json:"priority_threshold"`

	// CompressionThreshold 是触发压缩所需的最少 Token 数。
	CompressionThreshold int `koanf:"compression_threshold" json:"compression_threshold"`
}

// InjectionOption 配置 InjectionConfig。
type InjectionOption func(*InjectionConfig)

// WithModelName 设置模型名称。
func WithModelName(name string) InjectionOption {
	return func(c *InjectionConfig) {
		c.ModelName = name
	}
}

// WithMaxTotalTokens 设置整体预算提示。
func WithMaxTotalTokens(tokens int) InjectionOption {
	return func(c *InjectionConfig) {
		c.MaxTotalTokens = tokens
	}
}

// WithMaxContextTokens 设置上下文硬上限。
func WithMaxContextTokens(tokens int) InjectionOption {
	return func(c *InjectionConfig) {
		c.MaxContextTokens = tokens
	}
}

// WithTokenBuffer 设置预留余量。
func WithTokenBuffer(tokens int) InjectionOption {
	return func(c *InjectionConfig) {
		c.TokenBuffer = tokens
	}
}

// WithPriorityThreshold 设置优先级阈值。
func WithPriorityThreshold(threshold float64) InjectionOption {
	return func(c *InjectionConfig) {
		c.PriorityThreshold = threshold
	}
}

// WithCompressionThreshold 设置压缩阈值。
func WithCompressionThreshold(tokens int) InjectionOption {
	return func(c *InjectionConfig) {
		c.CompressionThreshold = tokens
	}
}

// DefaultInjectionConfig 返回具有默认值的 InjectionConfig。
func DefaultInjectionConfig() *InjectionConfig {
	return &InjectionConfig{
		ModelName:            "gpt-4o",
		MaxTotalTokens:       DefaultMaxTotalTokens,
		MaxContextTokens:     DefaultMaxContextTokens,
		TokenBuffer:          DefaultTokenBuffer,
		PriorityThreshold:    DefaultPriorityThreshold,
		CompressionThreshold: DefaultCompressionThreshold,
	}
}

// NewInjectionConfig 使用给定的选项创建新的 InjectionConfig。
func NewInjectionConfig(opts ...InjectionOption) *InjectionConfig {
	c := DefaultInjectionConfig()
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Validate 检查配置是否合理。
//
// 返回的错误仅作提示：打包器对无效配置做降级处理而不会失败。
func (c *InjectionConfig) Validate() error {
	if c.MaxContextTokens <= 0 {
		return fmt.Errorf("%w: max_context_tokens must be positive, got %d", errors.ErrInvalidConfig, c.MaxContextTokens)
	}
	if c.PriorityThreshold < 0 || c.PriorityThreshold > 1 {
		return fmt.Errorf("%w: priority_threshold must be within [0,1], got %g", errors.ErrInvalidConfig, c.PriorityThreshold)
	}
	if c.CompressionThreshold < 0 {
		return fmt.Errorf("%w: compression_threshold must not be negative, got %d", errors.ErrInvalidConfig, c.CompressionThreshold)
	}
	if c.TokenBuffer < 0 || c.MaxTotalTokens < 0 {
		return fmt.Errorf("%w: token budgets must not be negative", errors.ErrInvalidConfig)
	}
	if c.MaxTotalTokens > 0 && c.MaxContextTokens > c.MaxTotalTokens {
		return fmt.Errorf("%w: max_context_tokens %d exceeds max_total_tokens %d", errors.ErrInvalidConfig, c.MaxContextTokens, c.MaxTotalTokens)
	}
	return nil
}

// Budget 返回打包器实际使用的上下文预算（不小于 0）。
func (c *InjectionConfig) Budget() int {
	if c.MaxContextTokens < 0 {
		return 0
	}
	return c.MaxContextTokens
}

// Clone 返回配置副本。
func (c *InjectionConfig) Clone() *InjectionConfig {
	clone := *c
	return &clone
}
