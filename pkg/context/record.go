package context

import (
	"time"
)

// ContextType 表示上下文记录的类别。
type ContextType string

const (
	// ContextTypeStrategic 表示战略层面的长期背景。
	ContextTypeStrategic ContextType = "strategic"

	// ContextTypeProject 表示项目相关背景。
	ContextTypeProject ContextType = "project"

	// ContextTypeConversation 表示历史对话摘录。
	ContextTypeConversation ContextType = "conversation"

	// ContextTypeTask 表示当前任务。
	ContextTypeTask ContextType = "task"

	// ContextTypeOther 表示未归类的上下文。
	ContextTypeOther ContextType = "other"
)

// IsValid 检查类型是否为已知类型。
func (t ContextType) IsValid() bool {
	switch t {
	case ContextTypeStrategic, ContextTypeProject, ContextTypeConversation,
		ContextTypeTask, ContextTypeOther:
		return true
	default:
		return false
	}
}

// Weight 返回评分使用的类型权重，未知类型为 1.0。
func (t ContextType) Weight() float64 {
	switch t {
	case ContextTypeStrategic:
		return 1.2
	case ContextTypeProject:
		return 1.0
	case ContextTypeConversation:
		return 0.8
	case ContextTypeTask:
		return 0.7
	default:
		return 1.0
	}
}

// Context 是一条可注入提示词的背景信息。
//
// 结构是封闭的；上游附带的任意键值只能放入 Extensions，
// 评分逻辑从不读取它。
type Context struct {
	// ID 是唯一且不透明的标识。
	ID string

	// Type 是上下文类别。
	Type ContextType

	// Title 是简短标题。
	Title string

	// Content 是正文。
	Content string

	// ParentID 指向父上下文，为空表示根节点。不保证无环。
	ParentID string

	// Extensions 是唯一的开放扩展槽。
	Extensions map[string]string

	// RelevanceScore 是持久化的相关性分数，软约束在 [0,1]。
	RelevanceScore float64

	// CreatedAt 是创建时间。
	CreatedAt time.Time

	// UpdatedAt 是最近一次显式更新的时间，零值表示未知。
	UpdatedAt time.Time

	// ExpiresAt 是可选的过期时间。
	ExpiresAt *time.Time

	// IsActive 为 false 表示已被软删除（剪枝）。
	IsActive bool
}

// Clone 创建上下文的深拷贝。
func (c *Context) Clone() *Context {
	if c == nil {
		return nil
	}
	clone := *c
	if c.Extensions != nil {
		clone.Extensions = make(map[string]string, len(c.Extensions))
		for k, v := range c.Extensions {
			clone.Extensions[k] = v
		}
	}
	if c.ExpiresAt != nil {
		ts := *c.ExpiresAt
		clone.ExpiresAt = &ts
	}
	return &clone
}

// Expired 判断上下文在给定时间是否已过期。
func (c *Context) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !c.ExpiresAt.After(now)
}

// Relationship 是两个上下文之间的有向加权边。
//
// 同一对节点之间允许存在多条不同类型的边，不隐含对称性。
type Relationship struct {
	// SourceID 是起点。
	SourceID string

	// TargetID 是终点。
	TargetID string

	// Type 是关系类型，例如 "depends_on"。
	Type string

	// Strength 是关系强度，范围 [0,1]。
	Strength float64
}

// Related 是 GetRelated 返回的一项：目标上下文与边强度。
type Related struct {
	Context  *Context
	Type     string
	Strength float64
}

// ScoredCandidate 是参与打包的临时候选项，从不持久化。
type ScoredCandidate struct {
	Context *Context
	Score   float64

	// Pinned 表示由调用方按 ID 显式要求。
	Pinned bool
}

// IncludedItem 描述一个被纳入结果的上下文。
type IncludedItem struct {
	ID     string      `json:"id"`
	Type   ContextType `json:"type"`
	Title  string      `json:"title"`
	Tokens int         `json:"tokens"`
	Score  float64     `json:"score"`
}

// SkipReason 说明候选项未被纳入的原因。
type SkipReason string

const (
	// SkipBelowThreshold 分数低于优先级阈值。
	SkipBelowThreshold SkipReason = "below_threshold"

	// SkipOverBudget 超出预算且不满足压缩条件。
	SkipOverBudget SkipReason = "over_budget"

	// SkipCompressionFailed 所有压缩策略都无法放入剩余预算。
	SkipCompressionFailed SkipReason = "compression_failed"
)

// SkippedItem 描述一个被跳过的候选项（仅用于诊断）。
type SkippedItem struct {
	ID     string     `json:"id"`
	Reason SkipReason `json:"reason"`
}

// InjectionResult 是一次选择与格式化的输出。
type InjectionResult struct {
	// FormattedText 是以空行分隔的渲染结果。
	FormattedText string `json:"formatted_text"`

	// Included 按纳入顺序列出上下文。
	Included []IncludedItem `json:"included"`

	// TotalTokens 是已纳入部分的 Token 总数。
	TotalTokens int `json:"total_tokens"`

	// CompressionApplied 表示至少一项经过压缩。
	CompressionApplied bool `json:"compression_applied"`

	// Skipped 列出未纳入的候选项及原因。
	Skipped []SkippedItem `json:"skipped,omitempty"`
}

// IncludedIDs 返回已纳入上下文的 ID 列表。
func (r *InjectionResult) IncludedIDs() []string {
	ids := make([]string, 0, len(r.Included))
	for _, item := range r.Included {
		ids = append(ids, item.ID)
	}
	return ids
}
