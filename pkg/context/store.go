package context

import (
	"context"
)

// Store 定义上下文存储接口。
//
// 引擎只依赖该接口；任何满足语义的实现都可以互换。
// 实现必须返回可用 errors.Is 判定的 ErrNotFound、ErrDuplicateKey、
// ErrStoreUnavailable（见 pkg/core/errors）。
type Store interface {
	// Create 存储新上下文并返回其 ID。
	// ID 为空时自动生成；ID 已存在时返回 ErrDuplicateKey。
	Create(ctx context.Context, c *Context) (string, error)

	// Get 按 ID 获取上下文，不存在时返回 ErrNotFound。
	Get(ctx context.Context, id string) (*Context, error)

	// Update 显式更新上下文字段，并刷新 UpdatedAt。
	Update(ctx context.Context, c *Context) error

	// GetHierarchy 返回从根到该节点的链。
	// 遇到环或悬空父节点时返回已走过的部分链。
	GetHierarchy(ctx context.Context, id string) ([]*Context, error)

	// GetRelated 返回出边指向的上下文；relType 为空表示所有类型。
	// 无法解析的目标被跳过。
	GetRelated(ctx context.Context, id string, relType string) ([]Related, error)

	// CreateRelationship 添加一条边；重复调用会添加多条边。
	CreateRelationship(ctx context.Context, rel Relationship) error

	// Reinforce 提升该上下文的分数（上限 1.0），并衰减其关联上下文。
	Reinforce(ctx context.Context, id string) error

	// Prune 将分数低于阈值的活跃上下文标记为非活跃，返回其 ID。
	Prune(ctx context.Context, threshold float64) ([]string, error)

	// Activate 撤销剪枝，将上下文重新标记为活跃。
	Activate(ctx context.Context, id string) error

	// FindRelevant 按查询词做大小写不敏感的子串匹配。
	// ctype 为空表示不过滤类型；limit <= 0 表示不限制。
	FindRelevant(ctx context.Context, query string, ctype ContextType, limit int) ([]*Context, error)

	// Stats 返回存储统计信息。
	Stats(ctx context.Context) (*StoreStats, error)

	// Close 关闭连接
	Close() error
}

// StoreStats 存储统计
type StoreStats struct {
	// ActiveCount 活跃上下文数量
	ActiveCount int `json:"active_count"`
	// InactiveCount 已剪枝上下文数量
	InactiveCount int `json:"inactive_count"`
	// RelationshipCount 关系数量
	RelationshipCount int `json:"relationship_count"`
	// Types 活跃上下文的类型分布
	Types map[ContextType]int `json:"types,omitempty"`
}
