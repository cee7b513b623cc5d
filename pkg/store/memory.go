package store

import (
	"context"
	"fmt"
	"sync"

	injctx "github.com/easyops/contextinject-go/pkg/context"
	"github.com/easyops/contextinject-go/pkg/core/errors"
)

// memoryEntry 是内存中的一条记录及其插入序号。
type memoryEntry struct {
	c   *injctx.Context
	seq int64
}

// MemoryStore 内存上下文存储
//
// 基于 map 的简单实现，适用于测试和轻量级场景。
// 读写均返回副本，调用方修改结果不会影响存储。
type MemoryStore struct {
	contexts map[string]*memoryEntry
	order    []string
	edges    map[string][]injctx.Relationship
	nextSeq  int64
	edgeSize int
	opts     options
	mu       sync.RWMutex
}

// NewMemoryStore 创建内存上下文存储
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		contexts: make(map[string]*memoryEntry),
		edges:    make(map[string][]injctx.Relationship),
		opts:     newOptions(opts),
	}
}

// Create 存储新上下文
func (s *MemoryStore) Create(ctx context.Context, c *injctx.Context) (string, error) {
	record, err := prepareNew(c, s.opts)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.contexts[record.ID]; exists {
		return "", fmt.Errorf("%w: %s", errors.ErrDuplicateKey, record.ID)
	}

	s.nextSeq++
	s.contexts[record.ID] = &memoryEntry{c: record, seq: s.nextSeq}
	s.order = append(s.order, record.ID)
	return record.ID, nil
}

// Get 获取上下文
func (s *MemoryStore) Get(ctx context.Context, id string) (*injctx.Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.contexts[id]
	if !exists {
		return nil, notFound(id)
	}
	return entry.c.Clone(), nil
}

// Update 更新上下文字段
func (s *MemoryStore) Update(ctx context.Context, c *injctx.Context) error {
	if err := validateUpdate(c); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.contexts[c.ID]
	if !exists {
		return notFound(c.ID)
	}

	updated := c.Clone()
	if updated.Type == "" {
		updated.Type = entry.c.Type
	}
	updated.CreatedAt = entry.c.CreatedAt
	updated.UpdatedAt = s.opts.now()
	entry.c = updated
	return nil
}

// GetHierarchy 返回从根到该节点的链
func (s *MemoryStore) GetHierarchy(ctx context.Context, id string) ([]*injctx.Context, error) {
	start, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return walkHierarchy(ctx, start, s.Get)
}

// GetRelated 返回出边指向的上下文
func (s *MemoryStore) GetRelated(ctx context.Context, id string, relType string) ([]injctx.Related, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.contexts[id]; !exists {
		return nil, notFound(id)
	}

	var related []injctx.Related
	for _, rel := range s.edges[id] {
		if relType != "" && rel.Type != relType {
			continue
		}
		target, ok := s.contexts[rel.TargetID]
		if !ok {
			continue // 跳过无法解析的目标
		}
		related = append(related, injctx.Related{
			Context:  target.c.Clone(),
			Type:     rel.Type,
			Strength: rel.Strength,
		})
	}
	return related, nil
}

// CreateRelationship 添加一条边
func (s *MemoryStore) CreateRelationship(ctx context.Context, rel injctx.Relationship) error {
	if err := validateRelationship(rel); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.contexts[rel.SourceID]; !exists {
		return notFound(rel.SourceID)
	}

	s.edges[rel.SourceID] = append(s.edges[rel.SourceID], rel)
	s.edgeSize++
	return nil
}

// Reinforce 强化上下文并衰减其关联上下文
func (s *MemoryStore) Reinforce(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.contexts[id]
	if !exists {
		return notFound(id)
	}
	entry.c.RelevanceScore = reinforced(entry.c.RelevanceScore)

	// 每个关联目标只衰减一次
	decayed := map[string]struct{}{id: {}}
	for _, rel := range s.edges[id] {
		if _, done := decayed[rel.TargetID]; done {
			continue
		}
		decayed[rel.TargetID] = struct{}{}
		if target, ok := s.contexts[rel.TargetID]; ok {
			target.c.RelevanceScore *= DecayFactor
		}
	}
	return nil
}

// Prune 将低分的活跃上下文标记为非活跃
func (s *MemoryStore) Prune(ctx context.Context, threshold float64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pruned := make([]string, 0)
	for _, id := range s.order {
		c := s.contexts[id].c
		if c.IsActive && c.RelevanceScore < threshold {
			c.IsActive = false
			pruned = append(pruned, id)
		}
	}
	return pruned, nil
}

// Activate 重新激活上下文
func (s *MemoryStore) Activate(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.contexts[id]
	if !exists {
		return notFound(id)
	}
	entry.c.IsActive = true
	return nil
}

// FindRelevant 按查询词检索活跃上下文
func (s *MemoryStore) FindRelevant(ctx context.Context, query string, ctype injctx.ContextType, limit int) ([]*injctx.Context, error) {
	terms := queryTerms(query)
	if len(terms) == 0 {
		return []*injctx.Context{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.opts.now()
	var matches []match
	for _, id := range s.order {
		entry := s.contexts[id]
		if m, ok := matchCandidate(entry.c, entry.seq, terms, ctype, now); ok {
			m.c = m.c.Clone()
			matches = append(matches, m)
		}
	}
	return rankMatches(matches, limit), nil
}

// Stats 返回存储统计
func (s *MemoryStore) Stats(ctx context.Context) (*injctx.StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &injctx.StoreStats{
		RelationshipCount: s.edgeSize,
		Types:             make(map[injctx.ContextType]int),
	}
	for _, entry := range s.contexts {
		if entry.c.IsActive {
			stats.ActiveCount++
			stats.Types[entry.c.Type]++
		} else {
			stats.InactiveCount++
		}
	}
	return stats, nil
}

// Close 关闭存储（空操作）
func (s *MemoryStore) Close() error {
	return nil
}

// 编译时接口检查
var _ injctx.Store = (*MemoryStore)(nil)
