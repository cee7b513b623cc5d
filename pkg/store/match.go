package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	injctx "github.com/easyops/contextinject-go/pkg/context"
	"github.com/easyops/contextinject-go/pkg/core/errors"
)

// queryTerms 将查询按空白切分为小写词，重复词只保留一个。
func queryTerms(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	terms := make([]string, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		terms = append(terms, f)
	}
	return terms
}

// matchWeight 返回出现在标题或正文中的查询词个数。
func matchWeight(c *injctx.Context, terms []string) int {
	title := strings.ToLower(c.Title)
	content := strings.ToLower(c.Content)

	weight := 0
	for _, t := range terms {
		if strings.Contains(title, t) || strings.Contains(content, t) {
			weight++
		}
	}
	return weight
}

// match 是 FindRelevant 的中间结果。seq 为插入序号，用于稳定排序。
type match struct {
	c     *injctx.Context
	score float64
	seq   int64
}

// matchCandidate 判断上下文是否参与检索，返回 match 和是否命中。
func matchCandidate(c *injctx.Context, seq int64, terms []string, ctype injctx.ContextType, now time.Time) (match, bool) {
	if !c.IsActive || c.Expired(now) {
		return match{}, false
	}
	if ctype != "" && c.Type != ctype {
		return match{}, false
	}
	w := matchWeight(c, terms)
	if w == 0 {
		return match{}, false
	}
	return match{c: c, score: float64(w) * c.RelevanceScore, seq: seq}, true
}

// rankMatches 按 权重×分数 降序排列，相同分数按插入顺序，并截断到 limit。
func rankMatches(matches []match, limit int) []*injctx.Context {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].seq < matches[j].seq
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}

	results := make([]*injctx.Context, 0, len(matches))
	for _, m := range matches {
		results = append(results, m.c)
	}
	return results
}

// walkHierarchy 沿 ParentID 向上遍历并返回从根到 start 的链。
//
// 遇到环、悬空父节点或超过 MaxHierarchyDepth 时停止，返回已走过的部分。
// 只有非 NotFound 错误会向上返回。
func walkHierarchy(ctx context.Context, start *injctx.Context, get func(context.Context, string) (*injctx.Context, error)) ([]*injctx.Context, error) {
	chain := []*injctx.Context{start}
	visited := map[string]struct{}{start.ID: {}}

	current := start
	for depth := 0; depth < MaxHierarchyDepth && current.ParentID != ""; depth++ {
		if _, seen := visited[current.ParentID]; seen {
			break
		}

		parent, err := get(ctx, current.ParentID)
		if err != nil {
			if errors.IsNotFound(err) {
				break
			}
			return nil, err
		}

		visited[parent.ID] = struct{}{}
		chain = append(chain, parent)
		current = parent
	}

	// 反转为根到叶的顺序
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// prepareNew 校验并补全待创建的上下文，返回副本。
//
// 新记录总是活跃的；类型为空时视为 other。
func prepareNew(c *injctx.Context, o options) (*injctx.Context, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: nil context", errors.ErrInvalidInput)
	}

	record := c.Clone()
	if record.Type == "" {
		record.Type = injctx.ContextTypeOther
	}
	if !record.Type.IsValid() {
		return nil, fmt.Errorf("%w: unknown context type %q", errors.ErrInvalidInput, record.Type)
	}
	if record.ID == "" {
		record.ID = o.newID()
	}

	now := o.now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = record.CreatedAt
	}
	record.IsActive = true
	return record, nil
}

// validateUpdate 校验待更新的上下文。
func validateUpdate(c *injctx.Context) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("%w: context id is required", errors.ErrInvalidInput)
	}
	if c.Type != "" && !c.Type.IsValid() {
		return fmt.Errorf("%w: unknown context type %q", errors.ErrInvalidInput, c.Type)
	}
	return nil
}

// validateRelationship 校验关系。
func validateRelationship(rel injctx.Relationship) error {
	if rel.SourceID == "" || rel.TargetID == "" {
		return fmt.Errorf("%w: relationship endpoints are required", errors.ErrInvalidInput)
	}
	if rel.Type == "" {
		return fmt.Errorf("%w: relationship type is required", errors.ErrInvalidInput)
	}
	if !(rel.Strength >= 0 && rel.Strength <= 1) {
		return fmt.Errorf("%w: relationship strength %v outside [0, 1]", errors.ErrInvalidInput, rel.Strength)
	}
	return nil
}

// reinforced 返回强化后的分数。
func reinforced(score float64) float64 {
	score += ReinforceIncrement
	if score > MaxRelevanceScore {
		return MaxRelevanceScore
	}
	return score
}

// notFound 返回带 ID 的 ErrNotFound。
func notFound(id string) error {
	return fmt.Errorf("%w: %s", errors.ErrNotFound, id)
}
