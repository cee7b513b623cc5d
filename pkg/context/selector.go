package context

import (
	"sort"
	"time"
)

// 评分常量
const (
	// recencyWindowDays 是新近性线性衰减的窗口（天）。
	recencyWindowDays = 30.0
	// recencyFloor 是新近性因子的下限。
	recencyFloor = 0.5
	// relationshipBoostWeight 是关系平均强度的加成权重。
	relationshipBoostWeight = 0.2
)

// Scorer 定义对单个上下文进行评分的接口。
type Scorer interface {
	// Score 计算上下文的综合分数。now 由调用方传入以保证可复现。
	Score(c *Context, related []Related, now time.Time) float64
}

// RelevanceScorer 组合存储分数、类型权重、新近性与关系加成。
type RelevanceScorer struct{}

// NewRelevanceScorer 创建新的 RelevanceScorer。
func NewRelevanceScorer() *RelevanceScorer {
	return &RelevanceScorer{}
}

// Score 计算综合分数：
//
//	score = relevance * typeWeight * recency + mean(strength) * 0.2
func (s *RelevanceScorer) Score(c *Context, related []Related, now time.Time) float64 {
	score := c.RelevanceScore
	score *= c.Type.Weight()
	score *= RecencyFactor(c.UpdatedAt, now)
	score += RelationshipBoost(related) * relationshipBoostWeight
	return score
}

// RecencyFactor 返回 max(0.5, 1 - days/30)。
// updatedAt 为零值时返回 1.0（不参与衰减）；未来时间按 0 天处理。
func RecencyFactor(updatedAt, now time.Time) float64 {
	if updatedAt.IsZero() {
		return 1.0
	}

	days := now.Sub(updatedAt).Hours() / 24
	if days < 0 {
		days = 0
	}

	factor := 1.0 - days/recencyWindowDays
	if factor < recencyFloor {
		return recencyFloor
	}
	return factor
}

// RelationshipBoost 返回关系强度的平均值，没有关系时为 0。
func RelationshipBoost(related []Related) float64 {
	if len(related) == 0 {
		return 0
	}

	var total float64
	for _, r := range related {
		total += r.Strength
	}
	return total / float64(len(related))
}

// RankCandidates 对候选项稳定排序：显式要求的候选项在前，
// 组内按分数降序，分数相同时保持输入顺序。
func RankCandidates(candidates []ScoredCandidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Pinned != candidates[j].Pinned {
			return candidates[i].Pinned
		}
		return candidates[i].Score > candidates[j].Score
	})
}

// 编译时接口检查
var _ Scorer = (*RelevanceScorer)(nil)
