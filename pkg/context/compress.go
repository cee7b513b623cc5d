package context

import (
	"regexp"
	"strings"
)

// 压缩标记
const (
	sentenceSeparator = ". "
	truncatedMarker   = " [truncated]"
	summarizedMarker  = " [summarized]"
	keyPointsMarker   = " [key points]"
	keyPointBullet    = "• "

	// summaryMinSentences 摘要抽取要求句子数严格大于该值。
	summaryMinSentences = 3
)

var paragraphBreak = regexp.MustCompile(`\n[ \t\r]*\n`)

// CompressionStrategy 定义一种有损压缩策略。
//
// 策略是纯函数：不修改存储中的上下文，也不返回错误。
// ok 为 false 表示该策略无法在 maxTokens 内给出结果。
type CompressionStrategy interface {
	// Name 返回策略名称。
	Name() string

	// Compress 尝试将内容压缩到 maxTokens 以内。
	Compress(content string, maxTokens int) (text string, ok bool)
}

// SentenceTruncation 按整句累积直到超出预算，并追加截断标记。
type SentenceTruncation struct {
	counter TokenCounter
}

// NewSentenceTruncation 创建句子截断策略。
func NewSentenceTruncation(counter TokenCounter) *SentenceTruncation {
	return &SentenceTruncation{counter: counter}
}

// Name 返回策略名称。
func (s *SentenceTruncation) Name() string { return "sentence_truncation" }

// Compress 保留能放入预算的前若干个完整句子。
// 没有任何句子被截掉时不给出结果。
func (s *SentenceTruncation) Compress(content string, maxTokens int) (string, bool) {
	sentences := splitSentences(content)

	kept := 0
	for i := range sentences {
		candidate := strings.Join(sentences[:i+1], sentenceSeparator) + truncatedMarker
		if s.counter.Count(candidate) > maxTokens {
			break
		}
		kept = i + 1
	}

	if kept == 0 || kept == len(sentences) {
		return "", false
	}

	return strings.Join(sentences[:kept], sentenceSeparator) + truncatedMarker, true
}

// SummaryExtraction 抽取首句、中间句和末句。
type SummaryExtraction struct {
	counter TokenCounter
}

// NewSummaryExtraction 创建摘要句抽取策略。
func NewSummaryExtraction(counter TokenCounter) *SummaryExtraction {
	return &SummaryExtraction{counter: counter}
}

// Name 返回策略名称。
func (s *SummaryExtraction) Name() string { return "summary_extraction" }

// Compress 仅在句子数大于 3 时生效。
func (s *SummaryExtraction) Compress(content string, maxTokens int) (string, bool) {
	sentences := splitSentences(content)
	if len(sentences) <= summaryMinSentences {
		return "", false
	}

	picked := []string{
		sentences[0],
		sentences[len(sentences)/2],
		sentences[len(sentences)-1],
	}
	summary := strings.Join(picked, sentenceSeparator) + summarizedMarker

	if s.counter.Count(summary) > maxTokens {
		return "", false
	}
	return summary, true
}

// KeyPointExtraction 取每个段落的首句并以项目符号列出。
type KeyPointExtraction struct {
	counter TokenCounter
}

// NewKeyPointExtraction 创建要点抽取策略。
func NewKeyPointExtraction(counter TokenCounter) *KeyPointExtraction {
	return &KeyPointExtraction{counter: counter}
}

// Name 返回策略名称。
func (s *KeyPointExtraction) Name() string { return "key_points" }

// Compress 每个段落恰好贡献一个首句。
func (s *KeyPointExtraction) Compress(content string, maxTokens int) (string, bool) {
	paragraphs := splitParagraphs(content)
	if len(paragraphs) == 0 {
		return "", false
	}

	points := make([]string, 0, len(paragraphs))
	for _, p := range paragraphs {
		points = append(points, keyPointBullet+splitSentences(p)[0])
	}
	result := strings.Join(points, "\n") + keyPointsMarker

	if s.counter.Count(result) > maxTokens {
		return "", false
	}
	return result, true
}

// CompressionChain 按顺序尝试各策略，第一个成功的结果胜出。
type CompressionChain struct {
	strategies []CompressionStrategy
}

// NewCompressionChain 使用给定策略创建压缩链。
func NewCompressionChain(strategies ...CompressionStrategy) *CompressionChain {
	return &CompressionChain{strategies: strategies}
}

// NewDefaultCompressionChain 创建默认三段式压缩链：
// 句子截断 → 摘要句抽取 → 要点抽取。
func NewDefaultCompressionChain(counter TokenCounter) *CompressionChain {
	return NewCompressionChain(
		NewSentenceTruncation(counter),
		NewSummaryExtraction(counter),
		NewKeyPointExtraction(counter),
	)
}

// Compress 返回第一个能放入 maxTokens 的压缩结果及其策略名称。
// 所有策略都失败时 ok 为 false，调用方应丢弃该候选项。
func (c *CompressionChain) Compress(content string, maxTokens int) (text string, strategy string, ok bool) {
	if maxTokens <= 0 {
		return "", "", false
	}
	for _, s := range c.strategies {
		if text, ok := s.Compress(content, maxTokens); ok {
			return text, s.Name(), true
		}
	}
	return "", "", false
}

// Strategies 返回压缩链中的策略。
func (c *CompressionChain) Strategies() []CompressionStrategy {
	return c.strategies
}

// splitSentences 按字面量 ". " 切分句子。
func splitSentences(content string) []string {
	return strings.Split(content, sentenceSeparator)
}

// splitParagraphs 按空行切分段落，忽略空段落。
func splitParagraphs(content string) []string {
	raw := paragraphBreak.Split(content, -1)
	paragraphs := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	return paragraphs
}

// 编译时接口检查
var _ CompressionStrategy = (*SentenceTruncation)(nil)
var _ CompressionStrategy = (*SummaryExtraction)(nil)
var _ CompressionStrategy = (*KeyPointExtraction)(nil)
