package context

import "strings"

// wordCounter 按空白分词计数，使预算在测试中可精确推算
type wordCounter struct{}

func (wordCounter) Count(text string) int {
	return len(strings.Fields(text))
}

// separatorCounter 在分词计数之外把每个空行分隔符计为一个 Token
type separatorCounter struct{}

func (separatorCounter) Count(text string) int {
	return len(strings.Fields(text)) + strings.Count(text, "\n\n")
}

// fixedEncoder 返回预设的 Token ID 序列
type fixedEncoder struct {
	ids []int
}

func (e fixedEncoder) Count(text string) int { return len(e.ids) }
func (e fixedEncoder) Encode(text string) []int {
	return e.ids
}
