package context

import (
	"strings"
)

// Renderer 定义将单个上下文渲染为文本的接口。
type Renderer interface {
	// Render 返回“单行标签 + 正文”形式的文本。
	Render(c *Context, content string) string

	// Label 返回上下文的单行标签。
	Label(c *Context) string
}

// typeLabels 是各类型的标签文本。
var typeLabels = map[ContextType]string{
	ContextTypeStrategic:    "Strategic Context",
	ContextTypeProject:      "Project Context",
	ContextTypeConversation: "Conversation History",
	ContextTypeTask:         "Current Task",
}

// genericLabel 用于未知类型。
const genericLabel = "Context"

// DefaultRenderer 按类型渲染：
//
//	[Current Task] 标题
//	正文
type DefaultRenderer struct{}

// NewDefaultRenderer 创建新的 DefaultRenderer。
func NewDefaultRenderer() *DefaultRenderer {
	return &DefaultRenderer{}
}

// Label 返回单行标签。
func (r *DefaultRenderer) Label(c *Context) string {
	label, ok := typeLabels[c.Type]
	if !ok {
		label = genericLabel
	}

	title := strings.TrimSpace(strings.ReplaceAll(c.Title, "\n", " "))
	if title == "" {
		return "[" + label + "]"
	}
	return "[" + label + "] " + title
}

// Render 将标签和正文渲染为一段文本。
func (r *DefaultRenderer) Render(c *Context, content string) string {
	return r.Label(c) + "\n" + content
}

// MinimalRenderer 只输出正文，不带标签。
type MinimalRenderer struct{}

// NewMinimalRenderer 创建新的 MinimalRenderer。
func NewMinimalRenderer() *MinimalRenderer {
	return &MinimalRenderer{}
}

// Label 返回空标签。
func (r *MinimalRenderer) Label(_ *Context) string { return "" }

// Render 原样返回正文。
func (r *MinimalRenderer) Render(_ *Context, content string) string { return content }

// 编译时接口检查
var _ Renderer = (*DefaultRenderer)(nil)
var _ Renderer = (*MinimalRenderer)(nil)
