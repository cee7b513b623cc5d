// Package context 为 LLM 提示词提供上下文注入能力。
//
// 本包从上下文存储中挑选与查询最相关的背景信息，
// 在固定的 Token 预算内格式化为单段文本。主要功能包括：
//
//   - 基于存储分数、类型权重、新近性和关系强度的评分
//   - 显式要求的上下文优先的稳定排序
//   - 单遍贪心的预算打包，从不部分纳入
//   - 三段式有损压缩链（句子截断、摘要句、要点）
//   - Token 使用分析
//
// # 基本用法
//
// 使用内存存储创建注入器：
//
//	st := store.NewMemoryStore()
//	injector := context.NewInjector(st)
//	result, err := injector.SelectAndFormat(ctx, "deploy pipeline", nil)
//
// # 高级用法
//
// 使用自定义设置：
//
//	config := context.NewInjectionConfig(
//	    context.WithMaxContextTokens(1024),
//	    context.WithPriorityThreshold(0.5),
//	)
//
//	injector := context.NewInjector(st,
//	    context.WithTokenCounter(context.NewEstimatedCounter()),
//	    context.WithRenderer(context.NewMinimalRenderer()),
//	    context.WithCandidateLimit(50),
//	)
//
//	result, err := injector.SelectAndFormat(ctx, query, config, "ctx-roadmap")
//
// # 输出结构
//
// 每个纳入的上下文渲染为“标签行 + 正文”，片段之间以空行分隔：
//
//	[Strategic Context] 2025 路线图
//	<正文>
//
//	[Current Task] 修复登录
//	<正文>
//
// 当某一项超出剩余预算时，只有分数大于 0.8 且足够长的项会尝试压缩，
// 其余项直接跳过。
package context
