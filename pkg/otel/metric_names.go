package otel

// 指标名称
const (
	MetricInjectionRequests     = "injection.requests"     // 计数器: SelectAndFormat 调用次数
	MetricInjectionErrors       = "injection.errors"       // 计数器: 存储不可用导致的失败次数
	MetricInjectionDuration     = "injection.duration"     // 直方图: 单次选择耗时(ms)
	MetricInjectionCandidates   = "injection.candidates"   // 直方图: 每次请求的候选项数量
	MetricInjectionIncluded     = "injection.included"     // 直方图: 每次请求纳入的上下文数量
	MetricInjectionTokens       = "injection.tokens"       // 直方图: 格式化文本的 Token 总数
	MetricInjectionSkipped      = "injection.skipped"      // 计数器: 被跳过的候选项数量
	MetricInjectionCompressions = "injection.compressions" // 计数器: 发生压缩的请求次数

	MetricStoreOperations        = "store.operations"         // 计数器: 存储操作次数
	MetricStoreOperationDuration = "store.operation.duration" // 直方图: 存储操作耗时(ms)
	MetricStoreErrors            = "store.errors"             // 计数器: 存储错误次数（不含未找到）
	MetricStorePruned            = "store.pruned"             // 计数器: 被剪枝的上下文数量
	MetricStoreActive            = "store.active"             // 仪表: 活跃上下文数量
)

// Span 名称
const (
	SpanSelectAndFormat = "injection.select_and_format"
	SpanStorePrefix     = "store."
)

const (
	unitMilliseconds = "ms"
	unitCount        = "{count}"
	unitToken        = "{token}"
)
