package otel

import "go.opentelemetry.io/otel/attribute"

// 属性键
const (
	AttrInjectionQueryTerms = "injection.query_terms"
	AttrInjectionModel      = "injection.model"
	AttrInjectionCandidates = "injection.candidates"
	AttrInjectionIncluded   = "injection.included"
	AttrInjectionTokens     = "injection.total_tokens"
	AttrInjectionCompressed = "injection.compression_applied"

	AttrStoreBackend     = "store.backend"
	AttrStoreOperation   = "store.operation"
	AttrStoreContextID   = "store.context_id"
	AttrStoreResultCount = "store.result_count"

	AttrErrorRetryable = "error.retryable"
)

// InjectionRequestAttrs 返回选择开始时已知的属性
func InjectionRequestAttrs(queryTerms int, model string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.Int(AttrInjectionQueryTerms, queryTerms)}
	if model != "" {
		attrs = append(attrs, attribute.String(AttrInjectionModel, model))
	}
	return attrs
}

// InjectionResultAttrs 返回打包结果属性
func InjectionResultAttrs(rec InjectionRecord) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrInjectionCandidates, rec.Candidates),
		attribute.Int(AttrInjectionIncluded, rec.Included),
		attribute.Int(AttrInjectionTokens, rec.Tokens),
		attribute.Bool(AttrInjectionCompressed, rec.Compressed),
	}
}

// StoreAttrs 返回存储 span 与指标共用的属性
func StoreAttrs(backend, op string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrStoreBackend, backend),
		attribute.String(AttrStoreOperation, op),
	}
}

// StoreContextID 上下文 ID 属性
func StoreContextID(id string) attribute.KeyValue {
	return attribute.String(AttrStoreContextID, id)
}

// StoreResultCount 结果数量属性
func StoreResultCount(n int) attribute.KeyValue {
	return attribute.Int(AttrStoreResultCount, n)
}

// ErrorRetryable 错误是否可重试
func ErrorRetryable(retryable bool) attribute.KeyValue {
	return attribute.Bool(AttrErrorRetryable, retryable)
}
