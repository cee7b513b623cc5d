// Package errors 定义上下文注入引擎的通用错误类型
package errors

import (
	"errors"
	"fmt"
)

// 存储相关错误
var (
	// ErrNotFound 上下文未找到（直接按 ID 获取时）
	ErrNotFound = errors.New("context not found")
	// ErrDuplicateKey 创建时 ID 冲突
	ErrDuplicateKey = errors.New("duplicate context id")
	// ErrStoreUnavailable 底层存储 I/O 失败
	//
	// 引擎内部从不重试，始终向调用方返回。
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrInvalidInput 输入无效（例如空 ID 的关系）
	ErrInvalidInput = errors.New("invalid input")
)

// 配置相关错误
var (
	// ErrInvalidConfig 配置无效
	//
	// 仅作提示：打包器遇到无效配置时优雅降级而不是报错。
	ErrInvalidConfig = errors.New("invalid configuration")
)

// WrapError 包装错误并添加上下文信息
func WrapError(err error, context string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, err)
}

// Unavailable 将底层 I/O 错误包装为 ErrStoreUnavailable
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
}

// IsNotFound 判断错误是否为未找到
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRetryable 判断错误是否可由调用方重试
//
// 只有存储不可用属于可重试错误；引擎本身不做重试。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrStoreUnavailable)
}

// IsFatal 判断错误是否为致命错误（不可恢复）
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrDuplicateKey)
}
