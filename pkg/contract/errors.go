package contract

import (
	"errors"
	"fmt"
)

// 最小错误分类（用于上层策略判定）。
var (
	// ErrUnsupportedFormat: 上传文件名后缀不在受支持集合内；在任何解析前判定。
	ErrUnsupportedFormat = errors.New("unsupported format")
	// ErrNoContent: 会话尚未加载 Content Excerpt。
	ErrNoContent = errors.New("no content loaded")
	// ErrNoStructuredData: 最近一次回答没有可导出的结构化载荷（ExtractionDegraded 的外显）。
	ErrNoStructuredData = errors.New("no structured data")
	// ErrInvalidInput: 调用方输入违例（空问题、非法列选择等）。
	ErrInvalidInput = errors.New("invalid input")
	// ErrPathInvalid: 目标标识映射为无效/越界路径（例如绝对路径或 '..' 逃逸）。
	ErrPathInvalid = errors.New("path invalid")
	// ErrBudgetExceeded: 预算或配额不足（如单请求 token 上限）。
	ErrBudgetExceeded = errors.New("budget exceeded")
	// ErrRateLimited: 上游限流/配额耗尽。CompletionError{Kind: rate_limit} 与之匹配。
	ErrRateLimited = errors.New("rate limited")
	// ErrCompletionFailed: 所有 CompletionError 的统一哨兵。
	ErrCompletionFailed = errors.New("completion failed")
)

// ParseError: 容器不可读/已损坏（损坏的工作簿、文档压缩包等）。
// 调用方须向用户展示，且不得进入 Conversation Assembler。
type ParseError struct {
	Name   string
	Format Format
	Cause  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s (%s): %v", e.Name, e.Format, e.Cause)
}

func (e *ParseError) Unwrap() error { return e.Cause }
