package contract

import (
	"context"
	"errors"
	"fmt"
)

// Answer: Completion Gateway 返回的原始文本（万能容器）。
// 约束：原样返回，不做清洗/截断/归一化；可能包含 0 或多个 fenced JSON 块与自由文本。
type Answer struct {
	Text string
}

// CompletionRequest: 一次补全请求的最小集合。
type CompletionRequest struct {
	Model           string
	Messages        ChatPrompt
	Temperature     float64
	MaxOutputTokens int
}

// LLMClient: Completion Gateway。单次调用、同步返回、无内部状态与缓存；
// 不做任何自动重试（重试若需要由上层策略决定）。
// 失败统一返回 *CompletionError。
type LLMClient interface {
	Complete(ctx context.Context, req CompletionRequest) (Answer, error)
}

// CompletionKind: CompletionFailed 的机器可区分子类。
type CompletionKind string

const (
	KindTransport CompletionKind = "transport"
	KindAuth      CompletionKind = "auth"
	KindRateLimit CompletionKind = "rate_limit"
	KindMalformed CompletionKind = "malformed_response"
	// KindRejected: 上游以 4xx（非鉴权/限流）拒绝请求，例如模型名无效。
	KindRejected CompletionKind = "rejected"
)

// CompletionError: CompletionFailed{subkind, cause}。
// errors.Is(err, ErrCompletionFailed) 恒为真；Kind==rate_limit 时同时匹配 ErrRateLimited。
type CompletionError struct {
	Kind     CompletionKind
	Provider string
	// Status: 上游 HTTP 状态码（若有）。
	Status int
	// Message: 上游响应体片段（已截断，不含凭据）。
	Message string
	Cause   error
}

// Failed 构造 CompletionError。
func Failed(provider string, kind CompletionKind, status int, cause error) *CompletionError {
	return &CompletionError{Kind: kind, Provider: provider, Status: status, Cause: cause}
}

func (e *CompletionError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s completion failed (%s, http %d): %v", e.Provider, e.Kind, e.Status, e.Cause)
	}
	return fmt.Sprintf("%s completion failed (%s): %v", e.Provider, e.Kind, e.Cause)
}

func (e *CompletionError) Unwrap() error { return e.Cause }

func (e *CompletionError) Is(target error) bool {
	switch target {
	case ErrCompletionFailed:
		return true
	case ErrRateLimited:
		return e.Kind == KindRateLimit
	}
	return false
}

func (e *CompletionError) UpstreamStatus() int     { return e.Status }
func (e *CompletionError) UpstreamMessage() string { return e.Message }

var _ UpstreamError = (*CompletionError)(nil)

// CompletionKindOf 返回 err 链上的 CompletionKind；非 CompletionError 返回空串。
func CompletionKindOf(err error) CompletionKind {
	var ce *CompletionError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

// KindForStatus 将上游非 2xx 状态码映射为 CompletionKind：
// 401/403→auth；429→rate_limit；408/5xx→transport；其余 4xx→rejected。
func KindForStatus(status int) CompletionKind {
	switch {
	case status == 401 || status == 403:
		return KindAuth
	case status == 429:
		return KindRateLimit
	case status == 408 || status/100 == 5:
		return KindTransport
	default:
		return KindRejected
	}
}
