package diag

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"aiinsight/pkg/contract"
)

// Code 是最小错误分类代码。
// 仅用于日志/指标汇总，与 HTTP 状态码、退出码解耦。
type Code string

const (
	CodeUnknown     Code = "unknown"
	CodeUnsupported Code = "unsupported"
	CodeParse       Code = "parse"
	CodeNetwork     Code = "network"
	CodeAuth        Code = "auth"
	CodeProtocol    Code = "protocol"
	CodeInvariant   Code = "invariant"
	CodeBudget      Code = "budget"
	CodeCancel      Code = "cancel"
	CodeIO          Code = "io"
)

// Classify 将错误归为最小分类。
// 说明：仅依赖哨兵错误与错误类型，不做字符串匹配。
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	// 取消/超时优先（CompletionError 会携带 ctx.Err()）
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCancel
	}
	if errors.Is(err, contract.ErrUnsupportedFormat) {
		return CodeUnsupported
	}
	var pe *contract.ParseError
	if errors.As(err, &pe) {
		return CodeParse
	}
	// 预算/配额
	if errors.Is(err, contract.ErrBudgetExceeded) || errors.Is(err, contract.ErrRateLimited) {
		return CodeBudget
	}
	var ce *contract.CompletionError
	if errors.As(err, &ce) {
		switch ce.Kind {
		case contract.KindAuth:
			return CodeAuth
		case contract.KindTransport:
			return CodeNetwork
		default:
			return CodeProtocol
		}
	}
	// 调用方违例
	if errors.Is(err, contract.ErrInvalidInput) ||
		errors.Is(err, contract.ErrNoContent) ||
		errors.Is(err, contract.ErrNoStructuredData) ||
		errors.Is(err, contract.ErrPathInvalid) {
		return CodeInvariant
	}
	// I/O
	var perr *os.PathError
	if errors.As(err, &perr) {
		return CodeIO
	}
	// 网络（连接/超时等）
	var nerr net.Error
	if errors.As(err, &nerr) {
		return CodeNetwork
	}
	return CodeUnknown
}

// NowUTC 返回 RFC3339 UTC 时间字符串（用于结构化日志字段 ts）。
func NowUTC() string { return time.Now().UTC().Format(time.RFC3339) }
