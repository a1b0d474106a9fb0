package contract

import "context"

// Message: 发往 Completion Gateway 的 role/content 对。
type Message struct {
	Role    Role
	Content string
}

// ChatPrompt: 有序 Message List。
type ChatPrompt []Message

// PromptBuilder: Conversation Assembler。
// 约束：
//   - 纯计算，不做 I/O；
//   - Build 的结果形如 [system][reference][history window...][user: question]；
//     reference 恰好出现一次，最后一条恒为 (user, question)；
//   - 不修改传入的 history；
//   - 空问题视为调用方违例（ErrInvalidInput）。
type PromptBuilder interface {
	Build(ctx context.Context, ex Excerpt, history []Turn, question string) (ChatPrompt, error)
	// BuildSummary: 针对当前摘录的一次性摘要提示（不携带历史）。
	BuildSummary(ctx context.Context, ex Excerpt) (ChatPrompt, error)
	// EstimateOverheadTokens: 估算“与内容无关的固定提示词开销”的近似 token 数。
	// 仅包含固定部分（system/reference 前导语），不得包含摘录、历史或问题。
	EstimateOverheadTokens(estimate TokenEstimator) int
}

// TokenEstimator: 文本→token 的近似估算函数。
// 典型实现：ceil(len(utf8_bytes)/BytesPerToken)。
type TokenEstimator func(s string) int
