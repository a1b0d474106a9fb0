package prompt

import (
	"fmt"

	"aiinsight/pkg/contract"
)

// perMessageTokens: 每条消息的角色/分隔开销近似值。
const perMessageTokens = 4

// MakeEstimator 返回一个近似 token 估算器：tokens ≈ ceil(len(utf8_bytes)/bytesPerToken)。
// 当 bytesPerToken<=0 时采用默认 4。
func MakeEstimator(bytesPerToken int) contract.TokenEstimator {
	bpt := bytesPerToken
	if bpt <= 0 {
		bpt = 4
	}
	return func(s string) int {
		n := len(s)
		if n == 0 {
			return 0
		}
		return (n + bpt - 1) / bpt
	}
}

// ChatTokens 估算整条消息列表的输入 token 数（内容 + 每条消息固定开销）。
func ChatTokens(est contract.TokenEstimator, p contract.ChatPrompt) int {
	if est == nil {
		return 0
	}
	n := 0
	for _, m := range p {
		n += est(m.Content) + perMessageTokens
	}
	return n
}

// EffectiveMaxTokens 计算预扣“固定提示开销”后的有效预算。
// 返回 (effectiveMax, overheadTokens)。若 maxTokens<=0，返回 (0,0)。
func EffectiveMaxTokens(pb contract.PromptBuilder, bytesPerToken int, maxTokens int) (int, int) {
	if maxTokens <= 0 {
		return 0, 0
	}
	overhead := pb.EstimateOverheadTokens(MakeEstimator(bytesPerToken))
	return maxTokens - overhead, overhead
}

// CheckHeadroom: 输入估算 + 最大输出 不得超过单请求上限（maxPerReq<=0 不检查）。
// 返回请求的总 token 预估值。
func CheckHeadroom(inputTokens, maxOutput, maxPerReq int) (int, error) {
	total := inputTokens + maxOutput
	if maxPerReq > 0 && total > maxPerReq {
		return total, fmt.Errorf("prompt: %w: %d input + %d output > %d per request",
			contract.ErrBudgetExceeded, inputTokens, maxOutput, maxPerReq)
	}
	return total, nil
}
