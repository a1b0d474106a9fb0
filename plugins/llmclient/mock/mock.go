package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"aiinsight/pkg/contract"
)

// Options: 离线调试配置（可选）。
type Options struct {
	Prefix string `json:"prefix"` // 输出前缀，默认 "MOCK"
	// APIKey: 仅用于限流分组（调试用），不参与任何网络请求。
	APIKey string `json:"api_key"`
	// ResponseMode: 响应模式（用于集成测试与无网络联调）。
	//  - "" / "fenced_json": 说明文字 + 一个 ```json 块，数组每项描述一条输入消息 {index,role,chars}；
	//  - "plain": 仅回显最后一个问题；
	//  - "canned": 原样返回 Answer。
	ResponseMode string `json:"response_mode,omitempty"`
	Answer       string `json:"answer,omitempty"`
}

type Client struct {
	prefix string
	mode   string
	answer string
}

func New(raw json.RawMessage) (contract.LLMClient, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("mock options: %w", err)
		}
	}
	if o.Prefix == "" {
		o.Prefix = "MOCK"
	}
	mode := strings.TrimSpace(o.ResponseMode)
	if mode == "" {
		mode = "fenced_json"
	}
	switch mode {
	case "fenced_json", "plain", "canned":
	default:
		return nil, fmt.Errorf("mock: %w: unknown response_mode %q", contract.ErrInvalidInput, mode)
	}
	return &Client{prefix: o.Prefix, mode: mode, answer: o.Answer}, nil
}

// Complete 根据模式构造确定性回答。
func (c *Client) Complete(ctx context.Context, req contract.CompletionRequest) (contract.Answer, error) {
	select {
	case <-ctx.Done():
		return contract.Answer{}, contract.Failed("mock", contract.KindTransport, 0, ctx.Err())
	default:
	}
	if len(req.Messages) == 0 {
		return contract.Answer{}, fmt.Errorf("mock: %w: empty messages", contract.ErrInvalidInput)
	}
	question := req.Messages[len(req.Messages)-1].Content
	switch c.mode {
	case "canned":
		return contract.Answer{Text: c.answer}, nil
	case "plain":
		return contract.Answer{Text: fmt.Sprintf("%s: %s", c.prefix, question)}, nil
	}

	type item struct {
		Index int    `json:"index"`
		Role  string `json:"role"`
		Chars int    `json:"chars"`
	}
	items := make([]item, 0, len(req.Messages))
	for i, m := range req.Messages {
		items = append(items, item{Index: i, Role: string(m.Role), Chars: utf8.RuneCountInString(m.Content)})
	}
	bts, _ := json.MarshalIndent(items, "", "  ")
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s answer (%s): %s\n\n", c.prefix, req.Model, question)
	sb.WriteString("```json\n")
	sb.Write(bts)
	sb.WriteString("\n```\n")
	return contract.Answer{Text: sb.String()}, nil
}

var _ contract.LLMClient = (*Client)(nil)
