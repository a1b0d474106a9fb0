package flaky

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"aiinsight/pkg/contract"
)

// Options 定义可选项。
type Options struct {
	Prefix string `json:"prefix"`
	// Script: 依次消费的结果序列；元素为 CompletionKind（rate_limit/transport/auth/
	// malformed_response/rejected）、"bad_json"（fence 内 JSON 损坏）或 "ok"。
	// 序列耗尽后恒为 ok。默认 ["rate_limit","malformed_response"]。
	Script []string `json:"script"`
	// LogPath: 调试用日志文件，记录每次调用结果（可选）。
	LogPath string `json:"log_path,omitempty"`
}

// Client 是带状态的 LLM 实现，按 Script 依次失败，之后成功。
type Client struct {
	prefix  string
	logPath string
	mu      sync.Mutex
	script  []string
	calls   int
}

// New 构造 Client。
func New(raw json.RawMessage) (contract.LLMClient, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("flaky options: %w", err)
		}
	}
	if o.Prefix == "" {
		o.Prefix = "FLAKY"
	}
	if o.Script == nil {
		o.Script = []string{string(contract.KindRateLimit), string(contract.KindMalformed)}
	}
	for _, s := range o.Script {
		switch s {
		case "ok", "bad_json", string(contract.KindTransport), string(contract.KindAuth),
			string(contract.KindRateLimit), string(contract.KindMalformed), string(contract.KindRejected):
		default:
			return nil, fmt.Errorf("flaky: %w: unknown script step %q", contract.ErrInvalidInput, s)
		}
	}
	return &Client{prefix: o.Prefix, logPath: o.LogPath, script: o.Script}, nil
}

func (c *Client) log(s string) {
	if c.logPath == "" {
		return
	}
	// 追加写入，忽略错误。
	_ = appendFile(c.logPath, s+"\n")
}

// appendFile 以追加方式写入。
func appendFile(path, s string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(s)
	return err
}

// Calls 返回已发生的调用次数。
func (c *Client) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Complete 实现 contract.LLMClient。
func (c *Client) Complete(ctx context.Context, req contract.CompletionRequest) (contract.Answer, error) {
	c.mu.Lock()
	step := "ok"
	if c.calls < len(c.script) {
		step = c.script[c.calls]
	}
	c.calls++
	n := c.calls
	c.mu.Unlock()

	c.log(step)
	question := ""
	if len(req.Messages) > 0 {
		question = req.Messages[len(req.Messages)-1].Content
	}
	switch step {
	case "ok":
		qj, _ := json.Marshal(question)
		return contract.Answer{Text: fmt.Sprintf("%s #%d: %s\n```json\n[{\"call\":%d,\"question\":%s}]\n```", c.prefix, n, question, n, qj)}, nil
	case "bad_json":
		return contract.Answer{Text: fmt.Sprintf("%s #%d\n```json\n[{\"call\":%d,}]\n```", c.prefix, n, n)}, nil
	}
	kind := contract.CompletionKind(step)
	status := 0
	switch kind {
	case contract.KindRateLimit:
		status = 429
	case contract.KindAuth:
		status = 401
	case contract.KindRejected:
		status = 400
	}
	return contract.Answer{}, contract.Failed("flaky", kind, status, errors.New("scripted failure"))
}

var _ contract.LLMClient = (*Client)(nil)
