package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"aiinsight/pkg/contract"
)

const provider = "openai"

// Options: 最小必需配置。
type Options struct {
	BaseURL        string `json:"base_url"`        // 例如 https://api.openai.com/v1
	Model          string `json:"model"`           // 请求未指定模型时的兜底
	APIKeyEnv      string `json:"api_key_env"`     // 优先从环境变量读取
	APIKey         string `json:"api_key"`         // 明文传入（不推荐，按需用于测试）
	Project        string `json:"project"`         // OpenAI-Project 头（可选）
	ProjectEnv     string `json:"project_env"`     // 项目 ID 环境变量，默认 OPENAI_PROJECT_ID
	TimeoutSeconds int    `json:"timeout_seconds"` // 可选 client 级超时（秒）
	// 第三方兼容（最小）：
	EndpointPath       string            `json:"endpoint_path"`        // 覆盖默认 /chat/completions；可为完整 URL（以 http 开头）
	DisableDefaultAuth bool              `json:"disable_default_auth"` // 关闭默认 Authorization: Bearer 注入
	ExtraHeaders       map[string]string `json:"extra_headers"`        // 追加/覆盖请求头（Azure/OpenRouter 等兼容服务）
}

func (o *Options) defaults() {
	if o.BaseURL == "" {
		o.BaseURL = "https://api.openai.com/v1"
	}
	if o.Model == "" {
		o.Model = "gpt-4o"
	}
	if o.APIKeyEnv == "" {
		o.APIKeyEnv = "OPENAI_API_KEY"
	}
	if o.ProjectEnv == "" {
		o.ProjectEnv = "OPENAI_PROJECT_ID"
	}
	if o.EndpointPath == "" {
		o.EndpointPath = "/chat/completions"
	}
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = 60
	}
}

type Client struct {
	hc          *http.Client
	url         string
	apiKey      string
	project     string
	model       string
	extraH      map[string]string
	disableAuth bool
	do          func(*http.Request) (*http.Response, error)
}

// New 从原样 JSON 选项构造客户端。
func New(raw json.RawMessage) (contract.LLMClient, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("openai options: %w", err)
		}
	}
	opts.defaults()
	key := opts.APIKey
	if key == "" && opts.APIKeyEnv != "" {
		key = os.Getenv(opts.APIKeyEnv)
	}
	if key == "" && !opts.DisableDefaultAuth {
		return nil, fmt.Errorf("openai: %w: missing api key", contract.ErrInvalidInput)
	}
	project := opts.Project
	if project == "" {
		project = os.Getenv(opts.ProjectEnv)
	}
	hc := &http.Client{Timeout: time.Duration(opts.TimeoutSeconds) * time.Second}
	// 允许 endpoint_path 为完整 URL
	fullURL := opts.EndpointPath
	if !(strings.HasPrefix(fullURL, "http://") || strings.HasPrefix(fullURL, "https://")) {
		fullURL = strings.TrimRight(opts.BaseURL, "/") + "/" + strings.TrimLeft(opts.EndpointPath, "/")
	}
	return &Client{
		hc:          hc,
		url:         fullURL,
		apiKey:      key,
		project:     project,
		model:       opts.Model,
		extraH:      opts.ExtraHeaders,
		disableAuth: opts.DisableDefaultAuth,
		do:          hc.Do,
	}, nil
}

type oaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
type oaReq struct {
	Model       string      `json:"model"`
	Messages    []oaMessage `json:"messages"`
	Temperature float64     `json:"temperature"`
	MaxTokens   int         `json:"max_tokens,omitempty"`
}
type oaResp struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// upstreamError 实现 net.Error，携带上游状态码与响应片段。
type upstreamError struct {
	status int
	msg    string
}

func (e upstreamError) Error() string           { return fmt.Sprintf("openai upstream %d: %s", e.status, e.msg) }
func (e upstreamError) Timeout() bool           { return e.status == http.StatusRequestTimeout }
func (e upstreamError) Temporary() bool         { return e.status/100 == 5 }
func (e upstreamError) UpstreamStatus() int     { return e.status }
func (e upstreamError) UpstreamMessage() string { return e.msg }

func (c *Client) encode(req contract.CompletionRequest) ([]byte, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	body := oaReq{Model: model, Temperature: req.Temperature, MaxTokens: req.MaxOutputTokens}
	body.Messages = make([]oaMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, oaMessage{Role: string(m.Role), Content: m.Content})
	}
	return json.Marshal(&body)
}

// Complete: 单次调用，同步返回；失败统一为 *contract.CompletionError。
func (c *Client) Complete(ctx context.Context, req contract.CompletionRequest) (contract.Answer, error) {
	if len(req.Messages) == 0 {
		return contract.Answer{}, fmt.Errorf("openai: %w: empty messages", contract.ErrInvalidInput)
	}
	body, err := c.encode(req)
	if err != nil {
		return contract.Answer{}, fmt.Errorf("encode: %v: %w", err, contract.ErrInvalidInput)
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return contract.Answer{}, fmt.Errorf("new request: %v: %w", err, contract.ErrInvalidInput)
	}
	if !c.disableAuth {
		hreq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.project != "" {
		hreq.Header.Set("OpenAI-Project", c.project)
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Accept", "application/json")
	for k, v := range c.extraH {
		if k != "" {
			hreq.Header.Set(k, v)
		}
	}

	resp, err := c.do(hreq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			err = ctxErr
		}
		return contract.Answer{}, contract.Failed(provider, contract.KindTransport, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		// 读取少量响应体辅助定位
		slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		ue := upstreamError{status: resp.StatusCode, msg: strings.TrimSpace(string(slurp))}
		ce := contract.Failed(provider, contract.KindForStatus(resp.StatusCode), resp.StatusCode, ue)
		ce.Message = snippet(ue.msg)
		return contract.Answer{}, ce
	}
	var or oaResp
	if err := json.NewDecoder(resp.Body).Decode(&or); err != nil {
		return contract.Answer{}, contract.Failed(provider, contract.KindMalformed, resp.StatusCode, fmt.Errorf("decode: %w", err))
	}
	if len(or.Choices) == 0 || or.Choices[0].Message.Content == "" {
		return contract.Answer{}, contract.Failed(provider, contract.KindMalformed, resp.StatusCode, errors.New("empty choices"))
	}
	return contract.Answer{Text: or.Choices[0].Message.Content}, nil
}

// snippet 截取前 200 字节用于日志。
func snippet(s string) string {
	const max = 200
	if len(s) <= max {
		return s
	}
	return strings.ToValidUTF8(s[:max], "")
}

var _ contract.LLMClient = (*Client)(nil)
