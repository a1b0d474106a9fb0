package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"aiinsight/pkg/contract"
)

const provider = "gemini"

// Options: Google Generative Language API (Gemini) 最小必需。
type Options struct {
	BaseURL   string `json:"base_url"`    // https://generativelanguage.googleapis.com
	Model     string `json:"model"`       // 请求未指定模型时的兜底
	APIKeyEnv string `json:"api_key_env"` // 默认 GOOGLE_API_KEY
	APIKey    string `json:"api_key"`
	// 客户端超时（秒）。未设置或 <=0 时采用默认 60 秒。
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
	// 第三方兼容（最小）
	EndpointPath  string            `json:"endpoint_path"`    // 默认 /v1beta/models/{model}:generateContent；支持 {model} 占位
	APIKeyInQuery *bool             `json:"api_key_in_query"` // 默认 true；为 false 时使用 x-goog-api-key 头
	ExtraHeaders  map[string]string `json:"extra_headers"`
	ExtraQuery    map[string]string `json:"extra_query"`
}

func (o *Options) defaults() {
	if o.BaseURL == "" {
		o.BaseURL = "https://generativelanguage.googleapis.com"
	}
	if o.Model == "" {
		o.Model = "gemini-2.5-flash"
	}
	if o.APIKeyEnv == "" {
		o.APIKeyEnv = "GOOGLE_API_KEY"
	}
	if o.EndpointPath == "" {
		o.EndpointPath = "/v1beta/models/{model}:generateContent"
	}
	// 默认把 key 放在 query（与官方 API 对齐）
	if o.APIKeyInQuery == nil {
		t := true
		o.APIKeyInQuery = &t
	}
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = 60
	}
}

type Client struct {
	hc      *http.Client
	path    string // 完整路径模板（可含 {model} 占位）
	model   string
	apiKey  string
	inQuery bool
	extraH  map[string]string
	extraQ  map[string]string
	do      func(*http.Request) (*http.Response, error)
}

func New(raw json.RawMessage) (contract.LLMClient, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("gemini options: %w", err)
		}
	}
	opts.defaults()
	key := opts.APIKey
	if key == "" && opts.APIKeyEnv != "" {
		key = os.Getenv(opts.APIKeyEnv)
	}
	if key == "" {
		return nil, fmt.Errorf("gemini: %w: missing api key", contract.ErrInvalidInput)
	}
	path := opts.EndpointPath
	if !(strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://")) {
		path = strings.TrimRight(opts.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
	}
	hc := &http.Client{Timeout: time.Duration(opts.TimeoutSeconds) * time.Second}
	return &Client{
		hc: hc, path: path, model: opts.Model, apiKey: key, inQuery: *opts.APIKeyInQuery,
		extraH: opts.ExtraHeaders, extraQ: opts.ExtraQuery, do: hc.Do,
	}, nil
}

// 请求/响应（最小字段）。
type gmPart struct {
	Text string `json:"text"`
}
type gmContent struct {
	Role  string   `json:"role,omitempty"`
	Parts []gmPart `json:"parts"`
}
type gmGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}
type gmReq struct {
	SystemInstruction *gmContent         `json:"systemInstruction,omitempty"`
	Contents          []gmContent        `json:"contents"`
	GenerationConfig  gmGenerationConfig `json:"generationConfig"`
}
type gmResp struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// upstreamError 实现 net.Error，携带上游状态码与响应片段。
type upstreamError struct {
	status int
	msg    string
}

func (e upstreamError) Error() string           { return fmt.Sprintf("gemini upstream %d: %s", e.status, e.msg) }
func (e upstreamError) Timeout() bool           { return e.status == http.StatusRequestTimeout }
func (e upstreamError) Temporary() bool         { return e.status/100 == 5 }
func (e upstreamError) UpstreamStatus() int     { return e.status }
func (e upstreamError) UpstreamMessage() string { return e.msg }

// encode: system 消息合并进 systemInstruction，其余按角色映射为 contents。
func encode(req contract.CompletionRequest) ([]byte, error) {
	body := gmReq{GenerationConfig: gmGenerationConfig{Temperature: req.Temperature, MaxOutputTokens: req.MaxOutputTokens}}
	var sys []gmPart
	for _, m := range req.Messages {
		if m.Role == contract.RoleSystem {
			sys = append(sys, gmPart{Text: m.Content})
			continue
		}
		body.Contents = append(body.Contents, gmContent{Role: normalizeGeminiRole(m.Role), Parts: []gmPart{{Text: m.Content}}})
	}
	if len(sys) > 0 {
		body.SystemInstruction = &gmContent{Parts: sys}
	}
	return json.Marshal(&body)
}

// normalizeGeminiRole 将通用 Chat 角色映射为 Gemini 支持的集合：user|model。
func normalizeGeminiRole(r contract.Role) string {
	if r == contract.RoleAssistant {
		return "model"
	}
	return "user"
}

// Complete: 单次调用，同步返回；失败统一为 *contract.CompletionError。
func (c *Client) Complete(ctx context.Context, req contract.CompletionRequest) (contract.Answer, error) {
	if len(req.Messages) == 0 {
		return contract.Answer{}, fmt.Errorf("gemini: %w: empty messages", contract.ErrInvalidInput)
	}
	body, err := encode(req)
	if err != nil {
		return contract.Answer{}, fmt.Errorf("encode: %v: %w", err, contract.ErrInvalidInput)
	}
	model := req.Model
	if model == "" {
		model = c.model
	}
	u, err := url.Parse(strings.ReplaceAll(c.path, "{model}", url.PathEscape(model)))
	if err != nil {
		return contract.Answer{}, fmt.Errorf("invalid url: %v: %w", err, contract.ErrInvalidInput)
	}
	q := u.Query()
	if c.inQuery {
		q.Set("key", c.apiKey)
	}
	for k, v := range c.extraQ {
		if k != "" {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()

	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return contract.Answer{}, fmt.Errorf("new request: %v: %w", err, contract.ErrInvalidInput)
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Accept", "application/json")
	if !c.inQuery {
		hreq.Header.Set("x-goog-api-key", c.apiKey)
	}
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
		// url.Error 会带上含 key 的完整 URL，这里只保留底层原因
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return contract.Answer{}, contract.Failed(provider, contract.KindTransport, 0, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		ue := upstreamError{status: resp.StatusCode, msg: strings.TrimSpace(string(slurp))}
		ce := contract.Failed(provider, contract.KindForStatus(resp.StatusCode), resp.StatusCode, ue)
		ce.Message = snippet(ue.msg)
		return contract.Answer{}, ce
	}
	var gr gmResp
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return contract.Answer{}, contract.Failed(provider, contract.KindMalformed, resp.StatusCode, fmt.Errorf("decode: %w", err))
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return contract.Answer{}, contract.Failed(provider, contract.KindMalformed, resp.StatusCode, errors.New("empty candidates"))
	}
	var sb strings.Builder
	for _, p := range gr.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	if sb.Len() == 0 {
		return contract.Answer{}, contract.Failed(provider, contract.KindMalformed, resp.StatusCode, errors.New("empty text"))
	}
	return contract.Answer{Text: sb.String()}, nil
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
