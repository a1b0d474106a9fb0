package config

import (
	"encoding/json"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// 键使用 snake_case；JSON/TOML/YAML 三种格式共用同一组键，未知字段在解析期失败。
type Config struct {
	// 摘录上界：表格行数 / 文本字符数（rune）。
	MaxRows  int `json:"max_rows"`
	MaxChars int `json:"max_chars"`

	Completion Completion `json:"completion"`
	Logging    Logging    `json:"logging"`

	// 组件名选择（空则使用默认名）。
	Components Components `json:"components"`

	// LLM Provider 选择与定义。
	LLM      string              `json:"llm"`
	Provider map[string]Provider `json:"provider"`

	// 各组件 Options 子树，原样 JSON 传入工厂。
	Options Options `json:"options"`

	Server Server `json:"server"`
}

// Completion: 补全参数。Model 为空时依次取 provider options 的 model、DefaultModel。
type Completion struct {
	Model string `json:"model"`
	// Temperature 为指针以区分“未设置”与显式 0。
	Temperature            *float64 `json:"temperature"`
	MaxOutputTokens        int      `json:"max_output_tokens"`
	SummaryMaxOutputTokens int      `json:"summary_max_output_tokens"`
	// BytesPerToken: token 估算系数；<=0 取 4。
	BytesPerToken int `json:"bytes_per_token"`
}

// Logging: 日志级别与目录；轮转策略固定（10 MiB）。
type Logging struct {
	Level string `json:"level"`
	Dir   string `json:"dir"`
}

// Components: 组件名选择（注册表中的实现名）。
type Components struct {
	Reader        string   `json:"reader"`
	Normalizer    string   `json:"normalizer"`
	PromptBuilder string   `json:"prompt_builder"`
	Extractor     string   `json:"extractor"`
	Writer        string   `json:"writer"`
	Exporters     []string `json:"exporters"`
}

// Options: 各组件的原样 JSON Options；Exporters 以格式名为键。
type Options struct {
	Reader        json.RawMessage            `json:"reader"`
	Normalizer    json.RawMessage            `json:"normalizer"`
	PromptBuilder json.RawMessage            `json:"prompt_builder"`
	Extractor     json.RawMessage            `json:"extractor"`
	Writer        json.RawMessage            `json:"writer"`
	Exporters     map[string]json.RawMessage `json:"exporters"`
}

// Provider: 命名 provider 定义（client 实现 + options + 限额）。
type Provider struct {
	Client  string          `json:"client"`
	Options json.RawMessage `json:"options"`
	Limits  Limits          `json:"limits"`
}

// Limits: 限流配置（仅承载；执行位于 rate.Gate）。
type Limits struct {
	RPM             int `json:"rpm"`
	TPM             int `json:"tpm"`
	MaxTokensPerReq int `json:"max_tokens_per_req"`
}

// Server: HTTP 承载层。
type Server struct {
	Addr string `json:"addr"`
	// MaxUploadBytes: 单次上传上限；<=0 取 32 MiB。
	MaxUploadBytes int64 `json:"max_upload_bytes"`
	// SessionIdleMinutes: 会话闲置回收阈值；<=0 不回收。
	SessionIdleMinutes int `json:"session_idle_minutes"`
}
