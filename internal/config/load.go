package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// DefaultModel: 未在任何层指定模型时使用。
const DefaultModel = "gpt-4o"

// EnvPrefix: 环境变量覆盖前缀。
const EnvPrefix = "AI_INSIGHT_"

func float64p(v float64) *float64 { return &v }

// Defaults 返回带有安全默认值的 Config 雏形。
// 注意：LLM 不设默认（必须由配置文件/ENV/CLI 提供）。
func Defaults() Config {
	return Config{
		MaxRows:  100,
		MaxChars: 3000,
		Completion: Completion{
			Temperature:            float64p(0.3),
			MaxOutputTokens:        700,
			SummaryMaxOutputTokens: 500,
		},
		Logging: Logging{Level: "info", Dir: "logs"},
		Components: Components{
			Reader:        "fs",
			Normalizer:    "office",
			PromptBuilder: "analyst",
			Extractor:     "fencedjson",
			Writer:        "fs",
			Exporters:     []string{"txt", "xlsx", "docx", "pdf", "json"},
		},
		Options: Options{Writer: json.RawMessage(`{"output_dir":"out"}`)},
		Server:  Server{Addr: "127.0.0.1:8080"},
	}
}

// LoadFile 按扩展名解析配置文件：.json / .toml / .yaml|.yml。
// TOML/YAML 先解码为通用树再经 JSON 严格解码，三种格式共享未知字段拒绝语义。
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", "":
		return LoadJSON("", data)
	case ".toml":
		var tree map[string]any
		if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&tree); err != nil {
			return Config{}, fmt.Errorf("config toml: %w", err)
		}
		return fromTree(tree)
	case ".yaml", ".yml":
		var tree map[string]any
		if err := yaml.Unmarshal(data, &tree); err != nil {
			return Config{}, fmt.Errorf("config yaml: %w", err)
		}
		return fromTree(tree)
	default:
		return Config{}, fmt.Errorf("config: unsupported file extension %q", filepath.Ext(path))
	}
}

func fromTree(tree map[string]any) (Config, error) {
	if tree == nil {
		return Config{}, nil
	}
	raw, err := json.Marshal(tree)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return LoadJSON("", raw)
}

// LoadJSON 从文件路径或原始 JSON 解析 Config（严格拒绝未知字段）。
func LoadJSON(path string, raw []byte) (Config, error) {
	var cfg Config
	var r io.Reader
	switch {
	case len(raw) > 0:
		r = bytes.NewReader(raw)
	case path != "":
		f, err := os.Open(path)
		if err != nil {
			return cfg, err
		}
		defer f.Close()
		r = f
	default:
		return cfg, errors.New("no config source provided")
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Merge 按优先级合并（后者覆盖前者）。
// 仅标量/字符串/原样 JSON 为“替换”；不做深度合并。零值视为未设置。
func Merge(base, over Config) Config {
	out := base
	if over.MaxRows != 0 {
		out.MaxRows = over.MaxRows
	}
	if over.MaxChars != 0 {
		out.MaxChars = over.MaxChars
	}

	// Completion
	if s := strings.TrimSpace(over.Completion.Model); s != "" {
		out.Completion.Model = s
	}
	if over.Completion.Temperature != nil {
		out.Completion.Temperature = float64p(*over.Completion.Temperature)
	}
	if over.Completion.MaxOutputTokens != 0 {
		out.Completion.MaxOutputTokens = over.Completion.MaxOutputTokens
	}
	if over.Completion.SummaryMaxOutputTokens != 0 {
		out.Completion.SummaryMaxOutputTokens = over.Completion.SummaryMaxOutputTokens
	}
	if over.Completion.BytesPerToken != 0 {
		out.Completion.BytesPerToken = over.Completion.BytesPerToken
	}

	// Logging
	if s := strings.TrimSpace(over.Logging.Level); s != "" {
		out.Logging.Level = s
	}
	if s := strings.TrimSpace(over.Logging.Dir); s != "" {
		out.Logging.Dir = s
	}

	// 组件名（空不覆盖）
	if over.Components.Reader != "" {
		out.Components.Reader = over.Components.Reader
	}
	if over.Components.Normalizer != "" {
		out.Components.Normalizer = over.Components.Normalizer
	}
	if over.Components.PromptBuilder != "" {
		out.Components.PromptBuilder = over.Components.PromptBuilder
	}
	if over.Components.Extractor != "" {
		out.Components.Extractor = over.Components.Extractor
	}
	if over.Components.Writer != "" {
		out.Components.Writer = over.Components.Writer
	}
	if len(over.Components.Exporters) > 0 {
		out.Components.Exporters = cloneStrings(over.Components.Exporters)
	}

	// Provider（完整替换对应键）
	if len(over.Provider) > 0 {
		merged := make(map[string]Provider, len(out.Provider)+len(over.Provider))
		for k, v := range out.Provider {
			merged[k] = v
		}
		for k, v := range over.Provider {
			merged[k] = v
		}
		out.Provider = merged
	}

	// Options（完整替换对应键）
	if len(over.Options.Reader) > 0 {
		out.Options.Reader = cloneRaw(over.Options.Reader)
	}
	if len(over.Options.Normalizer) > 0 {
		out.Options.Normalizer = cloneRaw(over.Options.Normalizer)
	}
	if len(over.Options.PromptBuilder) > 0 {
		out.Options.PromptBuilder = cloneRaw(over.Options.PromptBuilder)
	}
	if len(over.Options.Extractor) > 0 {
		out.Options.Extractor = cloneRaw(over.Options.Extractor)
	}
	if len(over.Options.Writer) > 0 {
		out.Options.Writer = cloneRaw(over.Options.Writer)
	}
	if len(over.Options.Exporters) > 0 {
		merged := make(map[string]json.RawMessage, len(out.Options.Exporters)+len(over.Options.Exporters))
		for k, v := range out.Options.Exporters {
			merged[k] = v
		}
		for k, v := range over.Options.Exporters {
			merged[k] = cloneRaw(v)
		}
		out.Options.Exporters = merged
	}

	if s := strings.TrimSpace(over.LLM); s != "" {
		out.LLM = s
	}

	// Server
	if s := strings.TrimSpace(over.Server.Addr); s != "" {
		out.Server.Addr = s
	}
	if over.Server.MaxUploadBytes != 0 {
		out.Server.MaxUploadBytes = over.Server.MaxUploadBytes
	}
	if over.Server.SessionIdleMinutes != 0 {
		out.Server.SessionIdleMinutes = over.Server.SessionIdleMinutes
	}
	return out
}

// EnvOverlay 从环境变量构建一个 Config 覆盖（仅解析有限键集合）。
// 规则：前缀 AI_INSIGHT_；集合之外的键忽略；数值解析失败返回错误。
// 支持：MAX_ROWS, MAX_CHARS, LLM, MODEL, TEMPERATURE, MAX_OUTPUT_TOKENS,
// SUMMARY_MAX_OUTPUT_TOKENS, BYTES_PER_TOKEN, LOG_LEVEL, LOG_DIR, SERVER_ADDR, COMPONENTS_*，
// 以及 PROVIDER__<name>__CLIENT / PROVIDER__<name>__LIMITS_{RPM,TPM,MAX_TOKENS_PER_REQ} / PROVIDER__<name>__OPTIONS_JSON
func EnvOverlay(environ []string) (Config, error) {
	var over Config
	prov := map[string]Provider{}
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len(EnvPrefix) {
			continue
		}
		key := kv[:eq]
		val := strings.TrimSpace(kv[eq+1:])
		if val == "" {
			// 空值视为未设置，避免清空下层配置
			continue
		}
		nk := strings.TrimPrefix(key, EnvPrefix)
		var err error
		switch nk {
		case "MAX_ROWS":
			over.MaxRows, err = atoi(val)
		case "MAX_CHARS":
			over.MaxChars, err = atoi(val)
		case "LLM":
			over.LLM = val
		case "MODEL":
			over.Completion.Model = val
		case "TEMPERATURE":
			var f float64
			if f, err = strconv.ParseFloat(val, 64); err == nil {
				over.Completion.Temperature = float64p(f)
			}
		case "MAX_OUTPUT_TOKENS":
			over.Completion.MaxOutputTokens, err = atoi(val)
		case "SUMMARY_MAX_OUTPUT_TOKENS":
			over.Completion.SummaryMaxOutputTokens, err = atoi(val)
		case "BYTES_PER_TOKEN":
			over.Completion.BytesPerToken, err = atoi(val)
		case "LOG_LEVEL":
			over.Logging.Level = val
		case "LOG_DIR":
			over.Logging.Dir = val
		case "SERVER_ADDR":
			over.Server.Addr = val
		case "COMPONENTS_READER":
			over.Components.Reader = val
		case "COMPONENTS_NORMALIZER":
			over.Components.Normalizer = val
		case "COMPONENTS_PROMPT_BUILDER":
			over.Components.PromptBuilder = val
		case "COMPONENTS_EXTRACTOR":
			over.Components.Extractor = val
		case "COMPONENTS_WRITER":
			over.Components.Writer = val
		case "COMPONENTS_EXPORTERS":
			over.Components.Exporters = splitComma(val)
		default:
			// provider.* 路径：PROVIDER__name__FOO
			if !strings.HasPrefix(nk, "PROVIDER__") {
				continue
			}
			parts := strings.Split(nk, "__")
			if len(parts) < 3 {
				continue
			}
			name := strings.TrimSpace(parts[1])
			field := strings.Join(parts[2:], "__")
			p := prov[name]
			switch field {
			case "CLIENT":
				p.Client = val
			case "LIMITS_RPM":
				p.Limits.RPM, err = atoi(val)
			case "LIMITS_TPM":
				p.Limits.TPM, err = atoi(val)
			case "LIMITS_MAX_TOKENS_PER_REQ":
				p.Limits.MaxTokensPerReq, err = atoi(val)
			case "OPTIONS_JSON":
				if !json.Valid([]byte(val)) {
					err = errors.New("invalid json")
				}
				p.Options = json.RawMessage(val)
			default:
				continue
			}
			prov[name] = p
		}
		if err != nil {
			return Config{}, fmt.Errorf("env %s: %w", key, err)
		}
	}
	if len(prov) > 0 {
		over.Provider = prov
	}
	return over, nil
}

// Redacted 返回用于打印的副本：provider options 中的 api_key 被遮蔽。
func Redacted(c Config) Config {
	out := c
	if len(c.Provider) == 0 {
		return out
	}
	out.Provider = make(map[string]Provider, len(c.Provider))
	for name, p := range c.Provider {
		var m map[string]any
		if len(p.Options) > 0 && json.Unmarshal(p.Options, &m) == nil {
			if v, ok := m["api_key"].(string); ok && v != "" {
				m["api_key"] = "***"
				if b, err := json.Marshal(m); err == nil {
					p.Options = b
				}
			}
		}
		out.Provider[name] = p
	}
	return out
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func atoi(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}
