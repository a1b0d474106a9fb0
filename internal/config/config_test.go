package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"aiinsight/pkg/contract"
)

func checkBasic(t *testing.T, cfg Config) {
	t.Helper()
	if cfg.LLM != "gemini" || cfg.MaxRows != 50 {
		t.Fatalf("字段映射错误: %+v", cfg)
	}
	if cfg.Completion.Model != "gemini-1.5-pro" {
		t.Fatalf("model 期望 gemini-1.5-pro 实得 %q", cfg.Completion.Model)
	}
	if cfg.Completion.Temperature == nil || *cfg.Completion.Temperature != 0 {
		t.Fatalf("显式 temperature=0 应被保留: %v", cfg.Completion.Temperature)
	}
	if cfg.Components.Reader != "fs" || len(cfg.Components.Exporters) != 2 {
		t.Fatalf("components 错误: %+v", cfg.Components)
	}
	p, ok := cfg.Provider["gemini"]
	if !ok || p.Client != "gemini" || p.Limits.RPM != 10 || p.Limits.TPM != 20000 || p.Limits.MaxTokensPerReq != 8000 {
		t.Fatalf("provider 错误: %+v", p)
	}
	var po struct {
		APIKey string `json:"api_key"`
	}
	if err := json.Unmarshal(p.Options, &po); err != nil || po.APIKey != "test-key" {
		t.Fatalf("provider options 错误: %s", p.Options)
	}
	var pb struct {
		HistoryWindow int `json:"history_window"`
	}
	if err := json.Unmarshal(cfg.Options.PromptBuilder, &pb); err != nil || pb.HistoryWindow != 5 {
		t.Fatalf("prompt_builder options 错误: %s", cfg.Options.PromptBuilder)
	}
	if _, ok := cfg.Options.Exporters["xlsx"]; !ok {
		t.Fatalf("exporter options 缺失: %+v", cfg.Options.Exporters)
	}
}

// 三种格式解析出相同配置
func TestLoadFileFormats(t *testing.T) {
	for _, name := range []string{"basic.json", "basic.toml", "basic.yaml"} {
		t.Run(name, func(t *testing.T) {
			cfg, err := LoadFile(filepath.Join("testdata", name))
			if err != nil {
				t.Fatalf("加载失败: %v", err)
			}
			checkBasic(t, cfg)
			if err := Validate(Merge(Defaults(), cfg)); err != nil {
				t.Fatalf("校验失败: %v", err)
			}
		})
	}
}

// 未知字段在所有格式下都被拒绝
func TestLoadUnknownField(t *testing.T) {
	if _, err := LoadJSON("", []byte(`{"unknown":1}`)); err == nil {
		t.Fatalf("json 应当返回错误")
	}
	if _, err := LoadFile(filepath.Join("testdata", "unknown.yaml")); err == nil {
		t.Fatalf("yaml 应当返回错误")
	}
	dir := t.TempDir()
	p := filepath.Join(dir, "c.toml")
	if err := os.WriteFile(p, []byte("max_rows = 1\n[server]\nport = 80\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(p); err == nil {
		t.Fatalf("toml 应当返回错误")
	}
}

func TestLoadFileErrors(t *testing.T) {
	if _, err := LoadFile(filepath.Join("testdata", "missing.json")); err == nil {
		t.Fatalf("缺失文件应报错")
	}
	dir := t.TempDir()
	p := filepath.Join(dir, "c.ini")
	if err := os.WriteFile(p, []byte("x=1"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(p); err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Fatalf("未知扩展名应报错: %v", err)
	}
	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("max_rows: [\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(bad); err == nil {
		t.Fatalf("yaml 语法错误应报错")
	}
	if _, err := LoadJSON("", nil); err == nil {
		t.Fatalf("无来源应报错")
	}
}

func TestEnvOverlay(t *testing.T) {
	env := []string{
		"AI_INSIGHT_MAX_ROWS=30",
		"AI_INSIGHT_TEMPERATURE=0",
		"AI_INSIGHT_LLM=mock",
		"AI_INSIGHT_MODEL=m-1",
		"AI_INSIGHT_COMPONENTS_EXPORTERS=txt, json",
		"AI_INSIGHT_LOG_LEVEL=",
		"AI_INSIGHT_PROVIDER__mock__CLIENT=mock",
		"AI_INSIGHT_PROVIDER__mock__LIMITS_RPM=5",
		`AI_INSIGHT_PROVIDER__mock__OPTIONS_JSON={"response_mode":"plain"}`,
		"OTHER_MAX_ROWS=1",
	}
	over, err := EnvOverlay(env)
	if err != nil {
		t.Fatalf("EnvOverlay 错误: %v", err)
	}
	if over.MaxRows != 30 || over.LLM != "mock" || over.Completion.Model != "m-1" {
		t.Fatalf("覆盖结果不正确: %+v", over)
	}
	if over.Completion.Temperature == nil || *over.Completion.Temperature != 0 {
		t.Fatalf("temperature 覆盖错误")
	}
	if len(over.Components.Exporters) != 2 || over.Components.Exporters[1] != "json" {
		t.Fatalf("exporters 覆盖错误: %v", over.Components.Exporters)
	}
	if over.Logging.Level != "" {
		t.Fatalf("空值不应覆盖")
	}
	p := over.Provider["mock"]
	if p.Client != "mock" || p.Limits.RPM != 5 || string(p.Options) != `{"response_mode":"plain"}` {
		t.Fatalf("provider 覆盖错误: %+v", p)
	}
}

func TestEnvOverlayErrors(t *testing.T) {
	cases := []string{
		"AI_INSIGHT_MAX_ROWS=abc",
		"AI_INSIGHT_TEMPERATURE=hot",
		"AI_INSIGHT_PROVIDER__x__LIMITS_TPM=1.5",
		"AI_INSIGHT_PROVIDER__x__OPTIONS_JSON={bad",
	}
	for _, kv := range cases {
		if _, err := EnvOverlay([]string{kv}); err == nil || !strings.Contains(err.Error(), "env ") {
			t.Fatalf("%s 应报错: %v", kv, err)
		}
	}
}

func TestMerge(t *testing.T) {
	base := Defaults()
	base.Provider = map[string]Provider{"a": {Client: "mock"}}
	base.Options.Exporters = map[string]json.RawMessage{"txt": json.RawMessage(`{}`)}
	over := Config{
		MaxChars:   10,
		LLM:        "b",
		Completion: Completion{Temperature: float64p(1.2)},
		Provider:   map[string]Provider{"b": {Client: "openai"}},
		Options:    Options{Exporters: map[string]json.RawMessage{"json": json.RawMessage(`{"indent":""}`)}},
		Server:     Server{MaxUploadBytes: 1024},
	}
	out := Merge(base, over)
	if out.MaxChars != 10 || out.MaxRows != 100 {
		t.Fatalf("标量合并错误: %d %d", out.MaxRows, out.MaxChars)
	}
	if *out.Completion.Temperature != 1.2 || out.Completion.MaxOutputTokens != 700 {
		t.Fatalf("completion 合并错误: %+v", out.Completion)
	}
	if len(out.Provider) != 2 || out.LLM != "b" {
		t.Fatalf("provider 合并错误: %+v", out.Provider)
	}
	if len(out.Options.Exporters) != 2 {
		t.Fatalf("exporter options 合并错误: %+v", out.Options.Exporters)
	}
	if out.Server.Addr != "127.0.0.1:8080" || out.Server.MaxUploadBytes != 1024 {
		t.Fatalf("server 合并错误: %+v", out.Server)
	}
	// base 不被修改
	if base.MaxChars != 3000 || len(base.Provider) != 1 {
		t.Fatalf("Merge 不应修改 base")
	}
}

func TestValidateErrors(t *testing.T) {
	good := DefaultTemplateConfig()
	if err := Validate(good); err != nil {
		t.Fatalf("模板应通过校验: %v", err)
	}
	cases := map[string]func(c *Config){
		"max_rows":        func(c *Config) { c.MaxRows = 0 },
		"max_chars":       func(c *Config) { c.MaxChars = -1 },
		"max_output":      func(c *Config) { c.Completion.MaxOutputTokens = 0 },
		"summary":         func(c *Config) { c.Completion.SummaryMaxOutputTokens = -1 },
		"temperature":     func(c *Config) { c.Completion.Temperature = float64p(2.5) },
		"llm":             func(c *Config) { c.LLM = "" },
		"provider":        func(c *Config) { c.LLM = "nope" },
		"client":          func(c *Config) { c.Provider["x"] = Provider{}; c.LLM = "x" },
		"unregistered":    func(c *Config) { c.Provider["x"] = Provider{Client: "claude"}; c.LLM = "x" },
		"per_req":         func(c *Config) { c.Completion.MaxOutputTokens = 20000 },
		"reader":          func(c *Config) { c.Components.Reader = "s3" },
		"normalizer":      func(c *Config) { c.Components.Normalizer = "csv" },
		"prompt_builder":  func(c *Config) { c.Components.PromptBuilder = "x" },
		"extractor":       func(c *Config) { c.Components.Extractor = "x" },
		"writer":          func(c *Config) { c.Components.Writer = "x" },
		"exporter":        func(c *Config) { c.Components.Exporters = []string{"csv"} },
		"exporter_dup":    func(c *Config) { c.Components.Exporters = []string{"txt", "TXT"} },
		"options_disable": func(c *Config) { c.Components.Exporters = []string{"txt"} },
	}
	for name, mut := range cases {
		t.Run(name, func(t *testing.T) {
			c := DefaultTemplateConfig()
			mut(&c)
			if err := Validate(c); err == nil {
				t.Fatalf("应当校验失败")
			}
		})
	}
}

func TestAssembleTemplate(t *testing.T) {
	cfg := DefaultTemplateConfig()
	cfg.Options.Writer = json.RawMessage(`{"output_dir":` + strconvQuote(t.TempDir()) + `}`)
	comp, set, err := Assemble(cfg)
	if err != nil {
		t.Fatalf("Assemble 失败: %v", err)
	}
	if comp.Reader == nil || comp.Normalizer == nil || comp.PromptBuilder == nil || comp.LLM == nil || comp.Extractor == nil || comp.Writer == nil {
		t.Fatalf("组件缺失: %+v", comp)
	}
	if len(comp.Exporters) != 5 {
		t.Fatalf("exporter 数量错误: %d", len(comp.Exporters))
	}
	if set.Bounds != (contract.Bounds{MaxRows: 100, MaxChars: 3000}) {
		t.Fatalf("bounds 错误: %+v", set.Bounds)
	}
	if set.Gate == nil || set.GateKey == "" || set.MaxTokensPerReq != 16000 {
		t.Fatalf("gate 设置错误: %+v", set)
	}
	if set.Temperature != 0.3 || set.Model != DefaultModel {
		t.Fatalf("completion 设置错误: %+v", set)
	}
}

func TestAssembleBadOptions(t *testing.T) {
	cfg := DefaultTemplateConfig()
	cfg.Options.PromptBuilder = json.RawMessage(`{"history_window":-1}`)
	if _, _, err := Assemble(cfg); err == nil {
		t.Fatalf("非法 history_window 应报错")
	}
	cfg = DefaultTemplateConfig()
	cfg.Options.Reader = json.RawMessage(`{"nope":1}`)
	if _, _, err := Assemble(cfg); err == nil || !strings.Contains(err.Error(), "reader") {
		t.Fatalf("未知 reader 选项应报错: %v", err)
	}
}

func TestEffectiveModel(t *testing.T) {
	cfg := DefaultTemplateConfig()
	cfg.LLM = "openai"
	if m := EffectiveModel(cfg); m != "gpt-4o" {
		t.Fatalf("应取 provider 模型: %s", m)
	}
	cfg.LLM = "gemini"
	if m := EffectiveModel(cfg); m != "gemini-1.5-flash" {
		t.Fatalf("应取 provider 模型: %s", m)
	}
	cfg.Completion.Model = " custom "
	if m := EffectiveModel(cfg); m != "custom" {
		t.Fatalf("completion.model 优先: %s", m)
	}
	cfg.Completion.Model = ""
	cfg.LLM = "mock"
	if m := EffectiveModel(cfg); m != DefaultModel {
		t.Fatalf("兜底模型错误: %s", m)
	}
}

func TestRedacted(t *testing.T) {
	cfg := DefaultTemplateConfig()
	cfg.Provider["openai"] = Provider{Client: "openai", Options: json.RawMessage(`{"api_key":"sk-secret","model":"x"}`)}
	out := Redacted(cfg)
	if strings.Contains(string(out.Provider["openai"].Options), "sk-secret") {
		t.Fatalf("api_key 未遮蔽: %s", out.Provider["openai"].Options)
	}
	if !strings.Contains(string(cfg.Provider["openai"].Options), "sk-secret") {
		t.Fatalf("原配置不应被修改")
	}
	b, err := json.Marshal(out)
	if err != nil || strings.Contains(string(b), "sk-secret") {
		t.Fatalf("序列化结果包含密钥")
	}
}

func TestSplitCommaAtoi(t *testing.T) {
	parts := splitComma("a, b , ,c")
	if len(parts) != 3 || parts[1] != "b" {
		t.Fatalf("splitComma 结果错误: %v", parts)
	}
	if v, err := atoi(" 10 "); err != nil || v != 10 {
		t.Fatalf("atoi 失败: %v %d", err, v)
	}
}

func strconvQuote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
