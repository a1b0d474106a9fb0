package config

import "encoding/json"

// DefaultTemplateConfig 返回一个“可运行”的默认配置模板：
// - 使用 mock LLM 与合理限额（本地/离线调试友好）；
// - 导出文件写到 ./out 目录；
// - 选项列出每个组件的全部键，值为安全中性默认值。
func DefaultTemplateConfig() Config {
	d := Defaults()
	cfg := Config{
		MaxRows:    d.MaxRows,
		MaxChars:   d.MaxChars,
		Completion: d.Completion,
		Logging:    d.Logging,
		Components: d.Components,
		LLM:        "mock",
		Provider: map[string]Provider{
			"mock": {
				Client:  "mock",
				Options: json.RawMessage(`{"prefix":"","api_key":"","response_mode":"fenced_json","answer":""}`),
				Limits:  Limits{RPM: 60, TPM: 100000, MaxTokensPerReq: 16000},
			},
			"flaky": {
				Client:  "flaky",
				Options: json.RawMessage(`{"prefix":"","script":["rate_limit","malformed_response"],"log_path":""}`),
				Limits:  Limits{RPM: 60, TPM: 100000, MaxTokensPerReq: 16000},
			},
			"openai": {
				Client: "openai",
				Options: json.RawMessage(`{
  "base_url": "",
  "model": "gpt-4o",
  "api_key_env": "OPENAI_API_KEY",
  "api_key": "",
  "project": "",
  "project_env": "OPENAI_PROJECT_ID",
  "timeout_seconds": 60,
  "endpoint_path": "",
  "disable_default_auth": false,
  "extra_headers": {}
}`),
				Limits: Limits{RPM: 0, TPM: 0, MaxTokensPerReq: 0},
			},
			"gemini": {
				Client: "gemini",
				Options: json.RawMessage(`{
  "base_url": "",
  "model": "gemini-1.5-flash",
  "api_key_env": "GOOGLE_API_KEY",
  "api_key": "",
  "timeout_seconds": 60,
  "endpoint_path": "",
  "api_key_in_query": true,
  "extra_headers": {},
  "extra_query": {}
}`),
				Limits: Limits{RPM: 0, TPM: 0, MaxTokensPerReq: 0},
			},
		},
		Server: d.Server,
	}
	cfg.Options.Reader = json.RawMessage(`{"buf_size": 65536}`)
	cfg.Options.Normalizer = json.RawMessage(`{"raw_values": false, "max_document_bytes": 0}`)
	cfg.Options.PromptBuilder = json.RawMessage(`{
  "inline_system_template": "",
  "system_template_path": "",
  "inline_summary_template": "",
  "summary_template_path": "",
  "history_window": 20
}`)
	cfg.Options.Extractor = json.RawMessage(`{}`)
	cfg.Options.Writer = json.RawMessage(`{
  "output_dir": "out",
  "atomic": true,
  "overwrite": false,
  "perm_file": 0,
  "perm_dir": 0,
  "buf_size": 65536
}`)
	cfg.Options.Exporters = map[string]json.RawMessage{
		"txt":  json.RawMessage(`{}`),
		"xlsx": json.RawMessage(`{"sheet_name": "Sheet1", "header_color": "D9E1F2", "padding": 2, "freeze_header": true}`),
		"docx": json.RawMessage(`{"title": "", "header_color": "D9E1F2"}`),
		"pdf":  json.RawMessage(`{"column_width_mm": 40, "row_height_mm": 7, "max_cell_chars": 60, "font_size": 8, "font_path": "", "portrait": false, "optimize": false}`),
		"json": json.RawMessage(`{"indent": "  "}`),
	}
	return cfg
}
