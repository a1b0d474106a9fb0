package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"aiinsight/internal/pipeline"
	"aiinsight/internal/rate"
	"aiinsight/pkg/contract"
	"aiinsight/pkg/registry"
)

// Validate 对最小必要边界做静态校验。
func Validate(cfg Config) error {
	if cfg.MaxRows <= 0 {
		return errors.New("config: max_rows must be > 0")
	}
	if cfg.MaxChars <= 0 {
		return errors.New("config: max_chars must be > 0")
	}
	if cfg.Completion.MaxOutputTokens <= 0 {
		return errors.New("config: completion.max_output_tokens must be > 0")
	}
	if cfg.Completion.SummaryMaxOutputTokens < 0 {
		return errors.New("config: completion.summary_max_output_tokens must be >= 0")
	}
	if t := cfg.Completion.Temperature; t != nil && (*t < 0 || *t > 2) {
		return fmt.Errorf("config: completion.temperature %.2f out of range [0,2]", *t)
	}
	if cfg.LLM == "" {
		return errors.New("config: llm not set")
	}
	prov, ok := cfg.Provider[cfg.LLM]
	if !ok {
		return fmt.Errorf("config: provider %q not found", cfg.LLM)
	}
	if prov.Client == "" {
		return fmt.Errorf("config: provider %q missing client", cfg.LLM)
	}
	if m := prov.Limits.MaxTokensPerReq; m > 0 && cfg.Completion.MaxOutputTokens > m {
		return fmt.Errorf("config: max_output_tokens(%d) exceeds provider.max_tokens_per_req(%d)", cfg.Completion.MaxOutputTokens, m)
	}
	if registry.LLMClient[prov.Client] == nil {
		return fmt.Errorf("config: llm client %q not registered", prov.Client)
	}
	// 组件名若为空，使用默认名（由 Defaults() 提供）。此处只要最终有值即可。
	d := Defaults().Components
	if name := effName(cfg.Components.Reader, d.Reader); registry.Reader[name] == nil {
		return fmt.Errorf("config: reader %q not registered", name)
	}
	if name := effName(cfg.Components.Normalizer, d.Normalizer); registry.Normalizer[name] == nil {
		return fmt.Errorf("config: normalizer %q not registered", name)
	}
	if name := effName(cfg.Components.PromptBuilder, d.PromptBuilder); registry.PromptBuilder[name] == nil {
		return fmt.Errorf("config: prompt_builder %q not registered", name)
	}
	if name := effName(cfg.Components.Extractor, d.Extractor); registry.Extractor[name] == nil {
		return fmt.Errorf("config: extractor %q not registered", name)
	}
	if name := effName(cfg.Components.Writer, d.Writer); registry.Writer[name] == nil {
		return fmt.Errorf("config: writer %q not registered", name)
	}
	seen := map[string]bool{}
	for _, name := range effExporters(cfg) {
		if registry.Exporter[name] == nil {
			return fmt.Errorf("config: exporter %q not registered", name)
		}
		if seen[name] {
			return fmt.Errorf("config: exporter %q listed twice", name)
		}
		seen[name] = true
	}
	for name := range cfg.Options.Exporters {
		if !seen[name] {
			return fmt.Errorf("config: options for exporter %q which is not enabled", name)
		}
	}
	return nil
}

// Assemble 构造 Components 与 Settings（含限流 Gate 与分组键）。
// 严格 Options 解析在 registry（工厂）层进行；此处只传 raw JSON。
func Assemble(cfg Config) (pipeline.Components, pipeline.Settings, error) {
	if err := Validate(cfg); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}
	d := Defaults().Components
	var comp pipeline.Components
	var err error
	if comp.Reader, err = registry.Reader[effName(cfg.Components.Reader, d.Reader)](cfg.Options.Reader); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("reader: %w", err)
	}
	if comp.Normalizer, err = registry.Normalizer[effName(cfg.Components.Normalizer, d.Normalizer)](cfg.Options.Normalizer); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("normalizer: %w", err)
	}
	if comp.PromptBuilder, err = registry.PromptBuilder[effName(cfg.Components.PromptBuilder, d.PromptBuilder)](cfg.Options.PromptBuilder); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("prompt_builder: %w", err)
	}
	if comp.Extractor, err = registry.Extractor[effName(cfg.Components.Extractor, d.Extractor)](cfg.Options.Extractor); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("extractor: %w", err)
	}
	if comp.Writer, err = registry.Writer[effName(cfg.Components.Writer, d.Writer)](cfg.Options.Writer); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("writer: %w", err)
	}
	comp.Exporters = make(map[string]contract.Exporter)
	for _, name := range effExporters(cfg) {
		e, err := registry.Exporter[name](cfg.Options.Exporters[name])
		if err != nil {
			return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("exporter %s: %w", name, err)
		}
		comp.Exporters[name] = e
	}

	// LLM 客户端
	prov := cfg.Provider[cfg.LLM]
	if comp.LLM, err = registry.LLMClient[prov.Client](prov.Options); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("llm %s: %w", cfg.LLM, err)
	}

	// 限流 Gate（按 provider 限额构造；分组键从 options 中派生 API Key，失败退化为 provider 名称）
	key, derr := rate.DeriveKey(prov.Client, prov.Options)
	if derr != nil {
		key = rate.LimitKey(cfg.LLM)
	}
	gate := rate.NewGate(map[rate.LimitKey]rate.Limits{
		key: {RPM: prov.Limits.RPM, TPM: prov.Limits.TPM, MaxTokensPerReq: prov.Limits.MaxTokensPerReq},
	}, nil)

	temp := 0.3
	if cfg.Completion.Temperature != nil {
		temp = *cfg.Completion.Temperature
	}
	set := pipeline.Settings{
		Bounds:                 contract.Bounds{MaxRows: cfg.MaxRows, MaxChars: cfg.MaxChars},
		Model:                  EffectiveModel(cfg),
		Temperature:            temp,
		MaxOutputTokens:        cfg.Completion.MaxOutputTokens,
		SummaryMaxOutputTokens: cfg.Completion.SummaryMaxOutputTokens,
		BytesPerToken:          cfg.Completion.BytesPerToken,
		MaxTokensPerReq:        prov.Limits.MaxTokensPerReq,
		Gate:                   gate,
		GateKey:                key,
	}
	return comp, set, nil
}

// EffectiveModel: completion.model > provider options 的 model > DefaultModel。
func EffectiveModel(cfg Config) string {
	if m := strings.TrimSpace(cfg.Completion.Model); m != "" {
		return m
	}
	if p, ok := cfg.Provider[cfg.LLM]; ok && len(p.Options) > 0 {
		var o struct {
			Model string `json:"model"`
		}
		if json.Unmarshal(p.Options, &o) == nil && strings.TrimSpace(o.Model) != "" {
			return strings.TrimSpace(o.Model)
		}
	}
	return DefaultModel
}

func effName(got, def string) string {
	if got == "" {
		return def
	}
	return got
}

func effExporters(cfg Config) []string {
	if len(cfg.Components.Exporters) == 0 {
		return Defaults().Components.Exporters
	}
	out := make([]string, 0, len(cfg.Components.Exporters))
	for _, e := range cfg.Components.Exporters {
		out = append(out, strings.ToLower(strings.TrimSpace(e)))
	}
	return out
}
