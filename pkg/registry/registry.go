package registry

import (
	"bytes"
	"encoding/json"
	"sort"

	"aiinsight/pkg/contract"
	edocx "aiinsight/plugins/exporter/docx"
	ejson "aiinsight/plugins/exporter/jsondump"
	epdf "aiinsight/plugins/exporter/pdf"
	etxt "aiinsight/plugins/exporter/text"
	exlsx "aiinsight/plugins/exporter/xlsx"
	fenced "aiinsight/plugins/extractor/fencedjson"
	"aiinsight/plugins/llmclient/flaky"
	gmi "aiinsight/plugins/llmclient/gemini"
	"aiinsight/plugins/llmclient/mock"
	oai "aiinsight/plugins/llmclient/openai"
	"aiinsight/plugins/normalizer/office"
	"aiinsight/plugins/prompt/analyst"
	rfs "aiinsight/plugins/reader/filesystem"
	wfs "aiinsight/plugins/writer/filesystem"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// NewReader 工厂签名：接收原样 JSON Options。
type NewReader func(raw json.RawMessage) (contract.Reader, error)

// NewNormalizer 工厂签名：接收原样 JSON Options。
type NewNormalizer func(raw json.RawMessage) (contract.Normalizer, error)

// NewPromptBuilder 工厂签名：接收原样 JSON Options。
type NewPromptBuilder func(raw json.RawMessage) (contract.PromptBuilder, error)

// NewLLMClient 工厂签名：接收原样 JSON Options。
type NewLLMClient func(raw json.RawMessage) (contract.LLMClient, error)

// NewExtractor 工厂签名：接收原样 JSON Options。
type NewExtractor func(raw json.RawMessage) (contract.Extractor, error)

// NewExporter 工厂签名：接收原样 JSON Options。
type NewExporter func(raw json.RawMessage) (contract.Exporter, error)

// NewWriter 工厂签名：接收原样 JSON Options。
type NewWriter func(raw json.RawMessage) (contract.Writer, error)

// Reader 工厂注册表（显式、零反射）。
var Reader = map[string]NewReader{
	// fs: 本地文件 Reader
	"fs": func(raw json.RawMessage) (contract.Reader, error) {
		var opts rfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rfs.New(&opts), nil
	},
}

// Normalizer 工厂注册表。
var Normalizer = map[string]NewNormalizer{
	// office: xlsx 首表 / docx 正文段落
	"office": func(raw json.RawMessage) (contract.Normalizer, error) {
		var opts office.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return office.New(&opts), nil
	},
}

// PromptBuilder 工厂注册表。
var PromptBuilder = map[string]NewPromptBuilder{
	// analyst: system + 参考内容 + 历史窗口 + 问题
	"analyst": func(raw json.RawMessage) (contract.PromptBuilder, error) {
		var opts analyst.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return analyst.New(&opts)
	},
}

// LLMClient 工厂注册表。
var LLMClient = map[string]NewLLMClient{
	"openai": func(raw json.RawMessage) (contract.LLMClient, error) { return oai.New(raw) },
	"gemini": func(raw json.RawMessage) (contract.LLMClient, error) { return gmi.New(raw) },
	"mock":   func(raw json.RawMessage) (contract.LLMClient, error) { return mock.New(raw) },
	"flaky":  func(raw json.RawMessage) (contract.LLMClient, error) { return flaky.New(raw) },
}

// Extractor 工厂注册表。
var Extractor = map[string]NewExtractor{
	// fencedjson: 首个 ```json 块 → 结构化载荷
	"fencedjson": func(raw json.RawMessage) (contract.Extractor, error) { return fenced.New(raw) },
}

// Exporter 工厂注册表（键即导出格式名）。
var Exporter = map[string]NewExporter{
	"txt": func(raw json.RawMessage) (contract.Exporter, error) {
		var opts etxt.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return etxt.New(&opts), nil
	},
	"xlsx": func(raw json.RawMessage) (contract.Exporter, error) {
		var opts exlsx.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return exlsx.New(&opts), nil
	},
	"docx": func(raw json.RawMessage) (contract.Exporter, error) {
		var opts edocx.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return edocx.New(&opts), nil
	},
	"pdf": func(raw json.RawMessage) (contract.Exporter, error) {
		var opts epdf.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return epdf.New(&opts), nil
	},
	"json": func(raw json.RawMessage) (contract.Exporter, error) {
		var opts ejson.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return ejson.New(&opts), nil
	},
}

// ExportFormats 返回已注册的导出格式名（排序）。
func ExportFormats() []string {
	out := make([]string, 0, len(Exporter))
	for k := range Exporter {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Writer 工厂注册表。
var Writer = map[string]NewWriter{
	// fs: 文件系统 Writer（原子替换/同名改名可配置）
	"fs": func(raw json.RawMessage) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wfs.New(&opts)
	},
}
