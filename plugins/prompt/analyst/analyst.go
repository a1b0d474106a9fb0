package analyst

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"text/template"

	"aiinsight/pkg/contract"
)

// Options 为“业务分析问答” PromptBuilder 的配置。
// - InlineSystemTemplate / SystemTemplatePath: system 提示模板（二选一，均为空时使用内置默认模板）；
// - InlineSummaryTemplate / SummaryTemplatePath: 摘要提示模板（同上）；
// - HistoryWindow: 每次请求携带的最近历史轮数（一问一答为一轮）。nil 取默认 20；0 不携带历史。
type Options struct {
	InlineSystemTemplate  string `json:"inline_system_template"`
	SystemTemplatePath    string `json:"system_template_path"`
	InlineSummaryTemplate string `json:"inline_summary_template"`
	SummaryTemplatePath   string `json:"summary_template_path"`
	HistoryWindow         *int   `json:"history_window"`
}

// DefaultHistoryWindow: 默认携带的历史轮数。
const DefaultHistoryWindow = 20

// ReferencePreamble: 参考内容消息的固定前导语。
const ReferencePreamble = "Here is the content to reference for all upcoming questions:\n"

// Builder: 构造 [system][reference][history...][user: question]。
// 运行期不做 I/O；模板在构造期解析。
type Builder struct {
	sysT    *template.Template
	sumT    *template.Template
	history int
}

// templateData: 模板可用字段。
type templateData struct {
	Name      string
	Kind      string
	Truncated bool
	Rows      int
	TotalRows int
	Columns   []string
	Data      string
}

// New 创建 analyst PromptBuilder。
func New(opts *Options) (*Builder, error) {
	o := Options{}
	if opts != nil {
		o = *opts
	}
	hw := DefaultHistoryWindow
	if o.HistoryWindow != nil {
		hw = *o.HistoryWindow
	}
	if hw < 0 {
		return nil, fmt.Errorf("prompt: %w: history_window must be >= 0", contract.ErrInvalidInput)
	}
	sysT, err := loadTemplate("system", o.InlineSystemTemplate, o.SystemTemplatePath, defaultSystemTemplate)
	if err != nil {
		return nil, err
	}
	sumT, err := loadTemplate("summary", o.InlineSummaryTemplate, o.SummaryTemplatePath, defaultSummaryTemplate)
	if err != nil {
		return nil, err
	}
	return &Builder{sysT: sysT, sumT: sumT, history: hw}, nil
}

// loadTemplate: inline 优先，其次文件，最后内置默认（构造期 I/O）。
func loadTemplate(name, inline, path, def string) (*template.Template, error) {
	src := def
	if inline != "" {
		src = inline
	} else if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%s template read: %w", name, err)
		}
		src = string(b)
	}
	tpl, err := template.New(name).Option("missingkey=error").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("%s template parse: %w", name, err)
	}
	return tpl, nil
}

var _ contract.PromptBuilder = (*Builder)(nil)

// HistoryWindow 返回生效的历史轮数。
func (b *Builder) HistoryWindow() int { return b.history }

// Build: 参考内容每次请求都携带一次，紧随 system；历史只取最近窗口；最后一条恒为问题。
func (b *Builder) Build(ctx context.Context, ex contract.Excerpt, history []contract.Turn, question string) (contract.ChatPrompt, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("prompt: %w: empty question", contract.ErrInvalidInput)
	}
	if ex.Empty() {
		return nil, fmt.Errorf("prompt: %w", contract.ErrNoContent)
	}
	sys, err := render(b.sysT, dataOf(ex))
	if err != nil {
		return nil, err
	}

	window := tail(history, b.history)
	out := make(contract.ChatPrompt, 0, len(window)+3)
	out = append(out,
		contract.Message{Role: contract.RoleSystem, Content: sys},
		contract.Message{Role: contract.RoleUser, Content: reference(ex)},
	)
	for _, t := range window {
		out = append(out, contract.Message{Role: t.Role, Content: t.Text})
	}
	out = append(out, contract.Message{Role: contract.RoleUser, Content: question})
	return out, nil
}

// BuildSummary: 单条 user 消息，不携带历史。
func (b *Builder) BuildSummary(ctx context.Context, ex contract.Excerpt) (contract.ChatPrompt, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if ex.Empty() {
		return nil, fmt.Errorf("prompt: %w", contract.ErrNoContent)
	}
	s, err := render(b.sumT, dataOf(ex))
	if err != nil {
		return nil, err
	}
	return contract.ChatPrompt{{Role: contract.RoleUser, Content: s}}, nil
}

// EstimateOverheadTokens: system（空摘录渲染）+ 参考前导语。
func (b *Builder) EstimateOverheadTokens(estimate contract.TokenEstimator) int {
	if estimate == nil {
		return 0
	}
	sys, _ := render(b.sysT, templateData{})
	return estimate(sys) + estimate(ReferencePreamble)
}

// tail 返回最近 pairs 轮（2*pairs 条）历史；不复制底层元素。
func tail(h []contract.Turn, pairs int) []contract.Turn {
	n := 2 * pairs
	if n <= 0 {
		return nil
	}
	if len(h) <= n {
		return h
	}
	return h[len(h)-n:]
}

func reference(ex contract.Excerpt) string {
	var sb strings.Builder
	sb.Grow(len(ReferencePreamble) + len(ex.Text) + 64)
	sb.WriteString(ReferencePreamble)
	sb.WriteString(ex.Text)
	if ex.Truncated {
		if ex.Kind == contract.KindTabular {
			fmt.Fprintf(&sb, "\n(Showing the first %d of %d rows.)", ex.Rows, ex.TotalRows)
		} else {
			sb.WriteString("\n(Content truncated.)")
		}
	}
	return sb.String()
}

func dataOf(ex contract.Excerpt) templateData {
	return templateData{
		Name:      ex.Name,
		Kind:      string(ex.Kind),
		Truncated: ex.Truncated,
		Rows:      ex.Rows,
		TotalRows: ex.TotalRows,
		Columns:   ex.Columns,
		Data:      ex.Text,
	}
}

func render(t *template.Template, d templateData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, d); err != nil {
		return "", fmt.Errorf("%s render: %w: %v", t.Name(), contract.ErrInvalidInput, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// 默认 system 模板。
const defaultSystemTemplate = `
You are a helpful business analyst. Provide concise and relevant answers.
When your answer contains tabular results (lists of records, rankings, comparisons), also include them
as a single JSON array of objects inside one fenced block that starts with ` + "```json" + ` and ends with ` + "```" + `.
Every object must use the same keys, in the same order. Do not put anything else inside that block.
`

// 默认摘要模板。
const defaultSummaryTemplate = `
You're an AI business analyst. Give a short summary of this customer data.
Highlight:
- Key themes or trends in the notes
- Average opportunity score and spend
- Potential next steps based on what you see

Data:
{{.Data}}
`
