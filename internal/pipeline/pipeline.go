package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"aiinsight/internal/diag"
	"aiinsight/internal/prompt"
	"aiinsight/internal/rate"
	"aiinsight/internal/session"
	"aiinsight/pkg/contract"
)

// - 单次交互同步执行：upload → normalize →（每个问题）assemble → gate → complete → extract →（可选）export。
// - 单写者：同一会话的 Load/Ask/Summarize 通过 Session.Acquire 串行化，历史按提交顺序追加。
// - 失败隔离：补全失败回滚（一问一答都不追加）；解析/格式失败不触碰已有摘录与历史。
// - 无自动重试：重试策略属于调用方。

// Components 聚合运行所需的原子组件。Reader 与 Writer 仅 CLI 使用，可为空。
type Components struct {
	Reader        contract.Reader
	Normalizer    contract.Normalizer
	PromptBuilder contract.PromptBuilder
	LLM           contract.LLMClient
	Extractor     contract.Extractor
	// Exporters: 格式名（txt/xlsx/docx/pdf/json）→ 导出器。
	Exporters map[string]contract.Exporter
	Writer    contract.Writer
}

// Settings 运行期配置（最小必要）。
type Settings struct {
	Bounds contract.Bounds
	// 补全参数
	Model                  string
	Temperature            float64
	MaxOutputTokens        int
	SummaryMaxOutputTokens int
	// 预算：估算系数（<=0 取 4）与单请求上限（<=0 不检查）
	BytesPerToken   int
	MaxTokensPerReq int
	// 限流闸门（可选）：若非空，则在调用 LLM 前调用 Gate.Wait
	Gate    rate.Gate
	GateKey rate.LimitKey
}

// Pipeline 编排各阶段；本身无会话状态，可被多个会话共享。
type Pipeline struct {
	comp   Components
	set    Settings
	logger *diag.Logger
	est    contract.TokenEstimator
	// overhead: 固定提示词开销估算（未设置单请求上限时为 0）。
	overhead int
}

// Reply: 一次成功提问的结果。
type Reply struct {
	Question     string
	Answer       contract.Answer
	Extraction   contract.Extraction
	PromptTokens int
}

// Artifact: 导出工件（文件名 ai_response.<ext> + MIME + 字节）。
type Artifact struct {
	Name     string
	MimeType string
	Data     []byte
}

// New 校验组件与设置并构造 Pipeline。logger 可为 nil。
func New(comp Components, set Settings, logger *diag.Logger) (*Pipeline, error) {
	if err := sanity(comp, set); err != nil {
		return nil, fmt.Errorf("sanity: %w", err)
	}
	if set.SummaryMaxOutputTokens <= 0 {
		set.SummaryMaxOutputTokens = set.MaxOutputTokens
	}
	// 预扣固定提示词开销：单请求上限须容纳 开销 + 最大输出。
	overhead := 0
	if set.MaxTokensPerReq > 0 {
		var effMax int
		effMax, overhead = prompt.EffectiveMaxTokens(comp.PromptBuilder, set.BytesPerToken, set.MaxTokensPerReq)
		if effMax-set.MaxOutputTokens <= 0 {
			return nil, fmt.Errorf("%w: max_tokens_per_req %d cannot hold prompt overhead %d + max_output_tokens %d",
				contract.ErrBudgetExceeded, set.MaxTokensPerReq, overhead, set.MaxOutputTokens)
		}
	}
	return &Pipeline{comp: comp, set: set, logger: logger, est: prompt.MakeEstimator(set.BytesPerToken), overhead: overhead}, nil
}

func sanity(comp Components, set Settings) error {
	switch {
	case comp.Normalizer == nil:
		return fmt.Errorf("%w: normalizer is nil", contract.ErrInvalidInput)
	case comp.PromptBuilder == nil:
		return fmt.Errorf("%w: prompt builder is nil", contract.ErrInvalidInput)
	case comp.LLM == nil:
		return fmt.Errorf("%w: llm client is nil", contract.ErrInvalidInput)
	case comp.Extractor == nil:
		return fmt.Errorf("%w: extractor is nil", contract.ErrInvalidInput)
	case len(comp.Exporters) == 0:
		return fmt.Errorf("%w: no exporters", contract.ErrInvalidInput)
	case set.Bounds.MaxRows <= 0 || set.Bounds.MaxChars <= 0:
		return fmt.Errorf("%w: bounds must be positive", contract.ErrInvalidInput)
	case strings.TrimSpace(set.Model) == "":
		return fmt.Errorf("%w: model is empty", contract.ErrInvalidInput)
	case set.MaxOutputTokens <= 0:
		return fmt.Errorf("%w: max_output_tokens must be > 0", contract.ErrInvalidInput)
	case set.Temperature < 0:
		return fmt.Errorf("%w: temperature must be >= 0", contract.ErrInvalidInput)
	}
	return nil
}

// Overhead 返回固定提示词开销估算（token）。
func (p *Pipeline) Overhead() int { return p.overhead }

// GateStatus: 限流闸门的当前可用额度（仅诊断）。
type GateStatus struct {
	RPMAvail int `json:"rpm_avail"`
	TPMAvail int `json:"tpm_avail"`
}

// GateStatus 返回闸门可用额度；闸门未配置或不支持快照时 ok=false。
func (p *Pipeline) GateStatus() (GateStatus, bool) {
	snap, ok := p.set.Gate.(rate.Snapshoter)
	if !ok {
		return GateStatus{}, false
	}
	rpm, tpm := snap.Snapshot(p.set.GateKey)
	return GateStatus{RPMAvail: rpm, TPMAvail: tpm}, true
}

// Settings 返回生效设置（只读副本）。
func (p *Pipeline) Settings() Settings { return p.set }

// Formats 返回可用导出格式（排序）。
func (p *Pipeline) Formats() []string {
	out := make([]string, 0, len(p.comp.Exporters))
	for k := range p.comp.Exporters {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Exporter 返回指定格式的导出器。
func (p *Pipeline) Exporter(format string) (contract.Exporter, bool) {
	e, ok := p.comp.Exporters[strings.ToLower(strings.TrimSpace(format))]
	return e, ok
}

// LoadFile 通过 Reader 读取本地文件后归一化。
func (p *Pipeline) LoadFile(ctx context.Context, s *session.Session, path string) (contract.Excerpt, error) {
	if p.comp.Reader == nil {
		return contract.Excerpt{}, fmt.Errorf("%w: reader not configured", contract.ErrInvalidInput)
	}
	up, err := p.comp.Reader.Load(ctx, path)
	if err != nil {
		p.fail("reader", "load failed", nil, s.ID, path, err)
		return contract.Excerpt{}, fmt.Errorf("reader load: %w", err)
	}
	return p.Load(ctx, s, up)
}

// Load 将上传归一化为摘录并替换会话摘录。
// 失败时（UnsupportedFormat/ParseError）会话摘录与历史保持不变。
func (p *Pipeline) Load(ctx context.Context, s *session.Session, up contract.Upload) (contract.Excerpt, error) {
	release, err := s.Acquire(ctx)
	if err != nil {
		return contract.Excerpt{}, err
	}
	defer release()

	name := contract.NormalizeUploadName(up.Name)
	timer := p.logger.StartWithKV("normalizer", "normalize", s.ID, name, map[string]string{
		"bytes":     strconv.Itoa(len(up.Data)),
		"max_rows":  strconv.Itoa(p.set.Bounds.MaxRows),
		"max_chars": strconv.Itoa(p.set.Bounds.MaxChars),
	})
	ex, err := p.comp.Normalizer.Normalize(ctx, up, p.set.Bounds)
	if err != nil {
		p.fail("normalizer", "normalize failed", timer, s.ID, name, err)
		return contract.Excerpt{}, fmt.Errorf("normalize: %w", err)
	}
	p.ok("normalizer", "normalize", timer, int64(ex.Rows))
	s.SetExcerpt(ex)
	if t := diag.GetTerminal(); t != nil {
		t.Loaded(ex.Name, string(ex.Kind), ex.Rows, ex.TotalRows, ex.Truncated)
	}
	return ex, nil
}

// Ask 对当前摘录提问：组装消息 → 限流 → 补全 → 抽取 → 追加一问一答。
// 空问题返回 ErrInvalidInput（不调用组装器）；未加载内容返回 ErrNoContent；
// 补全失败返回 *CompletionError 且历史不变。
func (p *Pipeline) Ask(ctx context.Context, s *session.Session, question string) (Reply, error) {
	if strings.TrimSpace(question) == "" {
		return Reply{}, fmt.Errorf("%w: empty question", contract.ErrInvalidInput)
	}
	release, err := s.Acquire(ctx)
	if err != nil {
		return Reply{}, err
	}
	defer release()

	ex := s.Excerpt()
	if ex.Empty() {
		return Reply{}, contract.ErrNoContent
	}
	history := s.History()

	pbtimer := p.logger.StartWithKV("prompt_builder", "build", s.ID, ex.Name, map[string]string{
		"history_turns": strconv.Itoa(len(history)),
	})
	msgs, err := p.comp.PromptBuilder.Build(ctx, ex, history, question)
	if err != nil {
		p.fail("prompt_builder", "build failed", pbtimer, s.ID, ex.Name, err)
		return Reply{}, fmt.Errorf("prompt build: %w", err)
	}
	p.ok("prompt_builder", "build", pbtimer, int64(len(msgs)))

	term := diag.GetTerminal()
	term.StageStart("ask")
	ans, tokens, err := p.complete(ctx, s.ID, ex.Name, msgs, p.set.MaxOutputTokens)
	if err != nil {
		term.StageFinish(false, failDetail(err))
		return Reply{}, err
	}

	ext, err := p.extract(ctx, s.ID, ans)
	if err != nil {
		term.StageFinish(false, failDetail(err))
		return Reply{}, err
	}
	s.Commit(question, ans, ext)
	detail := "无结构化数据"
	if ext.Payload != nil {
		detail = fmt.Sprintf("结构化 %d 行", ext.Payload.Len())
	}
	term.StageFinish(true, detail)
	return Reply{Question: question, Answer: ans, Extraction: ext, PromptTokens: tokens}, nil
}

// Summarize 对当前摘录做一次性摘要；不读取也不追加历史。
func (p *Pipeline) Summarize(ctx context.Context, s *session.Session) (contract.Answer, error) {
	release, err := s.Acquire(ctx)
	if err != nil {
		return contract.Answer{}, err
	}
	defer release()

	ex := s.Excerpt()
	if ex.Empty() {
		return contract.Answer{}, contract.ErrNoContent
	}
	pbtimer := p.logger.StartWith("prompt_builder", "build_summary", s.ID, ex.Name)
	msgs, err := p.comp.PromptBuilder.BuildSummary(ctx, ex)
	if err != nil {
		p.fail("prompt_builder", "build summary failed", pbtimer, s.ID, ex.Name, err)
		return contract.Answer{}, fmt.Errorf("prompt build: %w", err)
	}
	p.ok("prompt_builder", "build_summary", pbtimer, int64(len(msgs)))

	term := diag.GetTerminal()
	term.StageStart("summary")
	ans, _, err := p.complete(ctx, s.ID, ex.Name, msgs, p.set.SummaryMaxOutputTokens)
	term.StageFinish(err == nil, failDetail(err))
	if err != nil {
		return contract.Answer{}, err
	}
	return ans, nil
}

// Export 将最近一次回答序列化为指定格式。
// 需要结构化数据的格式在载荷缺失时返回 ErrNoStructuredData；
// columns 为 nil 时导出全部键；非 nil（含空切片）须通过 ValidateColumns。
func (p *Pipeline) Export(ctx context.Context, s *session.Session, format string, columns []string) (Artifact, error) {
	e, ok := p.Exporter(format)
	if !ok {
		return Artifact{}, fmt.Errorf("%w: unknown export format %q", contract.ErrInvalidInput, format)
	}
	last, ok := s.Last()
	if !ok {
		return Artifact{}, fmt.Errorf("%w: no answer yet", contract.ErrNoStructuredData)
	}
	payload := last.Extraction.Payload
	if e.NeedsPayload() {
		if payload == nil {
			return Artifact{}, contract.ErrNoStructuredData
		}
		if columns != nil {
			if err := contract.ValidateColumns(payload, columns); err != nil {
				return Artifact{}, err
			}
		}
	}
	name := contract.FileName(e)
	timer := p.logger.StartWithKV("exporter", "export", s.ID, name, map[string]string{
		"columns": strings.Join(columns, ","),
		"rows":    strconv.Itoa(payload.Len()),
	})
	data, err := e.Export(ctx, contract.ExportInput{Answer: last.Answer, Payload: payload, Columns: columns})
	if err != nil {
		p.fail("exporter", "export failed", timer, s.ID, name, err)
		return Artifact{}, fmt.Errorf("export %s: %w", format, err)
	}
	p.ok("exporter", "export", timer, int64(len(data)))
	return Artifact{Name: name, MimeType: e.MimeType(), Data: data}, nil
}

// Save 通过 Writer 持久化导出工件，返回实际路径。
func (p *Pipeline) Save(ctx context.Context, art Artifact) (string, error) {
	if p.comp.Writer == nil {
		return "", fmt.Errorf("%w: writer not configured", contract.ErrInvalidInput)
	}
	timer := p.logger.StartWith("writer", "write", "", art.Name)
	path, err := p.comp.Writer.Write(ctx, contract.ArtifactID(art.Name), bytes.NewReader(art.Data))
	if err != nil {
		p.fail("writer", "write failed", timer, "", art.Name, err)
		return "", fmt.Errorf("writer write: %w", err)
	}
	p.ok("writer", "write", timer, int64(len(art.Data)))
	return path, nil
}

// complete: 预算检查 → Gate → LLM。返回回答与输入 token 估算。
func (p *Pipeline) complete(ctx context.Context, sid, file string, msgs contract.ChatPrompt, maxOut int) (contract.Answer, int, error) {
	tokens := prompt.ChatTokens(p.est, msgs)
	total, err := prompt.CheckHeadroom(tokens, maxOut, p.set.MaxTokensPerReq)
	if err != nil {
		p.fail("gate", "budget exceeded", nil, sid, file, err)
		return contract.Answer{}, tokens, err
	}
	if g := p.set.Gate; g != nil {
		kv := map[string]string{
			"requests": "1",
			"tokens":   strconv.Itoa(total),
		}
		p.logger.DebugStart("gate", "ask", sid, file, kv)
		ask := rate.Ask{Key: p.set.GateKey, Requests: 1, Tokens: total}
		// 先非阻塞尝试；额度不足时记一次限流再阻塞等待。
		if !g.Try(ask) {
			p.logger.WarnWith("gate", "throttled", sid, kv)
			diag.IncOp("gate", "wait", "throttled")
			if err := g.Wait(ctx, ask); err != nil {
				p.fail("gate", "wait failed", nil, sid, file, err)
				return contract.Answer{}, tokens, fmt.Errorf("gate: %w", err)
			}
		}
	}

	lltimer := p.logger.StartWithKV("llm", "complete", sid, file, map[string]string{
		"model":    p.set.Model,
		"messages": strconv.Itoa(len(msgs)),
		"tokens":   strconv.Itoa(tokens),
	})
	stop := ticker(diag.GetTerminal())
	ans, err := p.comp.LLM.Complete(ctx, contract.CompletionRequest{
		Model:           p.set.Model,
		Messages:        msgs,
		Temperature:     p.set.Temperature,
		MaxOutputTokens: maxOut,
	})
	stop()
	if err != nil {
		p.fail("llm", "complete failed", lltimer, sid, file, err)
		return contract.Answer{}, tokens, err
	}
	p.ok("llm", "complete", lltimer, int64(len(ans.Text)))
	return ans, tokens, nil
}

func (p *Pipeline) extract(ctx context.Context, sid string, ans contract.Answer) (contract.Extraction, error) {
	timer := p.logger.StartWith("extractor", "extract", sid, "")
	ext, err := p.comp.Extractor.Extract(ctx, ans)
	if err != nil {
		p.fail("extractor", "extract failed", timer, sid, "", err)
		return contract.Extraction{}, fmt.Errorf("extract: %w", err)
	}
	if ext.Degraded != "" {
		p.logger.WarnWith("extractor", "structured data unavailable", sid, map[string]string{"reason": ext.Degraded})
	}
	p.ok("extractor", "extract", timer, int64(ext.Payload.Len()))
	return ext, nil
}

func (p *Pipeline) ok(comp, stage string, t *diag.Timer, count int64) {
	t.Finish(stage, count)
	diag.IncOp(comp, "finish", "success")
	if since := t.Since(); since != nil {
		diag.ObserveDuration(comp, stage, time.Since(*since).Milliseconds())
	}
}

// fail 记录错误事件；上游 HTTP 错误附带状态码与消息片段（不含凭据）。
func (p *Pipeline) fail(comp, msg string, t *diag.Timer, sid, file string, err error) {
	code := diag.Classify(err)
	var kv map[string]string
	if k := contract.CompletionKindOf(err); k != "" {
		kv = map[string]string{"kind": string(k)}
	}
	var ue contract.UpstreamError
	if errors.As(err, &ue) && ue.UpstreamStatus() > 0 {
		if kv == nil {
			kv = map[string]string{}
		}
		kv["http_status"] = strconv.Itoa(ue.UpstreamStatus())
		if m := strings.TrimSpace(ue.UpstreamMessage()); m != "" {
			if len(m) > 200 {
				m = m[:200]
			}
			kv["upstream_msg"] = m
		}
	}
	p.logger.ErrorWithKV(comp, string(code), msg, t.Since(), sid, file, kv)
	diag.IncOp(comp, "error", "error")
	if code != diag.CodeUnknown {
		diag.IncError(comp, string(code))
	}
}

func failDetail(err error) string {
	if err == nil {
		return ""
	}
	if k := contract.CompletionKindOf(err); k != "" {
		return string(k)
	}
	return string(diag.Classify(err))
}

// ticker 在等待补全期间周期刷新终端状态行；返回停止函数。
func ticker(t *diag.Terminal) func() {
	if t == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		tk := time.NewTicker(100 * time.Millisecond)
		defer tk.Stop()
		for {
			select {
			case <-done:
				return
			case <-tk.C:
				t.Tick()
			}
		}
	}()
	return func() { close(done) }
}
