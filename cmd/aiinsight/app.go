package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/mattn/go-runewidth"

	cfgpkg "aiinsight/internal/config"
	"aiinsight/internal/diag"
	"aiinsight/internal/pipeline"
	"aiinsight/internal/server"
	"aiinsight/internal/session"
	"aiinsight/pkg/contract"
)

// 预览与表格展示上限。
const (
	previewLines  = 5
	previewChars  = 1000
	tableMaxRows  = 10
	tableCellCols = 24
)

// app: 一次 CLI 运行的上下文。
type app struct {
	pipe   *pipeline.Pipeline
	cfg    cfgpkg.Config
	logger *diag.Logger
	out    io.Writer
	errOut io.Writer
	tty    bool

	file     string
	question string
	summary  bool
	export   []string
	columns  []string
	serve    bool

	// newInput 构造交互输入；为 nil 时使用 liner。
	newInput func() lineReader

	labels *labels
	md     *glamour.TermRenderer
}

type labels struct {
	ok, fail, info, dim *color.Color
}

func newLabels(tty bool) *labels {
	l := &labels{
		ok:   color.New(color.FgGreen, color.Bold),
		fail: color.New(color.FgRed, color.Bold),
		info: color.New(color.FgCyan, color.Bold),
		dim:  color.New(color.Faint),
	}
	for _, c := range []*color.Color{l.ok, l.fail, l.info, l.dim} {
		if tty {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return l
}

func runApp(ctx context.Context, a *app) error {
	a.labels = newLabels(a.tty)
	if a.tty {
		if r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100)); err == nil {
			a.md = r
		}
	}
	if a.serve {
		return a.runServer(ctx)
	}
	fprintf(a.out, "%s %s\n", a.labels.dim.Sprint("[notice]"), server.PrivacyNotice)
	s := session.New(uuid.NewString())
	if a.file != "" {
		if err := a.load(ctx, s, a.file); err != nil {
			return err
		}
	}
	if a.question != "" || a.summary {
		return a.oneShot(ctx, s)
	}
	if len(a.export) > 0 {
		return fmt.Errorf("%w: --export requires --question", contract.ErrInvalidInput)
	}
	in := a.input()
	defer in.Close()
	return a.repl(ctx, s, in)
}

func (a *app) runServer(ctx context.Context) error {
	opts := server.Options{
		Addr:           a.cfg.Server.Addr,
		MaxUploadBytes: a.cfg.Server.MaxUploadBytes,
		SessionIdle:    time.Duration(a.cfg.Server.SessionIdleMinutes) * time.Minute,
	}
	fprintf(a.out, "%s http://%s\n%s %s\n", a.labels.info.Sprint("[serve]"), opts.Addr, a.labels.dim.Sprint("[notice]"), server.PrivacyNotice)
	err := server.New(a.pipe, a.logger, opts).Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *app) oneShot(ctx context.Context, s *session.Session) error {
	if a.summary {
		ans, err := a.pipe.Summarize(ctx, s)
		if err != nil {
			return err
		}
		a.printMarkdown(ans.Text)
	}
	if a.question == "" {
		if len(a.export) > 0 {
			return fmt.Errorf("%w: --export requires --question", contract.ErrInvalidInput)
		}
		return nil
	}
	rep, err := a.pipe.Ask(ctx, s, a.question)
	if err != nil {
		return err
	}
	a.printReply(rep)
	for _, format := range a.export {
		if err := a.exportTo(ctx, s, format, a.columns); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) load(ctx context.Context, s *session.Session, path string) error {
	ex, err := a.pipe.LoadFile(ctx, s, path)
	if err != nil {
		return err
	}
	what := fmt.Sprintf("%s（%s）", ex.Name, ex.Kind)
	if ex.Kind == contract.KindTabular {
		what += fmt.Sprintf(" %d/%d 行", ex.Rows, ex.TotalRows)
	}
	if ex.Truncated {
		what += " 已截断"
	}
	fprintf(a.out, "%s %s\n", a.labels.ok.Sprint("[loaded]"), what)
	fprintf(a.out, "%s\n", a.labels.dim.Sprint(ex.Preview(previewLines, previewChars)))
	return nil
}

func (a *app) exportTo(ctx context.Context, s *session.Session, format string, cols []string) error {
	art, err := a.pipe.Export(ctx, s, format, cols)
	if err != nil {
		return err
	}
	path, err := a.pipe.Save(ctx, art)
	if err != nil {
		return err
	}
	fprintf(a.out, "%s %s\n", a.labels.ok.Sprint("[export]"), path)
	return nil
}

func (a *app) printReply(rep pipeline.Reply) {
	ext := rep.Extraction
	if ext.HumanText != "" {
		a.printMarkdown(ext.HumanText)
	}
	if ext.Payload != nil {
		fprintf(a.out, "%s %d 行 · 列: %s\n", a.labels.info.Sprint("[data]"), ext.Payload.Len(), strings.Join(ext.Payload.Keys, ", "))
		fprintf(a.out, "%s\n", renderTable(ext.Payload, tableMaxRows))
	}
	if ext.Degraded != "" {
		fprintf(a.out, "%s JSON 块不可用（%s），仅可导出 txt\n", a.labels.fail.Sprint("[data]"), ext.Degraded)
	}
}

func (a *app) printMarkdown(text string) {
	if a.md != nil {
		if out, err := a.md.Render(text); err == nil {
			fprintf(a.out, "%s", out)
			return
		}
	}
	fprintf(a.out, "%s\n", text)
}

func (a *app) printError(err error) {
	msg := err.Error()
	if k := contract.CompletionKindOf(err); k != "" {
		msg = fmt.Sprintf("%s [%s]", msg, k)
	}
	fprintf(a.errOut, "%s %s\n", a.labels.fail.Sprint("[error]"), msg)
}

// renderTable 以 lipgloss 表格展示载荷前 max 行；单元格按显示宽度截断。
func renderTable(p *contract.Payload, max int) string {
	header := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cell := lipgloss.NewStyle().Padding(0, 1)
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(p.Keys...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			return cell
		})
	n := p.Len()
	if max > 0 && n > max {
		n = max
	}
	for i := 0; i < n; i++ {
		row := p.Row(i, p.Keys)
		for j, c := range row {
			row[j] = runewidth.Truncate(strings.ReplaceAll(c, "\n", " "), tableCellCols, "…")
		}
		t.Row(row...)
	}
	out := t.Render()
	if p.Len() > n {
		out += fmt.Sprintf("\n… 另有 %d 行", p.Len()-n)
	}
	return out
}
