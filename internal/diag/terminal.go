package diag

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"
)

// Terminal: 终端信息提示（非日志）。
// - 输出到提供的 io.Writer（默认 stderr）。
// - TTY: 等待阶段单行 \r 覆盖，标签着色；非 TTY: 仅关键节点分行打印，无颜色。
// - 并发安全；写失败后进入禁用态为 no-op。
type Terminal struct {
	w       io.Writer
	enabled bool
	isTTY   bool

	llm   string
	model string
	asks  int

	stage     string
	stageT0   time.Time
	lastLen   int
	lastFlush time.Time

	ok, fail, info *color.Color

	mu sync.Mutex
}

// 进程级终端（可选，全局设置后供 pipeline 旁路调用）。
var (
	termMu sync.RWMutex
	term   *Terminal
)

// SetTerminal 设置全局终端指针（nil 可清除）。
func SetTerminal(t *Terminal) { termMu.Lock(); term = t; termMu.Unlock() }

// GetTerminal 返回全局终端（可能为 nil）。
func GetTerminal() *Terminal { termMu.RLock(); defer termMu.RUnlock(); return term }

// NewTerminal 构造终端提示器。
// enabled=false 时总是 no-op。
func NewTerminal(w io.Writer, enabled bool) *Terminal {
	if w == nil {
		w = os.Stderr
	}
	t := &Terminal{
		w:       w,
		enabled: enabled,
		ok:      color.New(color.FgGreen, color.Bold),
		fail:    color.New(color.FgRed, color.Bold),
		info:    color.New(color.FgCyan, color.Bold),
	}
	// CI 环境视为非 TTY
	if os.Getenv("CI") == "" {
		if f, ok := w.(*os.File); ok {
			if fi, err := f.Stat(); err == nil {
				t.isTTY = fi.Mode()&os.ModeCharDevice != 0
			}
		}
	}
	t.setColor(t.isTTY)
	return t
}

// SetTTY 覆盖 TTY 判定（同时切换着色）。
func (t *Terminal) SetTTY(v bool) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.isTTY = v
	t.setColor(v)
}

func (t *Terminal) setColor(on bool) {
	for _, c := range []*color.Color{t.ok, t.fail, t.info} {
		if on {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
}

// SessionStart: 记录会话上下文（LLM 与模型）。
func (t *Terminal) SessionStart(llm, model string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.llm, t.model, t.asks = llm, model, 0
	t.println(t.info, "[session]", fmt.Sprintf("llm=%s | model=%s", safe(llm), safe(model)))
}

// Loaded: 上传已归一化为摘录。
func (t *Terminal) Loaded(name, kind string, rows, total int, truncated bool) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	msg := fmt.Sprintf("%s | %s", shortenBase(name, 48), kind)
	if kind == "tabular" {
		msg += fmt.Sprintf(" | 行 %d/%d", rows, total)
	}
	if truncated {
		msg += " | 已截断"
	}
	t.println(t.info, "[load]", msg)
}

// StageStart: 进入等待阶段（ask/summary/export）。
func (t *Terminal) StageStart(stage string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.stage = stage
	t.stageT0 = time.Now()
	t.lastFlush = time.Time{}
	if !t.isTTY {
		t.println(t.info, "["+stage+"]", fmt.Sprintf("llm=%s", safe(t.llm)))
	}
}

// Tick: 等待期间的周期性刷新（≥100ms 节流，仅 TTY）。
func (t *Terminal) Tick() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled || !t.isTTY || t.stage == "" {
		return
	}
	now := time.Now()
	if now.Sub(t.lastFlush) < 100*time.Millisecond {
		return
	}
	t.lastFlush = now
	t.printInline(fmt.Sprintf("[%s] 等待 %s | 已问 %d | 用时 %s", t.stage, safe(t.llm), t.asks, formatSince(t.stageT0)))
}

// StageFinish: 结束当前阶段（立即刷新并换行）。
func (t *Terminal) StageFinish(ok bool, detail string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	if t.isTTY && t.lastLen > 0 {
		t.printInline("")
	}
	if ok && t.stage == "ask" {
		t.asks++
	}
	tag, c := "[done]", t.ok
	if !ok {
		tag, c = "[fail]", t.fail
	}
	msg := fmt.Sprintf("%s | 用时 %s", t.stage, formatSince(t.stageT0))
	if detail != "" {
		msg += " | " + safe(detail)
	}
	t.println(c, tag, msg)
	t.stage = ""
}

func (t *Terminal) println(c *color.Color, tag, s string) {
	if t == nil || !t.enabled {
		return
	}
	if _, err := io.WriteString(t.w, c.Sprint(tag)+" "+s+"\n"); err != nil {
		// 写失败即禁用
		t.enabled = false
	}
	t.lastLen = 0
}

func (t *Terminal) printInline(s string) {
	if t == nil || !t.enabled {
		return
	}
	// 新行比旧行短时以空格覆盖行尾
	pad := 0
	if l := visLen(s); t.lastLen > l {
		pad = t.lastLen - l
	}
	var b strings.Builder
	b.WriteByte('\r')
	b.WriteString(s)
	if pad > 0 {
		b.WriteString(strings.Repeat(" ", pad))
	}
	if _, err := io.WriteString(t.w, b.String()); err != nil {
		t.enabled = false
		return
	}
	t.lastLen = visLen(s)
}

// shortenBase: 取基名并按可见宽度截断（尾部省略号）。
func shortenBase(s string, max int) string {
	if max <= 0 {
		return ""
	}
	base := filepath.Base(strings.TrimSpace(strings.ReplaceAll(s, "\\", "/")))
	if base == "" || base == "." {
		return ""
	}
	if visLen(base) <= max {
		return base
	}
	return runewidth.Truncate(base, max, "…")
}

func visLen(s string) int { return runewidth.StringWidth(s) }

func safe(s string) string {
	// 避免换行等控制字符污染终端
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	return s
}

func formatSince(t0 time.Time) string { return formatDur(time.Since(t0)) }

func formatDur(d time.Duration) string {
	if d < time.Second {
		ms := d.Milliseconds()
		if ms <= 0 {
			ms = 0
		}
		return fmt.Sprintf("%dms", ms)
	}
	s := float64(d.Milliseconds()) / 1000.0
	return fmt.Sprintf("%.1fs", s)
}
