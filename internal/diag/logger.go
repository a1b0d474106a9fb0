package diag

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// 级别定义
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Warn:
		return "warn"
	case Error:
		return "error"
	default:
		return "info"
	}
}

// DefaultLogDir 为日志默认目录；当前文件为 aiinsight-current.txt，10 MiB 轮转。
const DefaultLogDir = "logs"

// Logger 为最小结构化日志器：单行 JSON 输出到轮转文件。
// nil *Logger 的所有方法均为 no-op。
type Logger struct {
	corrID string
	level  Level
	sink   *RotatingFile
	out    io.Writer // sink 为 nil 时的后备输出
	mu     sync.Mutex
}

// NewLogger 通过配置的 level 初始化，并将日志写入默认目录 logs。
func NewLogger(corrID, level string) *Logger {
	return NewLoggerAt(corrID, level, DefaultLogDir)
}

// NewLoggerAt 与 NewLogger 相同，但写入指定目录。
func NewLoggerAt(corrID, level, dir string) *Logger {
	if strings.TrimSpace(dir) == "" {
		dir = DefaultLogDir
	}
	return &Logger{corrID: corrID, level: parseLevel(strings.TrimSpace(level)), sink: NewRotatingFile(dir, DefaultLogMaxBytes), out: os.Stderr}
}

// NewWriterLogger 直接写到 w（测试与 --log-stderr 场景）。
func NewWriterLogger(corrID, level string, w io.Writer) *Logger {
	if w == nil {
		w = io.Discard
	}
	return &Logger{corrID: corrID, level: parseLevel(strings.TrimSpace(level)), out: w}
}

func parseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return Debug
	case "warn":
		return Warn
	case "error":
		return Error
	default:
		return Info
	}
}

// CorrID 返回关联 ID。
func (l *Logger) CorrID() string {
	if l == nil {
		return ""
	}
	return l.corrID
}

// Close 关闭文件 sink。
func (l *Logger) Close() error {
	if l == nil || l.sink == nil {
		return nil
	}
	return l.sink.Close()
}

// Event 为标准事件结构。
type Event struct {
	Level   string            `json:"level"`
	TS      string            `json:"ts"`
	CorrID  string            `json:"corr_id"`
	Comp    string            `json:"comp"`
	Stage   string            `json:"stage"` // start|finish|error|warn
	Code    string            `json:"code,omitempty"`
	DurMS   int64             `json:"dur_ms,omitempty"`
	Count   int64             `json:"count,omitempty"`
	Session string            `json:"session_id,omitempty"`
	File    string            `json:"file,omitempty"`
	Msg     string            `json:"msg"`
	KV      map[string]string `json:"kv,omitempty"`
}

func (l *Logger) log(lv Level, ev Event) {
	if l == nil || lv < l.level {
		return
	}
	ev.Level = lv.String()
	ev.TS = NowUTC()
	ev.CorrID = l.corrID
	b, _ := json.Marshal(ev)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sink == nil {
		_, _ = l.out.Write(append(b, '\n'))
		return
	}
	if err := l.sink.WriteLine(b); err != nil {
		fmt.Fprintf(os.Stderr, "logger sink error: %v\n", err)
		_, _ = l.out.Write(append(b, '\n'))
	}
}

// Start 记录 start 事件；返回计时器用于 Finish。
func (l *Logger) Start(comp, msg string) *Timer {
	return l.StartWithKV(comp, msg, "", "", nil)
}

// StartWith 记录带 session_id/file 的 start。
func (l *Logger) StartWith(comp, msg, session, file string) *Timer {
	return l.StartWithKV(comp, msg, session, file, nil)
}

// StartWithKV 记录带 session_id/file 与键值的 start。
func (l *Logger) StartWithKV(comp, msg, session, file string, kv map[string]string) *Timer {
	l.log(Info, Event{Comp: comp, Stage: "start", Session: session, File: file, Msg: msg, KV: kv})
	return &Timer{l: l, comp: comp, session: session, file: file, t0: time.Now()}
}

// Error 记录 error 事件。
func (l *Logger) Error(comp, code, msg string, durSince *time.Time) {
	l.ErrorWithKV(comp, code, msg, durSince, "", "", nil)
}

// ErrorWith 支持 session_id/file。
func (l *Logger) ErrorWith(comp, code, msg string, durSince *time.Time, session, file string) {
	l.ErrorWithKV(comp, code, msg, durSince, session, file, nil)
}

// ErrorWithKV 支持附带键值对（例如 HTTP 状态码、上游错误片段）。
func (l *Logger) ErrorWithKV(comp, code, msg string, durSince *time.Time, session, file string, kv map[string]string) {
	var dur int64
	if durSince != nil {
		dur = time.Since(*durSince).Milliseconds()
	}
	l.log(Error, Event{Comp: comp, Stage: "error", Code: code, DurMS: dur, Msg: msg, Session: session, File: file, KV: kv})
}

// WarnWith 记录非错误的降级（例如回答中的 JSON 块不可用）。
func (l *Logger) WarnWith(comp, msg, session string, kv map[string]string) {
	l.log(Warn, Event{Comp: comp, Stage: "warn", Session: session, Msg: msg, KV: kv})
}

// InfoFinish 在已有起点的情况下记录 finish。
func (l *Logger) InfoFinish(comp, msg string, start time.Time, count int64) {
	l.log(Info, Event{Comp: comp, Stage: "finish", DurMS: time.Since(start).Milliseconds(), Count: count, Msg: msg})
}

// DebugStart 输出调试级别的“start”类事件（仅在 level=debug 时生效）。
func (l *Logger) DebugStart(comp, msg, session, file string, kv map[string]string) {
	l.log(Debug, Event{Comp: comp, Stage: "start", Session: session, File: file, Msg: msg, KV: kv})
}

// Timer 用于 start→finish 计时。
type Timer struct {
	l       *Logger
	comp    string
	session string
	file    string
	t0      time.Time
}

// Since 返回起点（供 Error 计算耗时）。
func (t *Timer) Since() *time.Time {
	if t == nil {
		return nil
	}
	return &t.t0
}

// Finish 记录 finish；可选 count。
func (t *Timer) Finish(msg string, count int64) {
	if t == nil || t.l == nil {
		return
	}
	t.l.log(Info, Event{Comp: t.comp, Stage: "finish", DurMS: time.Since(t.t0).Milliseconds(), Count: count, Session: t.session, File: t.file, Msg: msg})
}
