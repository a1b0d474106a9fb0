package diag

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// 会话事件日志的文件命名：当前文件 aiinsight-current.txt，
// 轮转后为 aiinsight-<UTC 纳秒时间戳>.txt，按名字排序即按时间排序。
const (
	logPrefix      = "aiinsight"
	CurrentLogName = logPrefix + "-current.txt"
	// DefaultLogMaxBytes: 单个日志文件上限（10 MiB）。
	DefaultLogMaxBytes = 10 << 20
)

// rotatedLogName 返回在 t 时刻归档的日志文件名。
func rotatedLogName(t time.Time) string {
	return fmt.Sprintf("%s-%s.txt", logPrefix, t.UTC().Format("20060102-150405.000000000"))
}

// RotatingFile 承载 Logger 的 JSON 事件行：写满 maxBytes 前归档当前文件，再重新打开。
// 单行永不拆分到两个文件；超过上限的单行独占一个文件。
type RotatingFile struct {
	dir      string
	maxBytes int64
	now      func() time.Time

	mu   sync.Mutex
	f    *os.File
	size int64
}

// NewRotatingFile 构造日志文件；目录与文件在首次写入时创建。maxBytes<=0 取 DefaultLogMaxBytes。
func NewRotatingFile(dir string, maxBytes int64) *RotatingFile {
	if maxBytes <= 0 {
		maxBytes = DefaultLogMaxBytes
	}
	return &RotatingFile{dir: dir, maxBytes: maxBytes, now: time.Now}
}

// WriteLine 追加一行事件（自动补换行）。
func (w *RotatingFile) WriteLine(b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ensureOpen(); err != nil {
		return err
	}
	need := int64(len(b) + 1)
	if w.size > 0 && w.size+need > w.maxBytes {
		if err := w.rotate(); err != nil {
			return err
		}
	}
	n, err := w.f.Write(append(b, '\n'))
	w.size += int64(n)
	return err
}

func (w *RotatingFile) ensureOpen() error {
	if w.f != nil {
		return nil
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(w.dir, CurrentLogName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w.f, w.size = f, 0
	if st, err := f.Stat(); err == nil {
		w.size = st.Size()
	}
	return nil
}

// rotate 归档当前文件并重新打开 current；未打开时仅打开。
func (w *RotatingFile) rotate() error {
	if w.f == nil {
		return w.ensureOpen()
	}
	cur := w.f.Name()
	_ = w.f.Close()
	w.f = nil
	if err := os.Rename(cur, filepath.Join(w.dir, rotatedLogName(w.now()))); err != nil {
		return fmt.Errorf("archive session log: %w", err)
	}
	return w.ensureOpen()
}

// Close 关闭当前文件；之后的写入会重新打开。
func (w *RotatingFile) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}
