package filesystem

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"aiinsight/pkg/contract"
)

// Options: 导出目录 Writer 的选项。
type Options struct {
	// OutputDir: 输出目录（必需）。
	OutputDir string `json:"output_dir"`
	// Atomic: 是否使用原子替换（同目录临时文件 + rename）。默认 true。
	Atomic *bool `json:"atomic,omitempty"`
	// Overwrite: 目标已存在时是否覆盖。默认 false：改名为 "<base>-<n><ext>"。
	Overwrite bool `json:"overwrite,omitempty"`
	// PermFile/PermDir: 可选权限；为 0 表示使用默认。
	PermFile os.FileMode `json:"perm_file,omitempty"`
	PermDir  os.FileMode `json:"perm_dir,omitempty"`
	// BufSize: 写缓冲区大小；<=0 使用默认。
	BufSize int `json:"buf_size,omitempty"`
}

// maxRename: 同名改名的最大尝试次数。
const maxRename = 1000

type FS struct {
	root      string
	atomic    bool
	overwrite bool
	permF     os.FileMode
	permD     os.FileMode
	bufSize   int
}

// New 创建文件系统 Writer。
func New(opts *Options) (*FS, error) {
	if opts == nil || strings.TrimSpace(opts.OutputDir) == "" {
		return nil, fmt.Errorf("writer: %w: output_dir required", contract.ErrInvalidInput)
	}
	w := &FS{root: opts.OutputDir, atomic: true, overwrite: opts.Overwrite, permF: 0o644, permD: 0o755, bufSize: 64 * 1024}
	if opts.Atomic != nil {
		w.atomic = *opts.Atomic
	}
	if opts.PermFile != 0 {
		w.permF = opts.PermFile
	}
	if opts.PermDir != 0 {
		w.permD = opts.PermDir
	}
	if opts.BufSize > 0 {
		w.bufSize = opts.BufSize
	}
	return w, nil
}

var _ contract.Writer = (*FS)(nil)

// Root 返回输出目录。
func (w *FS) Root() string { return w.root }

// Write 将 r 的全部字节写入 OutputDir/id，返回最终路径。
func (w *FS) Write(ctx context.Context, id contract.ArtifactID, r io.Reader) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	name, err := checkName(id)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(w.root, w.permD); err != nil {
		return "", err
	}
	if w.atomic {
		return w.writeAtomic(ctx, name, r)
	}
	return w.writeDirect(ctx, name, r)
}

// checkName: id 必须是单一文件名。
func checkName(id contract.ArtifactID) (string, error) {
	s := string(id)
	if s == "" || s == "." || s == ".." || strings.ContainsAny(s, `/\`) || filepath.VolumeName(s) != "" {
		return "", fmt.Errorf("%w: %q", contract.ErrPathInvalid, s)
	}
	return s, nil
}

// candidate 返回第 n 个候选文件名：n=0 为原名，其余为 "<base>-<n><ext>"。
func candidate(name string, n int) string {
	if n == 0 {
		return name
	}
	ext := filepath.Ext(name)
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(name, ext), n, ext)
}

func (w *FS) writeDirect(ctx context.Context, name string, r io.Reader) (string, error) {
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if !w.overwrite {
		flags = os.O_CREATE | os.O_WRONLY | os.O_EXCL
	}
	for n := 0; n < maxRename; n++ {
		dest := filepath.Join(w.root, candidate(name, n))
		f, err := os.OpenFile(dest, flags, w.permF)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}
		bw := bufio.NewWriterSize(f, w.bufSize)
		if _, err := io.Copy(bw, readerWithCtx(ctx, r)); err != nil {
			_ = f.Close()
			_ = os.Remove(dest)
			return "", err
		}
		if err := bw.Flush(); err != nil {
			_ = f.Close()
			return "", err
		}
		return dest, f.Close()
	}
	return "", fmt.Errorf("%w: too many files named like %q", contract.ErrPathInvalid, name)
}

func (w *FS) writeAtomic(ctx context.Context, name string, r io.Reader) (string, error) {
	tmp, err := os.CreateTemp(w.root, ".tmp-*")
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()
	_ = os.Chmod(tmpPath, w.permF)
	fail := func(err error) (string, error) {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", err
	}

	bw := bufio.NewWriterSize(tmp, w.bufSize)
	if _, err := io.Copy(bw, readerWithCtx(ctx, r)); err != nil {
		return fail(err)
	}
	if err := bw.Flush(); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", err
	}

	dest := filepath.Join(w.root, name)
	if !w.overwrite {
		dest = ""
		for n := 0; n < maxRename; n++ {
			p := filepath.Join(w.root, candidate(name, n))
			if _, err := os.Lstat(p); errors.Is(err, os.ErrNotExist) {
				dest = p
				break
			}
		}
		if dest == "" {
			_ = os.Remove(tmpPath)
			return "", fmt.Errorf("%w: too many files named like %q", contract.ErrPathInvalid, name)
		}
	}
	if err := osReplace(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return "", err
	}
	_ = syncDir(w.root)
	return dest, nil
}

// readerWithCtx: 在每次 Read 前检查 ctx 是否已取消。
func readerWithCtx(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	select {
	case <-cr.ctx.Done():
		return 0, cr.ctx.Err()
	default:
	}
	return cr.r.Read(p)
}
