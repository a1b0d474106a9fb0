package filesystem

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"aiinsight/pkg/contract"
)

// Options 为 FileSystem Reader 的可选配置（最小必要）。
type Options struct {
	// BufSize 为读缓冲区大小（字节）。默认 64KiB。
	BufSize int `json:"buf_size"`
}

// FileSystem 从本地文件系统加载单个上传文件。
type FileSystem struct {
	bufSize int
}

// New 创建 FileSystem Reader。
func New(opts *Options) *FileSystem {
	const defaultBuf = 64 * 1024
	b := defaultBuf
	if opts != nil && opts.BufSize > 0 {
		b = opts.BufSize
	}
	return &FileSystem{bufSize: b}
}

var _ contract.Reader = (*FileSystem)(nil)

// Load 读取 path 指向的常规文件。
// 后缀不受支持时直接返回 ErrUnsupportedFormat，不触碰文件内容。
func (r *FileSystem) Load(ctx context.Context, path string) (contract.Upload, error) {
	select {
	case <-ctx.Done():
		return contract.Upload{}, ctx.Err()
	default:
	}
	name := contract.NormalizeUploadName(path)
	if _, err := contract.DetectFormat(name); err != nil {
		return contract.Upload{}, fmt.Errorf("%s: %w", name, err)
	}

	info, err := os.Lstat(path)
	if err != nil {
		return contract.Upload{}, err
	}
	// 仅跟随到常规文件
	if info.Mode()&os.ModeSymlink != 0 {
		info, err = os.Stat(path)
		if err != nil {
			return contract.Upload{}, err
		}
	}
	if !info.Mode().IsRegular() {
		return contract.Upload{}, fmt.Errorf("%s: not a regular file: %w", name, contract.ErrInvalidInput)
	}

	f, err := os.Open(path)
	if err != nil {
		return contract.Upload{}, err
	}
	defer f.Close()
	data, err := io.ReadAll(readerWithCtx(ctx, bufio.NewReaderSize(f, r.bufSize)))
	if err != nil {
		return contract.Upload{}, err
	}
	return contract.Upload{Name: name, Data: data}, nil
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
