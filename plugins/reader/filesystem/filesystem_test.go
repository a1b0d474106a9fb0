package filesystem

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"aiinsight/pkg/contract"
)

// TestLoadSingleFile 读取单文件
func TestLoadSingleFile(t *testing.T) {
	dir := t.TempDir()
	fp := filepath.Join(dir, "Report.XLSX")
	if err := os.WriteFile(fp, []byte("hello"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	up, err := New(&Options{BufSize: 2}).Load(context.Background(), fp)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if up.Name != "Report.XLSX" || string(up.Data) != "hello" {
		t.Fatalf("unexpected upload %q %q", up.Name, string(up.Data))
	}
}

// TestLoadUnsupportedBeforeRead 不支持的后缀在读取前拒绝（文件不存在也应返回 ErrUnsupportedFormat）
func TestLoadUnsupportedBeforeRead(t *testing.T) {
	_, err := New(nil).Load(context.Background(), filepath.Join(t.TempDir(), "missing.csv"))
	if !errors.Is(err, contract.ErrUnsupportedFormat) {
		t.Fatalf("want ErrUnsupportedFormat got %v", err)
	}
}

// TestLoadMissing 文件不存在
func TestLoadMissing(t *testing.T) {
	_, err := New(nil).Load(context.Background(), filepath.Join(t.TempDir(), "missing.docx"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("want not exist got %v", err)
	}
}

// TestLoadDirectory 目录不是常规文件
func TestLoadDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "folder.docx")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if _, err := New(nil).Load(context.Background(), dir); !errors.Is(err, contract.ErrInvalidInput) {
		t.Fatalf("want ErrInvalidInput got %v", err)
	}
}

// TestLoadSymlink 符号链接指向常规文件时跟随
func TestLoadSymlink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "real.docx")
	if err := os.WriteFile(target, []byte("doc"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	link := filepath.Join(dir, "link.docx")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlink unsupported: %v", err)
	}
	up, err := New(nil).Load(context.Background(), link)
	if err != nil || string(up.Data) != "doc" || up.Name != "link.docx" {
		t.Fatalf("symlink load: %v %+v", err, up)
	}
}

// TestLoadCanceled 取消的上下文快速返回
func TestLoadCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(nil).Load(ctx, "a.xlsx"); !errors.Is(err, context.Canceled) {
		t.Fatalf("want canceled got %v", err)
	}
}
