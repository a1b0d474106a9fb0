//go:build !windows

package filesystem

import "os"

// osReplace 将写完的临时工件（输出目录下的 .tmp-*）换成正式的 ai_response.<ext>。
// 临时文件与目标同目录，rename 对读取方原子可见：要么旧导出，要么新导出。
func osReplace(tmpPath, dest string) error {
	return os.Rename(tmpPath, dest)
}

// syncDir 在换名后 fsync 输出目录，使新工件的目录项落盘。
func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
