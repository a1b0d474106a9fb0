package contract

import (
	"path"
	"strings"
)

// NormalizeUploadName 规范化上传文件名，仅保留基名。
// 规则：
// - 反斜杠统一为正斜杠（浏览器可能上送 Windows 完整路径）；
// - 清理多余分隔符与路径片段（.、..）后取基名；
// - 空输入返回空串。
func NormalizeUploadName(p string) string {
	s := strings.TrimSpace(p)
	if s == "" {
		return ""
	}
	s = strings.ReplaceAll(s, "\\", "/")
	s = path.Base(path.Clean(s))
	if s == "." || s == "/" || s == ".." {
		return ""
	}
	return s
}

// DetectFormat 按后缀（大小写不敏感）判定上传格式；其余后缀返回 ErrUnsupportedFormat。
func DetectFormat(name string) (Format, error) {
	base := strings.ToLower(NormalizeUploadName(name))
	switch {
	case strings.HasSuffix(base, ".xlsx"):
		return FormatXLSX, nil
	case strings.HasSuffix(base, ".docx"):
		return FormatDOCX, nil
	default:
		return "", ErrUnsupportedFormat
	}
}
