package contract

// Format: 上传容器格式（仅按文件名后缀区分，大小写不敏感）。
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatDOCX Format = "docx"
)

// Upload: 一次上传的原始载荷。Name 为原始文件名（可能带客户端路径），Data 为完整字节。
// 约束：只读；在单次上传处理期间有效。
type Upload struct {
	Name string
	Data []byte
}

// Kind: Source Document 的形态。
type Kind string

const (
	KindTabular Kind = "tabular"
	KindText    Kind = "text"
)

// Table: 表格型 Source Document（有序列名 + 有序行）。
// 行长度与列数一致（短行由解析方补空串）。
type Table struct {
	Columns []string
	Rows    [][]string
}

// TextDocument: 文本型 Source Document（段落序列）。
type TextDocument struct {
	Paragraphs []string
}

// Bounds: 内容摘录的上界。两者均须为正数。
type Bounds struct {
	MaxRows  int
	MaxChars int
}

// Excerpt: 由 Source Document 派生的有界纯文本（Content Excerpt）。
// 约束：
//  1. 截断只保留前缀（前 N 行 / 前 N 个字符），不做采样；
//  2. Tabular: Rows <= Bounds.MaxRows，Truncated == (TotalRows > MaxRows)；
//  3. Text: 字符数（rune）<= Bounds.MaxChars。
type Excerpt struct {
	Name      string
	Kind      Kind
	Text      string
	Truncated bool
	// Rows/TotalRows 仅对 tabular 有意义。
	Rows      int
	TotalRows int
	Columns   []string
}

// Empty 报告是否尚未加载任何内容。
func (e Excerpt) Empty() bool { return e.Kind == "" }

// Role: 会话角色。
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn: Chat History 中的一轮（user 或 assistant）。
type Turn struct {
	Role Role
	Text string
}

// Preview 返回摘录的预览片段：tabular 取表头与前 lines 行，text 取前 chars 个字符。
func (e Excerpt) Preview(lines, chars int) string {
	if e.Kind == KindTabular {
		if lines < 0 {
			return e.Text
		}
		n := 0
		for i := 0; i < len(e.Text); i++ {
			if e.Text[i] == '\n' {
				if n == lines {
					return e.Text[:i]
				}
				n++
			}
		}
		return e.Text
	}
	if chars < 0 {
		return e.Text
	}
	r := []rune(e.Text)
	if len(r) <= chars {
		return e.Text
	}
	return string(r[:chars])
}
