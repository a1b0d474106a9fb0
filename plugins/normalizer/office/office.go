// Package office 实现 Input Normalizer：.xlsx 工作簿与 .docx 文档 → 有界纯文本摘录。
package office

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"aiinsight/pkg/contract"
)

// Options 为 office normalizer 的可选配置。
type Options struct {
	// RawValues=true 时读取单元格原始值（不套用数字格式）。
	RawValues bool `json:"raw_values"`
	// MaxDocumentBytes 为 word/document.xml 解压后的上限（字节）。默认 64MiB。
	MaxDocumentBytes int64 `json:"max_document_bytes"`
}

const defaultMaxDocumentBytes = 64 << 20

// Office 按后缀分派到 xlsx / docx 解析器。
type Office struct {
	rawValues bool
	maxDoc    int64
}

// New 创建 normalizer。
func New(opts *Options) *Office {
	o := &Office{maxDoc: defaultMaxDocumentBytes}
	if opts != nil {
		o.rawValues = opts.RawValues
		if opts.MaxDocumentBytes > 0 {
			o.maxDoc = opts.MaxDocumentBytes
		}
	}
	return o
}

var _ contract.Normalizer = (*Office)(nil)

// Normalize 解析上传并按 Bounds 截断为前缀摘录。
func (o *Office) Normalize(ctx context.Context, up contract.Upload, b contract.Bounds) (contract.Excerpt, error) {
	if b.MaxRows <= 0 || b.MaxChars <= 0 {
		return contract.Excerpt{}, fmt.Errorf("%w: bounds must be positive (rows=%d chars=%d)", contract.ErrInvalidInput, b.MaxRows, b.MaxChars)
	}
	name := contract.NormalizeUploadName(up.Name)
	format, err := contract.DetectFormat(name)
	if err != nil {
		return contract.Excerpt{}, fmt.Errorf("%s: %w", name, err)
	}
	if err := ctx.Err(); err != nil {
		return contract.Excerpt{}, err
	}

	switch format {
	case contract.FormatXLSX:
		tbl, err := readWorkbook(up.Data, o.rawValues)
		if err != nil {
			return contract.Excerpt{}, &contract.ParseError{Name: name, Format: format, Cause: err}
		}
		return tabularExcerpt(name, tbl, b.MaxRows), nil
	default:
		doc, err := readDocument(up.Data, o.maxDoc)
		if err != nil {
			return contract.Excerpt{}, &contract.ParseError{Name: name, Format: format, Cause: err}
		}
		return textExcerpt(name, doc, b.MaxChars), nil
	}
}

func tabularExcerpt(name string, tbl contract.Table, maxRows int) contract.Excerpt {
	total := len(tbl.Rows)
	kept := tbl.Rows
	if total > maxRows {
		kept = kept[:maxRows]
	}
	return contract.Excerpt{
		Name:      name,
		Kind:      contract.KindTabular,
		Text:      renderTable(tbl.Columns, kept),
		Truncated: total > maxRows,
		Rows:      len(kept),
		TotalRows: total,
		Columns:   append([]string(nil), tbl.Columns...),
	}
}

func textExcerpt(name string, doc contract.TextDocument, maxChars int) contract.Excerpt {
	full := strings.Join(doc.Paragraphs, "\n")
	text, cut := truncateRunes(full, maxChars)
	return contract.Excerpt{
		Name:      name,
		Kind:      contract.KindText,
		Text:      text,
		Truncated: cut,
	}
}

// truncateRunes 保留前 n 个字符（rune）。
func truncateRunes(s string, n int) (string, bool) {
	if utf8.RuneCountInString(s) <= n {
		return s, false
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos], true
		}
		i++
	}
	return s, false
}

func nfc(s string) string { return norm.NFC.String(s) }
