// Package pdf 将结构化载荷导出为打印用 PDF 网格（固定列宽，单元格截断）。
package pdf

import (
	"bytes"
	"context"
	"fmt"

	"github.com/go-pdf/fpdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"aiinsight/pkg/contract"
)

// Options 为 pdf 导出的可选配置。
type Options struct {
	ColumnWidthMM float64 `json:"column_width_mm"` // 每列固定宽度，默认 40
	RowHeightMM   float64 `json:"row_height_mm"`   // 行高，默认 7
	MaxCellChars  int     `json:"max_cell_chars"`  // 单元格截断字符数，默认 60
	FontSize      float64 `json:"font_size"`       // 默认 8
	// FontPath: UTF-8 TTF 字体；为空时使用内置 Helvetica（cp1252，其余字符不可见）。
	FontPath string `json:"font_path"`
	// Portrait=true 时纵向 A4，默认横向。
	Portrait bool `json:"portrait"`
	// Optimize=true 时用 pdfcpu 对产物做一次优化。
	Optimize bool `json:"optimize"`
}

type Exporter struct {
	colW, rowH float64
	maxChars   int
	fontSize   float64
	fontPath   string
	orient     string
	optimize   bool
}

func New(opts *Options) *Exporter {
	e := &Exporter{colW: 40, rowH: 7, maxChars: 60, fontSize: 8, orient: "L"}
	if opts == nil {
		return e
	}
	if opts.ColumnWidthMM > 0 {
		e.colW = opts.ColumnWidthMM
	}
	if opts.RowHeightMM > 0 {
		e.rowH = opts.RowHeightMM
	}
	if opts.MaxCellChars > 0 {
		e.maxChars = opts.MaxCellChars
	}
	if opts.FontSize > 0 {
		e.fontSize = opts.FontSize
	}
	if opts.Portrait {
		e.orient = "P"
	}
	e.fontPath = opts.FontPath
	e.optimize = opts.Optimize
	return e
}

var _ contract.Exporter = (*Exporter)(nil)

// Export: 表头 + 每条记录一行；超出页面宽度不做处理，分页沿用 fpdf 默认自动分页。
func (e *Exporter) Export(ctx context.Context, in contract.ExportInput) ([]byte, error) {
	if in.Payload == nil {
		return nil, contract.ErrNoStructuredData
	}
	cols := in.SelectedColumns()
	if len(cols) == 0 {
		return nil, fmt.Errorf("pdf: %w: no columns", contract.ErrInvalidInput)
	}

	doc := fpdf.New(e.orient, "mm", "A4", "")
	doc.SetMargins(10, 10, 10)
	doc.SetCreator("aiinsight", true)
	family := "Helvetica"
	tr := doc.UnicodeTranslatorFromDescriptor("")
	if e.fontPath != "" {
		family = "body"
		doc.AddUTF8Font(family, "", e.fontPath)
		doc.AddUTF8Font(family, "B", e.fontPath)
		tr = func(s string) string { return s }
	}
	doc.AddPage()

	doc.SetFont(family, "B", e.fontSize)
	doc.SetFillColor(217, 225, 242)
	for _, c := range cols {
		doc.CellFormat(e.colW, e.rowH, tr(e.clip(c)), "1", 0, "L", true, 0, "")
	}
	doc.Ln(-1)

	doc.SetFont(family, "", e.fontSize)
	for i := 0; i < in.Payload.Len(); i++ {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for _, v := range in.Payload.Row(i, cols) {
			doc.CellFormat(e.colW, e.rowH, tr(e.clip(v)), "1", 0, "L", false, 0, "")
		}
		doc.Ln(-1)
	}

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("pdf render: %w", err)
	}
	if !e.optimize {
		return buf.Bytes(), nil
	}
	var out bytes.Buffer
	if err := api.Optimize(bytes.NewReader(buf.Bytes()), &out, model.NewDefaultConfiguration()); err != nil {
		return nil, fmt.Errorf("pdf optimize: %w", err)
	}
	return out.Bytes(), nil
}

// clip 截断为前 maxChars 个字符，并将换行折叠为空格。
func (e *Exporter) clip(s string) string {
	r := []rune(s)
	if len(r) > e.maxChars {
		r = r[:e.maxChars]
	}
	for i, c := range r {
		if c == '\n' || c == '\r' || c == '\t' {
			r[i] = ' '
		}
	}
	return string(r)
}

func (e *Exporter) FileExtension() string { return ".pdf" }
func (e *Exporter) MimeType() string      { return "application/pdf" }
func (e *Exporter) NeedsPayload() bool    { return true }
