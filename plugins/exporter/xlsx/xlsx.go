// Package xlsx 将结构化载荷导出为单工作表的 Excel 工作簿。
package xlsx

import (
	"context"
	"fmt"

	"github.com/mattn/go-runewidth"
	"github.com/xuri/excelize/v2"

	"aiinsight/pkg/contract"
)

// Options 为 xlsx 导出的可选配置。
type Options struct {
	SheetName    string `json:"sheet_name"`    // 默认 Sheet1
	HeaderColor  string `json:"header_color"`  // 表头底色（RGB hex），默认 D9E1F2
	Padding      int    `json:"padding"`       // 列宽额外留白（字符），默认 2
	FreezeHeader *bool  `json:"freeze_header"` // 冻结表头行，默认 true
}

// Excel 列宽上限。
const maxColWidth = 255

type Exporter struct {
	sheet   string
	color   string
	padding int
	freeze  bool
}

func New(opts *Options) *Exporter {
	e := &Exporter{sheet: "Sheet1", color: "D9E1F2", padding: 2, freeze: true}
	if opts != nil {
		if opts.SheetName != "" {
			e.sheet = opts.SheetName
		}
		if opts.HeaderColor != "" {
			e.color = opts.HeaderColor
		}
		if opts.Padding > 0 {
			e.padding = opts.Padding
		}
		if opts.FreezeHeader != nil {
			e.freeze = *opts.FreezeHeader
		}
	}
	return e
}

var _ contract.Exporter = (*Exporter)(nil)

// Export: 表头为所选列（调用方顺序），每条记录一行，缺失键为空串；
// 列宽取该列最长显示宽度（含表头）加留白。
func (e *Exporter) Export(ctx context.Context, in contract.ExportInput) ([]byte, error) {
	if in.Payload == nil {
		return nil, contract.ErrNoStructuredData
	}
	cols := in.SelectedColumns()
	if len(cols) == 0 {
		return nil, fmt.Errorf("xlsx: %w: no columns", contract.ErrInvalidInput)
	}

	f := excelize.NewFile()
	defer f.Close()
	if e.sheet != "Sheet1" {
		if err := f.SetSheetName("Sheet1", e.sheet); err != nil {
			return nil, fmt.Errorf("xlsx sheet name: %w", err)
		}
	}

	widths := make([]int, len(cols))
	header := make([]any, len(cols))
	for i, c := range cols {
		header[i] = c
		widths[i] = runewidth.StringWidth(c)
	}
	if err := f.SetSheetRow(e.sheet, "A1", &header); err != nil {
		return nil, err
	}
	style, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{e.color}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("xlsx style: %w", err)
	}
	last, _ := excelize.CoordinatesToCellName(len(cols), 1)
	if err := f.SetCellStyle(e.sheet, "A1", last, style); err != nil {
		return nil, err
	}

	for i := 0; i < in.Payload.Len(); i++ {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		vals := in.Payload.Row(i, cols)
		row := make([]any, len(vals))
		for j, v := range vals {
			row[j] = v
			if w := runewidth.StringWidth(v); w > widths[j] {
				widths[j] = w
			}
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(e.sheet, cell, &row); err != nil {
			return nil, err
		}
	}

	for i, w := range widths {
		name, _ := excelize.ColumnNumberToName(i + 1)
		width := w + e.padding
		if width > maxColWidth {
			width = maxColWidth
		}
		if err := f.SetColWidth(e.sheet, name, name, float64(width)); err != nil {
			return nil, err
		}
	}
	if e.freeze {
		if err := f.SetPanes(e.sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
			return nil, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

func (e *Exporter) FileExtension() string { return ".xlsx" }
func (e *Exporter) MimeType() string {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}
func (e *Exporter) NeedsPayload() bool { return true }
