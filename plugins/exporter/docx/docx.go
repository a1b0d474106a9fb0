// Package docx 将结构化载荷导出为仅含一张表格的 Word 文档。
package docx

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"strings"

	"aiinsight/pkg/contract"
)

// Options 为 docx 导出的可选配置。
type Options struct {
	Title       string `json:"title"`        // 表格前的标题段落（可选）
	HeaderColor string `json:"header_color"` // 表头底色，默认 D9E1F2
}

type Exporter struct {
	title string
	color string
}

func New(opts *Options) *Exporter {
	e := &Exporter{color: "D9E1F2"}
	if opts != nil {
		e.title = opts.Title
		if opts.HeaderColor != "" {
			e.color = opts.HeaderColor
		}
	}
	return e
}

var _ contract.Exporter = (*Exporter)(nil)

const contentTypes = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">` +
	`<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>` +
	`<Default Extension="xml" ContentType="application/xml"/>` +
	`<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>` +
	`</Types>`

const rootRels = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` +
	`<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>` +
	`</Relationships>`

const borders = `<w:tblBorders>` +
	`<w:top w:val="single" w:sz="4" w:space="0" w:color="auto"/>` +
	`<w:left w:val="single" w:sz="4" w:space="0" w:color="auto"/>` +
	`<w:bottom w:val="single" w:sz="4" w:space="0" w:color="auto"/>` +
	`<w:right w:val="single" w:sz="4" w:space="0" w:color="auto"/>` +
	`<w:insideH w:val="single" w:sz="4" w:space="0" w:color="auto"/>` +
	`<w:insideV w:val="single" w:sz="4" w:space="0" w:color="auto"/>` +
	`</w:tblBorders>`

// Export: 单表格；表头为所选列，每条记录一行，值统一字符串化。
func (e *Exporter) Export(ctx context.Context, in contract.ExportInput) ([]byte, error) {
	if in.Payload == nil {
		return nil, contract.ErrNoStructuredData
	}
	cols := in.SelectedColumns()
	if len(cols) == 0 {
		return nil, fmt.Errorf("docx: %w: no columns", contract.ErrInvalidInput)
	}

	var doc strings.Builder
	doc.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n")
	doc.WriteString(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)
	if e.title != "" {
		doc.WriteString(`<w:p><w:r><w:rPr><w:b/><w:sz w:val="28"/></w:rPr>`)
		writeText(&doc, e.title)
		doc.WriteString(`</w:r></w:p>`)
	}
	doc.WriteString(`<w:tbl><w:tblPr><w:tblW w:w="0" w:type="auto"/>` + borders + `</w:tblPr><w:tblGrid>`)
	for range cols {
		doc.WriteString(`<w:gridCol/>`)
	}
	doc.WriteString(`</w:tblGrid>`)

	doc.WriteString(`<w:tr><w:trPr><w:tblHeader/></w:trPr>`)
	for _, c := range cols {
		doc.WriteString(`<w:tc><w:tcPr><w:shd w:val="clear" w:color="auto" w:fill="` + e.color + `"/></w:tcPr><w:p><w:r><w:rPr><w:b/></w:rPr>`)
		writeText(&doc, c)
		doc.WriteString(`</w:r></w:p></w:tc>`)
	}
	doc.WriteString(`</w:tr>`)

	for i := 0; i < in.Payload.Len(); i++ {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		doc.WriteString(`<w:tr>`)
		for _, v := range in.Payload.Row(i, cols) {
			doc.WriteString(`<w:tc><w:p><w:r>`)
			writeText(&doc, v)
			doc.WriteString(`</w:r></w:p></w:tc>`)
		}
		doc.WriteString(`</w:tr>`)
	}
	doc.WriteString(`</w:tbl><w:p/><w:sectPr/></w:body></w:document>`)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, part := range []struct{ name, body string }{
		{"[Content_Types].xml", contentTypes},
		{"_rels/.rels", rootRels},
		{"word/document.xml", doc.String()},
	} {
		w, err := zw.Create(part.name)
		if err != nil {
			return nil, fmt.Errorf("docx %s: %w", part.name, err)
		}
		if _, err := w.Write([]byte(part.body)); err != nil {
			return nil, fmt.Errorf("docx %s: %w", part.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("docx close: %w", err)
	}
	return buf.Bytes(), nil
}

// writeText 写出 <w:t>，换行转为 <w:br/>。
func writeText(sb *strings.Builder, s string) {
	for i, line := range strings.Split(s, "\n") {
		if i > 0 {
			sb.WriteString(`<w:br/>`)
		}
		sb.WriteString(`<w:t xml:space="preserve">`)
		var esc bytes.Buffer
		_ = xml.EscapeText(&esc, []byte(strings.TrimSuffix(line, "\r")))
		sb.Write(esc.Bytes())
		sb.WriteString(`</w:t>`)
	}
}

func (e *Exporter) FileExtension() string { return ".docx" }
func (e *Exporter) MimeType() string {
	return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
}
func (e *Exporter) NeedsPayload() bool { return true }
