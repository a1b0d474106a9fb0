// Package jsondump 将结构化载荷按所选列（调用方顺序）导出为 JSON 数组。
package jsondump

import (
	"bytes"
	"context"
	"encoding/json"

	"aiinsight/pkg/contract"
)

// Options: Indent 为缩进字符串；空串输出紧凑 JSON。默认两个空格。
type Options struct {
	Indent *string `json:"indent"`
}

type Exporter struct {
	indent string
}

func New(opts *Options) *Exporter {
	e := &Exporter{indent: "  "}
	if opts != nil && opts.Indent != nil {
		e.indent = *opts.Indent
	}
	return e
}

var _ contract.Exporter = (*Exporter)(nil)

// Export: 对象键按所选列顺序写出；缺失键写 null。
func (e *Exporter) Export(ctx context.Context, in contract.ExportInput) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if in.Payload == nil {
		return nil, contract.ErrNoStructuredData
	}
	cols := in.SelectedColumns()
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, rec := range in.Payload.Records {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('{')
		for j, c := range cols {
			if j > 0 {
				buf.WriteByte(',')
			}
			k, _ := json.Marshal(c)
			buf.Write(k)
			buf.WriteByte(':')
			if v, ok := rec[c]; ok && len(bytes.TrimSpace(v)) > 0 {
				buf.Write(v)
			} else {
				buf.WriteString("null")
			}
		}
		buf.WriteByte('}')
	}
	buf.WriteByte(']')

	var out bytes.Buffer
	if e.indent == "" {
		if err := json.Compact(&out, buf.Bytes()); err != nil {
			return nil, err
		}
	} else if err := json.Indent(&out, buf.Bytes(), "", e.indent); err != nil {
		return nil, err
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

func (e *Exporter) FileExtension() string { return ".json" }
func (e *Exporter) MimeType() string      { return "application/json" }
func (e *Exporter) NeedsPayload() bool    { return true }
