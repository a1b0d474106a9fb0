// Package text 导出原始回答文本（抽取前，一字不改）。
package text

import (
	"context"

	"aiinsight/pkg/contract"
)

// Options: 当前无配置。
type Options struct{}

type Exporter struct{}

func New(*Options) *Exporter { return &Exporter{} }

var _ contract.Exporter = (*Exporter)(nil)

func (e *Exporter) Export(ctx context.Context, in contract.ExportInput) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []byte(in.Answer.Text), nil
}

func (e *Exporter) FileExtension() string { return ".txt" }
func (e *Exporter) MimeType() string      { return "text/plain; charset=utf-8" }
func (e *Exporter) NeedsPayload() bool    { return false }
