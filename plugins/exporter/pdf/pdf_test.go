package pdf

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"regexp"
	"strings"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aiinsight/pkg/contract"
)

// pageContent 读取第一页解码后的内容流。
func pageContent(t *testing.T, b []byte) (string, int) {
	t.Helper()
	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(b), model.NewDefaultConfiguration())
	require.NoError(t, err)
	r, err := pdfcpu.ExtractPageContent(ctx, 1)
	require.NoError(t, err)
	content, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(content), ctx.PageCount
}

// showText 返回 content 中文本绘制操作 (text)Tj 的位置；未找到为 -1。
func showText(content, text string) int {
	re := regexp.MustCompile(`\(` + regexp.QuoteMeta(text) + `\)\s*Tj`)
	loc := re.FindStringIndex(content)
	if loc == nil {
		return -1
	}
	return loc[0]
}

func payload() *contract.Payload {
	return &contract.Payload{
		Keys: []string{"name", "note", "score"},
		Records: []contract.Record{
			{"name": json.RawMessage(`"acme"`), "note": json.RawMessage(`"` + strings.Repeat("x", 100) + `"`), "score": json.RawMessage(`9`)},
			{"name": json.RawMessage(`"beta"`)},
		},
	}
}

func TestExportGrid(t *testing.T) {
	b, err := New(nil).Export(context.Background(), contract.ExportInput{Payload: payload(), Columns: []string{"score", "name", "note"}})
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(b, []byte("%PDF-")))
	content, pages := pageContent(t, b)
	assert.Equal(t, 1, pages)
	for _, want := range []string{"score", "name", "acme", "9", "beta"} {
		assert.GreaterOrEqual(t, showText(content, want), 0, "missing %q", want)
	}
	scoreAt, nameAt := showText(content, "score"), showText(content, "name")
	require.GreaterOrEqual(t, scoreAt, 0)
	require.GreaterOrEqual(t, nameAt, 0)
	assert.Less(t, scoreAt, nameAt, "表头应按调用方列序")
	assert.GreaterOrEqual(t, showText(content, strings.Repeat("x", 60)), 0)
	assert.NotContains(t, content, strings.Repeat("x", 61))
}

func TestExportSubset(t *testing.T) {
	b, err := New(nil).Export(context.Background(), contract.ExportInput{Payload: payload(), Columns: []string{"name"}})
	require.NoError(t, err)
	content, _ := pageContent(t, b)
	assert.GreaterOrEqual(t, showText(content, "acme"), 0)
	assert.Equal(t, -1, showText(content, "score"))
	assert.NotContains(t, content, "xxxx")
}

func TestExportOptimized(t *testing.T) {
	b, err := New(&Options{Optimize: true, Portrait: true}).Export(context.Background(), contract.ExportInput{Payload: payload()})
	require.NoError(t, err)
	_, pages := pageContent(t, b)
	assert.Equal(t, 1, pages)
}

func TestManyRowsPaginate(t *testing.T) {
	p := &contract.Payload{Keys: []string{"i"}}
	for i := 0; i < 200; i++ {
		p.Records = append(p.Records, contract.Record{"i": json.RawMessage(`"row"`)})
	}
	b, err := New(nil).Export(context.Background(), contract.ExportInput{Payload: p})
	require.NoError(t, err)
	_, pages := pageContent(t, b)
	assert.Greater(t, pages, 1)
}

func TestExportNeedsPayload(t *testing.T) {
	e := New(nil)
	_, err := e.Export(context.Background(), contract.ExportInput{})
	assert.ErrorIs(t, err, contract.ErrNoStructuredData)
	assert.Equal(t, "ai_response.pdf", contract.FileName(e))
	assert.Equal(t, "application/pdf", e.MimeType())
}
