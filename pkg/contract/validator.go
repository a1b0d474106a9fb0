package contract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

// Record: 结构化载荷中的一条记录（列名 → 原样 JSON 值）。
type Record map[string]json.RawMessage

// Payload: Structured Payload。
// 约束：Keys 取自首条记录（按出现顺序），所有行按 Keys 访问；
// 后续记录缺失的键在渲染时视为空串，而非查找错误。
type Payload struct {
	Keys    []string
	Records []Record
}

// Len 返回记录数；nil 安全。
func (p *Payload) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Records)
}

// HasKey 报告 key 是否属于载荷键集合。
func (p *Payload) HasKey(key string) bool {
	if p == nil {
		return false
	}
	for _, k := range p.Keys {
		if k == key {
			return true
		}
	}
	return false
}

// Cell 将第 i 条记录的 key 列渲染为字符串：
// 字符串取其值；null 或缺失为空串；其余（数字/布尔/嵌套）取紧凑 JSON 文本。
func (p *Payload) Cell(i int, key string) string {
	if p == nil || i < 0 || i >= len(p.Records) {
		return ""
	}
	raw, ok := p.Records[i][key]
	if !ok {
		return ""
	}
	return cellText(raw)
}

// Row 按 cols 顺序渲染第 i 条记录。
func (p *Payload) Row(i int, cols []string) []string {
	out := make([]string, len(cols))
	for j, c := range cols {
		out[j] = p.Cell(i, c)
	}
	return out
}

func cellText(raw json.RawMessage) string {
	t := bytes.TrimSpace(raw)
	if len(t) == 0 || bytes.Equal(t, []byte("null")) {
		return ""
	}
	if t[0] == '"' {
		var s string
		if err := json.Unmarshal(t, &s); err == nil {
			return s
		}
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, t); err != nil {
		return string(t)
	}
	return buf.String()
}

// ValidateColumns 校验列选择：非空、无重复、且均属于载荷键集合。
// 违例返回包装的 ErrInvalidInput。
func ValidateColumns(p *Payload, cols []string) error {
	if p == nil {
		return ErrNoStructuredData
	}
	if len(cols) == 0 {
		return fmt.Errorf("%w: empty column selection", ErrInvalidInput)
	}
	seen := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		if !p.HasKey(c) {
			return fmt.Errorf("%w: unknown column %q", ErrInvalidInput, c)
		}
		if _, dup := seen[c]; dup {
			return fmt.Errorf("%w: duplicate column %q", ErrInvalidInput, c)
		}
		seen[c] = struct{}{}
	}
	return nil
}

// Extraction: Structured Response Extractor 的产出。
// Payload 为 nil 表示无结构化数据；Degraded 非空表示存在 fenced 块但不可用（ExtractionDegraded，非错误）。
type Extraction struct {
	HumanText string
	Payload   *Payload
	Degraded  string
}

// Extractor: 从原始回答中分离人类可读文本与结构化载荷。
// 约束：幂等、纯计算；任何解析失败只降级，不返回错误（ctx 取消除外）。
type Extractor interface {
	Extract(ctx context.Context, a Answer) (Extraction, error)
}
