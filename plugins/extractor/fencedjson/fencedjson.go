package fencedjson

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"aiinsight/pkg/contract"
)

// Options: 当前无配置；保留以便严格解析未知字段。
type Options struct{}

// fence 匹配语言标记恰为 json（区分大小写）的 fenced 块。
// 标记后紧跟非单词字符（空白、[、{ 等）或直接闭合；jsonc/json5 等不匹配。
var fence = regexp.MustCompile("(?s)```json(?:([^\\w`].*?))?```")

// Degraded 原因。
const (
	ReasonInvalidJSON = "invalid_json"
	ReasonNotRecords  = "not_records"
	ReasonEmpty       = "empty_array"
)

type extractor struct{}

// New 从原样 JSON Options 创建抽取器。
func New(raw json.RawMessage) (contract.Extractor, error) {
	var opts Options
	if len(raw) > 0 {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&opts); err != nil {
			return nil, fmt.Errorf("fencedjson options: %w", err)
		}
	}
	return &extractor{}, nil
}

var _ contract.Extractor = (*extractor)(nil)

// Extract: 仅解析第一个 json 块；humanText 去除所有 json 块后 TrimSpace。
// 解析失败只降级（Payload=nil, Degraded 非空），不返回错误。
func (e *extractor) Extract(ctx context.Context, a contract.Answer) (contract.Extraction, error) {
	select {
	case <-ctx.Done():
		return contract.Extraction{}, ctx.Err()
	default:
	}
	m := fence.FindStringSubmatchIndex(a.Text)
	if m == nil {
		return contract.Extraction{HumanText: strings.TrimSpace(a.Text)}, nil
	}
	out := contract.Extraction{HumanText: strings.TrimSpace(fence.ReplaceAllString(a.Text, ""))}
	inner := ""
	if m[2] >= 0 {
		inner = a.Text[m[2]:m[3]]
	}
	p, err := parsePayload([]byte(strings.TrimSpace(inner)))
	if err != nil {
		out.Degraded = reasonOf(err)
		return out, nil
	}
	out.Payload = p
	return out, nil
}

var (
	errNotRecords = errors.New("not an array of objects")
	errEmpty      = errors.New("empty array")
)

func reasonOf(err error) string {
	switch {
	case errors.Is(err, errNotRecords):
		return ReasonNotRecords
	case errors.Is(err, errEmpty):
		return ReasonEmpty
	default:
		return ReasonInvalidJSON
	}
}

// parsePayload: 顶层须为非空对象数组；键序取自首条记录。
func parsePayload(b []byte) (*contract.Payload, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(b, &elems); err != nil {
		var ute *json.UnmarshalTypeError
		if errors.As(err, &ute) {
			return nil, errNotRecords
		}
		return nil, err
	}
	if len(elems) == 0 {
		return nil, errEmpty
	}
	recs := make([]contract.Record, 0, len(elems))
	for _, el := range elems {
		var r contract.Record
		if err := json.Unmarshal(el, &r); err != nil || r == nil {
			return nil, errNotRecords
		}
		recs = append(recs, r)
	}
	keys, err := objectKeys(elems[0])
	if err != nil {
		return nil, err
	}
	return &contract.Payload{Keys: keys, Records: recs}, nil
}

// objectKeys 按出现顺序返回对象的键（去重）。
func objectKeys(raw json.RawMessage) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	var keys []string
	seen := make(map[string]struct{})
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		k, ok := tok.(string)
		if !ok {
			return nil, errNotRecords
		}
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys, nil
}
