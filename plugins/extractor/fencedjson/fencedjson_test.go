package fencedjson

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"aiinsight/pkg/contract"
)

func extract(t *testing.T, text string) contract.Extraction {
	t.Helper()
	e, err := New(nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	out, err := e.Extract(context.Background(), contract.Answer{Text: text})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	return out
}

// TestRoundTrip 单个 fenced 块 → 两条记录，humanText 不含 fence
func TestRoundTrip(t *testing.T) {
	ans := "Here you go:\n```json\n[{\"a\":\"1\",\"b\":\"2\"},{\"a\":\"3\",\"b\":\"4\"}]\n```\nDone."
	out := extract(t, ans)
	if out.Payload == nil || out.Payload.Len() != 2 {
		t.Fatalf("want 2 records got %+v", out.Payload)
	}
	if !reflect.DeepEqual(out.Payload.Keys, []string{"a", "b"}) {
		t.Fatalf("keys=%v", out.Payload.Keys)
	}
	if got := out.Payload.Row(1, []string{"a", "b"}); !reflect.DeepEqual(got, []string{"3", "4"}) {
		t.Fatalf("row=%v", got)
	}
	if strings.Contains(out.HumanText, "```") || out.HumanText != "Here you go:\n\nDone." {
		t.Fatalf("humanText=%q", out.HumanText)
	}
	if out.Degraded != "" {
		t.Fatalf("unexpected degraded %q", out.Degraded)
	}
}

// TestKeyOrderFromFirstRecord 键序取首条记录；后续缺失键渲染为空串
func TestKeyOrderFromFirstRecord(t *testing.T) {
	out := extract(t, "```json\n[{\"z\":1,\"a\":true,\"m\":null},{\"a\":false,\"extra\":{\"k\":[1, 2]}}]\n```")
	if !reflect.DeepEqual(out.Payload.Keys, []string{"z", "a", "m"}) {
		t.Fatalf("keys=%v", out.Payload.Keys)
	}
	if got := out.Payload.Row(0, out.Payload.Keys); !reflect.DeepEqual(got, []string{"1", "true", ""}) {
		t.Fatalf("row0=%v", got)
	}
	if got := out.Payload.Row(1, out.Payload.Keys); !reflect.DeepEqual(got, []string{"", "false", ""}) {
		t.Fatalf("row1=%v", got)
	}
	if out.Payload.HasKey("extra") {
		t.Fatalf("keys from later records must not be added")
	}
	if out.HumanText != "" {
		t.Fatalf("humanText=%q", out.HumanText)
	}
}

// TestMalformed fence 内 JSON 损坏：无载荷，fence 仍被剥离
func TestMalformed(t *testing.T) {
	out := extract(t, "Intro\n```json\n[{\"a\":\"1\",}]\n```")
	if out.Payload != nil || out.Degraded != ReasonInvalidJSON {
		t.Fatalf("want degraded invalid json got %+v", out)
	}
	if out.HumanText != "Intro" {
		t.Fatalf("humanText=%q", out.HumanText)
	}
}

// TestNotRecords 非对象数组
func TestNotRecords(t *testing.T) {
	for _, body := range []string{`{"a":1}`, `[1,2]`, `["x"]`, `[{"a":1}, 3]`, `"s"`} {
		out := extract(t, "```json\n"+body+"\n```")
		if out.Payload != nil || out.Degraded != ReasonNotRecords {
			t.Fatalf("%s: want not_records got %+v", body, out)
		}
	}
	out := extract(t, "```json\n[]\n```")
	if out.Payload != nil || out.Degraded != ReasonEmpty {
		t.Fatalf("empty array: %+v", out)
	}
}

// TestNoFence 无 fence：humanText 为原文 trim，载荷为空
func TestNoFence(t *testing.T) {
	ans := "  plain answer\nwith ```python\nprint(1)\n``` code  \n"
	out := extract(t, ans)
	if out.Payload != nil || out.Degraded != "" || out.HumanText != strings.TrimSpace(ans) {
		t.Fatalf("unexpected %+v", out)
	}
}

// TestTagIsExact 标记须恰为 json
func TestTagIsExact(t *testing.T) {
	for _, ans := range []string{"```JSON\n[{\"a\":1}]\n```", "```jsonc\n[{\"a\":1}]\n```", "```json5\n[{\"a\":1}]\n```"} {
		out := extract(t, ans)
		if out.Payload != nil || out.HumanText != ans {
			t.Fatalf("%q should not match: %+v", ans, out)
		}
	}
	out := extract(t, "```json [{\"a\":1}]```")
	if out.Payload == nil || out.Payload.Cell(0, "a") != "1" {
		t.Fatalf("inline fence should match: %+v", out)
	}
}

// TestFenceWithoutWhitespace 标记后直接跟载荷的块同样被抽取并从 humanText 移除
func TestFenceWithoutWhitespace(t *testing.T) {
	out := extract(t, "Result:\n```json[{\"a\":\"1\"}]```\nend")
	if out.Payload == nil || out.Payload.Cell(0, "a") != "1" {
		t.Fatalf("want payload got %+v", out)
	}
	if out.HumanText != "Result:\n\nend" {
		t.Fatalf("humanText=%q", out.HumanText)
	}
	out = extract(t, "```json{\"a\":1}```")
	if out.Payload != nil || out.Degraded != ReasonNotRecords || out.HumanText != "" {
		t.Fatalf("object fence should degrade: %+v", out)
	}
}

// TestMultipleBlocks 仅解析第一个块，所有块均从 humanText 移除
func TestMultipleBlocks(t *testing.T) {
	ans := "A\n```json\n[{\"first\":1}]\n```\nB\n```json\n[{\"second\":2}]\n```\nC"
	out := extract(t, ans)
	if out.Payload == nil || !out.Payload.HasKey("first") || out.Payload.HasKey("second") {
		t.Fatalf("first block must win: %+v", out.Payload)
	}
	if out.HumanText != "A\n\nB\n\nC" {
		t.Fatalf("humanText=%q", out.HumanText)
	}
	// 第一个块损坏时不回退到第二个块
	out = extract(t, "```json\n{bad\n```\n```json\n[{\"b\":1}]\n```")
	if out.Payload != nil || out.Degraded != ReasonInvalidJSON {
		t.Fatalf("must not fall back to later block: %+v", out)
	}
}

// TestEmptyFence 空块
func TestEmptyFence(t *testing.T) {
	out := extract(t, "x ```json``` y")
	if out.Payload != nil || out.Degraded != ReasonInvalidJSON || out.HumanText != "x  y" {
		t.Fatalf("unexpected %+v", out)
	}
}

// TestIdempotent 同一回答两次抽取结果一致
func TestIdempotent(t *testing.T) {
	ans := "t\n```json\n[{\"a\":\"1\"},{\"a\":\"2\"}]\n```"
	a := extract(t, ans)
	b := extract(t, ans)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("not idempotent: %+v vs %+v", a, b)
	}
}

// TestOptionsStrict 未知选项字段被拒绝
func TestOptionsStrict(t *testing.T) {
	if _, err := New(json.RawMessage(`{"x":1}`)); err == nil {
		t.Fatalf("unknown option should fail")
	}
	if _, err := New(json.RawMessage(`{}`)); err != nil {
		t.Fatalf("empty options: %v", err)
	}
}

// TestCanceled 取消的上下文
func TestCanceled(t *testing.T) {
	e, _ := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Extract(ctx, contract.Answer{Text: "x"}); err == nil {
		t.Fatalf("want ctx error")
	}
}
