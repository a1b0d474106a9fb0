package mock

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"aiinsight/pkg/contract"
)

var req = contract.CompletionRequest{
	Model:    "m",
	Messages: contract.ChatPrompt{{Role: contract.RoleSystem, Content: "sys"}, {Role: contract.RoleUser, Content: "什么"}},
}

// TestFencedJSONDefault 默认模式：说明 + fenced JSON
func TestFencedJSONDefault(t *testing.T) {
	c, err := New(nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ans, err := c.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !strings.HasPrefix(ans.Text, "MOCK answer (m): 什么") {
		t.Fatalf("unexpected prose %q", ans.Text)
	}
	start := strings.Index(ans.Text, "```json\n")
	end := strings.LastIndex(ans.Text, "```")
	if start < 0 || end <= start {
		t.Fatalf("fence missing: %q", ans.Text)
	}
	var arr []struct {
		Index int    `json:"index"`
		Role  string `json:"role"`
		Chars int    `json:"chars"`
	}
	if err := json.Unmarshal([]byte(ans.Text[start+len("```json\n"):end]), &arr); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(arr) != 2 || arr[1].Role != "user" || arr[1].Chars != 2 {
		t.Fatalf("unexpected items %#v", arr)
	}
}

// TestPlainAndCanned 其它模式
func TestPlainAndCanned(t *testing.T) {
	c, _ := New(json.RawMessage(`{"response_mode":"plain","prefix":"X"}`))
	ans, _ := c.Complete(context.Background(), req)
	if ans.Text != "X: 什么" {
		t.Fatalf("plain: %q", ans.Text)
	}
	c, _ = New(json.RawMessage(`{"response_mode":"canned","answer":"fixed"}`))
	ans, _ = c.Complete(context.Background(), req)
	if ans.Text != "fixed" {
		t.Fatalf("canned: %q", ans.Text)
	}
}

// TestUnknownMode 未知模式在构造期拒绝
func TestUnknownMode(t *testing.T) {
	if _, err := New(json.RawMessage(`{"response_mode":"nope"}`)); !errors.Is(err, contract.ErrInvalidInput) {
		t.Fatalf("want ErrInvalidInput got %v", err)
	}
}

// TestCanceled 取消返回 transport 子类
func TestCanceled(t *testing.T) {
	c, _ := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Complete(ctx, req)
	if contract.CompletionKindOf(err) != contract.KindTransport || !errors.Is(err, context.Canceled) {
		t.Fatalf("want canceled transport got %v", err)
	}
}
