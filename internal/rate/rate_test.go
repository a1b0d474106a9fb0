package rate

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"aiinsight/pkg/contract"
)

// 超过 RPM 时拒绝，时间推进后恢复
func TestGateTryLimit(t *testing.T) {
	now := time.Unix(0, 0)
	clk := func() time.Time { return now }
	g := NewGate(map[LimitKey]Limits{"k": {RPM: 1, TPM: 10, MaxTokensPerReq: 5}}, clk)
	if !g.Try(Ask{Key: "k", Requests: 1, Tokens: 3}) {
		t.Fatalf("首次应通过")
	}
	if g.Try(Ask{Key: "k", Requests: 1, Tokens: 3}) {
		t.Fatalf("应因 RPM 拒绝")
	}
	now = now.Add(61 * time.Second)
	if !g.Try(Ask{Key: "k", Requests: 1, Tokens: 3}) {
		t.Fatalf("一分钟后应恢复")
	}
	if g.Try(Ask{Key: "k", Requests: 1, Tokens: 6}) {
		t.Fatalf("超过单请求上限应拒绝")
	}
}

// 失败的 Try 不消耗额度
func TestGateTryNoLeak(t *testing.T) {
	now := time.Unix(0, 0)
	g := NewGate(map[LimitKey]Limits{"k": {RPM: 10, TPM: 10}}, func() time.Time { return now })
	if g.Try(Ask{Key: "k", Requests: 1, Tokens: 11}) {
		t.Fatalf("超过 TPM 容量应拒绝")
	}
	rpm, tpm := g.(Snapshoter).Snapshot("k")
	if rpm != 10 || tpm != 10 {
		t.Fatalf("额度被泄漏: rpm=%d tpm=%d", rpm, tpm)
	}
}

// 取消上下文：返回 ctx 错误并归还预约
func TestGateWaitCancel(t *testing.T) {
	g := NewGate(map[LimitKey]Limits{"k": {RPM: 1}}, nil)
	if err := g.Wait(context.Background(), Ask{Key: "k", Requests: 1}); err != nil {
		t.Fatalf("首次应立即通过: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	if err := g.Wait(ctx, Ask{Key: "k", Requests: 1}); !errors.Is(err, context.Canceled) {
		t.Fatalf("应返回取消错误: %v", err)
	}
}

// 超过桶容量或单请求上限：ErrBudgetExceeded
func TestGateWaitBudget(t *testing.T) {
	g := NewGate(map[LimitKey]Limits{"k": {TPM: 100, MaxTokensPerReq: 50}, "cap": {TPM: 10}}, nil)
	if err := g.Wait(context.Background(), Ask{Key: "k", Requests: 1, Tokens: 60}); !errors.Is(err, contract.ErrBudgetExceeded) {
		t.Fatalf("want budget exceeded got %v", err)
	}
	if err := g.Wait(context.Background(), Ask{Key: "cap", Requests: 1, Tokens: 11}); !errors.Is(err, contract.ErrBudgetExceeded) {
		t.Fatalf("want budget exceeded got %v", err)
	}
	if err := g.Wait(context.Background(), Ask{Key: "k", Requests: 0}); !errors.Is(err, contract.ErrInvalidInput) {
		t.Fatalf("want invalid input got %v", err)
	}
}

// 未配置的 key 不限额
func TestGateUnknownKey(t *testing.T) {
	g := NewGate(nil, nil)
	for i := 0; i < 100; i++ {
		if !g.Try(Ask{Key: "other", Requests: 1, Tokens: 1000}) {
			t.Fatalf("未配置的 key 应不限额")
		}
	}
}

func TestDeriveKey(t *testing.T) {
	t.Setenv("TEST_KEY", "abc")
	raw, _ := json.Marshal(map[string]any{"api_key_env": "TEST_KEY"})
	k1, err := DeriveKey("openai", raw)
	if err != nil || !strings.HasPrefix(string(k1), "openai:") {
		t.Fatalf("派生失败: %v %s", err, k1)
	}
	if strings.Contains(string(k1), "abc") {
		t.Fatalf("键中不得包含凭据")
	}
	k2, _ := DeriveKey("openai", json.RawMessage(`{"api_key":"abc"}`))
	if k1 != k2 {
		t.Fatalf("同一凭据应得到同一键")
	}
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := DeriveKey("openai", json.RawMessage(`{}`)); err == nil {
		t.Fatalf("缺少 key 应失败")
	}
	if k, err := DeriveKey("mock", nil); err != nil || k == "" {
		t.Fatalf("mock 应使用内置键: %v", err)
	}
}
