package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"aiinsight/pkg/contract"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	raw, _ := json.Marshal(Options{BaseURL: srv.URL, APIKey: "k", Project: "proj_x"})
	c, err := New(raw)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return c.(*Client)
}

var req = contract.CompletionRequest{
	Model:           "gpt-4o",
	Messages:        contract.ChatPrompt{{Role: contract.RoleSystem, Content: "s"}, {Role: contract.RoleUser, Content: "q"}},
	Temperature:     0.3,
	MaxOutputTokens: 700,
}

// TestCompleteWireFormat 请求体与请求头
func TestCompleteWireFormat(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path=%s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer k" || r.Header.Get("OpenAI-Project") != "proj_x" {
			t.Errorf("headers=%v", r.Header)
		}
		var body oaReq
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if body.Model != "gpt-4o" || body.Temperature != 0.3 || body.MaxTokens != 700 || len(body.Messages) != 2 || body.Messages[0].Role != "system" {
			t.Errorf("unexpected body %+v", body)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"hello"}}]}`))
	})
	ans, err := c.Complete(context.Background(), req)
	if err != nil || ans.Text != "hello" {
		t.Fatalf("complete: %v %q", err, ans.Text)
	}
}

// TestCompleteClassify 上游状态 → 子类
func TestCompleteClassify(t *testing.T) {
	cases := []struct {
		status int
		body   string
		kind   contract.CompletionKind
	}{
		{401, `{"error":"bad key"}`, contract.KindAuth},
		{403, ``, contract.KindAuth},
		{429, `quota`, contract.KindRateLimit},
		{500, `boom`, contract.KindTransport},
		{408, ``, contract.KindTransport},
		{400, `bad model`, contract.KindRejected},
		{200, `not json`, contract.KindMalformed},
		{200, `{"choices":[]}`, contract.KindMalformed},
	}
	for _, tc := range cases {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(tc.body))
		})
		_, err := c.Complete(context.Background(), req)
		if !errors.Is(err, contract.ErrCompletionFailed) {
			t.Fatalf("%d: want CompletionFailed got %v", tc.status, err)
		}
		if k := contract.CompletionKindOf(err); k != tc.kind {
			t.Fatalf("%d: kind=%s want %s", tc.status, k, tc.kind)
		}
		if tc.kind == contract.KindRateLimit && !errors.Is(err, contract.ErrRateLimited) {
			t.Fatalf("rate limit must match ErrRateLimited")
		}
	}
}

// TestCompleteTransport 连接失败与取消
func TestCompleteTransport(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	c.do = func(*http.Request) (*http.Response, error) { return nil, errors.New("dial refused") }
	_, err := c.Complete(context.Background(), req)
	if contract.CompletionKindOf(err) != contract.KindTransport {
		t.Fatalf("want transport got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c2 := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	_, err = c2.Complete(ctx, req)
	if !errors.Is(err, context.Canceled) || !errors.Is(err, contract.ErrCompletionFailed) {
		t.Fatalf("want canceled transport error got %v", err)
	}
}

// TestUpstreamMessageSnippet 响应片段被截断保存
func TestUpstreamMessageSnippet(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(502)
		_, _ = w.Write([]byte(strings.Repeat("x", 1000)))
	})
	_, err := c.Complete(context.Background(), req)
	var ue contract.UpstreamError
	if !errors.As(err, &ue) || ue.UpstreamStatus() != 502 || len(ue.UpstreamMessage()) != 200 {
		t.Fatalf("unexpected upstream info: %v", err)
	}
}

// TestNewMissingKey 缺少密钥
func TestNewMissingKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := New(nil); !errors.Is(err, contract.ErrInvalidInput) {
		t.Fatalf("want ErrInvalidInput got %v", err)
	}
	t.Setenv("OPENAI_API_KEY", "env-key")
	t.Setenv("OPENAI_PROJECT_ID", "proj_env")
	c, err := New(json.RawMessage(`{"endpoint_path":"https://example.test/v1/chat"}`))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	cl := c.(*Client)
	if cl.apiKey != "env-key" || cl.project != "proj_env" || cl.url != "https://example.test/v1/chat" {
		t.Fatalf("unexpected client %+v", cl)
	}
}
