package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"aiinsight/pkg/contract"
)

func newTestClient(t *testing.T, opts Options, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	opts.BaseURL = srv.URL
	opts.APIKey = "gk"
	raw, _ := json.Marshal(opts)
	c, err := New(raw)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return c.(*Client)
}

var req = contract.CompletionRequest{
	Model: "gemini-x",
	Messages: contract.ChatPrompt{
		{Role: contract.RoleSystem, Content: "sys"},
		{Role: contract.RoleUser, Content: "ref"},
		{Role: contract.RoleAssistant, Content: "prev"},
		{Role: contract.RoleUser, Content: "q"},
	},
	Temperature:     0.3,
	MaxOutputTokens: 500,
}

// TestCompleteWireFormat systemInstruction / 角色映射 / generationConfig
func TestCompleteWireFormat(t *testing.T) {
	c := newTestClient(t, Options{}, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta/models/gemini-x:generateContent" || r.URL.Query().Get("key") != "gk" {
			t.Errorf("url=%s", r.URL.String())
		}
		var body gmReq
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if body.SystemInstruction == nil || body.SystemInstruction.Parts[0].Text != "sys" {
			t.Errorf("system instruction missing: %+v", body)
		}
		if len(body.Contents) != 3 || body.Contents[1].Role != "model" || body.Contents[2].Parts[0].Text != "q" {
			t.Errorf("contents=%+v", body.Contents)
		}
		if body.GenerationConfig.Temperature != 0.3 || body.GenerationConfig.MaxOutputTokens != 500 {
			t.Errorf("generationConfig=%+v", body.GenerationConfig)
		}
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"he"},{"text":"llo"}]}}]}`))
	})
	ans, err := c.Complete(context.Background(), req)
	if err != nil || ans.Text != "hello" {
		t.Fatalf("complete: %v %q", err, ans.Text)
	}
}

// TestCompleteHeaderKey api_key_in_query=false 时使用请求头
func TestCompleteHeaderKey(t *testing.T) {
	f := false
	c := newTestClient(t, Options{APIKeyInQuery: &f}, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "" || r.Header.Get("x-goog-api-key") != "gk" {
			t.Errorf("key placement wrong: %s %v", r.URL.String(), r.Header)
		}
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`))
	})
	if _, err := c.Complete(context.Background(), req); err != nil {
		t.Fatalf("complete: %v", err)
	}
}

// TestCompleteClassify 上游状态 → 子类
func TestCompleteClassify(t *testing.T) {
	cases := []struct {
		status int
		body   string
		kind   contract.CompletionKind
	}{
		{403, `denied`, contract.KindAuth},
		{429, `RESOURCE_EXHAUSTED`, contract.KindRateLimit},
		{503, `unavailable`, contract.KindTransport},
		{404, `no model`, contract.KindRejected},
		{200, `{"candidates":[]}`, contract.KindMalformed},
		{200, `{`, contract.KindMalformed},
	}
	for _, tc := range cases {
		c := newTestClient(t, Options{}, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(tc.body))
		})
		_, err := c.Complete(context.Background(), req)
		if got := contract.CompletionKindOf(err); got != tc.kind {
			t.Fatalf("%d: kind=%s want %s (%v)", tc.status, got, tc.kind, err)
		}
	}
}

// TestTransportHidesKey 传输错误不泄漏带 key 的 URL
func TestTransportHidesKey(t *testing.T) {
	c := newTestClient(t, Options{}, func(w http.ResponseWriter, r *http.Request) {})
	c.do = func(r *http.Request) (*http.Response, error) {
		return nil, &url.Error{Op: "Post", URL: r.URL.String(), Err: errors.New("connection refused")}
	}
	_, err := c.Complete(context.Background(), req)
	if contract.CompletionKindOf(err) != contract.KindTransport {
		t.Fatalf("want transport got %v", err)
	}
	if !errors.Is(err, contract.ErrCompletionFailed) {
		t.Fatalf("want CompletionFailed")
	}
	if strings.Contains(err.Error(), "gk") {
		t.Fatalf("api key leaked in error: %v", err)
	}
}
