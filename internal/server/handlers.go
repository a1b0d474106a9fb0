package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"aiinsight/internal/diag"
	"aiinsight/internal/pipeline"
	"aiinsight/internal/session"
	"aiinsight/pkg/contract"

	"github.com/go-chi/chi/v5"
)

// 预览：表格取表头 + 5 行，文本取前 1000 字符。
const (
	previewLines = 5
	previewChars = 1000
)

type createResponse struct {
	ID string `json:"id"`
}

type uploadResponse struct {
	Name      string   `json:"name"`
	Kind      string   `json:"kind"`
	Rows      int      `json:"rows"`
	TotalRows int      `json:"total_rows"`
	Truncated bool     `json:"truncated"`
	Columns   []string `json:"columns,omitempty"`
	Preview   string   `json:"preview"`
}

type askRequest struct {
	Question string `json:"question"`
}

type askResponse struct {
	Answer     string            `json:"answer"`
	HumanText  string            `json:"human_text"`
	HTML       string            `json:"html"`
	Structured []contract.Record `json:"structured,omitempty"`
	Columns    []string          `json:"columns,omitempty"`
	Degraded   string            `json:"degraded,omitempty"`
}

type summaryResponse struct {
	Summary string `json:"summary"`
	HTML    string `json:"html"`
}

type statusResponse struct {
	Notice   string               `json:"notice"`
	Sessions int                  `json:"sessions"`
	Formats  []string             `json:"formats"`
	Model    string               `json:"model"`
	Uptime   string               `json:"uptime"`
	Metrics  []diag.Metric        `json:"metrics"`
	Gate     *pipeline.GateStatus `json:"gate,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Kind  string `json:"kind,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Notice:   PrivacyNotice,
		Sessions: s.store.Len(),
		Formats:  s.pipe.Formats(),
		Model:    s.pipe.Settings().Model,
		Uptime:   time.Since(s.start).Round(time.Second).String(),
		Metrics:  diag.MetricsSnapshot(),
	}
	if gs, ok := s.pipe.GateStatus(); ok {
		resp.Gate = &gs
	}
	writeJSON(w, http.StatusOK, resp)
}

// POST /api/sessions
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	sess := s.store.Create()
	s.logger.StartWith("server", "session created", sess.ID, "")
	writeJSON(w, http.StatusCreated, createResponse{ID: sess.ID})
}

// DELETE /api/sessions/{id}
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.store.Delete(id) {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/sessions/{id}/upload（multipart 字段 file）
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	f, hdr, err := r.FormFile("file")
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) || strings.Contains(err.Error(), "request body too large") {
			http.Error(w, fmt.Sprintf("upload exceeds %d bytes", s.opts.MaxUploadBytes), http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "multipart field \"file\" required", http.StatusBadRequest)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		http.Error(w, "read upload failed", http.StatusBadRequest)
		return
	}
	ex, err := s.pipe.Load(r.Context(), sess, contract.Upload{Name: hdr.Filename, Data: data})
	if err != nil {
		s.writeError(w, sess.ID, err)
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{
		Name:      ex.Name,
		Kind:      string(ex.Kind),
		Rows:      ex.Rows,
		TotalRows: ex.TotalRows,
		Truncated: ex.Truncated,
		Columns:   ex.Columns,
		Preview:   ex.Preview(previewLines, previewChars),
	})
}

// POST /api/sessions/{id}/ask {"question"}
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	rep, err := s.pipe.Ask(r.Context(), sess, req.Question)
	if err != nil {
		s.writeError(w, sess.ID, err)
		return
	}
	resp := askResponse{
		Answer:    rep.Answer.Text,
		HumanText: rep.Extraction.HumanText,
		HTML:      s.render.HTML(rep.Extraction.HumanText),
		Degraded:  rep.Extraction.Degraded,
	}
	if p := rep.Extraction.Payload; p != nil {
		resp.Structured = p.Records
		resp.Columns = p.Keys
	}
	writeJSON(w, http.StatusOK, resp)
}

// POST /api/sessions/{id}/summary
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	ans, err := s.pipe.Summarize(r.Context(), sess)
	if err != nil {
		s.writeError(w, sess.ID, err)
		return
	}
	writeJSON(w, http.StatusOK, summaryResponse{Summary: ans.Text, HTML: s.render.HTML(ans.Text)})
}

// GET /api/sessions/{id}/export/{format}?columns=a,b
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	format := chi.URLParam(r, "format")
	// 未带 columns 参数时导出全部列；带参数但为空视为显式空选择。
	var cols []string
	if q := r.URL.Query(); q.Has("columns") {
		cols = splitColumns(q.Get("columns"))
	}
	art, err := s.pipe.Export(r.Context(), sess, format, cols)
	if err != nil {
		s.writeError(w, sess.ID, err)
		return
	}
	w.Header().Set("Content-Type", art.MimeType)
	w.Header().Set("Content-Disposition", "attachment; filename="+art.Name)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(art.Data)
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, ok := s.store.Get(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
	}
	return sess, ok
}

// writeError 将分类错误映射为 HTTP 状态码。
func (s *Server) writeError(w http.ResponseWriter, sid string, err error) {
	status := StatusFor(err)
	code := diag.Classify(err)
	body := errorResponse{Error: err.Error(), Code: string(code)}
	if k := contract.CompletionKindOf(err); k != "" {
		body.Kind = string(k)
	}
	if status >= 500 {
		s.logger.ErrorWithKV("server", string(code), "request failed", nil, sid, "", map[string]string{"status": fmt.Sprint(status)})
	}
	writeJSON(w, status, body)
}

// StatusFor: 错误 → HTTP 状态码。
func StatusFor(err error) int {
	var pe *contract.ParseError
	switch {
	case errors.Is(err, contract.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.As(err, &pe):
		return http.StatusUnprocessableEntity
	case errors.Is(err, contract.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, contract.ErrNoContent), errors.Is(err, contract.ErrNoStructuredData):
		return http.StatusConflict
	case errors.Is(err, contract.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, contract.ErrBudgetExceeded):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, contract.ErrCompletionFailed):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// splitColumns 拆分逗号分隔的列名；结果恒非 nil。
func splitColumns(s string) []string {
	out := []string{}
	for _, c := range strings.Split(s, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
