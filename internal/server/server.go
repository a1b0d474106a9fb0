package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"aiinsight/internal/diag"
	"aiinsight/internal/pipeline"
	"aiinsight/internal/session"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// DefaultMaxUploadBytes: 单次上传默认上限（32 MiB）。
const DefaultMaxUploadBytes int64 = 32 << 20

// PrivacyNotice: 数据仅在内存中处理。
const PrivacyNotice = "上传内容仅在内存中处理，不会落盘；会话关闭后即丢弃。"

// Options: HTTP 承载层参数。
type Options struct {
	Addr           string
	MaxUploadBytes int64         // <=0 取 DefaultMaxUploadBytes
	SessionIdle    time.Duration // <=0 不回收闲置会话
}

// Server: 会话化的 HTTP 入口；所有会话只存在于内存。
type Server struct {
	pipe   *pipeline.Pipeline
	store  *session.Store
	logger *diag.Logger
	opts   Options
	render *renderer
	router chi.Router
	start  time.Time
}

// New 构造 Server 并注册路由。logger 可为 nil。
func New(p *pipeline.Pipeline, logger *diag.Logger, opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	s := &Server{
		pipe:   p,
		store:  session.NewStore(),
		logger: logger,
		opts:   opts,
		render: newRenderer(),
		start:  time.Now(),
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)
	s.RegisterHTTP(r)
	s.router = r
	return s
}

// RegisterHTTP 在 chi 路由上注册全部端点。
func (s *Server) RegisterHTTP(r chi.Router) {
	r.Get("/api/status", s.handleStatus)
	r.Post("/api/sessions", s.handleCreate)
	r.Route("/api/sessions/{id}", func(r chi.Router) {
		r.Delete("/", s.handleDelete)
		r.Post("/upload", s.handleUpload)
		r.Post("/ask", s.handleAsk)
		r.Post("/summary", s.handleSummary)
		r.Get("/export/{format}", s.handleExport)
	})
}

// Handler 返回根 http.Handler。
func (s *Server) Handler() http.Handler { return s.router }

// Store 暴露会话表（测试与状态查询）。
func (s *Server) Store() *session.Store { return s.store }

// Run 监听 Addr 直到 ctx 取消；期间按 SessionIdle 周期回收闲置会话。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if s.opts.SessionIdle > 0 {
		go s.janitor(ctx, s.opts.SessionIdle)
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.logger.StartWithKV("server", "listen", "", "", map[string]string{"addr": s.opts.Addr})

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shut, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shut)
	}
}

func (s *Server) janitor(ctx context.Context, idle time.Duration) {
	every := idle / 2
	if every < time.Second {
		every = time.Second
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.store.Expire(now, idle); n > 0 {
				s.logger.WarnWith("server", "sessions expired", "", map[string]string{"count": strconv.Itoa(n)})
			}
		}
	}
}

// accessLog 记录每个请求的方法、路由与状态码。
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		t0 := time.Now()
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		diag.IncOp("server", r.Method, strconv.Itoa(status/100)+"xx")
		s.logger.InfoFinish("server", r.Method+" "+r.URL.Path+" "+strconv.Itoa(status), t0, int64(ww.BytesWritten()))
	})
}
