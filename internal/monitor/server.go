package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const maxEventLimit = 1000

// Server 提供 /events、/metrics 与 /ws 监控接口。各依赖可为空，对应路由不注册。
type Server struct {
	addr         string
	defaultLimit int
	journal      *Journal
	gatherer     prometheus.Gatherer
	hub          *Hub
	logger       *zap.Logger
	routes       []route
}

type route struct {
	pattern string
	handler http.Handler
}

// NewServer 创建监控服务。
func NewServer(addr string, defaultLimit int, journal *Journal, gatherer prometheus.Gatherer, hub *Hub, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultLimit <= 0 {
		defaultLimit = 200
	}
	return &Server{
		addr:         addr,
		defaultLimit: defaultLimit,
		journal:      journal,
		gatherer:     gatherer,
		hub:          hub,
		logger:       logger,
	}
}

// HandleFunc 注册额外路由，需在 Handler 或 Start 之前调用。
func (s *Server) HandleFunc(pattern string, fn http.HandlerFunc) {
	s.routes = append(s.routes, route{pattern: pattern, handler: fn})
}

// Handler 返回路由。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	for _, r := range s.routes {
		mux.Handle(r.pattern, r.handler)
	}
	if s.journal != nil {
		mux.HandleFunc("/events", s.handleEvents)
	}
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	if s.hub != nil {
		mux.Handle("/ws", s.hub)
	}
	return mux
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := s.defaultLimit
	if qs := q.Get("limit"); qs != "" {
		if v, err := strconv.Atoi(qs); err == nil && v > 0 {
			limit = min(v, maxEventLimit)
		}
	}

	eventType := EventType("")
	if typ := strings.TrimSpace(q.Get("type")); typ != "" {
		eventType = EventType(strings.ToLower(typ))
	}

	events, err := s.journal.ListEvents(r.Context(), eventType, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(events); err != nil {
		s.logger.Warn("写入监控响应失败", zap.Error(err))
	}
}

// Start 在后台监听，ctx 结束时关闭服务。
func (s *Server) Start(ctx context.Context) {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("关闭监控服务失败", zap.Error(err))
		}
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("监控服务异常", zap.Error(err))
		}
	}()

	s.logger.Info("监控接口已启动", zap.String("addr", s.addr))
}
