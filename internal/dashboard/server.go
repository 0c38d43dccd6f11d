// Package dashboard serves the HTTP control panel: learning controls,
// knowledge review, trusted sources, chat, memories and metrics.
package dashboard

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stellarlinkco/may/internal/config"
	"github.com/stellarlinkco/may/internal/learning"
	"github.com/stellarlinkco/may/internal/memory"
)

//go:embed templates/dashboard.html
var templateFS embed.FS

// Learner controls background learning sessions.
type Learner interface {
	Start(req learning.Request) error
	Stop() bool
	Status() learning.Status
}

// Chatter answers chat messages and exposes conversation memory.
type Chatter interface {
	ProcessTurn(ctx context.Context, message string) string
	Profile() (memory.Profile, bool)
	RecentTurns(ctx context.Context, topic string, limit int) ([]memory.Turn, error)
}

type Options struct {
	Store    *memory.Store
	Learner  Learner
	Chat     Chatter
	Gatherer prometheus.Gatherer
	Clock    func() time.Time
}

type Server struct {
	store    *memory.Store
	learner  Learner
	chat     Chatter
	gatherer prometheus.Gatherer
	now      func() time.Time
	page     *template.Template

	addr   string
	server *http.Server
}

func New(cfg config.DashboardConfig, opts Options) (*Server, error) {
	page, err := template.New("dashboard.html").Funcs(template.FuncMap{
		"preview": preview,
		"when":    func(t time.Time) string { return t.Local().Format("2006-01-02 15:04") },
	}).ParseFS(templateFS, "templates/dashboard.html")
	if err != nil {
		return nil, fmt.Errorf("parse dashboard template: %w", err)
	}

	port := cfg.Port
	if port == 0 {
		port = config.DefaultDashboardPort
	}
	s := &Server{
		store:    opts.Store,
		learner:  opts.Learner,
		chat:     opts.Chat,
		gatherer: opts.Gatherer,
		now:      opts.Clock,
		page:     page,
		addr:     net.JoinHostPort(cfg.Host, fmt.Sprint(port)),
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Routes builds the chi router for the dashboard.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Get("/learning_status", s.handleLearningStatus)
	r.Post("/start_learning", s.handleStartLearning)
	r.Post("/stop_learning", s.handleStopLearning)

	r.Get("/knowledge/{topic}", s.handleKnowledge)
	r.Post("/approve_knowledge", s.handleApproveKnowledge)
	r.Post("/reject_knowledge", s.handleRejectKnowledge)
	r.Post("/add_trusted_source", s.handleAddTrustedSource)

	r.Post("/chat", s.handleChat)
	r.Get("/memories", s.handleMemories)
	r.Get("/profile", s.handleProfile)

	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.server = &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		log.Printf("[dashboard] listening on http://%s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[dashboard] server error: %v", err)
		}
	}()
	return nil
}

func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown dashboard: %w", err)
	}
	log.Printf("[dashboard] stopped")
	return nil
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
