package web

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kozaktomas/classroom-attendance/internal/config"
	"github.com/kozaktomas/classroom-attendance/internal/database"
	"github.com/kozaktomas/classroom-attendance/internal/media"
	"github.com/kozaktomas/classroom-attendance/internal/web/handlers"
	"github.com/kozaktomas/classroom-attendance/internal/web/middleware"
)

// Services are the components the HTTP API exposes.
type Services struct {
	Pipeline  handlers.FrameProcessor
	Presets   handlers.PresetResolver
	Reports   handlers.Reports
	Ledger    handlers.SlotClearer
	Roster    handlers.RosterService
	Students  database.StudentReader
	Staff     database.StaffReader
	Notifier  handlers.SummaryNotifier
	Media     handlers.MediaProcessor
	Extractor media.FrameExtractor
	Scheduler handlers.Scheduler // nil when no RTSP stream is configured
	Health    map[string]handlers.Pinger
	Metrics   http.Handler
}

// Server represents the web server
type Server struct {
	config     *config.Config
	router     *chi.Mux
	httpServer *http.Server
	jobManager *handlers.JobManager
	services   Services
	base       context.Context
}

// NewServer creates a new web server. The RTSP worker started over the API
// lives until base is cancelled.
func NewServer(base context.Context, cfg *config.Config, svc Services) *Server {
	r := chi.NewRouter()

	s := &Server{
		config:     cfg,
		router:     r,
		jobManager: handlers.NewJobManager(),
		services:   svc,
		base:       base,
	}

	// Set up middleware stack
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(5 * time.Minute))
	r.Use(middleware.CORS(cfg.Web.AllowedOrigins))
	r.Use(middleware.SecurityHeaders())

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // Long timeout for SSE and uploads
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	slog.Info("starting web server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server and cancels running media jobs
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down web server")

	s.jobManager.CancelRunning()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}
