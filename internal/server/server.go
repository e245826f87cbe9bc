package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/me/rolesched/internal/config"
	"github.com/me/rolesched/internal/tracker"
	"github.com/me/rolesched/internal/ui"
	"github.com/me/rolesched/pkg/model"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// Controller is the part of the admission controller the API exposes.
type Controller interface {
	Status() []model.RoleStatus
	LastSample() (model.ResourceSample, bool)
	Config() config.Config
	Submit(ctx context.Context, role model.RoleID, task model.Task) (model.Task, bool)
}

// Server is the rolesched REST API server.
type Server struct {
	router    chi.Router
	logger    *slog.Logger
	startTime time.Time
	ctrl      Controller
	inspector tracker.Inspector   // optional; nil when file tracking is disabled
	gatherer  prometheus.Gatherer // optional; serves /metrics when set
	dashboard bool
	base      *slog.Logger
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithInspector exposes file tracker state on /api/v1/locks.
func WithInspector(insp tracker.Inspector) Option {
	return func(s *Server) {
		s.inspector = insp
	}
}

// WithMetrics serves g on /metrics.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithDashboard serves the HTML dashboard under /ui/.
func WithDashboard() Option {
	return func(s *Server) {
		s.dashboard = true
	}
}

// New creates a new Server with all routes registered.
func New(ctrl Controller, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger.With("component", "server"),
		startTime: time.Now(),
		ctrl:      ctrl,
		base:      logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	if s.dashboard {
		dash := ui.New(s.ctrl, s.inspector, s.base)
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/ui/", http.StatusFound)
		})
		r.Route("/ui", dash.RegisterRoutes)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", s.handleDiscovery)
		r.Get("/health", s.handleHealth)
		r.Get("/config", s.handleGetConfig)
		r.Get("/resources", s.handleGetResources)
		r.Get("/locks", s.handleListLocks)

		r.Route("/roles", func(r chi.Router) {
			r.Get("/", s.handleListRoles)
			r.Route("/{role}", func(r chi.Router) {
				r.Get("/", s.handleGetRole)
				r.Post("/tasks", s.handleSubmitTask)
			})
		})
	})
}

// ListenAndServe serves the API on addr until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
