// Package server wires the HTTP router.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/mapnimbus/internal/errors"
	"github.com/3leaps/mapnimbus/internal/observability"
	"github.com/3leaps/mapnimbus/internal/server/handlers"
	"github.com/3leaps/mapnimbus/internal/server/middleware"
	"github.com/3leaps/mapnimbus/pkg/identity"
	"github.com/3leaps/mapnimbus/pkg/maps"
)

// Server is the HTTP server.
type Server struct {
	host   string
	port   int
	router chi.Router
	logger *zap.Logger

	maps       *handlers.MapsAPI
	login      *handlers.LoginView
	sessions   *identity.Sessions
	cookieName string
	loginPath  string
	metrics    bool
	pprof      bool

	readTimeout  time.Duration
	writeTimeout time.Duration
	idleTimeout  time.Duration

	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMaps mounts the map API under /api/v1.
func WithMaps(api *handlers.MapsAPI) Option {
	return func(s *Server) { s.maps = api }
}

// WithLogin mounts the login view at loginPath and its callback below it.
func WithLogin(view *handlers.LoginView, loginPath string) Option {
	return func(s *Server) {
		s.login = view
		s.loginPath = loginPath
	}
}

// WithSessions resolves the caller from session cookies or bearer tokens.
func WithSessions(sessions *identity.Sessions, cookieName string) Option {
	return func(s *Server) {
		s.sessions = sessions
		s.cookieName = cookieName
	}
}

// WithMetrics serves /metrics.
func WithMetrics() Option {
	return func(s *Server) { s.metrics = true }
}

// WithPprof serves /debug/pprof.
func WithPprof() Option {
	return func(s *Server) { s.pprof = true }
}

// WithTimeouts sets the http.Server timeouts.
func WithTimeouts(read, write, idle time.Duration) Option {
	return func(s *Server) {
		s.readTimeout = read
		s.writeTimeout = write
		s.idleTimeout = idle
	}
}

// New creates a Server listening on host:port.
func New(host string, port int, opts ...Option) *Server {
	s := &Server{
		host:         host,
		port:         port,
		logger:       zap.NewNop(),
		loginPath:    "/" + maps.DefaultLoginPath,
		readTimeout:  30 * time.Second,
		writeTimeout: 30 * time.Second,
		idleTimeout:  120 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadTimeout:       s.readTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.writeTimeout,
		IdleTimeout:       s.idleTimeout,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery)
	r.Use(middleware.Logger(s.logger))
	if s.sessions != nil {
		r.Use(middleware.Session(s.sessions, s.cookieName))
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		apperrors.RespondWithError(w, req, apperrors.NewHTTPError(http.StatusNotFound,
			apperrors.CodeNotFound, "route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		apperrors.RespondWithError(w, req, apperrors.NewHTTPError(http.StatusMethodNotAllowed,
			apperrors.CodeMethodNotAllowed, "method not allowed"))
	})

	r.Get("/health", handlers.HealthHandler)
	r.Get("/health/live", handlers.LivenessHandler)
	r.Get("/health/ready", handlers.ReadinessHandler)
	r.Get("/health/startup", handlers.StartupHandler)
	r.Get("/version", handlers.VersionHandler)

	if s.metrics {
		r.Handle("/metrics", observability.MetricsHandler())
	}
	if s.pprof {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.Handle("/debug/pprof/{name}", http.HandlerFunc(pprof.Index))
	}

	if s.login != nil {
		r.Get(s.loginPath, s.login.Start)
		r.Get(s.loginPath+"/callback", s.login.Callback)
		r.Post("/api/v1/logout", s.login.Logout)
	}
	if s.maps != nil {
		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/me", s.maps.Me)
			r.Get("/maps", s.maps.List)
			r.Post("/maps", s.maps.Upload)
			r.Get("/maps/download", s.maps.Download)
			r.Get("/maps/url", s.maps.URL)
		})
	}
	return r
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

// Port returns the configured port.
func (s *Server) Port() int { return s.port }

// Addr returns host:port.
func (s *Server) Addr() string { return net.JoinHostPort(s.host, strconv.Itoa(s.port)) }

// Start serves until Shutdown. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.Addr(), err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("Server listening", zap.String("addr", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
