// Package server assembles the HTTP surface of the worker: the job
// endpoint plus health and version routes, behind the standard middleware
// chain.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tenexa/wanworker/internal/server/handlers"
	"github.com/tenexa/wanworker/internal/server/middleware"
)

// Deps are the collaborators the router needs.
type Deps struct {
	Dispatcher     handlers.JobDispatcher
	Engine         handlers.EngineState
	Version        string
	HandlerVersion string
	Logger         *zap.Logger

	// Timeouts bound the listener. The write timeout must cover a full
	// generation, so it is sized to the exec timeout, not a typical
	// request.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Server wraps the HTTP listener and its router.
type Server struct {
	host   string
	port   int
	router chi.Router
	http   *http.Server
	logger *zap.Logger

	readTimeout  time.Duration
	writeTimeout time.Duration
	idleTimeout  time.Duration
}

// New builds the server with all routes registered.
func New(host string, port int, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Recovery)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		middleware.WriteError(w, req, http.StatusNotFound, "NOT_FOUND",
			fmt.Sprintf("no route for %s %s", req.Method, req.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		middleware.WriteError(w, req, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			fmt.Sprintf("method %s not allowed for %s", req.Method, req.URL.Path))
	})

	if deps.Dispatcher != nil {
		r.Post("/run", handlers.NewRunHandler(deps.Dispatcher, logger).ServeHTTP)
	}
	if deps.Engine != nil {
		health := handlers.NewHealthHandler(deps.Engine, deps.Version)
		r.Get("/health", health.Health)
		r.Get("/health/live", health.Live)
		r.Get("/health/ready", health.Ready)
	}
	r.Get("/version", handlers.NewVersionHandler("wanworker", deps.Version, deps.HandlerVersion))

	return &Server{
		host:         host,
		port:         port,
		router:       r,
		logger:       logger,
		readTimeout:  deps.ReadTimeout,
		writeTimeout: deps.WriteTimeout,
		idleTimeout:  deps.IdleTimeout,
	}
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the configured listen port.
func (s *Server) Port() int {
	return s.port
}

// ListenAndServe blocks serving requests until Shutdown or a listener
// error.
func (s *Server) ListenAndServe() error {
	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.host, s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.readTimeout,
		WriteTimeout:      s.writeTimeout,
		IdleTimeout:       s.idleTimeout,
	}
	s.logger.Info("http server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests. Generations can run for minutes, so
// callers pass a context sized to the exec timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
