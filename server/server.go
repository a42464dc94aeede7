// Package server exposes an engine over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	scripting "github.com/goliatone/go-scripting"
	"github.com/goliatone/go-scripting/metrics"
)

const (
	shutdownTimeout    = 10 * time.Second
	readHeaderTimeout  = 10 * time.Second
	defaultSyncTimeout = 30 * time.Second
	defaultMaxResults  = 1000
)

// Server wraps the chi router and the engine it fronts.
type Server struct {
	router    *chi.Mux
	engine    *scripting.Engine
	collector *metrics.Collector
	logger    scripting.Logger
	results   *resultStore

	addr           string
	allowedOrigins []string
	syncTimeout    time.Duration
}

// Option configures a Server.
type Option func(*Server)

func WithAddr(addr string) Option {
	return func(s *Server) {
		if addr != "" {
			s.addr = addr
		}
	}
}

func WithLogger(logger scripting.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCollector enables request metrics and the /metrics endpoint.
func WithCollector(c *metrics.Collector) Option {
	return func(s *Server) {
		s.collector = c
	}
}

func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) {
		if len(origins) > 0 {
			s.allowedOrigins = origins
		}
	}
}

// WithSyncTimeout bounds how long POST /v1/scripts/sync waits.
func WithSyncTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.syncTimeout = d
		}
	}
}

// WithMaxResults caps how many submitted results are kept for polling.
func WithMaxResults(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.results = newResultStore(n)
		}
	}
}

// New creates and configures a new HTTP server.
func New(engine *scripting.Engine, opts ...Option) *Server {
	srv := &Server{
		router:         chi.NewRouter(),
		engine:         engine,
		logger:         scripting.NewFmtLogger(nil),
		results:        newResultStore(defaultMaxResults),
		addr:           ":8080",
		allowedOrigins: []string{"*"},
		syncTimeout:    defaultSyncTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(srv)
		}
	}

	srv.router.Use(middleware.RequestID)
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(srv.loggingMiddleware)
	if srv.collector != nil {
		srv.router.Use(srv.collector.Middleware)
	}
	srv.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   srv.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "Location"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	srv.routes()
	return srv
}

// routes registers all HTTP routes on the router.
func (s *Server) routes() {
	s.router.Get("/healthz", s.handleHealthz)
	if s.collector != nil {
		s.router.Handle("/metrics", s.collector.Handler())
	}

	s.router.Route("/v1/scripts", func(r chi.Router) {
		r.Post("/", s.handleSubmit)
		r.Post("/sync", s.handleSubmitSync)
		r.Get("/{id}", s.handleGetScript)
		r.Delete("/{id}", s.handleForgetScript)
	})

	s.router.Route("/v1/engine", func(r chi.Router) {
		r.Get("/", s.handleEngineStatus)
		r.Post("/reset", s.handleReset)
		r.Post("/terminate", s.handleTerminate)
	})
}

// Router returns the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening on %s", s.addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down: %v", context.Cause(ctx))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// loggingMiddleware logs each request.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Debug("request method=%s path=%s status=%d duration_ms=%d request_id=%s",
			r.Method,
			r.URL.Path,
			ww.Status(),
			time.Since(start).Milliseconds(),
			middleware.GetReqID(r.Context()),
		)
	})
}
