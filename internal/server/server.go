// Package server provides the HTTP API for Tremor: run management, live
// event streaming and health/metrics surfaces.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/tremor/internal/bus"
	"github.com/aristath/tremor/internal/config"
	"github.com/aristath/tremor/internal/pipeline"
	"github.com/aristath/tremor/internal/store"
)

// Server is the HTTP API over one store and one pipeline.
type Server struct {
	router  *chi.Mux
	server  *http.Server
	log     zerolog.Logger
	cfg     *config.Config
	store   *store.Store
	pipe    *pipeline.Pipeline
	bus     *bus.Bus
	runs    *runManager
	metrics *Metrics
}

// New creates the server and wires its routes. The bus must be the same one
// the pipeline publishes on, or the stream endpoints go silent.
func New(cfg *config.Config, st *store.Store, pipe *pipeline.Pipeline, b *bus.Bus, log zerolog.Logger) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		log:     log.With().Str("component", "server").Logger(),
		cfg:     cfg,
		store:   st,
		pipe:    pipe,
		bus:     b,
		runs:    newRunManager(),
		metrics: NewMetrics(b),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: s.router,
		// No WriteTimeout: the SSE and websocket endpoints hold their
		// connections open indefinitely.
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.metrics.Middleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/metrics", s.metrics.Handler().ServeHTTP)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Post("/runs", s.handleCreateRun)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)
		r.Delete("/runs/{id}", s.handleAbortRun)
		r.Get("/runs/{id}/events", s.handleRunEvents)
		r.Get("/runs/{id}/segments", s.handleRunSegments)
		r.Get("/runs/{id}/scores", s.handleRunScores)
		r.Get("/runs/{id}/veto", s.handleRunVeto)
		r.Get("/runs/{id}/decisions", s.handleRunDecisions)
		r.Get("/runs/{id}/stream", s.handleRunStream)

		r.Post("/score", s.handleScore)
		r.Get("/ws", s.handleWebsocket)
	})
}

// Start begins listening. Blocks until Shutdown or a listener error.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Server.Port).Msg("starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown aborts in-flight runs and drains the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	s.runs.abortAll()
	return s.server.Shutdown(ctx)
}

// Router exposes the handler tree for tests.
func (s *Server) Router() http.Handler { return s.router }

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
