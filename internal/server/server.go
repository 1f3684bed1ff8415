// Package server exposes the ingestion pipeline and the repository over
// HTTP. Ingest runs stream their progress as Server-Sent Events.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"mailbrief/internal/config"
	"mailbrief/internal/core"
	"mailbrief/internal/ingest"
	"mailbrief/internal/logger"
)

// Store is the repository slice the HTTP handlers read from.
type Store interface {
	Ping() error
	ListItemsByIngestDate(date string) ([]core.Item, error)
	LatestIngestDate() (string, error)
	ListSources(enabledOnly bool) ([]core.Source, error)
	ItemCounts() (map[core.SourceType]int, error)
}

// RunFunc executes one ingestion run, delivering progress events to
// onEvent. Each HTTP-triggered run gets its own event sink.
type RunFunc func(ctx context.Context, opts ingest.RunOptions, onEvent ingest.EmitFunc) error

// Server is the HTTP server.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	store      Store
	runIngest  RunFunc
	config     config.Server
	log        *slog.Logger
}

// New creates the server. runIngest may be nil when the deployment only
// serves reads; the ingest endpoint then responds 503.
func New(store Store, runIngest RunFunc, cfg config.Server) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		store:     store,
		runIngest: runIngest,
		config:    cfg,
		log:       logger.Get(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:     s.router,
		ReadTimeout: cfg.ReadTimeout,
		// WriteTimeout bounds the whole response including a full
		// ingest run streamed over SSE, so it is generous.
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/items", s.handleListItems)
		r.Get("/sources", s.handleListSources)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Post("/ingest/run", s.handleRunIngest)
		})
	})
}

// Start runs the server until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}
