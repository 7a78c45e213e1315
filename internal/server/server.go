// Package server provides the HTTP API for Mitsukeru.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/mitsukeru/internal/builder"
	"github.com/hyperjump/mitsukeru/internal/config"
	"github.com/hyperjump/mitsukeru/internal/embedding"
	"github.com/hyperjump/mitsukeru/internal/scanner"
	"github.com/hyperjump/mitsukeru/internal/search"
	"github.com/hyperjump/mitsukeru/internal/store"
)

// Server is the HTTP server for the Mitsukeru API. The search engine is
// swapped atomically after each successful build, so in-flight queries keep
// their snapshot while new queries see the fresh one.
type Server struct {
	config  *config.Config
	store   *store.Store
	gateway embedding.Gateway
	scanner *scanner.Scanner
	manager *builder.Manager
	roots   scanner.RootProvider
	logger  *zap.Logger
	server  *http.Server

	engineMu sync.RWMutex
	engine   *search.Engine
}

// NewServer creates a server with the given dependencies. engine may be nil
// when no snapshot exists yet; search requests then fail with 404 until a
// build completes.
func NewServer(
	cfg *config.Config,
	st *store.Store,
	gw embedding.Gateway,
	sc *scanner.Scanner,
	engine *search.Engine,
	logger *zap.Logger,
) *Server {
	return &Server{
		config:  cfg,
		store:   st,
		gateway: gw,
		scanner: sc,
		manager: builder.NewManager(),
		roots:   scanner.SystemRoots,
		logger:  logger,
		engine:  engine,
	}
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.routes(),
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Post("/api/v1/search", s.handleSearch)
	r.Post("/api/v1/index/build", s.handleIndexBuild)
	r.Get("/api/v1/index/progress", s.handleIndexProgress)
	r.Post("/api/v1/index/cancel", s.handleIndexCancel)
	r.Get("/api/v1/status", s.handleStatus)
	r.Get("/health", s.handleHealth)
	return r
}

func (s *Server) currentEngine() *search.Engine {
	s.engineMu.RLock()
	defer s.engineMu.RUnlock()
	return s.engine
}

// reloadEngine replaces the served snapshot after a successful build.
func (s *Server) reloadEngine() {
	engine, err := search.NewEngine(context.Background(), s.store, s.gateway, search.WithLogger(s.logger))
	if err != nil {
		s.logger.Error("failed to reload search engine", zap.Error(err))
		return
	}
	s.engineMu.Lock()
	s.engine = engine
	s.engineMu.Unlock()
	s.logger.Info("search engine reloaded", zap.Int("images", engine.Size()))
}

// TriggerRebuild starts a full rebuild over the configured roots. It is used
// both by the build endpoint and by the filesystem watcher. The job outlives
// the caller: ctx carries values only, not cancellation — an HTTP request
// context is cancelled the moment the 202 is written, which would kill the
// run before it scans anything. Manager.Cancel is the cancellation path.
func (s *Server) TriggerRebuild(ctx context.Context, roots []string) (string, error) {
	ctx = context.WithoutCancel(ctx)
	if len(roots) == 0 {
		roots = s.config.Scan.Roots
	}
	if len(roots) == 0 {
		roots = s.roots()
	}
	job := builder.NewJob(s.scanner, s.gateway, s.store, roots, builder.WithLogger(s.logger))
	return s.manager.Start(ctx, job, func(o *builder.Outcome) {
		if o.Stage == builder.StageCompleted {
			s.reloadEngine()
		}
	})
}
