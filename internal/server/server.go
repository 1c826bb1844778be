// Package server wires the consolidation service together and serves its
// HTTP API, health endpoints and metrics.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/limiquantix/consolidator/internal/config"
	"github.com/limiquantix/consolidator/internal/consolidation"
	"github.com/limiquantix/consolidator/internal/drs"
	"github.com/limiquantix/consolidator/internal/fleet"
	"github.com/limiquantix/consolidator/internal/repository/etcd"
	"github.com/limiquantix/consolidator/internal/repository/memory"
	"github.com/limiquantix/consolidator/internal/repository/postgres"
	"github.com/limiquantix/consolidator/internal/repository/redis"
	"github.com/limiquantix/consolidator/internal/scheduler"
)

// Server represents the consolidation service.
type Server struct {
	config     *config.Config
	logger     *zap.Logger
	httpServer *http.Server
	mux        *http.ServeMux

	// Infrastructure
	db    *postgres.DB
	cache *redis.Cache
	etcd  *etcd.Client

	fleet     *fleet.Fleet
	journal   drs.JournalRepository
	scheduler *scheduler.Scheduler
	engine    *drs.Engine

	// Leader election (for HA)
	leader *etcd.Leader
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithPostgreSQL records the migration journal in PostgreSQL.
func WithPostgreSQL(db *postgres.DB) ServerOption {
	return func(s *Server) {
		s.db = db
	}
}

// WithRedis publishes pass summaries to Redis.
func WithRedis(cache *redis.Cache) ServerOption {
	return func(s *Server) {
		s.cache = cache
	}
}

// WithEtcd enables leader election and the distributed pass lock.
func WithEtcd(client *etcd.Client) ServerOption {
	return func(s *Server) {
		s.etcd = client
	}
}

// New creates a new server instance operating on f.
func New(cfg *config.Config, f *fleet.Fleet, logger *zap.Logger, opts ...ServerOption) (*Server, error) {
	s := &Server{
		config: cfg,
		logger: logger,
		mux:    http.NewServeMux(),
		fleet:  f,
	}

	for _, opt := range opts {
		opt(s)
	}

	if err := s.initServices(); err != nil {
		return nil, err
	}
	s.registerRoutes()

	handler := s.setupMiddleware(s.mux)
	s.httpServer = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s, nil
}

// initServices builds the journal, scheduler and consolidation trigger.
func (s *Server) initServices() error {
	if s.db != nil {
		s.logger.Info("Recording migration journal in PostgreSQL")
		s.journal = postgres.NewJournalRepository(s.db, s.logger)
	} else {
		s.logger.Info("Recording migration journal in memory")
		s.journal = memory.NewJournalRepository()
	}

	sched, err := scheduler.New(s.fleet, s.config.Scheduler, s.logger)
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}
	s.scheduler = sched

	consolidator, err := consolidation.NewMultiTenantConsolidator(s.config.Consolidation.Engine, s.logger)
	if err != nil {
		return fmt.Errorf("creating consolidator: %w", err)
	}

	s.engine = drs.NewEngine(s.config.Consolidation, consolidator, s.fleet, s.journal, s.logger)
	s.engine.SetAdmitter(s.scheduler)
	if s.cache != nil {
		s.engine.SetCache(s.cache)
	}
	if s.etcd != nil {
		s.engine.SetPassLock(s.etcd.NewPassLock(s.config.Consolidation.LockKey, s.config.Consolidation.LockTimeout))
	}

	s.logger.Info("Services initialized",
		zap.String("scheduler_strategy", s.config.Scheduler.PlacementStrategy),
		zap.String("consolidator", consolidator.Name()),
		zap.Bool("postgres", s.db != nil),
		zap.Bool("redis", s.cache != nil),
		zap.Bool("etcd", s.etcd != nil),
	)
	return nil
}

// registerRoutes registers all HTTP routes.
func (s *Server) registerRoutes() {
	// Health endpoints
	s.mux.HandleFunc("/health", s.healthHandler)
	s.mux.HandleFunc("/healthz", s.healthHandler) // Kubernetes-style endpoint
	s.mux.HandleFunc("/ready", s.readyHandler)
	s.mux.HandleFunc("/live", s.liveHandler)

	s.mux.HandleFunc("/api/v1/info", s.infoHandler)

	handler := NewConsolidationHandler(s.engine, s.engine, s.fleet, s.journal, s.logger)
	if s.cache != nil {
		handler.SetFollowerReads(s.cache, s)
	}
	handler.RegisterRoutes(s.mux)

	if s.config.Metrics.Enabled {
		s.mux.Handle(s.config.Metrics.Path, promhttp.Handler())
		s.logger.Info("Registered metrics endpoint", zap.String("path", s.config.Metrics.Path))
	}
}

// setupMiddleware configures middleware chain.
func (s *Server) setupMiddleware(handler http.Handler) http.Handler {
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   s.config.CORS.AllowedOrigins,
		AllowedMethods:   s.config.CORS.AllowedMethods,
		AllowedHeaders:   s.config.CORS.AllowedHeaders,
		AllowCredentials: s.config.CORS.AllowCredentials,
		MaxAge:           86400, // 24 hours
	})

	handler = corsHandler.Handler(handler)
	handler = s.loggingMiddleware(handler)
	handler = s.recoveryMiddleware(handler)

	return handler
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		// Skip logging for health checks and scrapes
		switch r.URL.Path {
		case "/health", "/healthz", "/ready", "/live", s.config.Metrics.Path:
			return
		}

		s.logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_addr", r.RemoteAddr),
		)
	})
}

// recoveryMiddleware recovers from panics.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("Panic recovered",
					zap.Any("error", err),
					zap.String("path", r.URL.Path),
				)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// healthHandler returns health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "consolidator",
	})
}

// readyHandler reports the health of every configured backend.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ready := true
	components := map[string]string{}

	check := func(name string, health func(context.Context) error) {
		if err := health(ctx); err != nil {
			ready = false
			components[name] = "unhealthy"
			return
		}
		components[name] = "healthy"
	}

	if s.db != nil {
		check("postgres", s.db.Health)
	}
	if s.cache != nil {
		check("redis", s.cache.Health)
	}
	if s.etcd != nil {
		check("etcd", s.etcd.Health)
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{
		"ready":      ready,
		"components": components,
	})
}

// liveHandler returns liveness status.
func (s *Server) liveHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"alive": true})
}

// infoHandler returns API information.
func (s *Server) infoHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":             "consolidator",
		"api_version":      "v1",
		"secure_selection": s.config.Consolidation.Engine.SecureSelection,
		"release_policy":   s.config.Consolidation.Engine.ReleasePolicy,
		"leader":           s.IsLeader(),
		"infrastructure": map[string]bool{
			"postgres": s.db != nil,
			"redis":    s.cache != nil,
			"etcd":     s.etcd != nil,
		},
	})
}

// Run starts the consolidation loop and the HTTP server and blocks until
// shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("Starting server",
		zap.String("address", s.config.Server.Address()),
	)

	// Start leader election if etcd is available
	if s.etcd != nil {
		leader, err := s.etcd.CampaignForLeader(ctx, s.config.Etcd.ElectionName, func(isLeader bool) {
			if isLeader {
				s.logger.Info("This instance is now the leader")
			} else {
				s.logger.Info("This instance is now a follower")
			}
		})
		if err != nil {
			s.logger.Warn("Failed to start leader election", zap.Error(err))
		} else {
			s.leader = leader
			s.engine.SetLeaderChecker(leader)
		}
	}

	if s.cache != nil {
		go s.watchPasses(ctx)
	}
	go s.engine.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	return s.Shutdown()
}

// watchPasses logs passes published by the leader while this replica follows.
func (s *Server) watchPasses(ctx context.Context) {
	for summary := range s.cache.SubscribePasses(ctx) {
		if s.IsLeader() {
			continue
		}
		s.logger.Info("Leader completed consolidation pass",
			zap.String("pass_id", summary.ID),
			zap.Int("migrations", summary.Migrations),
			zap.Int("active_after", summary.ActiveAfter),
		)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Shutting down server...")

	if s.leader != nil {
		if err := s.leader.Resign(shutdownCtx); err != nil {
			s.logger.Warn("Failed to resign leadership", zap.Error(err))
		}
	}

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP shutdown error: %w", err)
	}

	if s.etcd != nil {
		if err := s.etcd.Close(); err != nil {
			s.logger.Warn("Failed to close etcd", zap.Error(err))
		}
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Warn("Failed to close Redis", zap.Error(err))
		}
	}
	if s.db != nil {
		s.db.Close()
	}

	s.logger.Info("Server stopped gracefully")
	return nil
}

// Handler returns the HTTP handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Engine returns the consolidation trigger.
func (s *Server) Engine() *drs.Engine {
	return s.engine
}

// IsLeader reports whether this replica leads. Without etcd every replica
// leads.
func (s *Server) IsLeader() bool {
	return s.leader == nil || s.leader.IsLeader()
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
