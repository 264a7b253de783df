// Package api exposes registration, ad-hoc checks and health over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/wnt/chainwatch/internal/check"
	"github.com/wnt/chainwatch/internal/ledger"
	"github.com/wnt/chainwatch/internal/poller"
	"github.com/wnt/chainwatch/internal/registry"
	"github.com/wnt/chainwatch/internal/rpc"
)

// Checker runs ad-hoc address checks
type Checker interface {
	CheckAddress(ctx context.Context, chain, address string) (*check.Result, error)
}

// SchedulerStats is implemented by poller.Scheduler
type SchedulerStats interface {
	Stats() poller.Stats
}

// PoolStats is implemented by the chain clients
type PoolStats interface {
	Stats() rpc.Stats
}

// Deps are the services the handlers call into
type Deps struct {
	Registry   *registry.Registry
	Ledger     *ledger.Ledger
	Checker    Checker
	Schedulers []SchedulerStats
	Pools      []PoolStats
}

// Server represents the API server
type Server struct {
	entities *EntityHandler
	checks   *CheckHandler
	deps     Deps
	logger   zerolog.Logger
	server   *http.Server
}

// NewServer creates a new API server
func NewServer(port string, deps Deps, logger zerolog.Logger) *Server {
	logger = logger.With().Str("component", "api").Logger()
	return &Server{
		entities: NewEntityHandler(deps.Registry, deps.Ledger, logger),
		checks:   NewCheckHandler(deps.Checker, logger),
		deps:     deps,
		logger:   logger,
		server: &http.Server{
			Addr:         ":" + port,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start serves until Stop
func (s *Server) Start() error {
	s.server.Handler = s.Router()

	s.logger.Info().Str("address", s.server.Addr).Msg("Starting API server")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start API server: %w", err)
	}
	return nil
}

// Stop stops the API server gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping API server")
	return s.server.Shutdown(ctx)
}

// Router configures the API routes
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.loggingMiddleware)

	api := router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/entities", s.entities.Register).Methods(http.MethodPost)
	api.HandleFunc("/entities/{id:[0-9]+}", s.entities.Remove).Methods(http.MethodDelete)
	api.HandleFunc("/entities/{id:[0-9]+}/alerts", s.entities.Alerts).Methods(http.MethodGet)
	api.HandleFunc("/users/{user}/entities", s.entities.ListForUser).Methods(http.MethodGet)

	api.HandleFunc("/check/{chain}/{address}", s.checks.Check).Methods(http.MethodGet)

	api.HandleFunc("/health", s.healthCheck).Methods(http.MethodGet)

	router.Handle("/metrics", promhttp.Handler())

	return router
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)

		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// healthCheck reports scheduler and upstream state. It is degraded when a
// scheduler keeps failing or a pool has no healthy endpoint left.
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status: "healthy",
		Time:   time.Now().UTC(),
	}

	for _, sched := range s.deps.Schedulers {
		stats := sched.Stats()
		if stats.ConsecutiveFailures > 0 {
			response.Status = "degraded"
		}
		response.Schedulers = append(response.Schedulers, stats)
	}
	for _, pool := range s.deps.Pools {
		stats := pool.Stats()
		if stats.HealthyEndpoints == 0 {
			response.Status = "degraded"
		}
		response.Pools = append(response.Pools, stats)
	}

	writeJSON(w, s.logger, http.StatusOK, response)
}

func writeJSON(w http.ResponseWriter, logger zerolog.Logger, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func writeError(w http.ResponseWriter, logger zerolog.Logger, statusCode int, code, message string) {
	writeJSON(w, logger, statusCode, ErrorResponse{Error: code, Message: message})
}
