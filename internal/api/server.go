// internal/api/server.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/FairForge/resilience/internal/breaker"
	"github.com/FairForge/resilience/internal/failover"
	"github.com/FairForge/resilience/internal/ha"
	"github.com/FairForge/resilience/internal/health"
	"github.com/FairForge/resilience/internal/logging"
)

// Introspector is the read side of the HA manager plus manual restore
type Introspector interface {
	GetMetrics() ha.Metrics
	GetCircuitBreakerStatus() []breaker.Snapshot
	GetFailoverHistory() []failover.Event
	GetHealthStatus() []ha.InstanceHealth
	RestoreInstance(ctx context.Context, id string) error
}

// Server is the admin HTTP surface
type Server struct {
	ha         Introspector
	gatherer   prometheus.Gatherer
	logger     *zap.Logger
	router     chi.Router
	httpServer *http.Server

	requestCount int64
	startTime    time.Time
}

// NewServer builds the admin server listening on addr
func NewServer(addr string, intro Introspector, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	s := &Server{
		ha:        intro,
		gatherer:  gatherer,
		logger:    logger,
		router:    chi.NewRouter(),
		startTime: time.Now(),
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.loggingMiddleware)

	s.router.Get("/healthz", s.handleHealthz)
	s.router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	s.router.Route("/ha", func(r chi.Router) {
		r.Get("/metrics", s.handleMetrics)
		r.Get("/breakers", s.handleBreakers)
		r.Get("/failovers", s.handleFailovers)
		r.Get("/health", s.handleHealth)
		r.Post("/instances/{id}/restore", s.handleRestore)
	})
}

// Handler exposes the router, mostly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleHealthz reports 503 only when the primary is unusable; impaired replicas or
// cache report degraded with 200.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	primary := s.ha.GetMetrics().Topology.Primary

	status := health.StatusHealthy
	code := http.StatusOK
	for _, h := range s.ha.GetHealthStatus() {
		switch h.State {
		case health.StateHealthy, health.StateUnprobed:
			continue
		}
		if h.Service == primary && h.State == health.StateUnhealthy {
			status = health.StatusUnhealthy
			code = http.StatusServiceUnavailable
			break
		}
		status = health.StatusDegraded
	}

	writeJSON(w, code, map[string]interface{}{
		"status":  status,
		"primary": primary,
		"uptime":  time.Since(s.startTime).Seconds(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ha.GetMetrics())
}

func (s *Server) handleBreakers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ha.GetCircuitBreakerStatus())
}

func (s *Server) handleFailovers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ha.GetFailoverHistory())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ha.GetHealthStatus())
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := context.WithValue(r.Context(), logging.ContextKeyService, id)

	err := s.ha.RestoreInstance(ctx, id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"restored": id})
		return
	case errors.Is(err, failover.ErrUnknownInstance):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, ha.ErrNotInitialized), errors.Is(err, ha.ErrShutdown):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeError(w, http.StatusConflict, err)
	}
	logging.WithContext(ctx, s.logger).Warn("restore rejected", zap.Error(err))
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&s.requestCount, 1)
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		ctx := context.WithValue(r.Context(), logging.ContextKeyRequestID, middleware.GetReqID(r.Context()))

		next.ServeHTTP(ww, r.WithContext(ctx))

		logging.WithContext(ctx, s.logger).Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	})
}

// Start blocks serving until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info("starting admin server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
