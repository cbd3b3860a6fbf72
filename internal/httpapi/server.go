// Package httpapi is the agent's internal health/metrics HTTP surface
// (spec §6 "Metrics snapshot ... readable via a trivially serialisable
// API"; this is the only query-serving surface the agent itself owns —
// DNS/DHCP traffic stays on the managed daemons per spec §1's
// non-goals). Grounded on wisbric-nightowl's internal/httpserver
// package: a chi router, a request-ID middleware, /healthz and /readyz
// endpoints, and a promhttp-mounted /metrics, adapted to this agent's
// plugin registry instead of a database/redis readiness check.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	v1alpha1 "github.com/nnoe/node-agent/internal/apis/config/v1alpha1"
	"github.com/nnoe/node-agent/internal/metrics"
	"github.com/nnoe/node-agent/internal/plugin"
)

// Server is the health/metrics HTTP surface. It never gates the agent's
// own lifecycle: per spec §7, nothing here is fatal, and a listener
// failure is logged by the caller rather than treated as a startup error.
type Server struct {
	cfg      v1alpha1.HTTPConfig
	router   *chi.Mux
	metrics  *metrics.Metrics
	registry *plugin.Registry
	log      logr.Logger
	srv      *http.Server
}

// New builds a Server. registry may be nil (a database-only node
// registers no plugins, per spec §4.11 step 3), in which case /readyz
// always reports ready.
func New(cfg v1alpha1.HTTPConfig, m *metrics.Metrics, registry *plugin.Registry, log logr.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		router:   chi.NewRouter(),
		metrics:  m,
		registry: registry,
		log:      log.WithValues("component", "httpapi"),
	}

	s.router.Use(requestID)
	s.router.Use(s.logRequests)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)
	if m != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
		s.router.Get("/metrics.json", s.handleMetricsJSON)
	}

	return s
}

// ServeHTTP implements http.Handler, so tests can exercise the router
// directly via httptest without starting a real listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run starts the listener and blocks until ctx is cancelled, at which
// point it shuts the server down gracefully within a short timeout.
func (s *Server) Run(ctx context.Context) error {
	if !s.cfg.Enabled {
		<-ctx.Done()
		return nil
	}

	s.srv = &http.Server{Addr: s.cfg.Address, Handler: s.router}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http api listening", "address", s.cfg.Address)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.V(1).Info("http request",
			"method", r.Method, "path", r.URL.Path,
			"status", ww.Status(), "duration", time.Since(start),
			"request_id", w.Header().Get("X-Request-ID"))
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz reports 503 if any registered plugin considers its
// managed daemon unhealthy, so an external process manager can avoid
// routing to a node whose service plugins have not converged.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		respond(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}

	unhealthy := []string{}
	for _, p := range s.registry.All() {
		if !p.Health(r.Context()) {
			unhealthy = append(unhealthy, p.Name())
		}
	}
	if len(unhealthy) > 0 {
		respond(w, http.StatusServiceUnavailable, map[string]any{
			"status":    "not ready",
			"unhealthy": unhealthy,
		})
		return
	}
	respond(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleMetricsJSON serves metrics.Snapshot as JSON: the "trivially
// serialisable API" spec §4.10/§6 call for, independent of the
// Prometheus exposition format served at /metrics.
func (s *Server) handleMetricsJSON(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, s.metrics.Snapshot())
}

func respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
