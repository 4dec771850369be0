package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/mentionscan/internal/persistence"
)

// Server serves /metrics and /healthz
type Server struct {
	router *mux.Router
	server *http.Server
	health persistence.RepositoryHealth
}

// NewServer builds the router. health may be nil when no database is
// configured; /healthz then always reports healthy.
func NewServer(addr string, registry *Registry, health persistence.RepositoryHealth) *Server {
	s := &Server{
		router: mux.NewRouter(),
		health: health,
	}

	s.router.Use(requestLoggingMiddleware)
	s.router.Handle("/metrics", promhttp.HandlerFor(registry.Gatherer(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens in the background. The returned channel carries the serve
// error, if any, and is closed when the server stops.
func (s *Server) Start() (<-chan error, error) {
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return nil, err
	}

	log.Info().Str("addr", listener.Addr().String()).Msg("Metrics server listening")

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	return errCh, nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	check := persistence.HealthCheck{Healthy: true, LastCheck: time.Now()}
	if s.health != nil {
		check = s.health.Health(r.Context())
	}

	w.Header().Set("Content-Type", "application/json")
	if !check.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(check); err != nil {
		log.Warn().Err(err).Msg("Failed to encode health response")
	}
}

type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWrapper) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

func requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}
