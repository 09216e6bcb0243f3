// Package observability serves the runtime's monitoring surface over
// HTTP: Prometheus metrics, a liveness probe, and a statistics snapshot.
package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/wardenlabs/warden/internal/metrics"
	"github.com/wardenlabs/warden/pkg/runtime"
)

// StatsSource yields the statistics snapshot served at /statsz.
type StatsSource func() runtime.Statistics

// Server is the monitoring HTTP server. The runtime itself never
// depends on it; main wires them together.
type Server struct {
	addr    string
	logger  zerolog.Logger
	metrics *metrics.Metrics
	stats   StatsSource

	srv *http.Server
}

// NewServer creates a monitoring server bound to addr.
func NewServer(addr string, m *metrics.Metrics, stats StatsSource, logger zerolog.Logger) *Server {
	return &Server{
		addr:    addr,
		logger:  logger.With().Str("component", "monitor").Logger(),
		metrics: m,
		stats:   stats,
	}
}

// Handler returns the monitoring routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.metrics.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/statsz", s.handleStatsz)
	return mux
}

// Start serves in the background until Stop is called.
func (s *Server) Start() {
	s.srv = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		s.logger.Info().Str("addr", s.addr).Msg("Monitoring server listening")
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Monitoring server failed")
		}
	}()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	state := s.stats().State
	if state != runtime.StateRunning {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"state": state})
}

func (s *Server) handleStatsz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.stats())
}
