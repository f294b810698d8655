// Package server exposes the orchestrator over HTTP. Handlers stay
// thin: decode, delegate, encode. Error codes on the wire are stable
// strings clients can switch on; HTTP status and message text are not
// part of the contract.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/normanking/synapse/internal/config"
	"github.com/normanking/synapse/internal/health"
	"github.com/normanking/synapse/internal/orchestrator"
	"github.com/normanking/synapse/internal/provider"
)

// Server is the HTTP front end.
type Server struct {
	facade   *orchestrator.Facade
	tracker  *health.Tracker
	registry *provider.Registry
	cfg      config.ServerConfig
	log      zerolog.Logger

	httpServer *http.Server
}

// New assembles the server. Call Start to begin listening, or Handler
// to mount the routes elsewhere.
func New(cfg config.ServerConfig, facade *orchestrator.Facade, tracker *health.Tracker, registry *provider.Registry, log zerolog.Logger) *Server {
	s := &Server{
		facade:   facade,
		tracker:  tracker,
		registry: registry,
		cfg:      cfg,
		log:      log,
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /orchestrate", s.handleOrchestrate)
	mux.HandleFunc("POST /memory/learn", s.handleLearn)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// Start listens until the context is cancelled, then drains in-flight
// requests before returning.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.Addr).Msg("http server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	s.log.Info().Msg("http server draining")
	return s.httpServer.Shutdown(shutdownCtx)
}
