// Package api serves the ops surface over HTTP: a liveness probe, a JSON
// snapshot of pipeline state, a server-sent-event tail of fabric streams,
// and the Prometheus metrics endpoint.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gammabot/internal/bus"
	"gammabot/internal/config"
)

// Server runs the ops HTTP API.
type Server struct {
	cfg      config.APIConfig
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger

	// cancelBase ends in-flight event tails so Shutdown can drain.
	cancelBase context.CancelFunc
}

// NewServer wires the routes. The provider is typically the engine; the
// fabric powers the event tail.
func NewServer(cfg config.APIConfig, provider SnapshotProvider, fabric bus.Bus, logger *slog.Logger) *Server {
	handlers := NewHandlers(provider, fabric, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handlers.HandleHealth)
	mux.HandleFunc("/api/v1/snapshot", handlers.HandleSnapshot)
	mux.HandleFunc("/api/v1/events", handlers.HandleEvents)
	mux.Handle("/metrics", promhttp.Handler())

	baseCtx, cancelBase := context.WithCancel(context.Background())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No WriteTimeout: it would sever long-lived event tails.
		IdleTimeout: 60 * time.Second,
		BaseContext: func(net.Listener) context.Context { return baseCtx },
	}

	return &Server{
		cfg:        cfg,
		handlers:   handlers,
		server:     server,
		logger:     logger.With("component", "api-server"),
		cancelBase: cancelBase,
	}
}

// Start serves requests until Stop or a listener error.
func (s *Server) Start() error {
	s.logger.Info("ops server starting", "addr", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop() error {
	s.logger.Info("stopping ops server")

	s.cancelBase()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}
