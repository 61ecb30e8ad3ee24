package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/wallvault/wallvault/internal/logger"
)

// Server is the HTTP front of the upload service.
//
// Endpoints:
//   - POST /upload: multipart wallpaper ingestion
//   - GET /wallpapers/{id}: row lookup
//   - GET /health, GET /ready: probes
//   - GET /metrics: Prometheus scrape (when wired)
//
// The server is created stopped; Start blocks until the context is cancelled
// and then drains in-flight requests within the shutdown grace window. While
// draining, /ready reports shutting_down so load balancers stop routing here.
type Server struct {
	server       *http.Server
	config       Config
	shuttingDown atomic.Bool
	shutdownOnce sync.Once
}

// NewServer creates the server with its router wired to deps.
func NewServer(config Config, deps Deps) *Server {
	config.ApplyDefaults()

	s := &Server{config: config}
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      NewRouter(deps, config, &s.shuttingDown),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "port", s.config.Port)

		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
			}
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("HTTP server shutdown signal received")
		// The cancelled ctx would abort in-flight requests immediately;
		// drain on a fresh deadline instead.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownGrace)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("HTTP server failed: %w", err)
	}
}

// Stop drains the server. Readiness flips to shutting_down before the
// listener closes, and calling Stop again is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.shuttingDown.Store(true)

		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("HTTP server shutdown: %w", err)
			logger.Error("HTTP server shutdown error", "error", err)
		} else {
			logger.Info("HTTP server stopped gracefully")
		}
	})
	return shutdownErr
}

// Port returns the configured listen port.
func (s *Server) Port() int {
	return s.config.Port
}
