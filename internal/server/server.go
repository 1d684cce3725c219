// Package server assembles HTTP listeners with the shared middleware chain
// and runs them until shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"driftcast/internal/observability/logging"
	"driftcast/internal/observability/metrics"
)

// DefaultShutdownTimeout bounds graceful shutdown once the run context is
// cancelled.
const DefaultShutdownTimeout = 10 * time.Second

// Config describes one listener.
type Config struct {
	Name            string
	Addr            string
	Handler         http.Handler
	Logger          *slog.Logger
	Recorder        *metrics.Recorder
	ShutdownTimeout time.Duration
	// Ready, when set, is closed once the listener is accepting.
	Ready chan<- struct{}
}

// Server is one configured HTTP listener.
type Server struct {
	httpServer      *http.Server
	logger          *slog.Logger
	shutdownTimeout time.Duration
	ready           chan<- struct{}

	mu        sync.Mutex
	boundAddr string
}

// New builds a Server with the middleware chain applied.
func New(cfg Config) *Server {
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = metrics.Default()
	}
	name := cfg.Name
	if name == "" {
		name = "http"
	}
	logger := logging.WithComponent(cfg.Logger, name)
	handler := withRequestID(withObservability(cfg.Handler, logger, recorder))

	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger:          logger,
		shutdownTimeout: timeout,
		ready:           cfg.Ready,
	}
}

// Run listens and serves until the context is cancelled, then shuts down
// gracefully within the configured timeout.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.httpServer.Addr, err)
	}
	s.mu.Lock()
	s.boundAddr = listener.Addr().String()
	s.mu.Unlock()
	s.logger.Info("listening", "addr", listener.Addr().String())
	if s.ready != nil {
		close(s.ready)
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(listener)
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("graceful shutdown incomplete", "error", err)
		return err
	}
	s.logger.Info("stopped")
	return nil
}

// Addr reports the bound address once Run has opened the listener. Useful
// with Addr ":0" in tests.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundAddr
}
