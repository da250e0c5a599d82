package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"rankgofer/internal/config"
	"rankgofer/internal/metrics"
	"rankgofer/internal/ws"
)

// Server exposes a lookup service over HTTP and WebSocket
type Server struct {
	cfg        *config.Config
	service    Service
	metrics    *metrics.Metrics
	httpServer *http.Server
	listener   net.Listener
	logger     zerolog.Logger
}

// New creates a new Server. m may be nil.
func New(cfg *config.Config, service Service, m *metrics.Metrics, logger zerolog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		service: service,
		metrics: m,
		logger:  logger.With().Str("component", "server").Logger(),
	}
}

// Handler returns the HTTP routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /lookup", s.handleLookup)
	mux.HandleFunc("GET /lookup/{item}", s.handleLookupOne)
	mux.Handle("GET /ws/loading", ws.NewHandler(s.service, s.logger))
	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

// Start binds the listen address and serves in the background
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		s.logger.Info().
			Str("addr", listener.Addr().String()).
			Msg("starting HTTP server")
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	s.logger.Info().
		Str("lookup", fmt.Sprintf("http://%s/lookup", listener.Addr())).
		Str("ws", fmt.Sprintf("ws://%s/ws/loading", listener.Addr())).
		Msg("endpoint available")

	return nil
}

// Addr returns the bound address, or nil before Start
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("shutting down server...")

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("HTTP server shutdown error: %w", err)
		}
	}

	s.logger.Info().Msg("server stopped")
	return nil
}
