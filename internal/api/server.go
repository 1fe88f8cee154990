// Package api exposes the agent over HTTP.
//
// Endpoints:
//
//	POST /agent/message  - answer one user message
//	POST /api/sessions   - mint a new session id
//	GET  /health         - liveness probe
//	GET  /ready          - readiness probe (content index built)
//
// File structure:
//   - server.go: server setup and lifecycle
//   - middleware.go: logging and panic recovery
//   - health.go: liveness and readiness probes
//   - session.go: session id endpoint
//   - message.go: the chat endpoint
//   - response.go: JSON response helpers
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/calyptra/sage/internal/log"
)

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = "127.0.0.1:3400"

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout bounds header reads to keep slow clients from
	// holding connections open.
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 30 * time.Second

	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout = 60 * time.Second

	// IdleTimeout is the maximum wait for the next request on keep-alive
	// connections.
	IdleTimeout = 120 * time.Second
)

// MessageProcessor answers user messages. internal/agent satisfies it.
type MessageProcessor interface {
	ProcessMessage(ctx context.Context, sessionID, message string) string
}

// ReadinessChecker reports whether the content index is built.
// internal/index satisfies it.
type ReadinessChecker interface {
	Ready() bool
}

// Server is the HTTP server for the agent API.
type Server struct {
	mux    *http.ServeMux
	logger log.Logger

	health  *HealthHandler
	session *SessionHandler
	message *MessageHandler
}

// NewServer creates a server with all routes registered.
func NewServer(processor MessageProcessor, readiness ReadinessChecker, logger log.Logger) (*Server, error) {
	if processor == nil {
		return nil, errors.New("message processor is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}

	mux := http.NewServeMux()

	s := &Server{
		mux:    mux,
		logger: logger,

		health:  NewHealthHandler(readiness, logger),
		session: NewSessionHandler(logger),
		message: NewMessageHandler(processor, logger),
	}

	s.health.RegisterRoutes(mux)
	s.session.RegisterRoutes(mux)
	s.message.RegisterRoutes(mux)

	return s, nil
}

// Handler returns the HTTP handler with middleware applied.
// Middleware order: recovery wraps logging wraps the mux.
func (s *Server) Handler() http.Handler {
	return chain(s.mux,
		recoveryMiddleware(s.logger),
		loggingMiddleware(s.logger))
}

// Run starts the server and blocks until the context is canceled, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
