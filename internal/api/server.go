package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/blogic/ucentral-mqtt/internal/audit"
	"github.com/blogic/ucentral-mqtt/internal/infrastructure/bus"
	"github.com/blogic/ucentral-mqtt/internal/infrastructure/config"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests.
const gracefulShutdownTimeout = 5 * time.Second

// Logger defines the logging interface for the server.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Executor runs fn on the event loop and waits for it.
type Executor interface {
	Do(ctx context.Context, fn func()) error
}

// StateSource reports the connection state. Called on the event loop.
type StateSource interface {
	State() bus.State
}

// HealthChecker probes a backing store.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the server's collaborators.
type Deps struct {
	Config config.APIConfig

	// Metrics serves the Prometheus exposition. Required.
	Metrics http.Handler

	// Loop and State back the health endpoint. Required.
	Loop  Executor
	State StateSource

	// Audit backs the audit endpoint and AuditDB the health report. Both
	// are nil when the audit log is disabled.
	Audit   audit.Repository
	AuditDB HealthChecker

	Logger  Logger
	Version string
}

// Server is the local HTTP server.
type Server struct {
	cfg     config.APIConfig
	metrics http.Handler
	loop    Executor
	state   StateSource
	audit   audit.Repository
	auditDB HealthChecker
	logger  Logger
	version string

	server *http.Server
	ln     net.Listener
}

// New creates an unstarted server.
func New(deps Deps) (*Server, error) {
	if deps.Metrics == nil {
		return nil, fmt.Errorf("metrics handler is required")
	}
	if deps.Loop == nil || deps.State == nil {
		return nil, fmt.Errorf("loop and state source are required")
	}

	s := &Server{
		cfg:     deps.Config,
		metrics: deps.Metrics,
		loop:    deps.Loop,
		state:   deps.State,
		audit:   deps.Audit,
		auditDB: deps.AuditDB,
		logger:  deps.Logger,
		version: deps.Version,
	}
	if s.logger == nil {
		s.logger = noopLogger{}
	}
	if s.cfg.MetricsPath == "" {
		s.cfg.MetricsPath = "/metrics"
	}
	return s, nil
}

// Start binds cfg.Listen and serves in the background until Close.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Listen, err)
	}
	s.ln = ln

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server listening", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Close gracefully shuts down the server.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}
