package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Server timeouts.
const (
	readHeaderTimeout = 5 * time.Second
	writeTimeout      = 10 * time.Second
	idleTimeout       = 60 * time.Second

	// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
	// during shutdown before forcefully closing connections.
	gracefulShutdownTimeout = 5 * time.Second
)

// Logger defines the logging interface for the server.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// HealthChecker is implemented by components reported on /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Check names a HealthChecker in the /health response.
type Check struct {
	Name  string
	Check HealthChecker
}

// Deps holds the dependencies for the status server.
type Deps struct {
	// Listen is the TCP address, e.g. ":9100".
	Listen string

	// Metrics serves /metrics. Optional.
	Metrics http.Handler

	// Checks are reported on /health in order.
	Checks []Check

	Logger  Logger
	Version string
}

// Server is the status HTTP server.
type Server struct {
	listen  string
	metrics http.Handler
	checks  []Check
	logger  Logger
	version string

	server   *http.Server
	listener net.Listener
}

// New creates a status server. Call Start to begin serving.
func New(deps Deps) (*Server, error) {
	if deps.Listen == "" {
		return nil, fmt.Errorf("api: listen address is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("api: logger is required")
	}
	for _, c := range deps.Checks {
		if c.Name == "" || c.Check == nil {
			return nil, fmt.Errorf("api: health check needs a name and a checker")
		}
	}

	return &Server{
		listen:  deps.Listen,
		metrics: deps.Metrics,
		checks:  deps.Checks,
		logger:  deps.Logger,
		version: deps.Version,
	}, nil
}

// Start binds the listen address and serves in the background.
// Bind errors are returned directly.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("api: listen on %s: %w", s.listen, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	s.logger.Info("status server starting", "address", ln.Addr().String())

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the server.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("status server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down status server: %w", err)
	}
	return nil
}
