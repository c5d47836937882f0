// ABOUTME: Operational listeners: Prometheus metrics, HTTP health, and gRPC health
// ABOUTME: Runs until the context is canceled, then shuts both servers down gracefully

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// Check reports whether a dependency is usable.
type Check func(ctx context.Context) error

// Config configures the listeners.
type Config struct {
	MetricsAddr string
	HealthAddr  string
	// Gatherer defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
	// CheckInterval is how often gRPC health status is refreshed.
	CheckInterval time.Duration
	CheckTimeout  time.Duration
}

// Server owns the HTTP and gRPC listeners.
type Server struct {
	cfg        Config
	httpServer *http.Server
	grpcServer *grpc.Server
	health     *health.Server
	logger     *slog.Logger

	mu     sync.RWMutex
	checks map[string]Check
}

// New creates a Server. Nothing listens until Run.
func New(cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 15 * time.Second
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = 3 * time.Second
	}

	s := &Server{
		cfg:    cfg,
		health: health.NewServer(),
		logger: logger.With("component", "server"),
		checks: make(map[string]Check),
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/ready", s.handleReady)
	s.httpServer = &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.grpcServer = grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
	)
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// AddCheck registers a readiness check under name.
func (s *Server) AddCheck(name string, check Check) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = check
}

// Ready runs every check and returns the failures keyed by name.
func (s *Server) Ready(ctx context.Context) map[string]error {
	s.mu.RLock()
	checks := make(map[string]Check, len(s.checks))
	for name, c := range s.checks {
		checks[name] = c
	}
	s.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.CheckTimeout)
	defer cancel()

	failed := make(map[string]error)
	for name, check := range checks {
		if err := check(ctx); err != nil {
			failed[name] = err
		}
	}
	return failed
}

// Run starts the configured listeners and blocks until ctx is canceled or a
// listener fails.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 2)
	running := 0

	if s.cfg.MetricsAddr != "" {
		ln, err := net.Listen("tcp", s.cfg.MetricsAddr)
		if err != nil {
			return fmt.Errorf("listening on metrics address: %w", err)
		}
		running++
		go func() {
			s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
			if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("HTTP server: %w", err)
			}
		}()
	}

	if s.cfg.HealthAddr != "" {
		ln, err := net.Listen("tcp", s.cfg.HealthAddr)
		if err != nil {
			s.gracefulShutdown()
			return fmt.Errorf("listening on health address: %w", err)
		}
		running++
		go func() {
			s.logger.Info("gRPC health server listening", "addr", ln.Addr().String())
			if err := s.grpcServer.Serve(ln); err != nil {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
		go s.watchHealth(ctx)
	}

	if running == 0 {
		<-ctx.Done()
		return nil
	}

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	s.gracefulShutdown()
	return serverErr
}

// watchHealth mirrors readiness into the gRPC health service.
func (s *Server) watchHealth(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		s.refreshHealth(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) refreshHealth(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	if failed := s.Ready(ctx); len(failed) > 0 {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		s.logger.Warn("readiness check failed", "checks", describe(failed))
	}
	s.health.SetServingStatus("", status)
}

// gracefulShutdown uses a fresh context since the caller's is already canceled.
func (s *Server) gracefulShutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.health.Shutdown()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("HTTP shutdown", "error", err)
	}

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpcServer.Stop()
	}
}

// handleHealth returns 200 OK if the process is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK when every check passes.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if failed := s.Ready(r.Context()); len(failed) > 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready: " + describe(failed)))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func describe(failed map[string]error) string {
	parts := make([]string, 0, len(failed))
	for name, err := range failed {
		parts = append(parts, name+": "+err.Error())
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}
