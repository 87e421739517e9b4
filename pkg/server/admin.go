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

	"mercator-hq/callisto/pkg/config"
	"mercator-hq/callisto/pkg/telemetry/health"
	"mercator-hq/callisto/pkg/telemetry/metrics"
)

// AdminServer serves metrics and health endpoints over net/http on a
// separate address from the front end.
type AdminServer struct {
	config     *config.TelemetryConfig
	httpServer *http.Server
	listener   net.Listener
	mu         sync.Mutex
	isRunning  bool
	logger     *slog.Logger
}

// NewAdminServer builds the admin mux. Metrics are mounted when collector
// is non-nil and metrics are enabled, health endpoints when checker is
// non-nil and health is enabled.
func NewAdminServer(cfg *config.TelemetryConfig, collector *metrics.Collector, checker *health.Checker, info health.VersionInfo) *AdminServer {
	mux := http.NewServeMux()

	if collector != nil && cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, collector.Handler())
	}
	if checker != nil && cfg.Health.Enabled {
		checker.Register(mux, cfg.Health.LivenessPath, cfg.Health.ReadinessPath, info)
	}

	return &AdminServer{
		config: cfg,
		httpServer: &http.Server{
			Addr:              cfg.AdminAddress,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: slog.Default().With("component", "admin"),
	}
}

// Handler returns the admin mux.
func (a *AdminServer) Handler() http.Handler {
	return a.httpServer.Handler
}

// Start listens and serves in the background. It returns once the listener
// is bound.
func (a *AdminServer) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.isRunning {
		return fmt.Errorf("admin server is already running")
	}

	ln, err := net.Listen("tcp", a.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.httpServer.Addr, err)
	}
	a.listener = ln
	a.isRunning = true

	go func() {
		a.logger.Info("starting admin server", "address", ln.Addr().String())
		if err := a.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("admin server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, nil before Start.
func (a *AdminServer) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// Shutdown stops the admin server.
func (a *AdminServer) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.isRunning {
		return nil
	}
	a.isRunning = false

	if err := a.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("admin server shutdown error: %w", err)
	}
	a.logger.Info("admin server stopped")
	return nil
}
