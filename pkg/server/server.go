package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/callisto/pkg/config"
	"mercator-hq/callisto/pkg/dispatch"
	"mercator-hq/callisto/pkg/filter"
	"mercator-hq/callisto/pkg/journal"
	"mercator-hq/callisto/pkg/limits/ratelimit"
	"mercator-hq/callisto/pkg/sandbox"
	"mercator-hq/callisto/pkg/telemetry/health"
	"mercator-hq/callisto/pkg/telemetry/metrics"
	"mercator-hq/callisto/pkg/telemetry/tracing"
)

// ErrServerClosed is returned by Serve after Shutdown.
var ErrServerClosed = errors.New("server closed")

// Executor runs a script for a request on a handed-over connection.
// *sandbox.Manager implements it.
type Executor interface {
	Execute(ctx context.Context, clientID, filePath string, conn net.Conn, raw []byte) sandbox.Outcome
}

// Journal records answered requests. *recorder.Recorder implements it.
type Journal interface {
	Record(ctx context.Context, entry *journal.Entry) error
}

// Server accepts raw TCP connections and runs one goroutine per connection.
type Server struct {
	config   *config.ServerConfig
	engine   *filter.Engine
	resolver *dispatch.Resolver

	admitter ratelimit.Admitter
	executor Executor
	journal  Journal
	metrics  *metrics.Collector
	tracer   trace.Tracer
	health   *health.Checker
	logger   *slog.Logger

	listener     net.Listener
	conns        map[*conn]struct{}
	wg           sync.WaitGroup
	mu           sync.Mutex
	isRunning    bool
	closing      atomic.Bool
	shutdownOnce sync.Once

	// onTransition observes state changes. Used by tests.
	onTransition func(c *conn, from, to State)
}

// Option configures a Server.
type Option func(*Server)

// WithAdmitter enables per-client admission control.
func WithAdmitter(a ratelimit.Admitter) Option {
	return func(s *Server) { s.admitter = a }
}

// WithExecutor sets the script executor. Without one, script targets are
// answered with 500.
func WithExecutor(e Executor) Option {
	return func(s *Server) { s.executor = e }
}

// WithJournal records every answered request.
func WithJournal(j Journal) Option {
	return func(s *Server) { s.journal = j }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(s *Server) { s.metrics = m }
}

// WithTracer sets the tracer used for request spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *Server) { s.tracer = t }
}

// WithHealth lets the server report draining during shutdown.
func WithHealth(h *health.Checker) Option {
	return func(s *Server) { s.health = h }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer creates a server answering from engine and resolver.
func NewServer(cfg *config.ServerConfig, engine *filter.Engine, resolver *dispatch.Resolver, opts ...Option) *Server {
	s := &Server{
		config:   cfg,
		engine:   engine,
		resolver: resolver,
		tracer:   otel.Tracer(tracing.InstrumentationName),
		logger:   slog.Default(),
		conns:    make(map[*conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "server")
	return s
}

// Start listens on the configured address and serves until ctx is done, a
// termination signal arrives or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.isRunning = true
	s.mu.Unlock()

	ln, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddress, err)
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server",
			"address", ln.Addr().String(),
			"root", s.config.Root,
		)
		if err := s.Serve(ctx, ln); err != nil && !errors.Is(err, ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		return s.Shutdown(context.Background())
	case err := <-errChan:
		s.Shutdown(context.Background())
		return err
	}
}

// Serve accepts connections on ln until Shutdown is called. It always
// returns a non-nil error; after Shutdown the error is ErrServerClosed.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.listener != nil {
		s.mu.Unlock()
		return fmt.Errorf("server is already serving on %s", s.listener.Addr())
	}
	s.listener = ln
	s.isRunning = true
	s.mu.Unlock()

	if s.closing.Load() {
		ln.Close()
		return ErrServerClosed
	}

	var delay time.Duration
	for {
		nc, err := ln.Accept()
		if err != nil {
			if s.closing.Load() {
				return ErrServerClosed
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}

			if delay == 0 {
				delay = 5 * time.Millisecond
			} else if delay *= 2; delay > time.Second {
				delay = time.Second
			}
			s.logger.Warn("accept failed, retrying", "error", err, "delay", delay)
			time.Sleep(delay)
			continue
		}
		delay = 0

		c := s.newConn(nc)
		if !s.track(c) {
			nc.Close()
			return ErrServerClosed
		}
		go c.serve(ctx)
	}
}

// Shutdown stops accepting, closes idle connections and waits for active
// ones to finish their current request, at most ShutdownTimeout or until
// ctx is done. Connections still open then are closed.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.closing.Store(true)
		if s.health != nil {
			s.health.SetDraining(true)
		}

		s.mu.Lock()
		ln := s.listener
		s.mu.Unlock()

		s.logger.Info("initiating graceful shutdown", "timeout", s.config.ShutdownTimeout.String())

		if ln != nil {
			if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				s.logger.Warn("error closing listener", "error", err)
			}
		}

		if s.config.ShutdownTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
			defer cancel()
		}

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()

		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()

		s.closeIdle()
	wait:
		for {
			select {
			case <-done:
				break wait
			case <-ticker.C:
				s.closeIdle()
			case <-ctx.Done():
				n := s.closeAll()
				s.logger.Warn("shutdown timed out, closed active connections", "connections", n)
				shutdownErr = fmt.Errorf("server shutdown: %w", ctx.Err())
				<-done
				break wait
			}
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		s.logger.Info("server stopped")
	})

	return shutdownErr
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// Serving reports whether the server accepts new connections. It backs the
// readiness check.
func (s *Server) Serving() bool {
	return s.IsRunning() && !s.closing.Load()
}

// Addr returns the listener address, nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Connections returns the number of open connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) track(c *conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing.Load() {
		return false
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(c *conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.wg.Done()
}

func (s *Server) closeIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		if c.getState() == StateIdle {
			c.nc.Close()
		}
	}
}

func (s *Server) closeAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.nc.Close()
	}
	return len(s.conns)
}
