// Package server provides process lifecycle management for the API and worker binaries.
// It runs an optional HTTP server alongside background components and shuts both
// down gracefully.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// ShutdownFunc is a function that shuts down a component gracefully.
type ShutdownFunc func(ctx context.Context) error

// RunFunc is a long-running background component. It should return when ctx is canceled.
type RunFunc func(ctx context.Context) error

// Options configures a Server.
type Options struct {
	// Handler is optional; without it no listener is opened.
	Handler         http.Handler
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	Logger          *slog.Logger
}

type component struct {
	name string
	run  RunFunc
}

// Server wraps http.Server and background components with graceful shutdown.
type Server struct {
	httpServer      *http.Server
	shutdownTimeout time.Duration
	logger          *slog.Logger

	mu            sync.Mutex
	shutdownFuncs []ShutdownFunc
	components    []component
	addr          string
	ready         chan struct{}
}

// New creates a new Server instance.
func New(opts Options) *Server {
	s := &Server{
		shutdownTimeout: opts.ShutdownTimeout,
		logger:          opts.Logger.With("component", "server"),
		ready:           make(chan struct{}),
	}
	if opts.Handler != nil {
		s.httpServer = &http.Server{
			Addr:         fmt.Sprintf(":%d", opts.Port),
			Handler:      opts.Handler,
			ReadTimeout:  opts.ReadTimeout,
			WriteTimeout: opts.WriteTimeout,
		}
	}
	return s
}

// Go registers a background component started by Run.
func (s *Server) Go(name string, fn RunFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.components = append(s.components, component{name: name, run: fn})
}

// OnShutdown registers a function to be called during graceful shutdown.
// Shutdown functions are called in reverse order (LIFO) after the HTTP server stops.
func (s *Server) OnShutdown(name string, fn ShutdownFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdownFuncs = append(s.shutdownFuncs, func(ctx context.Context) error {
		s.logger.Info("shutting down component", "name", name)
		if err := fn(ctx); err != nil {
			s.logger.Error("component shutdown error", "name", name, "error", err)
			return fmt.Errorf("%s: %w", name, err)
		}
		s.logger.Info("component stopped", "name", name)
		return nil
	})
}

// Run starts the server and background components, then blocks until ctx is
// canceled, SIGINT/SIGTERM arrives, or a component fails. It always shuts down
// gracefully before returning.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s.mu.Lock()
	components := s.components
	s.mu.Unlock()

	runErr := make(chan error, len(components)+1)

	if s.httpServer != nil {
		ln, err := net.Listen("tcp", s.httpServer.Addr)
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		s.mu.Lock()
		s.addr = ln.Addr().String()
		s.mu.Unlock()

		go func() {
			s.logger.Info("server starting", "addr", ln.Addr().String())
			if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				runErr <- fmt.Errorf("server error: %w", err)
			}
		}()
	}

	bgCtx, cancelBg := context.WithCancel(context.Background())
	defer cancelBg()

	var wg sync.WaitGroup
	for _, c := range components {
		wg.Add(1)
		go func(c component) {
			defer wg.Done()
			s.logger.Info("component starting", "name", c.name)
			if err := c.run(bgCtx); err != nil && !errors.Is(err, context.Canceled) {
				runErr <- fmt.Errorf("%s: %w", c.name, err)
			}
		}(c)
	}
	close(s.ready)

	var cause error
	select {
	case err := <-runErr:
		s.logger.Error("component failed, shutting down", "error", err)
		cause = err
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	}

	return errors.Join(cause, s.gracefulShutdown(cancelBg, &wg))
}

// gracefulShutdown stops the HTTP server, runs the registered shutdown functions
// and finally stops any component still running.
func (s *Server) gracefulShutdown(cancelBg context.CancelFunc, wg *sync.WaitGroup) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	var errs []error

	if s.httpServer != nil {
		s.logger.Info("phase 1: stopping HTTP server", "timeout", s.shutdownTimeout)
		s.httpServer.SetKeepAlivesEnabled(false)
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", "error", err)
			errs = append(errs, fmt.Errorf("http: %w", err))
		}
		s.logger.Info("HTTP server stopped")
	}

	s.mu.Lock()
	funcs := s.shutdownFuncs
	s.mu.Unlock()

	s.logger.Info("phase 2: stopping registered components", "count", len(funcs))
	for i := len(funcs) - 1; i >= 0; i-- {
		if err := funcs[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}

	cancelBg()
	stopped := make(chan struct{})
	go func() {
		wg.Wait()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("background components: %w", ctx.Err()))
	}

	if len(errs) > 0 {
		s.logger.Error("shutdown completed with errors", "error_count", len(errs))
		return errors.Join(errs...)
	}

	s.logger.Info("server stopped gracefully")
	return nil
}

// Ready is closed once Run has started the listener and every component.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound listener address, or the configured one before Run.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addr != "" {
		return s.addr
	}
	if s.httpServer != nil {
		return s.httpServer.Addr
	}
	return ""
}
