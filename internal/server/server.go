package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/infodancer/dmaild/internal/config"
)

// Server coordinates the listeners of one component, each dispatching to
// the handler registered for its protocol.
type Server struct {
	cfg      *config.Config
	logger   *slog.Logger
	handlers map[config.Protocol]ConnectionHandler

	listeners []*Listener
	ready     chan struct{}
	mu        sync.Mutex
}

// New creates a new Server for the listeners in cfg.
func New(cfg *config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		logger:   logger,
		handlers: make(map[config.Protocol]ConnectionHandler),
		ready:    make(chan struct{}),
	}
}

// Handle registers the connection handler for a protocol.
// Must be called before Run.
func (s *Server) Handle(protocol config.Protocol, handler ConnectionHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[protocol] = handler
}

// Run starts all configured listeners and blocks until the context is cancelled.
// All listeners run in their own goroutines.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()

	for _, lc := range s.cfg.Listeners {
		handler, ok := s.handlers[lc.Protocol]
		if !ok {
			s.mu.Unlock()
			return fmt.Errorf("listener %s: no handler for protocol %q", lc.Address, lc.Protocol)
		}

		idle := s.cfg.Timeouts.ConnectionTimeout()
		if lc.Protocol == config.ProtocolNaming {
			// RPC clients keep their connections open between calls.
			idle = 0
		}

		listener := NewListener(ListenerConfig{
			Address:        lc.Address,
			Protocol:       lc.Protocol,
			IdleTimeout:    idle,
			CommandTimeout: s.cfg.Timeouts.CommandTimeout(),
			LogTransaction: s.cfg.LogLevel == "debug",
			Logger:         s.logger,
			Handler:        handler,
		})
		s.listeners = append(s.listeners, listener)
	}

	listeners := s.listeners
	s.mu.Unlock()

	s.logger.Info("starting server",
		slog.String("hostname", s.cfg.Hostname),
		slog.Int("listener_count", len(listeners)),
	)

	go func() {
		for _, l := range listeners {
			select {
			case <-l.Ready():
			case <-ctx.Done():
				return
			}
		}
		close(s.ready)
	}()

	var wg sync.WaitGroup
	errChan := make(chan error, len(listeners))

	for _, l := range listeners {
		wg.Add(1)
		go func(listener *Listener) {
			defer wg.Done()
			if err := listener.Start(ctx); err != nil && err != context.Canceled {
				errChan <- fmt.Errorf("listener %s: %w", listener.Address(), err)
			}
		}(l)
	}

	<-ctx.Done()

	s.logger.Info("server shutting down")

	wg.Wait()

	close(errChan)
	var firstErr error
	for err := range errChan {
		if firstErr == nil {
			firstErr = err
		}
		s.logger.Error("listener error", slog.String("error", err.Error()))
	}

	s.logger.Info("server stopped")

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

// Ready is closed once every listener is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Listeners returns the listeners created by Run.
func (s *Server) Listeners() []*Listener {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Listener, len(s.listeners))
	copy(out, s.listeners)
	return out
}

// Shutdown stops accepting new connections on every listener.
// Open sessions are closed when Run's context is cancelled.
func (s *Server) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, l := range s.listeners {
		_ = l.Close()
	}
}

// Logger returns the server's logger.
func (s *Server) Logger() *slog.Logger {
	return s.logger
}

// Config returns the server's configuration.
func (s *Server) Config() *config.Config {
	return s.cfg
}
