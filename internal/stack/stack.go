// Package stack assembles the dmaild components: transfer servers,
// mailbox servers and nameservers.
package stack

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/infodancer/dmaild/internal/config"
	"github.com/infodancer/dmaild/internal/metrics"
	"github.com/infodancer/dmaild/internal/naming"
	"github.com/infodancer/dmaild/internal/server"
)

// Stack owns all components of a running dmaild instance and manages their lifecycle.
type Stack struct {
	Server  *server.Server
	closers []io.Closer
	// starters run once every listener is bound, in order.
	starters []func(ctx context.Context) error
	logger   *slog.Logger
}

// Options groups what every stack needs.
type Options struct {
	Config    config.Config
	Collector metrics.Collector // nil → NoopCollector
	Logger    *slog.Logger      // nil → slog.Default()
}

func (o *Options) defaults() {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Collector == nil {
		o.Collector = &metrics.NoopCollector{}
	}
}

func newStack(opts Options) *Stack {
	return &Stack{
		Server: server.New(&opts.Config, opts.Logger),
		logger: opts.Logger,
	}
}

// closerFunc adapts a function to io.Closer.
type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// Run starts the listeners, runs the start hooks once they are bound and
// blocks until ctx is cancelled. A failing start hook stops the stack.
func (s *Stack) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- s.Server.Run(ctx) }()

	select {
	case <-s.Server.Ready():
	case err := <-errc:
		return err
	}

	for _, start := range s.starters {
		if err := start(ctx); err != nil {
			s.logger.Error("startup failed, stopping", slog.String("error", err.Error()))
			cancel()
			<-errc
			return err
		}
	}
	return <-errc
}

// Ready is closed once every listener is bound.
func (s *Stack) Ready() <-chan struct{} {
	return s.Server.Ready()
}

// Close shuts down all closeable components in reverse registration order.
func (s *Stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// rootRemote returns a stub for the root nameserver, or nil when no
// registry is configured.
func (s *Stack) rootRemote(cfg config.NameserverConfig) *naming.Remote {
	if cfg.Registry == "" {
		return nil
	}
	root := naming.NewRemote(naming.Endpoint{Address: cfg.Registry, Name: cfg.RootName()})
	s.closers = append(s.closers, root)
	return root
}

// listener returns the configured listener for p.
func listener(cfg config.Config, p config.Protocol) (config.ListenerConfig, error) {
	lc, ok := cfg.Listener(p)
	if !ok {
		return config.ListenerConfig{}, fmt.Errorf("no %s listener configured", p)
	}
	return lc, nil
}
