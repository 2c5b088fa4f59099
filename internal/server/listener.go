package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/infodancer/dmaild/internal/config"
	"github.com/infodancer/dmaild/internal/logging"
)

// ConnectionHandler is called for each new connection.
// It receives the context and connection, and should run the protocol session.
type ConnectionHandler func(ctx context.Context, conn *Connection)

// Listener manages a single TCP listener for one protocol.
type Listener struct {
	address  string
	protocol config.Protocol
	connCfg  ConnectionConfig
	handler  ConnectionHandler
	logger   *slog.Logger

	listener net.Listener
	ready    chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	closed   bool
	active   map[*Connection]struct{}
}

// ListenerConfig holds configuration for creating a new Listener.
type ListenerConfig struct {
	Address        string
	Protocol       config.Protocol
	IdleTimeout    time.Duration
	CommandTimeout time.Duration
	LogTransaction bool
	Logger         *slog.Logger
	Handler        ConnectionHandler
}

// NewListener creates a new Listener with the given configuration.
func NewListener(cfg ListenerConfig) *Listener {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Listener{
		address:  cfg.Address,
		protocol: cfg.Protocol,
		connCfg: ConnectionConfig{
			IdleTimeout:    cfg.IdleTimeout,
			CommandTimeout: cfg.CommandTimeout,
			LogTransaction: cfg.LogTransaction,
			Logger:         logger,
		},
		handler: cfg.Handler,
		logger:  logging.WithListener(logger, cfg.Address, string(cfg.Protocol)),
		ready:   make(chan struct{}),
		active:  make(map[*Connection]struct{}),
	}
}

// Start begins listening for connections.
// It blocks until the context is cancelled or an unrecoverable error occurs.
// On return every session started by the listener has finished.
func (l *Listener) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", l.address)
	if err != nil {
		return err
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		_ = ln.Close()
		return errors.New("listener closed before start")
	}
	l.listener = ln
	l.mu.Unlock()
	close(l.ready)

	l.logger.Info("listener started",
		slog.String("address", ln.Addr().String()),
		slog.String("protocol", string(l.protocol)),
	)

	go l.acceptLoop(ctx)

	<-ctx.Done()

	l.logger.Info("listener shutting down")

	if err := l.Close(); err != nil {
		l.logger.Debug("error closing listener",
			slog.String("error", err.Error()),
		)
	}

	// Blocked reads only return once their connection is closed.
	l.closeActive()
	l.wg.Wait()

	l.logger.Info("listener stopped")
	return ctx.Err()
}

// Ready is closed once the listener is bound.
func (l *Listener) Ready() <-chan struct{} {
	return l.ready
}

// Addr returns the bound address, or nil before Start binds.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

// acceptLoop accepts connections until the listener is closed.
func (l *Listener) acceptLoop(ctx context.Context) {
	for {
		conn, err := l.listener.Accept()
		if err != nil {
			l.mu.Lock()
			closed := l.closed
			l.mu.Unlock()

			if closed {
				return
			}

			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				l.logger.Warn("temporary accept error",
					slog.String("error", err.Error()),
				)
				time.Sleep(5 * time.Millisecond)
				continue
			}

			l.logger.Error("accept error",
				slog.String("error", err.Error()),
			)
			return
		}

		// Tracking under the lock that guards closed lets shutdown see
		// every session it must close.
		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			_ = conn.Close()
			return
		}
		c := NewConnection(conn, l.connCfg)
		l.active[c] = struct{}{}
		l.wg.Add(1)
		l.mu.Unlock()

		go l.handleConnection(ctx, c)
	}
}

// handleConnection wraps a connection and calls the handler.
func (l *Listener) handleConnection(ctx context.Context, conn *Connection) {
	defer l.wg.Done()
	defer l.untrack(conn)

	conn.Logger().Info("connection accepted")

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	connCtx = logging.NewContext(connCtx, conn.Logger())

	if err := conn.ResetIdleTimeout(); err != nil {
		conn.Logger().Error("failed to set initial timeout",
			slog.String("error", err.Error()),
		)
		_ = conn.Close()
		return
	}

	go conn.IdleMonitor(connCtx)

	if l.handler != nil {
		l.handler(connCtx, conn)
	}

	_ = conn.Close()
	conn.Logger().Info("connection closed")
}

func (l *Listener) untrack(c *Connection) {
	l.mu.Lock()
	delete(l.active, c)
	l.mu.Unlock()
}

func (l *Listener) closeActive() {
	l.mu.Lock()
	conns := make([]*Connection, 0, len(l.active))
	for c := range l.active {
		conns = append(conns, c)
	}
	l.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}

// ActiveConnections returns the number of sessions in progress.
func (l *Listener) ActiveConnections() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.active)
}

// Close stops the listener from accepting new connections.
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	if l.listener != nil {
		return l.listener.Close()
	}
	return nil
}

// Address returns the listener's configured address.
func (l *Listener) Address() string {
	return l.address
}

// Protocol returns the protocol served by the listener.
func (l *Listener) Protocol() config.Protocol {
	return l.protocol
}
