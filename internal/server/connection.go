package server

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/infodancer/dmaild/internal/logging"
	"github.com/infodancer/dmaild/internal/wire"
)

// Connection wraps a net.Conn with timeout management, optional transaction
// logging and a line transport.
type Connection struct {
	conn           net.Conn
	lines          *wire.Conn
	logger         *slog.Logger
	idleTimeout    time.Duration
	commandTimeout time.Duration

	mu           sync.Mutex
	lastActivity time.Time
	closed       bool
}

// ConnectionConfig holds configuration for a new connection.
type ConnectionConfig struct {
	IdleTimeout    time.Duration
	CommandTimeout time.Duration
	LogTransaction bool
	Logger         *slog.Logger
}

// NewConnection creates a new Connection wrapper.
func NewConnection(conn net.Conn, cfg ConnectionConfig) *Connection {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	connLogger := logging.WithConnection(logger, conn.RemoteAddr().String())

	c := &Connection{
		conn:           conn,
		logger:         connLogger,
		idleTimeout:    cfg.IdleTimeout,
		commandTimeout: cfg.CommandTimeout,
		lastActivity:   time.Now(),
	}

	var r io.Reader = conn
	var w io.Writer = conn

	if cfg.LogTransaction {
		r = logging.NewTransactionReader(conn, connLogger, "recv")
		w = logging.NewTransactionWriter(conn, connLogger, "send")
	}

	c.lines = wire.NewConn(r, w)

	return c
}

// Logger returns the connection-scoped logger.
func (c *Connection) Logger() *slog.Logger {
	return c.logger
}

// RemoteAddr returns the remote address of the connection.
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// ReadLine reads and decodes one protocol line.
func (c *Connection) ReadLine() (string, error) {
	return c.lines.ReadLine()
}

// WriteLine encodes, writes and flushes protocol lines.
func (c *Connection) WriteLine(lines ...string) error {
	return c.lines.WriteLine(lines...)
}

// SetCodec switches the line encoding of the session.
func (c *Connection) SetCodec(codec wire.Codec) {
	c.lines.SetCodec(codec)
}

// ResetIdleTimeout resets the idle timeout deadline.
// Should be called after each successful read/write operation.
func (c *Connection) ResetIdleTimeout() error {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()

	if c.idleTimeout > 0 {
		return c.conn.SetDeadline(time.Now().Add(c.idleTimeout))
	}
	if c.commandTimeout > 0 {
		return c.conn.SetWriteDeadline(time.Time{})
	}
	return nil
}

// SetCommandTimeout bounds the time allowed to write the reply to the
// command just read.
func (c *Connection) SetCommandTimeout() error {
	if c.commandTimeout > 0 {
		return c.conn.SetWriteDeadline(time.Now().Add(c.commandTimeout))
	}
	return nil
}

// Close closes the connection.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	c.logger.Debug("connection closed")
	return c.conn.Close()
}

// IsClosed returns true if the connection has been closed.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Underlying returns the underlying net.Conn.
// Use with caution; prefer the Connection methods.
func (c *Connection) Underlying() net.Conn {
	return c.conn
}

// IdleMonitor runs in a goroutine to monitor for idle connections.
// It will close the connection if idle timeout is exceeded.
// The monitor stops when the context is cancelled or the connection is closed.
func (c *Connection) IdleMonitor(ctx context.Context) {
	if c.idleTimeout <= 0 {
		return
	}

	ticker := time.NewTicker(c.idleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				return
			}
			idle := time.Since(c.lastActivity)
			c.mu.Unlock()

			if idle >= c.idleTimeout {
				c.logger.Info("closing idle connection",
					slog.Duration("idle_time", idle),
				)
				if err := c.Close(); err != nil {
					c.logger.Debug("error closing idle connection",
						slog.String("error", err.Error()),
					)
				}
				return
			}
		}
	}
}
