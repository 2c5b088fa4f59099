package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/infodancer/dmaild/internal/logging"
	"github.com/infodancer/dmaild/internal/metrics"
	"github.com/infodancer/dmaild/internal/wire"
)

// Session is a line-driven protocol state machine bound to one connection.
type Session interface {
	// Greeting is the first line written to the peer.
	Greeting() string
	// Step consumes one decoded input line. A *wire.ProtocolError is
	// written and the session continues; a *wire.Violation ends it.
	Step(ctx context.Context, line string) (wire.Reply, error)
}

// Serve runs session over conn until the peer quits, the session is
// terminated or the context is cancelled.
func Serve(ctx context.Context, conn *Connection, session Session, protocol string, collector metrics.Collector) {
	logger := logging.FromContext(ctx)

	if collector == nil {
		collector = &metrics.NoopCollector{}
	}
	collector.ConnectionOpened(protocol)
	defer collector.ConnectionClosed(protocol)

	if err := conn.WriteLine(session.Greeting()); err != nil {
		logger.Debug("failed to send greeting", slog.String("error", err.Error()))
		return
	}

	if err := conn.ResetIdleTimeout(); err != nil {
		logger.Debug("failed to reset idle timeout", slog.String("error", err.Error()))
		return
	}

	for {
		if ctx.Err() != nil {
			return
		}

		line, err := conn.ReadLine()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
			case errors.Is(err, wire.ErrDecode):
				logger.Warn("undecodable line, closing session", slog.String("error", err.Error()))
			default:
				logger.Debug("failed to read line", slog.String("error", err.Error()))
			}
			return
		}

		if strings.TrimSpace(line) == "" {
			continue
		}

		if err := conn.SetCommandTimeout(); err != nil {
			logger.Debug("failed to set command timeout", slog.String("error", err.Error()))
		}

		reply, stepErr := session.Step(ctx, line)
		if stepErr != nil {
			var pe *wire.ProtocolError
			var v *wire.Violation
			switch {
			case errors.As(stepErr, &pe):
				reply = wire.Lines(pe.Reply)
			case errors.As(stepErr, &v):
				logger.Info("terminating session", slog.String("reason", v.Error()))
				if v.Reply != "" {
					if err := conn.WriteLine(v.Reply); err != nil {
						logger.Debug("failed to write reply", slog.String("error", err.Error()))
					}
				}
				return
			default:
				logger.Error("command failed", slog.String("error", stepErr.Error()))
				reply = wire.Lines("error internal error")
			}
		}

		if reply.Upgrade != nil {
			conn.SetCodec(reply.Upgrade)
		}

		if len(reply.Lines) > 0 {
			if err := conn.WriteLine(reply.Lines...); err != nil {
				logger.Debug("failed to write reply", slog.String("error", err.Error()))
				return
			}
		}

		if err := conn.ResetIdleTimeout(); err != nil {
			logger.Debug("failed to reset idle timeout", slog.String("error", err.Error()))
		}

		if reply.Close {
			return
		}
	}
}
