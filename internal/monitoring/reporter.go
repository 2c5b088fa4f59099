// Package monitoring sends relay statistics to a passive UDP collector.
package monitoring

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
)

// Reporter records one successful relay of a message from sender.
// Reporting never fails from the caller's point of view.
type Reporter interface {
	Report(ctx context.Context, sender string)
	Close() error
}

// NoopReporter discards all records.
type NoopReporter struct{}

// Report implements Reporter.
func (NoopReporter) Report(ctx context.Context, sender string) {}

// Close implements Reporter.
func (NoopReporter) Close() error { return nil }

// UDPReporter sends one datagram per record:
//
//	<relay-host>:<relay-port> <sender>
//
// where relay names the transfer server doing the relaying.
type UDPReporter struct {
	relay  string
	logger *slog.Logger

	mu   sync.Mutex
	conn net.Conn
}

// NewUDPReporter creates a reporter that sends to the collector at address
// and identifies itself as relay (host:port).
func NewUDPReporter(address, relay string, logger *slog.Logger) (*UDPReporter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := net.Dial("udp", address)
	if err != nil {
		return nil, fmt.Errorf("opening monitoring socket: %w", err)
	}
	return &UDPReporter{relay: relay, logger: logger, conn: conn}, nil
}

// Report implements Reporter. Send errors are logged at debug level.
func (r *UDPReporter) Report(ctx context.Context, sender string) {
	payload := []byte(r.relay + " " + sender)

	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return
	}

	if _, err := conn.Write(payload); err != nil {
		r.logger.Debug("monitoring datagram not sent",
			slog.String("sender", sender),
			slog.String("error", err.Error()),
		)
	}
}

// Close implements Reporter.
func (r *UDPReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn = nil
	return err
}
