// Package metrics provides interfaces and implementations for collecting
// dmaild metrics. This package defines the Collector interface for
// recording metrics and the Server interface for exposing them.
package metrics

import "context"

// Relay and lookup results.
const (
	ResultSuccess    = "success"
	ResultFailure    = "failure"
	ResultNotFound   = "not_found"
	ResultUnresolved = "unresolved"
)

// Collector defines the interface for recording dmaild metrics.
type Collector interface {
	// Connection metrics, labelled by protocol (dmtp, dmap, naming)
	ConnectionOpened(protocol string)
	ConnectionClosed(protocol string)
	SecureSessionEstablished()

	// Command metrics
	CommandProcessed(protocol string, command string)

	// Authentication metrics (mailbox access login)
	AuthAttempt(success bool)

	// Message metrics
	MessageAccepted(recipients int, sizeBytes int64)
	MessageStored(domain string)

	// Delivery metrics (recipient domain first)
	// result should be "success" or "failure"
	RelayCompleted(recipientDomain string, result string)
	BounceGenerated(reason string)

	// Name resolution metrics; result is "success", "not_found" or "failure"
	LookupCompleted(result string)
}

// Server defines the interface for a metrics HTTP server.
type Server interface {
	// Start begins serving metrics. It blocks until the context is canceled
	// or an error occurs.
	Start(ctx context.Context) error

	// Shutdown gracefully stops the metrics server.
	Shutdown(ctx context.Context) error
}
