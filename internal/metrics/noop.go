package metrics

// NoopCollector is a no-op implementation of the Collector interface.
// All methods are empty stubs that do nothing.
type NoopCollector struct{}

// ConnectionOpened is a no-op.
func (n *NoopCollector) ConnectionOpened(protocol string) {}

// ConnectionClosed is a no-op.
func (n *NoopCollector) ConnectionClosed(protocol string) {}

// SecureSessionEstablished is a no-op.
func (n *NoopCollector) SecureSessionEstablished() {}

// CommandProcessed is a no-op.
func (n *NoopCollector) CommandProcessed(protocol string, command string) {}

// AuthAttempt is a no-op.
func (n *NoopCollector) AuthAttempt(success bool) {}

// MessageAccepted is a no-op.
func (n *NoopCollector) MessageAccepted(recipients int, sizeBytes int64) {}

// MessageStored is a no-op.
func (n *NoopCollector) MessageStored(domain string) {}

// RelayCompleted is a no-op.
func (n *NoopCollector) RelayCompleted(recipientDomain string, result string) {}

// BounceGenerated is a no-op.
func (n *NoopCollector) BounceGenerated(reason string) {}

// LookupCompleted is a no-op.
func (n *NoopCollector) LookupCompleted(result string) {}
