package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements the Collector interface using Prometheus metrics.
type PrometheusCollector struct {
	// Connection metrics
	connectionsTotal    *prometheus.CounterVec
	connectionsActive   *prometheus.GaugeVec
	secureSessionsTotal prometheus.Counter
	commandsTotal       *prometheus.CounterVec
	authAttemptsTotal   *prometheus.CounterVec

	// Message metrics
	messagesAcceptedTotal prometheus.Counter
	messageRecipients     prometheus.Histogram
	messagesSizeBytes     prometheus.Histogram
	messagesStoredTotal   *prometheus.CounterVec

	// Delivery metrics
	relaysTotal  *prometheus.CounterVec
	bouncesTotal *prometheus.CounterVec
	lookupsTotal *prometheus.CounterVec
}

// NewPrometheusCollector creates a new PrometheusCollector with all metrics registered.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	c := &PrometheusCollector{
		connectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dmaild_connections_total",
			Help: "Total number of connections opened.",
		}, []string{"protocol"}),
		connectionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dmaild_connections_active",
			Help: "Number of currently active connections.",
		}, []string{"protocol"}),
		secureSessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dmaild_secure_sessions_total",
			Help: "Total number of completed secure session handshakes.",
		}),
		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dmaild_commands_total",
			Help: "Total number of protocol commands processed.",
		}, []string{"protocol", "command"}),
		authAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dmaild_auth_attempts_total",
			Help: "Total number of mailbox login attempts.",
		}, []string{"result"}),

		messagesAcceptedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dmaild_messages_accepted_total",
			Help: "Total number of messages accepted by send.",
		}),
		messageRecipients: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dmaild_message_recipients",
			Help:    "Number of recipients per accepted message.",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		}),
		messagesSizeBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dmaild_messages_size_bytes",
			Help:    "Size of accepted message bodies in bytes.",
			Buckets: []float64{64, 256, 1024, 10240, 102400, 1048576},
		}),
		messagesStoredTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dmaild_messages_stored_total",
			Help: "Total number of messages stored in local mailboxes.",
		}, []string{"domain"}),

		relaysTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dmaild_relays_total",
			Help: "Total number of relay attempts.",
		}, []string{"recipient_domain", "result"}),
		bouncesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dmaild_bounces_total",
			Help: "Total number of bounce notifications generated.",
		}, []string{"reason"}),
		lookupsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dmaild_lookups_total",
			Help: "Total number of domain lookups.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		c.connectionsTotal,
		c.connectionsActive,
		c.secureSessionsTotal,
		c.commandsTotal,
		c.authAttemptsTotal,
		c.messagesAcceptedTotal,
		c.messageRecipients,
		c.messagesSizeBytes,
		c.messagesStoredTotal,
		c.relaysTotal,
		c.bouncesTotal,
		c.lookupsTotal,
	)

	return c
}

// ConnectionOpened increments the connection counter and active gauge.
func (c *PrometheusCollector) ConnectionOpened(protocol string) {
	c.connectionsTotal.WithLabelValues(protocol).Inc()
	c.connectionsActive.WithLabelValues(protocol).Inc()
}

// ConnectionClosed decrements the active connections gauge.
func (c *PrometheusCollector) ConnectionClosed(protocol string) {
	c.connectionsActive.WithLabelValues(protocol).Dec()
}

// SecureSessionEstablished increments the secure session counter.
func (c *PrometheusCollector) SecureSessionEstablished() {
	c.secureSessionsTotal.Inc()
}

// CommandProcessed increments the command counter.
func (c *PrometheusCollector) CommandProcessed(protocol string, command string) {
	c.commandsTotal.WithLabelValues(protocol, command).Inc()
}

// AuthAttempt increments the authentication attempts counter.
func (c *PrometheusCollector) AuthAttempt(success bool) {
	c.authAttemptsTotal.WithLabelValues(result(success)).Inc()
}

// MessageAccepted counts an accepted message and observes its shape.
func (c *PrometheusCollector) MessageAccepted(recipients int, sizeBytes int64) {
	c.messagesAcceptedTotal.Inc()
	c.messageRecipients.Observe(float64(recipients))
	c.messagesSizeBytes.Observe(float64(sizeBytes))
}

// MessageStored increments the stored message counter.
func (c *PrometheusCollector) MessageStored(domain string) {
	c.messagesStoredTotal.WithLabelValues(domain).Inc()
}

// RelayCompleted increments the relay counter.
func (c *PrometheusCollector) RelayCompleted(recipientDomain string, result string) {
	c.relaysTotal.WithLabelValues(recipientDomain, result).Inc()
}

// BounceGenerated increments the bounce counter.
func (c *PrometheusCollector) BounceGenerated(reason string) {
	c.bouncesTotal.WithLabelValues(reason).Inc()
}

// LookupCompleted increments the lookup counter.
func (c *PrometheusCollector) LookupCompleted(result string) {
	c.lookupsTotal.WithLabelValues(result).Inc()
}

func result(success bool) string {
	if success {
		return ResultSuccess
	}
	return ResultFailure
}
