// Package delivery relays accepted messages to the mailbox servers of
// their recipient domains and bounces what cannot be delivered.
package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/infodancer/dmaild/internal/mail"
	"github.com/infodancer/dmaild/internal/metrics"
	"github.com/infodancer/dmaild/internal/monitoring"
	"github.com/infodancer/dmaild/internal/naming"
)

// Bounce reasons, used as the metrics label.
const (
	ReasonUnresolved  = "unresolved"
	ReasonRelayFailed = "relay_failed"
)

// RelayFunc sends msg to the DMTP server at address.
type RelayFunc func(ctx context.Context, address string, msg *mail.Message) error

// Config holds the collaborators of an Engine.
type Config struct {
	// Hostname names this server in the sender of bounces.
	Hostname string
	// Workers is the number of concurrent deliveries.
	Workers  int
	Resolver naming.DomainResolver
	Relay    RelayFunc
	Reporter monitoring.Reporter
	// RelayTimeout bounds resolving and relaying one message. Zero means
	// one minute.
	RelayTimeout time.Duration
	Collector    metrics.Collector
	Logger       *slog.Logger
}

// Engine delivers messages asynchronously on a worker pool.
type Engine struct {
	cfg    Config
	pool   *Pool
	mailer string
}

// NewEngine starts an engine with cfg.Workers workers.
func NewEngine(cfg Config) *Engine {
	if cfg.Reporter == nil {
		cfg.Reporter = monitoring.NoopReporter{}
	}
	if cfg.Collector == nil {
		cfg.Collector = &metrics.NoopCollector{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RelayTimeout <= 0 {
		cfg.RelayTimeout = time.Minute
	}
	return &Engine{
		cfg:    cfg,
		pool:   NewPool(cfg.Workers),
		mailer: mail.MailerAddress(cfg.Hostname),
	}
}

// Submit queues a copy of msg for delivery and returns immediately. It
// has the signature of a DMTP message hand-off.
func (e *Engine) Submit(ctx context.Context, msg *mail.Message) error {
	m := msg.Clone()
	return e.pool.Submit(func() { e.deliver(m) })
}

// Pending returns the number of messages queued or being delivered.
func (e *Engine) Pending() int {
	return e.pool.Pending()
}

// Close drains the queue, including bounces created while draining, and
// stops the workers. See Pool.Close for the ctx semantics.
func (e *Engine) Close(ctx context.Context) error {
	return e.pool.Close(ctx)
}

// deliver resolves every recipient domain and relays msg once per
// destination domain.
func (e *Engine) deliver(msg *mail.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.RelayTimeout)
	defer cancel()

	logger := e.cfg.Logger.With(
		slog.String("from", msg.Sender),
		slog.String("subject", msg.Subject),
		slog.Bool("bounce", msg.Bounce),
	)

	var targets []mail.Domain
	seen := make(map[string]bool)
	for _, name := range msg.RecipientDomains() {
		dom, err := e.cfg.Resolver.Resolve(ctx, name)
		if err != nil {
			logger.Warn("domain not resolved",
				slog.String("domain", name),
				slog.String("error", err.Error()),
			)
			e.cfg.Collector.RelayCompleted(name, metrics.ResultUnresolved)
			e.bounce(ctx, logger, msg, ReasonUnresolved,
				"Error delivering message!",
				fmt.Sprintf("Error delivering message to %s! Domain could not be found.", recipientsIn(msg, name)))
			continue
		}
		key := strings.ToLower(dom.Name)
		if seen[key] {
			continue
		}
		seen[key] = true
		targets = append(targets, dom)
	}

	for _, dom := range targets {
		if err := e.cfg.Relay(ctx, dom.Address(), msg); err != nil {
			logger.Warn("relay failed",
				slog.String("domain", dom.Name),
				slog.String("address", dom.Address()),
				slog.String("error", err.Error()),
			)
			e.cfg.Collector.RelayCompleted(dom.Name, metrics.ResultFailure)
			e.bounce(ctx, logger, msg, ReasonRelayFailed,
				"Error forwarding message",
				fmt.Sprintf("Your message with subject %s could not be delivered!", msg.Subject))
			continue
		}

		e.cfg.Collector.RelayCompleted(dom.Name, metrics.ResultSuccess)
		e.cfg.Reporter.Report(ctx, msg.Sender)
		logger.Info("message relayed",
			slog.String("domain", dom.Name),
			slog.String("address", dom.Address()),
		)
	}
}

// bounce notifies the sender of msg. Bounces are never bounced.
func (e *Engine) bounce(ctx context.Context, logger *slog.Logger, msg *mail.Message, reason, subject, body string) {
	if msg.Bounce {
		logger.Info("dropping undeliverable bounce", slog.String("reason", reason))
		return
	}

	b := mail.NewBounce(msg, e.mailer, subject, body)
	if err := e.Submit(ctx, b); err != nil {
		logger.Error("bounce not queued",
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
		return
	}
	e.cfg.Collector.BounceGenerated(reason)
	logger.Info("bounce queued",
		slog.String("reason", reason),
		slog.String("to", msg.Sender),
	)
}

// recipientsIn lists the recipients of msg in domain.
func recipientsIn(msg *mail.Message, domain string) string {
	var out []string
	for _, r := range msg.Recipients {
		if strings.EqualFold(mail.DomainOf(r), domain) {
			out = append(out, r)
		}
	}
	return strings.Join(out, ", ")
}
