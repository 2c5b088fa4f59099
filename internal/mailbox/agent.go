package mailbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/infodancer/dmaild/internal/logging"
	"github.com/infodancer/dmaild/internal/mail"
	"github.com/infodancer/dmaild/internal/metrics"
	"github.com/infodancer/msgstore"
)

// Agent delivers encoded messages into a Store. It implements
// msgstore.DeliveryAgent so the submission server can hand accepted
// messages to it the same way it would to any other store.
type Agent struct {
	store     Store
	domain    string
	collector metrics.Collector
}

var _ msgstore.DeliveryAgent = (*Agent)(nil)

// NewAgent creates an agent storing into store for the mail domain.
func NewAgent(store Store, domain string, collector metrics.Collector) *Agent {
	if collector == nil {
		collector = &metrics.NoopCollector{}
	}
	return &Agent{store: store, domain: domain, collector: collector}
}

// Deliver stores a copy of the message for every envelope recipient,
// keyed by the recipient's local part.
func (a *Agent) Deliver(ctx context.Context, envelope msgstore.Envelope, message io.Reader) error {
	msg, err := mail.Decode(message)
	if err != nil {
		return fmt.Errorf("decoding message: %w", err)
	}

	logger := logging.FromContext(ctx)
	var errs []error
	for _, rcpt := range envelope.Recipients {
		user := mail.LocalPart(rcpt)
		id, err := a.store.Put(ctx, user, msg)
		if err != nil {
			errs = append(errs, fmt.Errorf("storing for %s: %w", rcpt, err))
			continue
		}
		a.collector.MessageStored(a.domain)
		logger.Info("message stored",
			slog.String("user", user),
			slog.String("id", id),
			slog.String("from", envelope.From),
		)
	}
	return errors.Join(errs...)
}
