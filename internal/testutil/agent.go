package testutil

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/infodancer/dmaild/internal/mail"
	"github.com/infodancer/msgstore"
)

// DeliveryAgent is a msgstore.DeliveryAgent that records hand-offs.
type DeliveryAgent struct {
	// Err, if set, is returned by every Deliver call.
	Err error

	mu         sync.Mutex
	envelopes  []msgstore.Envelope
	deliveries []*mail.Message
}

var _ msgstore.DeliveryAgent = (*DeliveryAgent)(nil)

// Deliver decodes and records the message.
func (a *DeliveryAgent) Deliver(ctx context.Context, envelope msgstore.Envelope, message io.Reader) error {
	if a.Err != nil {
		return a.Err
	}
	msg, err := mail.Decode(message)
	if err != nil {
		return errors.Join(errors.New("undecodable hand-off"), err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.envelopes = append(a.envelopes, envelope)
	a.deliveries = append(a.deliveries, msg)
	return nil
}

// Envelopes returns the recorded envelopes in delivery order.
func (a *DeliveryAgent) Envelopes() []msgstore.Envelope {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]msgstore.Envelope(nil), a.envelopes...)
}

// Messages returns the recorded messages in delivery order.
func (a *DeliveryAgent) Messages() []*mail.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*mail.Message(nil), a.deliveries...)
}
