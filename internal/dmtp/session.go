// Package dmtp implements the message submission protocol used between
// user agents, transfer servers and mailbox servers.
//
// A session composes a message field by field:
//
//	ok DMTP
//	begin
//	from alice@earth.planet
//	to bob@earth.planet,carol@mars.planet
//	subject hello
//	data how are you
//	send
//	quit
//
// Every command is answered with a single "ok ..." or "error ..." line.
package dmtp

import (
	"context"

	"github.com/infodancer/dmaild/internal/mail"
	"github.com/infodancer/dmaild/internal/metrics"
	"github.com/infodancer/dmaild/internal/wire"
)

// Greeting is the banner a DMTP server sends on connect.
const Greeting = "ok DMTP"

// State represents the current state of a DMTP session.
type State int

const (
	StateWaiting     State = iota // Connected, greeting not yet sent
	StateBegun                    // Greeted, waiting for begin
	StateReceiving                // Collecting message fields
	StateReadyToSend              // Message handed off, begin may start another
)

// String returns a human-readable representation of the session state.
func (s State) String() string {
	switch s {
	case StateWaiting:
		return "WAITING"
	case StateBegun:
		return "BEGUN"
	case StateReceiving:
		return "RECEIVING"
	case StateReadyToSend:
		return "READY_TO_SEND"
	default:
		return "UNKNOWN"
	}
}

// MessageFunc receives a complete message when a client sends it.
type MessageFunc func(ctx context.Context, msg *mail.Message) error

// Config holds the settings shared by all sessions of one server.
type Config struct {
	// Policy decides which recipients are accepted and which are local.
	Policy RecipientPolicy
	// OnMessage is called with every message sent by a client.
	OnMessage MessageFunc
	Collector metrics.Collector
}

// Session is the server side of one DMTP connection. It is not safe for
// concurrent use.
type Session struct {
	cfg      Config
	registry *CommandRegistry
	state    State
	draft    *mail.Message
}

// NewSession creates a session in the waiting state.
func NewSession(cfg Config) *Session {
	if cfg.Policy == nil {
		cfg.Policy = AcceptAll{}
	}
	if cfg.Collector == nil {
		cfg.Collector = &metrics.NoopCollector{}
	}
	return &Session{
		cfg:      cfg,
		registry: NewCommandRegistry(),
		state:    StateWaiting,
	}
}

// State returns the current session state.
func (s *Session) State() State {
	return s.state
}

// Draft returns the message being composed, or nil outside a transaction.
func (s *Session) Draft() *mail.Message {
	return s.draft
}

// Greeting implements server.Session. Sending it begins the session.
func (s *Session) Greeting() string {
	s.state = StateBegun
	return Greeting
}

// Step implements server.Session.
func (s *Session) Step(ctx context.Context, line string) (wire.Reply, error) {
	cmd, matches, err := s.registry.Match(line)
	if err != nil {
		s.cfg.Collector.CommandProcessed("dmtp", "unknown")
		return wire.Reply{}, wire.Fatalf("protocol error")
	}
	s.cfg.Collector.CommandProcessed("dmtp", cmd.Name())
	return cmd.Execute(ctx, s, matches)
}
