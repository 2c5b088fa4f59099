// Package dmap implements the mailbox access protocol. A client may
// upgrade the connection to an encrypted session before logging in:
//
//	C: startsecure
//	S: ok <component-id>
//	C: base64(RSA(ok <nonce> <secret> <iv>))
//	S: base64(ChaCha20(ok <nonce>))
//	C: base64(ChaCha20(ok))
//
// From then on every line in both directions is sealed with the session
// cipher. The mailbox commands are login, list, show, delete, logout and
// quit.
package dmap

import (
	"context"

	"github.com/infodancer/dmaild/internal/mailbox"
	"github.com/infodancer/dmaild/internal/metrics"
	"github.com/infodancer/dmaild/internal/wire"
)

// Greeting is the banner a DMAP server sends on connect.
const Greeting = "ok DMAP2.0"

// State represents the current state of a DMAP session.
type State int

const (
	StateUnauthenticated  State = iota // No user bound
	StateUpgradeRequested              // startsecure answered, waiting for the challenge
	StateChallengeIssued               // Challenge answered, waiting for the client's ok
	StateAuthenticated                 // User bound
)

// String returns a human-readable representation of the session state.
func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "UNAUTHENTICATED"
	case StateUpgradeRequested:
		return "UPGRADE_REQUESTED"
	case StateChallengeIssued:
		return "CHALLENGE_ISSUED"
	case StateAuthenticated:
		return "AUTHENTICATED"
	default:
		return "UNKNOWN"
	}
}

// Authenticator checks user credentials.
type Authenticator interface {
	// Authenticate returns users.ErrUnknownUser or users.ErrWrongPassword
	// on failure.
	Authenticate(name, password string) error
}

// Decrypter decrypts with the private key of a component.
type Decrypter interface {
	Decrypt(id string, ciphertext []byte) ([]byte, error)
}

// Config holds the settings shared by all sessions of one server.
type Config struct {
	// ComponentID names the server's key pair. It is announced in the
	// startsecure reply.
	ComponentID string
	// Keys decrypts the client's challenge. Without keys startsecure is
	// refused.
	Keys      Decrypter
	Users     Authenticator
	Store     mailbox.Store
	Collector metrics.Collector
}

// Session is the server side of one DMAP connection. It is not safe for
// concurrent use.
type Session struct {
	cfg      Config
	registry *CommandRegistry
	state    State
	secure   bool
	user     string
}

// NewSession creates an unauthenticated session.
func NewSession(cfg Config) *Session {
	if cfg.Collector == nil {
		cfg.Collector = &metrics.NoopCollector{}
	}
	return &Session{
		cfg:      cfg,
		registry: NewCommandRegistry(),
		state:    StateUnauthenticated,
	}
}

// State returns the current session state.
func (s *Session) State() State {
	return s.state
}

// Secure reports whether the session completed the encrypted upgrade.
func (s *Session) Secure() bool {
	return s.secure
}

// User returns the logged in user, or "".
func (s *Session) User() string {
	return s.user
}

// Greeting implements server.Session.
func (s *Session) Greeting() string {
	return Greeting
}

// Step implements server.Session. During the upgrade handshake lines are
// handshake payloads, not commands.
func (s *Session) Step(ctx context.Context, line string) (wire.Reply, error) {
	switch s.state {
	case StateUpgradeRequested:
		return s.answerChallenge(ctx, line)
	case StateChallengeIssued:
		return s.confirmUpgrade(ctx, line)
	}

	cmd, matches, err := s.registry.Match(line)
	if err != nil {
		s.cfg.Collector.CommandProcessed("dmap", "unknown")
		return wire.Reply{}, wire.Fatalf("protocol error")
	}
	s.cfg.Collector.CommandProcessed("dmap", cmd.Name())
	return cmd.Execute(ctx, s, matches)
}
