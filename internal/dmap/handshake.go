package dmap

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	"github.com/infodancer/dmaild/internal/logging"
	"github.com/infodancer/dmaild/internal/secure"
	"github.com/infodancer/dmaild/internal/wire"
)

// answerChallenge decrypts the client's challenge, switches the
// connection to the session cipher and echoes the nonce under it. Any
// failure ends the session without a reply.
func (s *Session) answerChallenge(ctx context.Context, line string) (wire.Reply, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(line)
	if err != nil {
		return wire.Reply{}, wire.Abort(fmt.Errorf("decoding challenge: %w", err))
	}
	plaintext, err := s.cfg.Keys.Decrypt(s.cfg.ComponentID, ciphertext)
	if err != nil {
		return wire.Reply{}, wire.Abort(fmt.Errorf("decrypting challenge: %w", err))
	}
	challenge, err := secure.ParseChallenge(string(plaintext))
	if err != nil {
		return wire.Reply{}, wire.Abort(err)
	}
	cipher, err := challenge.Cipher(secure.RoleServer)
	if err != nil {
		return wire.Reply{}, wire.Abort(err)
	}

	s.state = StateChallengeIssued
	return wire.Reply{
		Lines:   []string{challenge.Response()},
		Upgrade: secure.NewCodec(cipher),
	}, nil
}

// confirmUpgrade expects the client's encrypted "ok". The line has
// already been opened with the session cipher.
func (s *Session) confirmUpgrade(ctx context.Context, line string) (wire.Reply, error) {
	if line != "ok" {
		return wire.Reply{}, wire.Abort(errors.New("unexpected upgrade confirmation"))
	}
	s.secure = true
	s.state = StateUnauthenticated
	s.cfg.Collector.SecureSessionEstablished()
	logging.FromContext(ctx).Debug("secure session established",
		slog.String("component_id", s.cfg.ComponentID),
	)
	return wire.Reply{}, nil
}
