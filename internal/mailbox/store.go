// Package mailbox stores delivered messages per user and exposes them to
// the mailbox access protocol.
package mailbox

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/infodancer/dmaild/internal/config"
	"github.com/infodancer/dmaild/internal/mail"
)

// ErrMessageNotFound is returned for an id that is not in the user's mailbox.
var ErrMessageNotFound = errors.New("unknown message id")

// IDLength is the length of a stored message identifier.
const IDLength = 8

// maxIDAttempts bounds the retries on an identifier collision.
const maxIDAttempts = 16

// Store is a per-user message store. Identifiers are unique within one
// user's mailbox. Implementations are safe for concurrent use.
type Store interface {
	// Put stores a copy of msg for user and returns its identifier.
	Put(ctx context.Context, user string, msg *mail.Message) (string, error)
	// List returns the user's messages in delivery order.
	List(ctx context.Context, user string) ([]*mail.Message, error)
	// Get returns one message or ErrMessageNotFound.
	Get(ctx context.Context, user, id string) (*mail.Message, error)
	// Delete removes one message or returns ErrMessageNotFound.
	Delete(ctx context.Context, user, id string) error
	// Close releases the store's resources.
	Close() error
}

// Open creates the store selected by cfg. domain is the mail domain of
// the mailbox server; file based backends address mailboxes by it.
func Open(cfg config.MailboxConfig, domain string) (Store, error) {
	switch cfg.Backend {
	case config.BackendMemory, "":
		return NewMemoryStore(), nil
	case config.BackendRedis:
		return NewRedisStore(RedisOptions{
			Address:   cfg.RedisAddress,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.KeyPrefix,
		}), nil
	case config.BackendMaildir:
		return NewMaildirStore(cfg.MaildirPath, domain)
	default:
		return nil, fmt.Errorf("unknown mailbox backend %q", cfg.Backend)
	}
}

const idAlphabet = "abcdefghijklmnopqrstuvwxyz"

// newID returns IDLength random lowercase letters.
func newID() string {
	b := make([]byte, IDLength)
	// crypto/rand.Read never returns an error.
	_, _ = rand.Read(b)
	for i := range b {
		b[i] = idAlphabet[int(b[i])%len(idAlphabet)]
	}
	return string(b)
}

// uniqueID draws identifiers until taken reports one as free.
func uniqueID(taken func(id string) (bool, error)) (string, error) {
	for range maxIDAttempts {
		id := newID()
		used, err := taken(id)
		if err != nil {
			return "", err
		}
		if !used {
			return id, nil
		}
	}
	return "", errors.New("could not allocate a message id")
}
