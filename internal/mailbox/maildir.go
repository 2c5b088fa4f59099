package mailbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/infodancer/dmaild/internal/mail"
	"github.com/infodancer/msgstore"
	_ "github.com/infodancer/msgstore/maildir" // register maildir backend
)

// MaildirStore keeps each user's messages in a Maildir below a base
// directory. The dmaild identifier travels in the X-Dmail-Id header.
type MaildirStore struct {
	store    msgstore.MsgStore
	basePath string
	domain   string
	mu       sync.Mutex
}

// NewMaildirStore opens the Maildir tree at basePath. Mailboxes are
// addressed by the local part of <user>@<domain>.
func NewMaildirStore(basePath, domain string) (*MaildirStore, error) {
	store, err := msgstore.Open(msgstore.StoreConfig{
		Type:     "maildir",
		BasePath: basePath,
		Options: map[string]string{
			"maildir_subdir": "Maildir",
			"path_template":  "{localpart}",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("opening maildir store: %w", err)
	}
	return &MaildirStore{store: store, basePath: basePath, domain: domain}, nil
}

// stored pairs a decoded message with its Maildir UID.
type stored struct {
	uid string
	msg *mail.Message
}

func (s *MaildirStore) scan(ctx context.Context, user string) ([]stored, error) {
	// Users without a delivered message have no Maildir yet.
	if _, err := os.Stat(filepath.Join(s.basePath, user)); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	infos, err := s.store.List(ctx, user)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing maildir: %w", err)
	}

	out := make([]stored, 0, len(infos))
	for _, info := range infos {
		rc, err := s.store.Retrieve(ctx, user, info.UID)
		if err != nil {
			return nil, fmt.Errorf("retrieving %s: %w", info.UID, err)
		}
		m, err := mail.Decode(rc)
		_ = rc.Close()
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", info.UID, err)
		}
		if m.ID == "" {
			continue
		}
		out = append(out, stored{uid: info.UID, msg: m})
	}
	return out, nil
}

// Put implements Store.
func (s *MaildirStore) Put(ctx context.Context, user string, msg *mail.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.scan(ctx, user)
	if err != nil {
		return "", err
	}
	id, err := uniqueID(func(id string) (bool, error) {
		for _, e := range existing {
			if e.msg.ID == id {
				return true, nil
			}
		}
		return false, nil
	})
	if err != nil {
		return "", err
	}

	m := msg.Clone()
	m.ID = id
	env := msgstore.Envelope{
		From:         m.Sender,
		Recipients:   []string{user + "@" + s.domain},
		ReceivedTime: time.Now(),
	}
	if err := s.store.Deliver(ctx, env, bytes.NewReader(mail.Encode(m))); err != nil {
		return "", fmt.Errorf("delivering to maildir: %w", err)
	}
	return id, nil
}

// List implements Store.
func (s *MaildirStore) List(ctx context.Context, user string) ([]*mail.Message, error) {
	entries, err := s.scan(ctx, user)
	if err != nil {
		return nil, err
	}
	out := make([]*mail.Message, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.msg)
	}
	return out, nil
}

// Get implements Store.
func (s *MaildirStore) Get(ctx context.Context, user, id string) (*mail.Message, error) {
	entries, err := s.scan(ctx, user)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.msg.ID == id {
			return e.msg, nil
		}
	}
	return nil, ErrMessageNotFound
}

// Delete implements Store.
func (s *MaildirStore) Delete(ctx context.Context, user, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.scan(ctx, user)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.msg.ID != id {
			continue
		}
		if err := s.store.Delete(ctx, user, e.uid); err != nil {
			return fmt.Errorf("deleting %s: %w", e.uid, err)
		}
		if err := s.store.Expunge(ctx, user); err != nil {
			return fmt.Errorf("expunging maildir: %w", err)
		}
		return nil
	}
	return ErrMessageNotFound
}

// Close implements Store.
func (s *MaildirStore) Close() error {
	return nil
}
