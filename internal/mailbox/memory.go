package mailbox

import (
	"context"
	"slices"
	"sync"

	"github.com/infodancer/dmaild/internal/mail"
)

// MemoryStore keeps mailboxes in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	boxes map[string]*box
}

type box struct {
	order    []string
	messages map[string]*mail.Message
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{boxes: make(map[string]*box)}
}

// Put implements Store.
func (s *MemoryStore) Put(ctx context.Context, user string, msg *mail.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.boxes[user]
	if !ok {
		b = &box{messages: make(map[string]*mail.Message)}
		s.boxes[user] = b
	}

	id, err := uniqueID(func(id string) (bool, error) {
		_, used := b.messages[id]
		return used, nil
	})
	if err != nil {
		return "", err
	}

	stored := msg.Clone()
	stored.ID = id
	b.messages[id] = stored
	b.order = append(b.order, id)
	return id, nil
}

// List implements Store.
func (s *MemoryStore) List(ctx context.Context, user string) ([]*mail.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.boxes[user]
	if !ok {
		return nil, nil
	}
	out := make([]*mail.Message, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.messages[id].Clone())
	}
	return out, nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, user, id string) (*mail.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if b, ok := s.boxes[user]; ok {
		if m, ok := b.messages[id]; ok {
			return m.Clone(), nil
		}
	}
	return nil, ErrMessageNotFound
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, user, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.boxes[user]
	if !ok {
		return ErrMessageNotFound
	}
	if _, ok := b.messages[id]; !ok {
		return ErrMessageNotFound
	}
	delete(b.messages, id)
	b.order = slices.DeleteFunc(b.order, func(v string) bool { return v == id })
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}
