package mailbox

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/infodancer/dmaild/internal/mail"
	"github.com/redis/go-redis/v9"
)

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisStore keeps each mailbox in a Redis hash of id to encoded message,
// with a list recording delivery order.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a store on the Redis server in opts.
func NewRedisStore(opts RedisOptions) *RedisStore {
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = "dmaild"
	}
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     opts.Address,
			Password: opts.Password,
			DB:       opts.DB,
		}),
		prefix: prefix,
	}
}

func (s *RedisStore) messagesKey(user string) string {
	return s.prefix + ":mailbox:" + user
}

func (s *RedisStore) orderKey(user string) string {
	return s.prefix + ":mailbox:" + user + ":order"
}

// Put implements Store.
func (s *RedisStore) Put(ctx context.Context, user string, msg *mail.Message) (string, error) {
	stored := msg.Clone()
	key := s.messagesKey(user)

	id, err := uniqueID(func(id string) (bool, error) {
		stored.ID = id
		set, err := s.client.HSetNX(ctx, key, id, mail.Encode(stored)).Result()
		if err != nil {
			return false, fmt.Errorf("storing message: %w", err)
		}
		return !set, nil
	})
	if err != nil {
		return "", err
	}

	if err := s.client.RPush(ctx, s.orderKey(user), id).Err(); err != nil {
		return "", fmt.Errorf("recording message order: %w", err)
	}
	return id, nil
}

// List implements Store.
func (s *RedisStore) List(ctx context.Context, user string) ([]*mail.Message, error) {
	ids, err := s.client.LRange(ctx, s.orderKey(user), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing mailbox: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	values, err := s.client.HMGet(ctx, s.messagesKey(user), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("reading mailbox: %w", err)
	}

	out := make([]*mail.Message, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Order entry without a message; removed by a concurrent delete.
			continue
		}
		m, err := mail.Decode(strings.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("message %s: %w", ids[i], err)
		}
		m.ID = ids[i]
		out = append(out, m)
	}
	return out, nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, user, id string) (*mail.Message, error) {
	raw, err := s.client.HGet(ctx, s.messagesKey(user), id).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading message: %w", err)
	}
	m, err := mail.Decode(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("message %s: %w", id, err)
	}
	m.ID = id
	return m, nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, user, id string) error {
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.HDel(ctx, s.messagesKey(user), id)
		pipe.LRem(ctx, s.orderKey(user), 0, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting message: %w", err)
	}
	if del.Val() == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// Ping checks the connection to the Redis server.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
