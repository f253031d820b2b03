package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisTTL is how long responses live in Redis when no TTL is
// configured.
const DefaultRedisTTL = 24 * time.Hour

// RedisStore is a Store keeping JSON-encoded responses in Redis with TTL
// eviction.
//
// All methods are safe for concurrent use.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// Compile-time interface check.
var _ Store = (*RedisStore)(nil)

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithTTL overrides the response expiry. Zero keeps responses forever.
func WithTTL(d time.Duration) RedisOption {
	return func(s *RedisStore) { s.ttl = d }
}

// NewRedisStore connects to the Redis server at addr and verifies the
// connection with a ping.
func NewRedisStore(ctx context.Context, addr string, opts ...RedisOption) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("session: redis ping: %w", err)
	}
	s := &RedisStore{client: client, ttl: DefaultRedisTTL}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// key namespaces session IDs in the shared keyspace.
func key(sessionID string) string {
	return "voicewire:session:" + sessionID
}

// Put implements Store.
func (s *RedisStore) Put(ctx context.Context, sessionID string, resp Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("session: marshal response: %w", err)
	}
	if err := s.client.Set(ctx, key(sessionID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("session: put: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, sessionID string) (Response, error) {
	data, err := s.client.Get(ctx, key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Response{}, ErrNotFound
	}
	if err != nil {
		return Response{}, fmt.Errorf("session: get: %w", err)
	}
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return Response{}, fmt.Errorf("session: unmarshal response: %w", err)
	}
	return resp, nil
}

// Exists implements Store.
func (s *RedisStore) Exists(ctx context.Context, sessionID string) (bool, error) {
	n, err := s.client.Exists(ctx, key(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("session: exists: %w", err)
	}
	return n > 0, nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
