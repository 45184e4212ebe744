// Package settings is the key-value side store for the handful of values
// that live outside the relational schema: the user's saved coin order and
// the cached push device token.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Well-known keys.
const (
	KeyCoinsOrder  = "coins_order"
	KeyDeviceToken = "device_token"
)

var (
	// ErrEncode wraps a failure to serialize a value for storage.
	ErrEncode = errors.New("failed to encode settings value")
	// ErrDecode wraps a failure to deserialize a stored value.
	ErrDecode = errors.New("failed to decode settings value")
)

// Store persists small codable values by key. Get reports false when the
// key is absent.
type Store interface {
	Set(ctx context.Context, key string, value any) error
	Get(ctx context.Context, key string, out any) (bool, error)
	Remove(ctx context.Context, key string) error
}

// RedisStore keeps settings as JSON strings in Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps an existing Redis client. Keys are namespaced under
// the given prefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(key string) string {
	return s.prefix + ":" + key
}

func (s *RedisStore) Set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return s.client.Set(ctx, s.key(key), data, 0).Err()
}

func (s *RedisStore) Get(ctx context.Context, key string, out any) (bool, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return true, nil
}

func (s *RedisStore) Remove(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}

// MemoryStore is an in-process Store for tests and single-binary runs.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string][]byte)}
}

func (s *MemoryStore) Set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncode, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = data
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, key string, out any) (bool, error) {
	s.mu.Lock()
	data, ok := s.values[key]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return true, nil
}

func (s *MemoryStore) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}
