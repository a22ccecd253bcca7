package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// FactStore is a durable home for user profiles, letting SessionMemory
// survive restarts.
type FactStore interface {
	Get(ctx context.Context, userKey string) (UserProfile, bool, error)
	Put(ctx context.Context, profile UserProfile) error
	Delete(ctx context.Context, userKey string) error
}

// DefaultFactKeyPrefix namespaces profile keys in Redis.
const DefaultFactKeyPrefix = "ella:profile:"

// RedisFactStore keeps one JSON document per user.
type RedisFactStore struct {
	client redis.Cmdable
	prefix string
}

var _ FactStore = (*RedisFactStore)(nil)

// NewRedisFactStore wraps client. An empty prefix uses DefaultFactKeyPrefix.
func NewRedisFactStore(client redis.Cmdable, prefix string) *RedisFactStore {
	if prefix == "" {
		prefix = DefaultFactKeyPrefix
	}
	return &RedisFactStore{client: client, prefix: prefix}
}

func (s *RedisFactStore) key(userKey string) string {
	return s.prefix + userKey
}

// Get loads a profile. A missing key is not an error.
func (s *RedisFactStore) Get(ctx context.Context, userKey string) (UserProfile, bool, error) {
	data, err := s.client.Get(ctx, s.key(userKey)).Bytes()
	if errors.Is(err, redis.Nil) {
		return UserProfile{}, false, nil
	}
	if err != nil {
		return UserProfile{}, false, fmt.Errorf("fact store get %s: %w", userKey, err)
	}

	var p UserProfile
	if err := json.Unmarshal(data, &p); err != nil {
		return UserProfile{}, false, fmt.Errorf("fact store decode %s: %w", userKey, err)
	}
	p.UserKey = userKey
	return p.Clone(), true, nil
}

// Put stores profile without expiry.
func (s *RedisFactStore) Put(ctx context.Context, profile UserProfile) error {
	data, err := json.Marshal(profile.Clone())
	if err != nil {
		return fmt.Errorf("fact store encode %s: %w", profile.UserKey, err)
	}
	if err := s.client.Set(ctx, s.key(profile.UserKey), data, 0).Err(); err != nil {
		return fmt.Errorf("fact store put %s: %w", profile.UserKey, err)
	}
	return nil
}

// Delete removes a profile.
func (s *RedisFactStore) Delete(ctx context.Context, userKey string) error {
	if err := s.client.Del(ctx, s.key(userKey)).Err(); err != nil {
		return fmt.Errorf("fact store delete %s: %w", userKey, err)
	}
	return nil
}
