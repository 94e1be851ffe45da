package hospital

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenStore persists booking-system auth tokens per hospital so a refreshed
// token survives process restarts and is shared across instances.
type TokenStore interface {
	// Token returns the cached token for a hospital, or "" when absent.
	Token(ctx context.Context, hospitalCode string) (string, error)
	// SaveToken stores a token with its remaining lifetime.
	SaveToken(ctx context.Context, hospitalCode, token string, ttl time.Duration) error
	// DropToken removes a token known to be invalid.
	DropToken(ctx context.Context, hospitalCode string) error
}

// RedisTokenStore is the redis-backed token cache.
type RedisTokenStore struct {
	client *redis.Client
}

// NewRedisTokenStore creates a token store on an existing redis client.
func NewRedisTokenStore(client *redis.Client) *RedisTokenStore {
	return &RedisTokenStore{client: client}
}

func tokenKey(hospitalCode string) string {
	return "hospital:token:" + hospitalCode
}

// Token returns the cached token, or "" when the key is absent or expired.
func (s *RedisTokenStore) Token(ctx context.Context, hospitalCode string) (string, error) {
	val, err := s.client.Get(ctx, tokenKey(hospitalCode)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("hospital: token cache get: %w", err)
	}
	return val, nil
}

// SaveToken stores a token with the given TTL.
func (s *RedisTokenStore) SaveToken(ctx context.Context, hospitalCode, token string, ttl time.Duration) error {
	if err := s.client.Set(ctx, tokenKey(hospitalCode), token, ttl).Err(); err != nil {
		return fmt.Errorf("hospital: token cache set: %w", err)
	}
	return nil
}

// DropToken removes the cached token.
func (s *RedisTokenStore) DropToken(ctx context.Context, hospitalCode string) error {
	if err := s.client.Del(ctx, tokenKey(hospitalCode)).Err(); err != nil {
		return fmt.Errorf("hospital: token cache del: %w", err)
	}
	return nil
}
