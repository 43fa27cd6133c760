// Package session keeps the registry of live bearer tokens in Redis so a
// token can be revoked before it expires.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnknownToken is returned for a token that was never registered, has
// expired, or was revoked.
var ErrUnknownToken = errors.New("token not found or revoked")

// TokenData holds the data stored for each registered token
type TokenData struct {
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}

// RedisStore implements the token registry using Redis
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a new Redis-backed token registry
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient creates a registry from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "tails:token:",
	}
}

func (s *RedisStore) key(jti string) string {
	return s.prefix + jti
}

// Register records jti as live for ownerID until expiresAt.
func (s *RedisStore) Register(ctx context.Context, jti, ownerID string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return fmt.Errorf("register token %s: already expired", jti)
	}

	payload, err := json.Marshal(TokenData{OwnerID: ownerID, CreatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal token data: %w", err)
	}
	if err := s.client.Set(ctx, s.key(jti), payload, ttl).Err(); err != nil {
		return fmt.Errorf("register token: %w", err)
	}
	return nil
}

// Lookup returns the owner a live jti was registered for.
func (s *RedisStore) Lookup(ctx context.Context, jti string) (string, error) {
	raw, err := s.client.Get(ctx, s.key(jti)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrUnknownToken
	}
	if err != nil {
		return "", fmt.Errorf("lookup token: %w", err)
	}

	var data TokenData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return "", fmt.Errorf("unmarshal token data: %w", err)
	}
	return data.OwnerID, nil
}

// Revoke deletes a registered jti. Revoking an unknown jti is not an error.
func (s *RedisStore) Revoke(ctx context.Context, jti string) error {
	if err := s.client.Del(ctx, s.key(jti)).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
