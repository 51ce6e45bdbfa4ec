// Package session provides storage backends for interview tokens. A token
// is the opaque credential handed out at registration; it resolves to the
// session and profile it was issued for.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenData is the value stored per token hash.
type TokenData struct {
	SessionID string    `json:"session_id"`
	ProfileID string    `json:"profile_id"`
	CreatedAt time.Time `json:"created_at"`
}

// RedisStore implements interview token storage using Redis. TTL handling
// is delegated to Redis key expiry.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{client: client, prefix: "ivtoken:"}, nil
}

func (s *RedisStore) key(tokenHash string) string {
	return s.prefix + tokenHash
}

// SaveSessionToken stores a token with expiration.
func (s *RedisStore) SaveSessionToken(ctx context.Context, tokenHash, sessionID, profileID string, expiresAt time.Time) error {
	data, err := json.Marshal(TokenData{
		SessionID: sessionID,
		ProfileID: profileID,
		CreatedAt: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("marshal token data: %w", err)
	}

	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}

	if err := s.client.Set(ctx, s.key(tokenHash), data, ttl).Err(); err != nil {
		return fmt.Errorf("save session token: %w", err)
	}
	return nil
}

// LookupSessionToken resolves a token hash to its session and profile ids.
func (s *RedisStore) LookupSessionToken(ctx context.Context, tokenHash string) (string, string, error) {
	raw, err := s.client.Get(ctx, s.key(tokenHash)).Result()
	if err == redis.Nil {
		return "", "", fmt.Errorf("token not found or expired")
	}
	if err != nil {
		return "", "", fmt.Errorf("lookup session token: %w", err)
	}

	var data TokenData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return "", "", fmt.Errorf("unmarshal token data: %w", err)
	}
	return data.SessionID, data.ProfileID, nil
}

// RevokeSessionToken deletes a token.
func (s *RedisStore) RevokeSessionToken(ctx context.Context, tokenHash string) error {
	if err := s.client.Del(ctx, s.key(tokenHash)).Err(); err != nil {
		return fmt.Errorf("revoke session token: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
