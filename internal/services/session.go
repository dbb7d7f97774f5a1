package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// SessionKeyPrefix maps a token to its user id.
	SessionKeyPrefix = "session:"
	// UserSessionKeyPrefix maps a user id to its current token.
	UserSessionKeyPrefix = "user_session:"

	defaultSessionTTL = 7 * 24 * time.Hour
)

// SessionStore issues and resolves bearer tokens.
type SessionStore interface {
	Create(ctx context.Context, userID string) (string, error)
	// Validate returns ErrSessionNotFound for unknown or expired tokens.
	Validate(ctx context.Context, token string) (string, error)
	Invalidate(ctx context.Context, token string) error
}

// RedisSessionStore keeps one live session per user; logging in again replaces it.
type RedisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSessionStore(client *redis.Client, ttl time.Duration) *RedisSessionStore {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &RedisSessionStore{client: client, ttl: ttl}
}

// Create invalidates the user's previous session and stores a fresh token.
func (s *RedisSessionStore) Create(ctx context.Context, userID string) (string, error) {
	if err := s.invalidateUser(ctx, userID); err != nil {
		return "", err
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", fmt.Errorf("session token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(tokenBytes)

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, SessionKeyPrefix+token, userID, s.ttl)
	pipe.Set(ctx, UserSessionKeyPrefix+userID, token, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}
	return token, nil
}

func (s *RedisSessionStore) Validate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrSessionNotFound
	}
	userID, err := s.client.Get(ctx, SessionKeyPrefix+token).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrSessionNotFound
		}
		return "", err
	}
	return userID, nil
}

func (s *RedisSessionStore) Invalidate(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	userID, err := s.client.Get(ctx, SessionKeyPrefix+token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	keys := []string{SessionKeyPrefix + token}
	if userID != "" {
		keys = append(keys, UserSessionKeyPrefix+userID)
	}
	return s.client.Del(ctx, keys...).Err()
}

func (s *RedisSessionStore) invalidateUser(ctx context.Context, userID string) error {
	token, err := s.client.Get(ctx, UserSessionKeyPrefix+userID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	}
	return s.client.Del(ctx, SessionKeyPrefix+token, UserSessionKeyPrefix+userID).Err()
}
