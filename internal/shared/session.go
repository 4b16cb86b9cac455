package shared

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// TokenStore tracks revoked bearer tokens in Redis. Entries expire together
// with the token they revoke so the keyspace stays bounded.
type TokenStore struct {
	client *redis.Client
	prefix string
}

// NewTokenStore constructs a TokenStore.
func NewTokenStore(client *redis.Client, prefix string) *TokenStore {
	if prefix == "" {
		prefix = "tip"
	}
	return &TokenStore{client: client, prefix: prefix}
}

// NewTokenID returns a random identifier for the jti claim.
func NewTokenID() string {
	if id, err := uuid.NewRandom(); err == nil {
		return id.String()
	}
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return base64.RawURLEncoding.EncodeToString([]byte(time.Now().Format(time.RFC3339Nano)))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// Revoke blacklists the token id until expiresAt.
func (s *TokenStore) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error {
	if s == nil || s.client == nil {
		return errors.New("token store not initialised")
	}
	if tokenID == "" {
		return errors.New("token id required")
	}
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	return s.client.Set(ctx, s.key(tokenID), "1", ttl).Err()
}

// IsRevoked reports whether the token id was revoked.
func (s *TokenStore) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	if s == nil || s.client == nil {
		return false, nil
	}
	n, err := s.client.Exists(ctx, s.key(tokenID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *TokenStore) key(tokenID string) string {
	return s.prefix + ":revoked:" + tokenID
}
