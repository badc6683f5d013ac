package utils

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CredentialKey is the fixed key the API key is stored under.
const CredentialKey = "gemini_api_key"

// RedisCredentialStore persists the inference API key in Redis.
//
// The value is base64 encoded only so it is not stored as raw text. This is a
// reversible encoding, not encryption: anyone able to read the Redis key can
// recover the credential.
type RedisCredentialStore struct {
	client *redis.Client
	key    string
}

func NewRedisCredentialStore(client *redis.Client) *RedisCredentialStore {
	return &RedisCredentialStore{client: client, key: CredentialKey}
}

// Load returns the stored credential, or "" when none is stored or the stored
// value cannot be decoded.
func (s *RedisCredentialStore) Load(ctx context.Context) (string, error) {
	encoded, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read credential: %w", err)
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		zap.L().Warn("Stored credential is not valid base64, ignoring it", zap.String("key", s.key))
		return "", nil
	}
	return string(decoded), nil
}

func (s *RedisCredentialStore) Save(ctx context.Context, credential string) error {
	encoded := base64.StdEncoding.EncodeToString([]byte(credential))
	if err := s.client.Set(ctx, s.key, encoded, 0).Err(); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	return nil
}

func (s *RedisCredentialStore) Delete(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}
