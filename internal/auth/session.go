package auth

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Sessions tracks live logins so tokens can be revoked before they expire.
type Sessions interface {
	Create(ctx context.Context, sessionID, teacherID string, ttl time.Duration) error
	Exists(ctx context.Context, sessionID string) (bool, error)
	Revoke(ctx context.Context, sessionID string) error
}

// RedisSessions keeps one key per session with the token's lifetime.
type RedisSessions struct {
	client *redis.Client
	prefix string
}

func NewRedisSessions(client *redis.Client) *RedisSessions {
	return &RedisSessions{client: client, prefix: "session:"}
}

func (s *RedisSessions) Create(ctx context.Context, sessionID, teacherID string, ttl time.Duration) error {
	return s.client.Set(ctx, s.prefix+sessionID, teacherID, ttl).Err()
}

func (s *RedisSessions) Exists(ctx context.Context, sessionID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.prefix+sessionID).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *RedisSessions) Revoke(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, s.prefix+sessionID).Err()
}
