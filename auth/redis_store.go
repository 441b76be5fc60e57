package auth

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore persists refreshed credentials so a scheduler restart
// doesn't force an immediate re-auth storm across every pipeline. It
// shares the teacher's DB-isolation convention (core/redis_client.go):
// a dedicated logical database, separate from discovery/ratelimit/
// session/circuit-breaker state, namespaced under "scheduler:auth:*".
type RedisStore struct {
	client    *redis.Client
	namespace string
}

func NewRedisStore(redisURL, namespace string) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("auth: parsing redis url: %w", err)
	}
	opt.DB = 5
	return &RedisStore{client: redis.NewClient(opt), namespace: namespace}, nil
}

func (s *RedisStore) key(pipelineID string) string {
	return fmt.Sprintf("%s:auth:%s", s.namespace, pipelineID)
}

func (s *RedisStore) Save(ctx context.Context, pipelineID, token string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	value := token + "|" + strconv.FormatInt(expiresAt.Unix(), 10)
	return s.client.Set(ctx, s.key(pipelineID), value, ttl).Err()
}

func (s *RedisStore) Load(ctx context.Context, pipelineID string) (string, time.Time, bool) {
	value, err := s.client.Get(ctx, s.key(pipelineID)).Result()
	if err != nil {
		return "", time.Time{}, false
	}
	parts := strings.SplitN(value, "|", 2)
	if len(parts) != 2 {
		return "", time.Time{}, false
	}
	unix, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", time.Time{}, false
	}
	return parts[0], time.Unix(unix, 0), true
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
