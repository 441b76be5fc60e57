package blacklist

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/jasonzhangf/pipeline-scheduler/logging"
)

// RedisMirror writes blacklist entries to Redis DB 3 (following the
// teacher's documented convention: "DB 3: circuit breaker state"),
// namespaced under "<namespace>:blacklist:*", when its Publish and Clear
// are called. Blacklist does not call it itself, and RedisMirror has no
// read path: the in-process Blacklist remains the only source for
// IsBlacklisted.
type RedisMirror struct {
	client    *redis.Client
	namespace string
	logger    logging.Logger
}

// NewRedisMirror connects to redisURL using DB 3 for isolation from the
// discovery/ratelimit/session databases other components may share the
// same Redis instance with.
func NewRedisMirror(redisURL, namespace string, logger logging.Logger) (*RedisMirror, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("blacklist: parsing redis url: %w", err)
	}
	opt.DB = 3
	if logger == nil {
		logger = logging.NoOp{}
	}
	return &RedisMirror{
		client:    redis.NewClient(opt),
		namespace: namespace,
		logger:    logger,
	}, nil
}

func (m *RedisMirror) key(pipelineID string) string {
	return fmt.Sprintf("%s:blacklist:%s", m.namespace, pipelineID)
}

// Publish mirrors one Add call; errors are logged and swallowed since
// Redis visibility is a convenience, not a correctness requirement —
// the in-process Blacklist already enforces the invariant.
func (m *RedisMirror) Publish(ctx context.Context, e Entry) {
	ttl := time.Until(e.ExpiresAt)
	if ttl <= 0 {
		return
	}
	if err := m.client.Set(ctx, m.key(e.PipelineID), e.Reason, ttl).Err(); err != nil {
		m.logger.Warn("blacklist redis mirror publish failed", map[string]interface{}{
			"pipeline_id": e.PipelineID, "error": err.Error(),
		})
	}
}

// Clear mirrors an explicit Remove.
func (m *RedisMirror) Clear(ctx context.Context, pipelineID string) {
	if err := m.client.Del(ctx, m.key(pipelineID)).Err(); err != nil {
		m.logger.Warn("blacklist redis mirror clear failed", map[string]interface{}{
			"pipeline_id": pipelineID, "error": err.Error(),
		})
	}
}

// Close releases the underlying connection pool.
func (m *RedisMirror) Close() error {
	return m.client.Close()
}
