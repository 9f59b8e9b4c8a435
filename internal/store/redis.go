package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore handles Redis operations for per-user read watermarks.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Client exposes the underlying Redis client.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// watermarkKey returns the key for a user's last-read marker in a conversation.
func watermarkKey(userID, conversationID string) string {
	return fmt.Sprintf("read:%s:%s", userID, conversationID)
}

// markReadScript advances the watermark only forward. Message IDs are
// ULIDs, so lexicographic comparison is chronological.
var markReadScript = redis.NewScript(`
	local cur = redis.call("GET", KEYS[1])
	if not cur or ARGV[1] > cur then
		redis.call("SET", KEYS[1], ARGV[1])
		return 1
	end
	return 0
`)

// MarkRead records that the user has read the conversation up to the
// given message ID. Regressions are ignored.
func (s *RedisStore) MarkRead(ctx context.Context, userID, conversationID uuid.UUID, messageID string) error {
	key := watermarkKey(userID.String(), conversationID.String())
	return markReadScript.Run(ctx, s.client, []string{key}, messageID).Err()
}

// GetWatermark returns the user's last-read message ID for the
// conversation, or "" when nothing has been read.
func (s *RedisStore) GetWatermark(ctx context.Context, userID, conversationID uuid.UUID) (string, error) {
	key := watermarkKey(userID.String(), conversationID.String())
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return val, nil
}
