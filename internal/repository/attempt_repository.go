package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// AttemptRepository 使用 Redis 计数每条消息的处理失败次数。
type AttemptRepository interface {
	Increment(ctx context.Context, messageID string) (int64, error)
	Reset(ctx context.Context, messageID string) error
}

type redisAttemptRepository struct {
	redisClient *redis.Client
	ttl         time.Duration
}

// NewAttemptRepository 创建一个新的 AttemptRepository 实例。
func NewAttemptRepository(redisClient *redis.Client) AttemptRepository {
	return &redisAttemptRepository{redisClient: redisClient, ttl: 24 * time.Hour}
}

func attemptsKey(messageID string) string {
	return fmt.Sprintf("answer:attempts:%s", messageID)
}

// Increment 失败次数 +1 并刷新过期时间，返回累计次数。
func (r *redisAttemptRepository) Increment(ctx context.Context, messageID string) (int64, error) {
	key := attemptsKey(messageID)
	attempts, err := r.redisClient.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment attempts: %w", err)
	}
	_ = r.redisClient.Expire(ctx, key, r.ttl).Err()
	return attempts, nil
}

// Reset 清理失败计数。
func (r *redisAttemptRepository) Reset(ctx context.Context, messageID string) error {
	return r.redisClient.Del(ctx, attemptsKey(messageID)).Err()
}
