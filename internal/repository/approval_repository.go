package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// PendingApproval 是发往审核频道的提示在 Redis 中的关联记录，callback id 即 messageId。
type PendingApproval struct {
	MessageID   string    `json:"messageId"`
	Destination string    `json:"destination"`
	PromptText  string    `json:"promptText"`
	SentAt      time.Time `json:"sentAt"`
}

// ApprovalRepository 定义了审核关联记录的操作接口。
type ApprovalRepository interface {
	Save(ctx context.Context, pending PendingApproval) error
	Get(ctx context.Context, messageID string) (*PendingApproval, error)
	Delete(ctx context.Context, messageID string) error
}

type redisApprovalRepository struct {
	redisClient *redis.Client
	ttl         time.Duration
}

// NewApprovalRepository 创建一个新的 ApprovalRepository 实例。
func NewApprovalRepository(redisClient *redis.Client) ApprovalRepository {
	return &redisApprovalRepository{redisClient: redisClient, ttl: 7 * 24 * time.Hour}
}

func approvalKey(messageID string) string {
	return fmt.Sprintf("answer:approval:%s", messageID)
}

// Save 保存审核关联记录。
func (r *redisApprovalRepository) Save(ctx context.Context, pending PendingApproval) error {
	data, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("failed to marshal pending approval: %w", err)
	}
	if err := r.redisClient.Set(ctx, approvalKey(pending.MessageID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save pending approval: %w", err)
	}
	return nil
}

// Get 读取审核关联记录，不存在时返回 nil, nil。
func (r *redisApprovalRepository) Get(ctx context.Context, messageID string) (*PendingApproval, error) {
	data, err := r.redisClient.Get(ctx, approvalKey(messageID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pending approval: %w", err)
	}
	var pending PendingApproval
	if err := json.Unmarshal([]byte(data), &pending); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pending approval: %w", err)
	}
	return &pending, nil
}

// Delete 在决定落地后清理关联记录。
func (r *redisApprovalRepository) Delete(ctx context.Context, messageID string) error {
	return r.redisClient.Del(ctx, approvalKey(messageID)).Err()
}
