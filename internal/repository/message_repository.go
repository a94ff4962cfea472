// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"answer-desk/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	DefaultRecentLimit = 10
	MaxRecentLimit     = 100
)

// ErrMessageNotFound 表示消息记录不存在。
var ErrMessageNotFound = errors.New("message not found")

// MessageRepository 定义了消息存储的操作接口。
// 所有状态变更都是条件写，并发下过期的迁移会被拒绝而不是覆盖。
type MessageRepository interface {
	Create(ctx context.Context, msg *model.Message) (bool, error)
	FindByID(ctx context.Context, messageID string) (*model.Message, error)
	Transition(ctx context.Context, messageID string, t model.Transition) (bool, error)
	MarkDispatched(ctx context.Context, messageID string, at time.Time) (bool, error)
	RecordFailure(ctx context.Context, messageID, reason string) error
	FindRecentByChannel(ctx context.Context, channelID string, limit int) ([]model.Message, error)
}

type messageRepository struct {
	db      *gorm.DB
	timeout time.Duration
}

// NewMessageRepository 创建一个新的 MessageRepository 实例。
// timeout 大于 0 时每次数据库调用都带上该超时。
func NewMessageRepository(db *gorm.DB, timeout time.Duration) MessageRepository {
	return &messageRepository{db: db, timeout: timeout}
}

func (r *messageRepository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}

// Create 插入一条新消息；主键冲突时什么也不做，返回 false。
func (r *messageRepository) Create(ctx context.Context, msg *model.Message) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(msg)
	if res.Error != nil {
		return false, fmt.Errorf("failed to create message: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// FindByID 根据 messageId 查找消息。
func (r *messageRepository) FindByID(ctx context.Context, messageID string) (*model.Message, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var msg model.Message
	err := r.db.WithContext(ctx).Where("message_id = ?", messageID).First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find message: %w", err)
	}
	return &msg, nil
}

// Transition 仅当记录当前状态等于 t.From 时才写入 t.To。
// 返回 false 表示记录已被其他事件推进（或不存在），调用方应视为重复事件。
func (r *messageRepository) Transition(ctx context.Context, messageID string, t model.Transition) (bool, error) {
	if err := t.Validate(); err != nil {
		return false, err
	}
	updates := map[string]interface{}{
		"answer_state": t.To,
	}
	if t.AnswerText != nil {
		updates["answer_text"] = *t.AnswerText
	}
	if t.Resolution != "" {
		updates["resolution"] = t.Resolution
	}
	if t.Relevant != nil {
		updates["relevant"] = *t.Relevant
	}
	if t.Reason != "" {
		updates["failure_reason"] = truncateReason(t.Reason)
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	res := r.db.WithContext(ctx).Model(&model.Message{}).
		Where("message_id = ? AND answer_state = ?", messageID, t.From).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("failed to transition message %s: %w", messageID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// MarkDispatched 标记消息已发送，只会成功一次。
func (r *messageRepository) MarkDispatched(ctx context.Context, messageID string, at time.Time) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	res := r.db.WithContext(ctx).Model(&model.Message{}).
		Where("message_id = ? AND dispatched = ?", messageID, false).
		Updates(map[string]interface{}{"dispatched": true, "dispatched_at": at})
	if res.Error != nil {
		return false, fmt.Errorf("failed to mark message %s dispatched: %w", messageID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// RecordFailure 记录失败原因但不改变状态，用于终态消息发送被拒绝等场景。
func (r *messageRepository) RecordFailure(ctx context.Context, messageID, reason string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	err := r.db.WithContext(ctx).Model(&model.Message{}).
		Where("message_id = ?", messageID).
		Update("failure_reason", truncateReason(reason)).Error
	if err != nil {
		return fmt.Errorf("failed to record failure for %s: %w", messageID, err)
	}
	return nil
}

// FindRecentByChannel 按 (channel_id, received_at) 倒序返回最近的 limit 条消息。
func (r *messageRepository) FindRecentByChannel(ctx context.Context, channelID string, limit int) ([]model.Message, error) {
	limit = ClampRecentLimit(limit)
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var messages []model.Message
	err := r.db.WithContext(ctx).
		Where("channel_id = ?", channelID).
		Order("received_at desc").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list recent messages: %w", err)
	}
	return messages, nil
}

// ClampRecentLimit 将查询数量限制在 [1, MaxRecentLimit]，非正数使用默认值。
func ClampRecentLimit(limit int) int {
	if limit <= 0 {
		return DefaultRecentLimit
	}
	if limit > MaxRecentLimit {
		return MaxRecentLimit
	}
	return limit
}

func truncateReason(reason string) string {
	const maxReason = 512
	runes := []rune(reason)
	if len(runes) > maxReason {
		return string(runes[:maxReason])
	}
	return reason
}
