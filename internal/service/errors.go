// Package service 包含了应用的业务逻辑层：应答引擎、审核网关、发送与编排。
package service

import (
	"context"
	"errors"

	"answer-desk/internal/model"
	"answer-desk/internal/repository"
)

var (
	// ErrInvalidEvent 表示入站事件缺少必填字段，无法落库。
	ErrInvalidEvent = errors.New("invalid event")
	// ErrEchoMessage 表示消息由本渠道主页自身发出，直接忽略。
	ErrEchoMessage = errors.New("echo message ignored")
	// ErrMessageNotFound 表示消息记录不存在。
	ErrMessageNotFound = repository.ErrMessageNotFound
	// ErrInvalidDecision 表示审核决定既不是 approve 也不是 reject。
	ErrInvalidDecision = errors.New("invalid decision")
	// ErrNotAwaitingApproval 表示消息尚未进入 needs_approval，决定早于提示到达。
	ErrNotAwaitingApproval = errors.New("message is not awaiting approval")
	// ErrDispatchRejected 表示渠道永久拒绝了发送请求。
	ErrDispatchRejected = errors.New("dispatch rejected by channel")
)

// IsPermanent 判断错误是否不应再重试。
func IsPermanent(err error) bool {
	return errors.Is(err, ErrInvalidEvent) ||
		errors.Is(err, ErrDispatchRejected) ||
		errors.Is(err, ErrMessageNotFound) ||
		errors.Is(err, model.ErrIllegalTransition)
}

// EventPublisher 发布消息变更事件，由 Kafka 生产者实现。
type EventPublisher interface {
	Publish(ctx context.Context, key string, value interface{}) error
}

// OperatorNotifier 将需要人工介入的情况推送到运维频道。
type OperatorNotifier interface {
	Notify(ctx context.Context, notice model.OperatorNotice)
}
