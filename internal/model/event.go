package model

import (
	"time"

	"github.com/google/uuid"
)

// EventKind 表示消息存储上的变更类别。
type EventKind string

const (
	EventInsert EventKind = "insert"
	EventModify EventKind = "modify"
	// EventRetry 是处理失败后重新入队的事件。
	EventRetry EventKind = "retry"
)

// MessageEvent 是写入 Kafka 的消息变更通知，key 为 MessageID。
type MessageEvent struct {
	EventID    string      `json:"event_id"`
	Kind       EventKind   `json:"kind"`
	MessageID  string      `json:"message_id"`
	State      AnswerState `json:"state"`
	Attempt    int         `json:"attempt,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// NewMessageEvent 创建一个带唯一 EventID 的变更事件。
func NewMessageEvent(kind EventKind, messageID string, state AnswerState) MessageEvent {
	return MessageEvent{
		EventID:    uuid.NewString(),
		Kind:       kind,
		MessageID:  messageID,
		State:      state,
		OccurredAt: time.Now().UTC(),
	}
}

// IngestEvent 是渠道 webhook 归一化后的入站消息。
type IngestEvent struct {
	MessageID  string    `json:"messageId"`
	SenderID   string    `json:"senderId"`
	ChannelID  string    `json:"channelId"`
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// Decision 是审核员的二选一决定。
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// DecisionEvent 是审核频道回传的决定。
type DecisionEvent struct {
	MessageID string   `json:"messageId"`
	Decision  Decision `json:"decision"`
	// PromptText 为审核消息原文，可选，用于生成确认回执。
	PromptText string `json:"-"`
}

// ApprovalRequest 是 needs_approval 消息的投影，加上审核频道路由信息。
type ApprovalRequest struct {
	MessageID      string
	Question       string
	ProposedAnswer string
	Destination    string
}

// NoticeKind 是推送给运维频道的通知类别。
type NoticeKind string

const (
	NoticeMessageFailed    NoticeKind = "message_failed"
	NoticeDispatchRejected NoticeKind = "dispatch_rejected"
)

// OperatorNotice 是推送到运维频道的一条通知。
type OperatorNotice struct {
	Kind      NoticeKind  `json:"kind"`
	MessageID string      `json:"messageId"`
	State     AnswerState `json:"state,omitempty"`
	Reason    string      `json:"reason"`
	At        time.Time   `json:"at"`
}
