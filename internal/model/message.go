// Package model 定义了与数据库表对应的 Go 结构体以及消息生命周期状态机。
package model

import (
	"errors"
	"fmt"
	"time"
)

// AnswerState 表示一条消息的应答状态。
type AnswerState string

const (
	StateUnanswered    AnswerState = "unanswered"
	StateNeedsApproval AnswerState = "needs_approval"
	StateApproved      AnswerState = "approved"
	StateRejected      AnswerState = "rejected"
	// StateFailed 表示需要人工处理：事件校验失败或重试耗尽。
	StateFailed AnswerState = "failed"
)

// Resolution 记录终态是由谁写入的。
type Resolution string

const (
	ResolutionAuto      Resolution = "auto"
	ResolutionModerator Resolution = "moderator"
	ResolutionOperator  Resolution = "operator"
)

// ErrIllegalTransition 表示请求的状态迁移不在状态机允许的边上。
var ErrIllegalTransition = errors.New("illegal answer state transition")

// transitions 是状态机允许的全部边。
var transitions = map[AnswerState][]AnswerState{
	StateUnanswered:    {StateNeedsApproval, StateApproved, StateRejected, StateFailed},
	StateNeedsApproval: {StateApproved, StateRejected},
}

// CanTransition 判断 from -> to 是否是合法的迁移。
func CanTransition(from, to AnswerState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal 表示该状态之后不会再有自动迁移（发送除外）。
func (s AnswerState) Terminal() bool {
	return s == StateApproved || s == StateRejected || s == StateFailed
}

// Message 对应于数据库中的 'messages' 表，是状态机的唯一数据源。
type Message struct {
	MessageID  string    `gorm:"type:varchar(191);primaryKey;column:message_id" json:"messageId"`
	ChannelID  string    `gorm:"type:varchar(191);not null;index:idx_channel_received,priority:1;column:channel_id" json:"channelId"`
	SenderID   string    `gorm:"type:varchar(191);column:sender_id" json:"senderId"`
	RawText    string    `gorm:"type:text;column:raw_text" json:"rawText"`
	ReceivedAt time.Time `gorm:"not null;index:idx_channel_received,priority:2;column:received_at" json:"receivedAt"`

	AnswerState AnswerState `gorm:"type:varchar(32);not null;index;column:answer_state" json:"answerState"`
	AnswerText  *string     `gorm:"type:text;column:answer_text" json:"answerText"`
	Resolution  Resolution  `gorm:"type:varchar(16);column:resolution" json:"resolution,omitempty"`
	// Relevant 对应发送时的 "true"/"false" 限定：true 表示真实匹配，false 表示兜底答复。
	Relevant      *bool      `gorm:"column:relevant" json:"relevant"`
	Dispatched    bool       `gorm:"not null;default:false;column:dispatched" json:"dispatched"`
	DispatchedAt  *time.Time `gorm:"column:dispatched_at" json:"dispatchedAt"`
	FailureReason string     `gorm:"type:varchar(512);column:failure_reason" json:"failureReason,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Message) TableName() string {
	return "messages"
}

// Answer 返回最终答复文本，未解析时为空字符串。
func (m *Message) Answer() string {
	if m.AnswerText == nil {
		return ""
	}
	return *m.AnswerText
}

// Dispatchable 判断消息是否已进入终态、具备发送条件且尚未发送。
func (m *Message) Dispatchable() bool {
	return m.AnswerState.Terminal() && !m.Dispatched && m.Answer() != "" && m.SenderID != ""
}

// Transition 描述一次条件写：仅当记录当前处于 From 状态时才写入 To。
type Transition struct {
	From       AnswerState
	To         AnswerState
	AnswerText *string
	Resolution Resolution
	Relevant   *bool
	Reason     string
}

// Validate 校验迁移是否合法。
func (t Transition) Validate() error {
	if !CanTransition(t.From, t.To) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, t.From, t.To)
	}
	return nil
}

// StringPtr 和 BoolPtr 方便构造可空字段。
func StringPtr(s string) *string { return &s }

func BoolPtr(b bool) *bool { return &b }
