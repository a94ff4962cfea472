package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"answer-desk/internal/config"
	"answer-desk/internal/model"
	"answer-desk/internal/repository"
	"answer-desk/pkg/log"
)

// MessageService 接口定义了消息入站与查询相关的业务操作。
type MessageService interface {
	// Ingest 保存入站消息并发布 insert 事件。第二个返回值表示是否新建。
	Ingest(ctx context.Context, ev model.IngestEvent) (*model.Message, bool, error)
	Get(ctx context.Context, messageID string) (*model.Message, error)
	Recent(ctx context.Context, channelID string, limit int) ([]model.Message, error)
}

type messageService struct {
	repo         repository.MessageRepository
	publisher    EventPublisher
	operator     OperatorNotifier
	pageID       string
	fallbackText string
	now          func() time.Time
}

// NewMessageService 创建一个新的 MessageService 实例。
func NewMessageService(
	repo repository.MessageRepository,
	publisher EventPublisher,
	operator OperatorNotifier,
	cfg *config.Config,
) MessageService {
	return &messageService{
		repo:         repo,
		publisher:    publisher,
		operator:     operator,
		pageID:       cfg.Messenger.PageID,
		fallbackText: cfg.Answer.FallbackText,
		now:          time.Now,
	}
}

// Ingest 校验并保存消息。缺少 messageId 或 channelId 的事件直接拒绝；
// 缺少发送者或文本的事件以 failed 落库并通知运维，有发送者时仍会回复兜底答案。
func (s *messageService) Ingest(ctx context.Context, ev model.IngestEvent) (*model.Message, bool, error) {
	ev.MessageID = strings.TrimSpace(ev.MessageID)
	ev.ChannelID = strings.TrimSpace(ev.ChannelID)
	ev.SenderID = strings.TrimSpace(ev.SenderID)

	if ev.MessageID == "" {
		return nil, false, fmt.Errorf("%w: missing messageId", ErrInvalidEvent)
	}
	if ev.ChannelID == "" {
		return nil, false, fmt.Errorf("%w: missing channelId", ErrInvalidEvent)
	}
	if s.pageID != "" && ev.SenderID == s.pageID {
		return nil, false, ErrEchoMessage
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = s.now().UTC()
	}

	msg := &model.Message{
		MessageID:   ev.MessageID,
		ChannelID:   ev.ChannelID,
		SenderID:    ev.SenderID,
		RawText:     ev.Text,
		ReceivedAt:  ev.ReceivedAt,
		AnswerState: model.StateUnanswered,
	}

	var reason string
	switch {
	case ev.SenderID == "":
		reason = "missing senderId"
	case strings.TrimSpace(ev.Text) == "":
		reason = "missing text"
	}
	if reason != "" {
		msg.AnswerState = model.StateFailed
		msg.FailureReason = reason
		msg.Resolution = model.ResolutionOperator
		msg.Relevant = model.BoolPtr(false)
		if ev.SenderID != "" {
			msg.AnswerText = model.StringPtr(s.fallbackText)
		}
	}

	created, err := s.repo.Create(ctx, msg)
	if err != nil {
		return nil, false, err
	}
	if !created {
		existing, err := s.repo.FindByID(ctx, ev.MessageID)
		if err != nil {
			return nil, false, err
		}
		log.Infof("[MessageService] 重复的入站消息, messageID: %s, state: %s", ev.MessageID, existing.AnswerState)
		if existing.AnswerState == model.StateUnanswered {
			// 首次入站时事件可能未发出，补发一次
			s.publishInsert(ctx, existing)
		}
		return existing, false, nil
	}

	if reason != "" {
		log.Warnf("[MessageService] 入站消息校验失败, messageID: %s, reason: %s", msg.MessageID, reason)
		s.operator.Notify(ctx, model.OperatorNotice{
			Kind:      model.NoticeMessageFailed,
			MessageID: msg.MessageID,
			State:     model.StateFailed,
			Reason:    reason,
			At:        s.now().UTC(),
		})
	} else {
		log.Infof("[MessageService] 入站消息已保存, messageID: %s, channelID: %s", msg.MessageID, msg.ChannelID)
	}

	if msg.AnswerState == model.StateUnanswered || msg.Dispatchable() {
		if err := s.publishInsert(ctx, msg); err != nil {
			return msg, true, err
		}
	}
	return msg, true, nil
}

func (s *messageService) publishInsert(ctx context.Context, msg *model.Message) error {
	ev := model.NewMessageEvent(model.EventInsert, msg.MessageID, msg.AnswerState)
	if err := s.publisher.Publish(ctx, msg.MessageID, ev); err != nil {
		log.Errorf("[MessageService] 发布 insert 事件失败, messageID: %s, error: %v", msg.MessageID, err)
		return fmt.Errorf("publish insert event for %s: %w", msg.MessageID, err)
	}
	return nil
}

func (s *messageService) Get(ctx context.Context, messageID string) (*model.Message, error) {
	return s.repo.FindByID(ctx, messageID)
}

// Recent 返回频道内最近的消息，limit 会被限制在合法区间。
func (s *messageService) Recent(ctx context.Context, channelID string, limit int) ([]model.Message, error) {
	if strings.TrimSpace(channelID) == "" {
		return nil, fmt.Errorf("%w: missing channelId", ErrInvalidEvent)
	}
	return s.repo.FindRecentByChannel(ctx, channelID, repository.ClampRecentLimit(limit))
}
