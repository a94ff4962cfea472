package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"answer-desk/internal/config"
	"answer-desk/internal/model"
	"answer-desk/internal/repository"
	"answer-desk/pkg/log"
	"answer-desk/pkg/slack"
)

const (
	approvedSuffix = ":white_check_mark: Answer has been *approved*! "
	rejectedSuffix = ":x: Answer has been *rejected*! "
)

// ModerationPoster 将审核提示发往审核频道，由 slack.Client 实现。
type ModerationPoster interface {
	PostMessage(ctx context.Context, webhookURL string, msg slack.Message) error
}

// DecisionOutcome 是一次审核决定的处理结果。
type DecisionOutcome struct {
	MessageID string            `json:"messageId"`
	State     model.AnswerState `json:"answerState"`
	// Duplicate 为 true 表示决定已被处理过，本次为无操作。
	Duplicate       bool   `json:"duplicate"`
	Acknowledgement string `json:"acknowledgement"`
}

// ApprovalGateway 负责发出审核提示和接收审核决定。
type ApprovalGateway interface {
	RequestApproval(ctx context.Context, req model.ApprovalRequest) error
	Decide(ctx context.Context, ev model.DecisionEvent) (*DecisionOutcome, error)
}

type approvalGateway struct {
	repo          repository.MessageRepository
	pending       repository.ApprovalRepository
	poster        ModerationPoster
	publisher     EventPublisher
	webhookURL    string
	rejectionText string
	notifyTimeout time.Duration
	now           func() time.Time
}

// NewApprovalGateway 创建一个新的 ApprovalGateway 实例。
func NewApprovalGateway(
	repo repository.MessageRepository,
	pending repository.ApprovalRepository,
	poster ModerationPoster,
	publisher EventPublisher,
	cfg *config.Config,
) ApprovalGateway {
	return &approvalGateway{
		repo:          repo,
		pending:       pending,
		poster:        poster,
		publisher:     publisher,
		webhookURL:    cfg.Slack.WebhookURL,
		rejectionText: cfg.Answer.RejectionText,
		notifyTimeout: cfg.Timeouts.Notify,
		now:           time.Now,
	}
}

// RequestApproval 渲染并发送审核提示，然后在 Redis 中记录关联信息。
func (g *approvalGateway) RequestApproval(ctx context.Context, req model.ApprovalRequest) error {
	msg := slack.BuildApprovalMessage(req.MessageID, req.Question, req.ProposedAnswer)

	notifyCtx, cancel := withTimeout(ctx, g.notifyTimeout)
	defer cancel()
	if err := g.poster.PostMessage(notifyCtx, g.webhookURL, msg); err != nil {
		return fmt.Errorf("post approval prompt: %w", err)
	}

	pending := repository.PendingApproval{
		MessageID:   req.MessageID,
		Destination: req.Destination,
		PromptText:  msg.Text,
		SentAt:      g.now().UTC(),
	}
	if err := g.pending.Save(ctx, pending); err != nil {
		// 关联记录只用于生成回执，丢失不影响决定的处理
		log.Warnf("[ApprovalGateway] 保存审核关联记录失败, messageID: %s, error: %v", req.MessageID, err)
	}
	log.Infof("[ApprovalGateway] 审核提示已发送, messageID: %s", req.MessageID)
	return nil
}

// Decide 以条件写 needs_approval -> approved/rejected 应用审核决定。
// 同一决定重复到达时只有第一次生效，其余返回 Duplicate。
func (g *approvalGateway) Decide(ctx context.Context, ev model.DecisionEvent) (*DecisionOutcome, error) {
	messageID := strings.TrimSpace(ev.MessageID)
	if messageID == "" {
		return nil, fmt.Errorf("%w: missing messageId", ErrInvalidDecision)
	}

	var transition model.Transition
	switch ev.Decision {
	case model.DecisionApprove:
		// 保留待审核时写入的候选答案
		transition = model.Transition{
			From: model.StateNeedsApproval, To: model.StateApproved,
			Resolution: model.ResolutionModerator, Relevant: model.BoolPtr(true),
		}
	case model.DecisionReject:
		transition = model.Transition{
			From: model.StateNeedsApproval, To: model.StateRejected,
			AnswerText: model.StringPtr(g.rejectionText),
			Resolution: model.ResolutionModerator, Relevant: model.BoolPtr(false),
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidDecision, ev.Decision)
	}

	applied, err := g.repo.Transition(ctx, messageID, transition)
	if err != nil {
		return nil, fmt.Errorf("apply decision for %s: %w", messageID, err)
	}

	if !applied {
		msg, err := g.repo.FindByID(ctx, messageID)
		if err != nil {
			if errors.Is(err, repository.ErrMessageNotFound) {
				return nil, ErrMessageNotFound
			}
			return nil, err
		}
		if !msg.AnswerState.Terminal() {
			return nil, fmt.Errorf("%w: message %s is %s", ErrNotAwaitingApproval, messageID, msg.AnswerState)
		}
		log.Infof("[ApprovalGateway] 重复的审核决定，忽略, messageID: %s, state: %s", messageID, msg.AnswerState)
		if msg.Dispatchable() {
			// 首次决定的事件可能未能发出，补发一次；编排器按状态去重
			g.publishModify(ctx, messageID, msg.AnswerState)
		}
		return &DecisionOutcome{
			MessageID:       messageID,
			State:           msg.AnswerState,
			Duplicate:       true,
			Acknowledgement: g.acknowledgement(ctx, messageID, ev.PromptText, msg.AnswerState),
		}, nil
	}

	log.Infow("[ApprovalGateway] 状态迁移",
		"messageID", messageID,
		"from", transition.From,
		"to", transition.To,
		"decision", ev.Decision,
	)
	g.publishModify(ctx, messageID, transition.To)

	ack := g.acknowledgement(ctx, messageID, ev.PromptText, transition.To)
	if err := g.pending.Delete(ctx, messageID); err != nil {
		log.Warnf("[ApprovalGateway] 删除审核关联记录失败, messageID: %s, error: %v", messageID, err)
	}
	return &DecisionOutcome{MessageID: messageID, State: transition.To, Acknowledgement: ack}, nil
}

func (g *approvalGateway) publishModify(ctx context.Context, messageID string, state model.AnswerState) {
	ev := model.NewMessageEvent(model.EventModify, messageID, state)
	if err := g.publisher.Publish(ctx, messageID, ev); err != nil {
		log.Errorf("[ApprovalGateway] 发布 modify 事件失败, messageID: %s, error: %v", messageID, err)
	}
}

// acknowledgement 在提示原文后附加审核结果。
func (g *approvalGateway) acknowledgement(ctx context.Context, messageID, promptText string, state model.AnswerState) string {
	if promptText == "" {
		if pending, err := g.pending.Get(ctx, messageID); err == nil && pending != nil {
			promptText = pending.PromptText
		}
	}
	if state == model.StateApproved {
		return promptText + approvedSuffix
	}
	return promptText + rejectedSuffix
}
