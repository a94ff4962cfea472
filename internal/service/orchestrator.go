package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"answer-desk/internal/config"
	"answer-desk/internal/model"
	"answer-desk/internal/repository"
	"answer-desk/pkg/apierr"
	"answer-desk/pkg/log"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
)

// Orchestrator 消费消息变更事件，驱动每条消息走完状态机直到答复发出。
type Orchestrator interface {
	// HandleBatch 处理一批事件，返回与 events 一一对应的错误。
	HandleBatch(ctx context.Context, events []model.MessageEvent) []error
	// Reconcile 读取消息当前状态并执行下一步。多次调用是安全的。
	Reconcile(ctx context.Context, messageID string) error
	// Exhaust 在重试耗尽后将消息交给人工。
	Exhaust(ctx context.Context, messageID string, cause error) error
}

type orchestrator struct {
	repo         repository.MessageRepository
	engine       AnswerEngine
	sentiment    SentimentPipeline
	dispatcher   ResponseDispatcher
	operator     OperatorNotifier
	concurrency  int
	attempts     int
	backoff      time.Duration
	fallbackText string
	now          func() time.Time
}

// NewOrchestrator 创建一个新的 Orchestrator 实例。
func NewOrchestrator(
	repo repository.MessageRepository,
	engine AnswerEngine,
	sentiment SentimentPipeline,
	dispatcher ResponseDispatcher,
	operator OperatorNotifier,
	cfg *config.Config,
) Orchestrator {
	concurrency := cfg.Orchestrator.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	attempts := cfg.Orchestrator.DispatchAttempts
	if attempts <= 0 {
		attempts = 1
	}
	return &orchestrator{
		repo:         repo,
		engine:       engine,
		sentiment:    sentiment,
		dispatcher:   dispatcher,
		operator:     operator,
		concurrency:  concurrency,
		attempts:     attempts,
		backoff:      cfg.Orchestrator.DispatchBackoff,
		fallbackText: cfg.Answer.FallbackText,
		now:          time.Now,
	}
}

// HandleBatch 按 messageId 分组：同一消息的事件顺序处理，不同消息并发处理，
// 并发度不超过配置上限。
func (o *orchestrator) HandleBatch(ctx context.Context, events []model.MessageEvent) []error {
	errs := make([]error, len(events))

	groups := make(map[string][]int)
	var order []string
	for i, ev := range events {
		if ev.MessageID == "" {
			errs[i] = fmt.Errorf("%w: event %s has no messageId", ErrInvalidEvent, ev.EventID)
			continue
		}
		if _, ok := groups[ev.MessageID]; !ok {
			order = append(order, ev.MessageID)
		}
		groups[ev.MessageID] = append(groups[ev.MessageID], i)
	}

	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for _, messageID := range order {
		messageID := messageID
		indexes := groups[messageID]
		g.Go(func() error {
			for _, i := range indexes {
				errs[i] = o.Reconcile(ctx, messageID)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

func (o *orchestrator) Reconcile(ctx context.Context, messageID string) error {
	msg, err := o.repo.FindByID(ctx, messageID)
	if err != nil {
		return fmt.Errorf("load message %s: %w", messageID, err)
	}

	switch {
	case msg.AnswerState == model.StateUnanswered:
		return o.answer(ctx, msg)
	case msg.AnswerState == model.StateNeedsApproval:
		log.Infof("[Orchestrator] 等待人工审核, messageID: %s", messageID)
		return nil
	case msg.Dispatched:
		log.Infof("[Orchestrator] 答复已发送过，忽略重复事件, messageID: %s", messageID)
		return nil
	case msg.Dispatchable():
		return o.dispatch(ctx, msg)
	default:
		log.Infof("[Orchestrator] 无可执行步骤, messageID: %s, state: %s", messageID, msg.AnswerState)
		return nil
	}
}

// answer 并行执行应答引擎和情感分析。情感分析的失败不会传播。
func (o *orchestrator) answer(ctx context.Context, msg *model.Message) error {
	var (
		decision *AnswerDecision
		fan      errgroup.Group
	)
	fan.Go(func() error {
		d, err := o.engine.Decide(ctx, msg)
		decision = d
		return err
	})
	fan.Go(func() error {
		o.sentiment.Record(ctx, msg.MessageID, msg.RawText)
		return nil
	})
	if err := fan.Wait(); err != nil {
		log.Errorf("[Orchestrator] 应答失败，消息保持 unanswered, messageID: %s, error: %v", msg.MessageID, err)
		return err
	}

	if !decision.Terminal && decision.Applied {
		return nil
	}

	fresh, err := o.repo.FindByID(ctx, msg.MessageID)
	if err != nil {
		return fmt.Errorf("reload message %s: %w", msg.MessageID, err)
	}
	if !fresh.Dispatchable() {
		return nil
	}
	return o.dispatch(ctx, fresh)
}

// dispatch 以指数退避重试临时错误，成功后标记 dispatched。
func (o *orchestrator) dispatch(ctx context.Context, msg *model.Message) error {
	text := msg.Answer()
	op := func() error {
		err := o.dispatcher.Dispatch(ctx, msg.SenderID, text)
		if err != nil && !apierr.IsTemporary(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	if o.backoff > 0 {
		policy.InitialInterval = o.backoff
	}
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(o.attempts-1)), ctx)

	if err := backoff.Retry(op, retry); err != nil {
		if apierr.IsTemporary(err) || ctx.Err() != nil {
			log.Warnf("[Orchestrator] 发送失败，稍后重试, messageID: %s, error: %v", msg.MessageID, err)
			return err
		}
		reason := fmt.Sprintf("channel rejected response: %v", err)
		if recErr := o.repo.RecordFailure(ctx, msg.MessageID, reason); recErr != nil {
			log.Errorf("[Orchestrator] 记录失败原因出错, messageID: %s, error: %v", msg.MessageID, recErr)
		}
		o.operator.Notify(ctx, model.OperatorNotice{
			Kind:      model.NoticeDispatchRejected,
			MessageID: msg.MessageID,
			State:     msg.AnswerState,
			Reason:    reason,
			At:        o.now().UTC(),
		})
		return fmt.Errorf("%w: %s: %v", ErrDispatchRejected, msg.MessageID, err)
	}

	marked, err := o.repo.MarkDispatched(ctx, msg.MessageID, o.now().UTC())
	if err != nil {
		return fmt.Errorf("mark %s dispatched: %w", msg.MessageID, err)
	}
	if !marked {
		log.Warnf("[Orchestrator] 消息已被标记为 dispatched, messageID: %s", msg.MessageID)
	}
	log.Infow("[Orchestrator] 答复已发送",
		"messageID", msg.MessageID,
		"state", msg.AnswerState,
		"relevant", msg.Relevant != nil && *msg.Relevant,
	)
	return nil
}

// Exhaust 将仍处于 unanswered 的消息写为 failed 并发出兜底答复；
// 其他状态只记录原因。两种情况都会通知运维。
func (o *orchestrator) Exhaust(ctx context.Context, messageID string, cause error) error {
	msg, err := o.repo.FindByID(ctx, messageID)
	if err != nil {
		return fmt.Errorf("load message %s: %w", messageID, err)
	}

	reason := "retries exhausted"
	if cause != nil {
		reason = fmt.Sprintf("retries exhausted: %v", cause)
	}

	state := msg.AnswerState
	if msg.AnswerState == model.StateUnanswered {
		applied, err := o.repo.Transition(ctx, messageID, model.Transition{
			From:       model.StateUnanswered,
			To:         model.StateFailed,
			AnswerText: model.StringPtr(o.fallbackText),
			Resolution: model.ResolutionOperator,
			Relevant:   model.BoolPtr(false),
			Reason:     reason,
		})
		if err != nil {
			return fmt.Errorf("mark %s failed: %w", messageID, err)
		}
		if applied {
			state = model.StateFailed
			log.Infow("[Orchestrator] 状态迁移",
				"messageID", messageID,
				"from", model.StateUnanswered,
				"to", model.StateFailed,
				"reason", reason,
			)
		}
	} else if err := o.repo.RecordFailure(ctx, messageID, reason); err != nil {
		log.Errorf("[Orchestrator] 记录失败原因出错, messageID: %s, error: %v", messageID, err)
	}

	o.operator.Notify(ctx, model.OperatorNotice{
		Kind:      model.NoticeMessageFailed,
		MessageID: messageID,
		State:     state,
		Reason:    reason,
		At:        o.now().UTC(),
	})

	if state != model.StateFailed {
		return nil
	}
	fresh, err := o.repo.FindByID(ctx, messageID)
	if err != nil {
		return fmt.Errorf("reload message %s: %w", messageID, err)
	}
	if !fresh.Dispatchable() {
		return nil
	}
	if err := o.dispatch(ctx, fresh); err != nil && !errors.Is(err, ErrDispatchRejected) {
		log.Errorf("[Orchestrator] 兜底答复发送失败, messageID: %s, error: %v", messageID, err)
		return err
	}
	return nil
}
