// Package pipeline 定义了消息变更事件的消费流程和知识库加载流程。
package pipeline

import (
	"context"
	"encoding/json"

	"answer-desk/internal/model"
	"answer-desk/internal/repository"
	"answer-desk/internal/service"
	"answer-desk/pkg/log"

	"github.com/segmentio/kafka-go"
)

// Processor 将 Kafka 批次解码为消息事件交给编排器，并按结果决定重新入队或转人工。
type Processor struct {
	orchestrator service.Orchestrator
	attempts     repository.AttemptRepository
	publisher    service.EventPublisher
	maxAttempts  int
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(
	orchestrator service.Orchestrator,
	attempts repository.AttemptRepository,
	publisher service.EventPublisher,
	maxAttempts int,
) *Processor {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Processor{
		orchestrator: orchestrator,
		attempts:     attempts,
		publisher:    publisher,
		maxAttempts:  maxAttempts,
	}
}

// HandleBatch 实现 kafka.BatchHandler。成功、不可重试或已重新入队的事件视为处理妥当；
// 重新入队失败、转人工失败或处理中途停机的事件作为 pending 返回，其 offset 不会被提交。
func (p *Processor) HandleBatch(ctx context.Context, msgs []kafka.Message) []kafka.Message {
	events := make([]model.MessageEvent, 0, len(msgs))
	sources := make([]kafka.Message, 0, len(msgs))
	for _, m := range msgs {
		var ev model.MessageEvent
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			log.Errorf("[Processor] 无法解析消息事件, offset: %d, error: %v", m.Offset, err)
			continue
		}
		if ev.MessageID == "" {
			ev.MessageID = string(m.Key)
		}
		if ev.MessageID == "" {
			log.Errorf("[Processor] 消息事件缺少 messageId, offset: %d", m.Offset)
			continue
		}
		events = append(events, ev)
		sources = append(sources, m)
	}
	if len(events) == 0 {
		return nil
	}

	var pending []kafka.Message
	errs := p.orchestrator.HandleBatch(ctx, events)
	for i, err := range errs {
		if !p.settle(ctx, events[i], err) {
			pending = append(pending, sources[i])
		}
	}
	return pending
}

// settle 根据处理结果清理计数、重新入队或转人工，返回事件是否已处理妥当。
func (p *Processor) settle(ctx context.Context, ev model.MessageEvent, err error) bool {
	if err == nil {
		if resetErr := p.attempts.Reset(ctx, ev.MessageID); resetErr != nil {
			log.Warnf("[Processor] 清理重试计数失败, messageID: %s, error: %v", ev.MessageID, resetErr)
		}
		return true
	}
	if ctx.Err() != nil {
		log.Warnf("[Processor] 处理中途停机，事件留待重新投递, messageID: %s, error: %v", ev.MessageID, err)
		return false
	}
	if service.IsPermanent(err) {
		log.Errorf("[Processor] 事件处理失败且不可重试, messageID: %s, error: %v", ev.MessageID, err)
		return true
	}

	attempts, incErr := p.attempts.Increment(ctx, ev.MessageID)
	if incErr != nil {
		// Redis 不可用时退回到事件自带的计数
		log.Warnf("[Processor] 读取重试计数失败, messageID: %s, error: %v", ev.MessageID, incErr)
		attempts = int64(ev.Attempt + 1)
	}

	if attempts >= int64(p.maxAttempts) {
		log.Errorf("[Processor] 重试次数耗尽, messageID: %s, attempts: %d, error: %v", ev.MessageID, attempts, err)
		if exhaustErr := p.orchestrator.Exhaust(ctx, ev.MessageID, err); exhaustErr != nil {
			if service.IsPermanent(exhaustErr) {
				log.Errorf("[Processor] 转人工处理失败且不可重试, messageID: %s, error: %v", ev.MessageID, exhaustErr)
				return true
			}
			log.Errorf("[Processor] 转人工处理失败，事件留待重新投递, messageID: %s, error: %v", ev.MessageID, exhaustErr)
			return false
		}
		if resetErr := p.attempts.Reset(ctx, ev.MessageID); resetErr != nil {
			log.Warnf("[Processor] 清理重试计数失败, messageID: %s, error: %v", ev.MessageID, resetErr)
		}
		return true
	}

	retry := model.NewMessageEvent(model.EventRetry, ev.MessageID, ev.State)
	retry.Attempt = int(attempts)
	if pubErr := p.publisher.Publish(ctx, ev.MessageID, retry); pubErr != nil {
		log.Errorf("[Processor] 重新入队失败，事件留待重新投递, messageID: %s, error: %v", ev.MessageID, pubErr)
		return false
	}
	log.Warnf("[Processor] 事件处理失败，已重新入队, messageID: %s, attempt: %d/%d, error: %v",
		ev.MessageID, attempts, p.maxAttempts, err)
	return true
}
