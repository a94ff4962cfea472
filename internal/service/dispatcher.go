package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"answer-desk/pkg/log"
	"answer-desk/pkg/messenger"
)

// ResponseDispatcher 将最终答复发往消息渠道。它只做一次尝试，重试由调用方负责。
type ResponseDispatcher interface {
	Dispatch(ctx context.Context, recipientID, text string) error
}

type responseDispatcher struct {
	client  messenger.Client
	timeout time.Duration
}

// NewResponseDispatcher 创建一个新的 ResponseDispatcher 实例。
func NewResponseDispatcher(client messenger.Client, timeout time.Duration) ResponseDispatcher {
	return &responseDispatcher{client: client, timeout: timeout}
}

func (d *responseDispatcher) Dispatch(ctx context.Context, recipientID, text string) error {
	if recipientID == "" || text == "" {
		return errors.New("recipient and text are required")
	}

	callCtx, cancel := withTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.client.Send(callCtx, recipientID, text); err != nil {
		return fmt.Errorf("send to %s: %w", recipientID, err)
	}
	log.Infof("[ResponseDispatcher] 答复已发送, recipient: %s", recipientID)
	return nil
}
