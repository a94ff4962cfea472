// Package messenger 提供了向聊天渠道发送消息的客户端。
package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"answer-desk/internal/config"
	"answer-desk/pkg/apierr"
	"answer-desk/pkg/log"
)

// Client 定义了渠道发送接口。发送本身不做重试，由调用方决定重试策略。
type Client interface {
	Send(ctx context.Context, recipientID, text string) error
}

type graphClient struct {
	cfg    config.MessengerConfig
	client *http.Client
}

// NewClient 创建一个新的渠道发送客户端。
func NewClient(cfg config.MessengerConfig) Client {
	return &graphClient{
		cfg:    cfg,
		client: &http.Client{},
	}
}

type sendRequest struct {
	Recipient struct {
		ID string `json:"id"`
	} `json:"recipient"`
	Message struct {
		Text string `json:"text"`
	} `json:"message"`
}

// Send 调用 /me/messages 向 recipientID 发送文本。
func (c *graphClient) Send(ctx context.Context, recipientID, text string) error {
	var body sendRequest
	body.Recipient.ID = recipientID
	body.Message.Text = text

	reqBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("序列化发送请求失败: %w", err)
	}

	endpoint := c.cfg.BaseURL + "/me/messages?access_token=" + url.QueryEscape(c.cfg.AccessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBytes))
	if err != nil {
		return fmt.Errorf("创建发送请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("调用渠道发送接口失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return &apierr.Error{Service: "messenger", StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	log.Infof("[Messenger] 消息已发送, recipient: %s, len: %d", recipientID, len(text))
	return nil
}
