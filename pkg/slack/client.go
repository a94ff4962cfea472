// Package slack 提供了审核频道的消息渲染与 incoming webhook 客户端。
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"answer-desk/pkg/apierr"
)

// Action 是消息附件上的一个按钮。
type Action struct {
	Name  string `json:"name"`
	Text  string `json:"text,omitempty"`
	Type  string `json:"type,omitempty"`
	Value string `json:"value"`
	Style string `json:"style,omitempty"`
}

// Attachment 是交互式消息的附件，CallbackID 用于把点击结果路由回对应的消息。
type Attachment struct {
	Text           string   `json:"text"`
	Fallback       string   `json:"fallback,omitempty"`
	Color          string   `json:"color,omitempty"`
	CallbackID     string   `json:"callback_id,omitempty"`
	AttachmentType string   `json:"attachment_type,omitempty"`
	Actions        []Action `json:"actions,omitempty"`
}

// Message 是发往 webhook 的消息体。
type Message struct {
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Interaction 是审核员点击按钮后回传的 payload。
type Interaction struct {
	CallbackID      string   `json:"callback_id"`
	Actions         []Action `json:"actions"`
	OriginalMessage struct {
		Text string `json:"text"`
	} `json:"original_message"`
}

// BuildApprovalMessage 渲染一条审核提示：两个互斥按钮，callback_id 为 messageId。
func BuildApprovalMessage(messageID, question, proposedAnswer string) Message {
	return Message{
		Text: "```Question: " + question + "\nProposed Answer: " + proposedAnswer + "```",
		Attachments: []Attachment{{
			Text:           "Do you approve of this answer?",
			Fallback:       "You are unable to approve the answer",
			Color:          "#3AA3E3",
			CallbackID:     messageID,
			AttachmentType: "default",
			Actions: []Action{
				{Name: "approve", Text: "Approve", Type: "button", Value: "approve"},
				{Name: "reject", Text: "Reject", Type: "button", Style: "danger", Value: "reject"},
			},
		}},
	}
}

// ParseInteraction 解析表单字段 payload 中的 JSON。
func ParseInteraction(payload string) (*Interaction, error) {
	if payload == "" {
		return nil, errors.New("empty interaction payload")
	}
	var in Interaction
	if err := json.Unmarshal([]byte(payload), &in); err != nil {
		return nil, fmt.Errorf("invalid interaction payload: %w", err)
	}
	if in.CallbackID == "" || len(in.Actions) == 0 {
		return nil, errors.New("interaction payload missing callback_id or actions")
	}
	return &in, nil
}

// Client 通过 incoming webhook 发送消息。
type Client struct {
	client *http.Client
}

// NewClient 创建一个新的 webhook 客户端。
func NewClient() *Client {
	return &Client{client: &http.Client{}}
}

// PostMessage 将消息 POST 到 webhookURL。
func (c *Client) PostMessage(ctx context.Context, webhookURL string, msg Message) error {
	if webhookURL == "" {
		return errors.New("slack webhook 为空")
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("序列化 slack 消息失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("创建 slack 请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("调用 slack webhook 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return &apierr.Error{Service: "slack", StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return nil
}
