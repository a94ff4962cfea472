// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"answer-desk/internal/model"
	"answer-desk/internal/repository"
	"answer-desk/internal/service"
	"answer-desk/pkg/log"

	"github.com/gin-gonic/gin"
)

// MessageHandler 负责入站消息和消息查询接口。
type MessageHandler struct {
	messageService service.MessageService
}

// NewMessageHandler 创建一个新的 MessageHandler 实例。
func NewMessageHandler(messageService service.MessageService) *MessageHandler {
	return &MessageHandler{messageService: messageService}
}

// IngestRequest 是渠道 webhook 归一化后的请求体。
type IngestRequest struct {
	MessageID  string     `json:"messageId"`
	SenderID   string     `json:"senderId"`
	ChannelID  string     `json:"channelId"`
	Text       string     `json:"text"`
	ReceivedAt *time.Time `json:"receivedAt"`
}

// Ingest 处理入站消息。重复投递返回已有记录。
func (h *MessageHandler) Ingest(c *gin.Context) {
	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("Ingest: Invalid request payload, error: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载", "data": nil})
		return
	}

	ev := model.IngestEvent{
		MessageID: req.MessageID,
		SenderID:  req.SenderID,
		ChannelID: req.ChannelID,
		Text:      req.Text,
	}
	if req.ReceivedAt != nil {
		ev.ReceivedAt = req.ReceivedAt.UTC()
	}

	msg, created, err := h.messageService.Ingest(c.Request.Context(), ev)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEchoMessage):
			c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "ignored", "data": gin.H{"ignored": true}})
		case errors.Is(err, service.ErrInvalidEvent):
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": err.Error(), "data": nil})
		default:
			log.Error("Ingest: Failed to ingest message", err)
			c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "消息入站失败", "data": nil})
		}
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"code": status, "message": "success", "data": msg})
}

// Get 返回单条消息的当前状态。
func (h *MessageHandler) Get(c *gin.Context) {
	msg, err := h.messageService.Get(c.Request.Context(), c.Param("messageId"))
	if err != nil {
		if errors.Is(err, repository.ErrMessageNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "消息不存在", "data": nil})
			return
		}
		log.Error("Get: Failed to load message", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取消息失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": msg})
}

// Recent 返回频道内最近的消息，按接收时间倒序。
func (h *MessageHandler) Recent(c *gin.Context) {
	limit := repository.DefaultRecentLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "limit 必须是整数", "data": nil})
			return
		}
		limit = n
	}

	messages, err := h.messageService.Recent(c.Request.Context(), c.Query("channelId"), limit)
	if err != nil {
		if errors.Is(err, service.ErrInvalidEvent) {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "缺少 channelId", "data": nil})
			return
		}
		log.Error("Recent: Failed to list messages", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取消息列表失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": messages})
}
