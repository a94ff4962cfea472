package handler

import (
	"errors"
	"net/http"

	"answer-desk/internal/model"
	"answer-desk/internal/service"
	"answer-desk/pkg/log"
	"answer-desk/pkg/slack"

	"github.com/gin-gonic/gin"
)

// ModerationHandler 接收审核频道回传的决定。
type ModerationHandler struct {
	gateway service.ApprovalGateway
}

// NewModerationHandler 创建一个新的 ModerationHandler 实例。
func NewModerationHandler(gateway service.ApprovalGateway) *ModerationHandler {
	return &ModerationHandler{gateway: gateway}
}

// DecisionRequest 是 JSON 形式的审核决定。
type DecisionRequest struct {
	MessageID string         `json:"messageId" binding:"required"`
	Decision  model.Decision `json:"decision" binding:"required"`
}

// Action 处理审核决定。表单请求按 Slack 交互 payload 解析，并以纯文本回执替换原消息；
// JSON 请求返回统一的响应结构。
func (h *ModerationHandler) Action(c *gin.Context) {
	fromSlack := c.ContentType() == "application/x-www-form-urlencoded"

	var ev model.DecisionEvent
	if fromSlack {
		interaction, err := slack.ParseInteraction(c.PostForm("payload"))
		if err != nil {
			log.Warnf("Action: Invalid interaction payload, error: %v", err)
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的交互负载", "data": nil})
			return
		}
		ev = model.DecisionEvent{
			MessageID:  interaction.CallbackID,
			Decision:   model.Decision(interaction.Actions[0].Value),
			PromptText: interaction.OriginalMessage.Text,
		}
	} else {
		var req DecisionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			log.Warnf("Action: Invalid request payload, error: %v", err)
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载", "data": nil})
			return
		}
		ev = model.DecisionEvent{MessageID: req.MessageID, Decision: req.Decision}
	}

	outcome, err := h.gateway.Decide(c.Request.Context(), ev)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidDecision):
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": err.Error(), "data": nil})
		case errors.Is(err, service.ErrMessageNotFound):
			c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "消息不存在", "data": nil})
		case errors.Is(err, service.ErrNotAwaitingApproval):
			c.JSON(http.StatusConflict, gin.H{"code": http.StatusConflict, "message": "消息尚未进入待审核状态", "data": nil})
		default:
			log.Error("Action: Failed to apply decision", err)
			c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "处理审核决定失败", "data": nil})
		}
		return
	}

	if fromSlack {
		c.String(http.StatusOK, outcome.Acknowledgement)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": outcome})
}
