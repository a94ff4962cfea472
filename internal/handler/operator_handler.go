package handler

import (
	"net/http"

	"answer-desk/internal/operator"
	"answer-desk/pkg/log"
	"answer-desk/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// OperatorHandler 负责运维频道的 WebSocket 连接。
type OperatorHandler struct {
	hub        *operator.Hub
	jwtManager *token.JWTManager
}

// NewOperatorHandler 创建一个新的 OperatorHandler。
func NewOperatorHandler(hub *operator.Hub, jwtManager *token.JWTManager) *OperatorHandler {
	return &OperatorHandler{hub: hub, jwtManager: jwtManager}
}

// Stream 校验 query 中的 token 后升级为 WebSocket，并持续推送运维通知。
func (h *OperatorHandler) Stream(c *gin.Context) {
	claims, err := h.jwtManager.VerifyToken(c.Query("token"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的 token", "data": nil})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	h.hub.Serve(conn, claims.Subject)
}
