package handler

import (
	"context"
	"net/http"

	"answer-desk/internal/config"
	"answer-desk/internal/middleware"
	"answer-desk/pkg/log"
	"answer-desk/pkg/token"

	"github.com/gin-gonic/gin"
)

// KnowledgeReloader 重新加载知识库，由 pipeline.KnowledgeLoader 实现。
type KnowledgeReloader interface {
	LoadFile(ctx context.Context, path string) (int, error)
	LoadObject(ctx context.Context, bucket, object string) (int, error)
}

// AdminHandler 负责处理管理员相关的 API 请求。
type AdminHandler struct {
	loader KnowledgeReloader
	cfg    config.KnowledgeConfig
}

// NewAdminHandler 创建一个新的 AdminHandler 实例。
func NewAdminHandler(loader KnowledgeReloader, cfg config.KnowledgeConfig) *AdminHandler {
	return &AdminHandler{loader: loader, cfg: cfg}
}

// ReloadKnowledgeRequest 定义了重新加载知识库的请求体，字段均可省略。
type ReloadKnowledgeRequest struct {
	Source string `json:"source"` // "object"（默认）或 "file"
	Bucket string `json:"bucket"`
	Object string `json:"object"`
}

// ReloadKnowledge 从对象存储或本地种子文件重新写入知识库。
func (h *AdminHandler) ReloadKnowledge(c *gin.Context) {
	var req ReloadKnowledgeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			log.Warnf("ReloadKnowledge: Invalid request payload, error: %v", err)
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载", "data": nil})
			return
		}
	}

	var (
		n   int
		err error
	)
	switch req.Source {
	case "", "object":
		bucket, object := req.Bucket, req.Object
		if bucket == "" {
			bucket = h.cfg.Bucket
		}
		if object == "" {
			object = h.cfg.Object
		}
		n, err = h.loader.LoadObject(c.Request.Context(), bucket, object)
	case "file":
		n, err = h.loader.LoadFile(c.Request.Context(), h.cfg.SeedFile)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "source 只能是 object 或 file", "data": nil})
		return
	}
	if err != nil {
		log.Error("ReloadKnowledge: Failed to reload knowledge base", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "重新加载知识库失败", "data": gin.H{"indexed": n}})
		return
	}

	subject := ""
	if v, ok := c.Get(middleware.ClaimsKey); ok {
		subject = v.(*token.OperatorClaims).Subject
	}
	log.Infof("Admin '%s' reloaded knowledge base, %d entries indexed", subject, n)
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{"indexed": n}})
}
