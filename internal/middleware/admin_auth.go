package middleware

import (
	"net/http"

	"answer-desk/pkg/token"

	"github.com/gin-gonic/gin"
)

// AdminAuth 检查 token 是否具有管理员角色。
// 此中间件必须在 OperatorAuth 之后使用。
func AdminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		value, exists := c.Get(ClaimsKey)
		if !exists {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "无法获取认证信息", "data": nil})
			return
		}

		claims, ok := value.(*token.OperatorClaims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "认证信息类型错误", "data": nil})
			return
		}

		if claims.Role != token.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"code": http.StatusForbidden, "message": "权限不足，需要管理员权限", "data": nil})
			return
		}
		c.Next()
	}
}
