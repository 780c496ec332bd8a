// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"net/http"
	"strings"

	"pai-tutor-go/pkg/token"

	"github.com/gin-gonic/gin"
)

const (
	// ClaimsKey 是 gin 上下文中保存 *token.CustomClaims 的键。
	ClaimsKey = "claims"
	// TokenKey 是 gin 上下文中保存原始 token 的键，后端调用会原样转发。
	TokenKey = "token"
)

// AuthMiddleware 创建一个 Gin 中间件，用于 JWT 认证。
// 用户资料由平台后端负责，这里只校验签名和有效期。
func AuthMiddleware(jwtManager *token.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "请求未包含授权头"})
			return
		}

		const bearerPrefix = "Bearer "
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的授权头格式"})
			return
		}
		tokenString := strings.TrimPrefix(authHeader, bearerPrefix)

		claims, err := jwtManager.VerifyToken(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效或已过期的 token"})
			return
		}

		c.Set(ClaimsKey, claims)
		c.Set(TokenKey, tokenString)
		c.Next()
	}
}

// Claims 取出 AuthMiddleware 存入的 claims 和原始 token。
func Claims(c *gin.Context) (*token.CustomClaims, string, bool) {
	v, ok := c.Get(ClaimsKey)
	if !ok {
		return nil, "", false
	}
	claims, ok := v.(*token.CustomClaims)
	if !ok {
		return nil, "", false
	}
	return claims, c.GetString(TokenKey), true
}
