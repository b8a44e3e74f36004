package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"sudooom.mathrush/pkg/response"
	"sudooom.mathrush/shared/jwt"
	"sudooom.mathrush/shared/model"
)

const identityKey = "identity"

// JWTAuth JWT 认证中间件，把 access token 转换为玩家身份
func JWTAuth(jwtService *jwt.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c.GetHeader("Authorization"))
		if token == "" {
			// 浏览器 WebSocket 无法设置 header，允许通过 query 携带
			token = c.Query("token")
		}
		if token == "" {
			response.Unauthorized(c)
			c.Abort()
			return
		}

		claims, err := jwtService.ValidateAccessToken(token)
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				response.Error(c, response.CodeTokenExpired)
			} else {
				response.Error(c, response.CodeTokenInvalid)
			}
			c.Abort()
			return
		}

		c.Set(identityKey, claims.Identity())
		c.Set("device_id", claims.DeviceID)
		c.Next()
	}
}

// extractToken 从 Authorization header 提取 token
func extractToken(authHeader string) string {
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return parts[1]
}

// GetIdentity 从 context 获取玩家身份
func GetIdentity(c *gin.Context) model.Identity {
	v, exists := c.Get(identityKey)
	if !exists {
		return model.Identity{}
	}
	who, _ := v.(model.Identity)
	return who
}

// SetIdentity 写入玩家身份（测试与内部调用使用）
func SetIdentity(c *gin.Context, who model.Identity) {
	c.Set(identityKey, who)
}

// GetDeviceID 从 context 获取 device_id
func GetDeviceID(c *gin.Context) string {
	deviceID, exists := c.Get("device_id")
	if !exists {
		return ""
	}
	return deviceID.(string)
}
