package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"bbsm-garage/internal/utils"
)

// Context keys set by JWTAuth.
const (
	TenantIDKey = "tenant_id"
	UserIDKey   = "user_id"
	UsernameKey = "username"
)

// JWTAuth rejects requests without a valid bearer token and exposes the
// token's tenant and user to the handlers. The tenant always comes from the
// token, never from the request.
func JWTAuth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "Authorization header required",
			})
			return
		}

		claims, err := utils.ParseToken(secret, strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "Invalid or expired token",
			})
			return
		}

		c.Set(TenantIDKey, claims.TenantId)
		c.Set(UserIDKey, claims.UserId)
		c.Set(UsernameKey, claims.Username)
		c.Next()
	}
}
