package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AuthMiddleware guards the light controls with a static operator token.
// An empty token leaves the routes open.
type AuthMiddleware struct {
	token  []byte
	logger *zap.Logger
}

func NewAuthMiddleware(token string, logger *zap.Logger) *AuthMiddleware {
	if token == "" {
		logger.Warn("No operator token configured, light controls are open")
	}
	return &AuthMiddleware{
		token:  []byte(token),
		logger: logger,
	}
}

func (a *AuthMiddleware) Enabled() bool {
	return len(a.token) > 0
}

func (a *AuthMiddleware) RequireOperator() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.Enabled() {
			c.Next()
			return
		}

		token := a.extractToken(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization token required"})
			c.Abort()
			return
		}

		if subtle.ConstantTimeCompare([]byte(token), a.token) != 1 {
			a.logger.Warn("Invalid operator token", zap.String("client_ip", c.ClientIP()))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			c.Abort()
			return
		}

		c.Set("operator", true)
		c.Next()
	}
}

func (a *AuthMiddleware) extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}

	return parts[1]
}
