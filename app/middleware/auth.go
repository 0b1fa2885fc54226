package middleware

import (
	"net/http"
	"strings"

	"vpool/internal/model"
	"vpool/pkg/logger"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware simple token authentication for worker self-reports.
// An empty apiKey disables authentication.
func AuthMiddleware(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			c.Next()
			return
		}

		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token != apiKey {
			logger.WarnCtx(c.Request.Context(), "unauthorized request to %s, invalid API key", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": model.CodeInvalidRequest, "message": "unauthorized"})
			return
		}

		c.Next()
	}
}
