package middleware

import (
	"net/http"
	"runtime/debug"

	"vpool/internal/model"
	"vpool/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Recovery middleware catches panic and converts it to standard error response
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.ErrorCtx(c.Request.Context(),
					"panic recovered: %v\nstack:\n%s",
					err,
					string(debug.Stack()),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":   model.CodeInternalError,
					"message": "Internal Server Error",
				})
			}
		}()

		c.Next()
	}
}
