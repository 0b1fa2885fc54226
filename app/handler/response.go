package handler

import (
	"net/http"

	"vpool/internal/model"
	"vpool/pkg/logger"

	"github.com/gin-gonic/gin"
)

// respondError renders err as {"error": <reason code>, "message": ...}
func respondError(c *gin.Context, err error) {
	apiErr := model.AsAPIError(err)
	if apiErr.HTTPStatus >= http.StatusInternalServerError {
		logger.ErrorCtx(c.Request.Context(), "%s %s failed: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(apiErr.HTTPStatus, gin.H{"error": apiErr.Code, "message": apiErr.Message})
}

// respondBindError renders a request validation failure as InvalidRequest
func respondBindError(c *gin.Context, err error) {
	respondError(c, model.ErrInvalidRequest.WithMessage(err.Error()))
}
