package middleware

import (
	"github.com/gin-gonic/gin"

	apperrors "social_chat/pkg/errors"
	"social_chat/pkg/logger"
)

// ErrorHandler превращает ошибки, добавленные через c.Error, в JSON-ответ
func ErrorHandler(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last()
		statusCode := apperrors.HTTPStatusFromError(err.Err)
		if statusCode >= 500 {
			log.Error("Request failed", "error", err.Err, "path", c.Request.URL.Path)
			c.JSON(statusCode, gin.H{"error": "Internal server error"})
			return
		}

		c.JSON(statusCode, gin.H{"error": err.Error()})
	}
}
