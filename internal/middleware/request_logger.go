package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"social_chat/pkg/logger"
)

func RequestLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		// токен WebSocket приходит в query, в лог его не пишем
		if raw != "" && c.Query("token") == "" {
			path = path + "?" + raw
		}

		log.Info("HTTP request",
			"client_ip", c.ClientIP(),
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"user_id", UserID(c),
		)
	}
}
