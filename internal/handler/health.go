package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"social_chat/internal/config"
)

type HealthHandler struct {
	liveKitURL  string
	environment string
}

func NewHealthHandler(cfg *config.Config) *HealthHandler {
	return &HealthHandler{
		liveKitURL:  cfg.LiveKit.URL,
		environment: cfg.Environment,
	}
}

func (h *HealthHandler) Check(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "social-chat",
	})
}

// ServerInfo возвращает клиентам адрес медиасервера и базовый путь API
func (h *HealthHandler) ServerInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"livekit_url": h.liveKitURL,
		"api_base":    "/api/v1",
		"ws_base":     "/ws",
		"environment": h.environment,
	})
}
