package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"

	"social_chat/internal/config"
	"social_chat/internal/repository"
	"social_chat/internal/service"
	apperrors "social_chat/pkg/errors"
	"social_chat/pkg/logger"
)

type Handlers struct {
	Health       *HealthHandler
	Conversation *ConversationHandler
	Chat         *ChatHandler
	Call         *CallHandler
	VoiceRoom    *VoiceRoomHandler
	Media        *MediaHandler
	Draft        *DraftHandler
	Presence     *PresenceHandler
	WebSocket    *WebSocketHandler
}

func NewHandlers(services *service.Services, repos *repository.Repositories, cfg *config.Config, clk clock.Clock, log logger.Logger) *Handlers {
	return &Handlers{
		Health:       NewHealthHandler(cfg),
		Conversation: NewConversationHandler(services.Conversation, services.Typing, log),
		Chat:         NewChatHandler(services.Chat, log),
		Call:         NewCallHandler(services.Call, log),
		VoiceRoom:    NewVoiceRoomHandler(services.VoiceRoom, log),
		Media:        NewMediaHandler(services.Media, services.Upload, log),
		Draft:        NewDraftHandler(repos.KeyValue, log),
		Presence:     NewPresenceHandler(services.Presence, log),
		WebSocket:    NewWebSocketHandler(services, clk, log),
	}
}

// respondError переводит доменную ошибку в HTTP-статус; 500 логируется, текст наружу не уходит
func respondError(c *gin.Context, log logger.Logger, err error) {
	status := apperrors.HTTPStatusFromError(err)
	var apiErr *apperrors.APIError
	if errors.As(err, &apiErr) {
		status = apiErr.Code
	}
	if status == http.StatusInternalServerError {
		log.Error("Request failed", "error", err, "path", c.FullPath())
		c.JSON(status, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil || v < 0 {
		return def
	}
	return v
}
