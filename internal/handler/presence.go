package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"social_chat/internal/domain"
	"social_chat/internal/middleware"
	"social_chat/internal/service"
	"social_chat/pkg/logger"
)

type PresenceHandler struct {
	presenceService service.PresenceService
	log             logger.Logger
}

func NewPresenceHandler(presenceService service.PresenceService, log logger.Logger) *PresenceHandler {
	return &PresenceHandler{
		presenceService: presenceService,
		log:             log,
	}
}

type PresenceRequest struct {
	Status domain.PresenceStatus `json:"status" binding:"required"`
}

// SetStatus: устройство берется из X-Device-ID
func (h *PresenceHandler) SetStatus(c *gin.Context) {
	var req PresenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.presenceService.SetStatus(c.Request.Context(), middleware.UserID(c), req.Status, middleware.DeviceID(c)); err != nil {
		respondError(c, h.log, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *PresenceHandler) Get(c *gin.Context) {
	p, err := h.presenceService.Get(c.Request.Context(), c.Param("userId"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, p)
}

// Enter/Touch/Leave не возвращают ошибок: сбой присутствия не должен мешать чату
func (h *PresenceHandler) EnterConversation(c *gin.Context) {
	h.presenceService.EnterConversation(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	c.Status(http.StatusNoContent)
}

func (h *PresenceHandler) TouchConversation(c *gin.Context) {
	h.presenceService.TouchConversation(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	c.Status(http.StatusNoContent)
}

func (h *PresenceHandler) LeaveConversation(c *gin.Context) {
	h.presenceService.LeaveConversation(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	c.Status(http.StatusNoContent)
}
