package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"social_chat/internal/domain"
	"social_chat/internal/middleware"
	"social_chat/internal/service"
	"social_chat/pkg/logger"
)

type ConversationHandler struct {
	conversationService service.ConversationService
	typingService       service.TypingService
	log                 logger.Logger
}

func NewConversationHandler(conversationService service.ConversationService, typingService service.TypingService, log logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		conversationService: conversationService,
		typingService:       typingService,
		log:                 log,
	}
}

type DirectConversationRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

func (h *ConversationHandler) GetOrCreateDirect(c *gin.Context) {
	var req DirectConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conv, err := h.conversationService.GetOrCreateDirect(c.Request.Context(), middleware.UserID(c), req.UserID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, conv)
}

type CreateGroupRequest struct {
	Name    string   `json:"name" binding:"required"`
	Icon    string   `json:"icon"`
	Members []string `json:"members"`
}

func (h *ConversationHandler) CreateGroup(c *gin.Context) {
	var req CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conv, err := h.conversationService.CreateGroup(c.Request.Context(), middleware.UserID(c), req.Name, req.Icon, req.Members)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, conv)
}

func (h *ConversationHandler) List(c *gin.Context) {
	archived := c.Query("archived") == "true"
	limit := queryInt(c, "limit", 50)

	list, err := h.conversationService.List(c.Request.Context(), middleware.UserID(c), archived, limit)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversations": list})
}

func (h *ConversationHandler) Get(c *gin.Context) {
	conv, err := h.conversationService.Get(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, conv)
}

type ParticipantRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

func (h *ConversationHandler) AddParticipant(c *gin.Context) {
	var req ParticipantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.conversationService.AddParticipant(c.Request.Context(), c.Param("id"), middleware.UserID(c), req.UserID); err != nil {
		respondError(c, h.log, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *ConversationHandler) RemoveParticipant(c *gin.Context) {
	err := h.conversationService.RemoveParticipant(c.Request.Context(), c.Param("id"), middleware.UserID(c), c.Param("userId"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *ConversationHandler) PromoteAdmin(c *gin.Context) {
	var req ParticipantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.conversationService.PromoteAdmin(c.Request.Context(), c.Param("id"), middleware.UserID(c), req.UserID); err != nil {
		respondError(c, h.log, err)
		return
	}

	c.Status(http.StatusNoContent)
}

type MuteRequest struct {
	// пусто - бессрочно
	Until *time.Time `json:"until"`
}

func (h *ConversationHandler) Mute(c *gin.Context) {
	var req MuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.conversationService.Mute(c.Request.Context(), c.Param("id"), middleware.UserID(c), req.Until); err != nil {
		respondError(c, h.log, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *ConversationHandler) Unmute(c *gin.Context) {
	if err := h.conversationService.Unmute(c.Request.Context(), c.Param("id"), middleware.UserID(c)); err != nil {
		respondError(c, h.log, err)
		return
	}

	c.Status(http.StatusNoContent)
}

type ArchiveRequest struct {
	Archived bool `json:"archived"`
}

func (h *ConversationHandler) SetArchived(c *gin.Context) {
	var req ArchiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.conversationService.SetArchived(c.Request.Context(), c.Param("id"), middleware.UserID(c), req.Archived); err != nil {
		respondError(c, h.log, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *ConversationHandler) Pin(c *gin.Context) {
	h.setPinned(c, true)
}

func (h *ConversationHandler) Unpin(c *gin.Context) {
	h.setPinned(c, false)
}

func (h *ConversationHandler) setPinned(c *gin.Context, pinned bool) {
	err := h.conversationService.SetPinned(c.Request.Context(), c.Param("id"), middleware.UserID(c), c.Param("messageId"), pinned)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *ConversationHandler) ClearHistory(c *gin.Context) {
	if err := h.conversationService.ClearHistory(c.Request.Context(), c.Param("id"), middleware.UserID(c)); err != nil {
		respondError(c, h.log, err)
		return
	}

	c.Status(http.StatusNoContent)
}

type NotificationRequest struct {
	Preference domain.NotificationPreference `json:"preference" binding:"required"`
}

func (h *ConversationHandler) SetNotificationPreference(c *gin.Context) {
	var req NotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.conversationService.SetNotificationPreference(c.Request.Context(), c.Param("id"), middleware.UserID(c), req.Preference)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *ConversationHandler) MarkSeen(c *gin.Context) {
	if err := h.conversationService.MarkSeen(c.Request.Context(), c.Param("id"), middleware.UserID(c)); err != nil {
		respondError(c, h.log, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *ConversationHandler) StartTyping(c *gin.Context) {
	if err := h.typingService.StartTyping(c.Request.Context(), c.Param("id"), middleware.UserID(c)); err != nil {
		respondError(c, h.log, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *ConversationHandler) StopTyping(c *gin.Context) {
	if err := h.typingService.StopTyping(c.Request.Context(), c.Param("id"), middleware.UserID(c)); err != nil {
		respondError(c, h.log, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *ConversationHandler) Block(c *gin.Context) {
	if err := h.conversationService.Block(c.Request.Context(), middleware.UserID(c), c.Param("userId")); err != nil {
		respondError(c, h.log, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *ConversationHandler) Unblock(c *gin.Context) {
	if err := h.conversationService.Unblock(c.Request.Context(), middleware.UserID(c), c.Param("userId")); err != nil {
		respondError(c, h.log, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *ConversationHandler) ListBlocked(c *gin.Context) {
	blocked, err := h.conversationService.ListBlocked(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"blocked": blocked})
}
