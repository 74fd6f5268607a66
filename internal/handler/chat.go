package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"social_chat/internal/domain"
	"social_chat/internal/middleware"
	"social_chat/internal/service"
	"social_chat/pkg/logger"
)

type ChatHandler struct {
	chatService service.ChatService
	log         logger.Logger
}

func NewChatHandler(chatService service.ChatService, log logger.Logger) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		log:         log,
	}
}

func (h *ChatHandler) GetMessages(c *gin.Context) {
	limit := queryInt(c, "limit", 50)

	messages, err := h.chatService.ListMessages(c.Request.Context(), c.Param("id"), middleware.UserID(c), limit)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (h *ChatHandler) SendMessage(c *gin.Context) {
	var payload domain.MessagePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if payload.Type == "" {
		payload.Type = domain.MessageTypeText
	}

	message, err := h.chatService.SendMessage(c.Request.Context(), c.Param("id"), middleware.UserID(c), payload)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, message)
}

func (h *ChatHandler) Reply(c *gin.Context) {
	var payload domain.MessagePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if payload.Type == "" {
		payload.Type = domain.MessageTypeText
	}

	message, err := h.chatService.ReplyToMessage(c.Request.Context(), c.Param("id"), c.Param("messageId"), middleware.UserID(c), payload)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, message)
}

type EditMessageRequest struct {
	Text string `json:"text" binding:"required"`
}

func (h *ChatHandler) EditMessage(c *gin.Context) {
	var req EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	message, err := h.chatService.EditMessage(c.Request.Context(), c.Param("id"), c.Param("messageId"), middleware.UserID(c), req.Text)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, message)
}

// DeleteMessage: ?scope=everyone удаляет у всех, иначе только у себя
func (h *ChatHandler) DeleteMessage(c *gin.Context) {
	ctx := c.Request.Context()
	convID, msgID, userID := c.Param("id"), c.Param("messageId"), middleware.UserID(c)

	var err error
	switch c.DefaultQuery("scope", "me") {
	case "everyone":
		err = h.chatService.DeleteMessageForEveryone(ctx, convID, msgID, userID)
	case "me":
		err = h.chatService.DeleteMessageForMe(ctx, convID, msgID, userID)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "scope must be 'me' or 'everyone'"})
		return
	}
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.Status(http.StatusNoContent)
}

type ReactionRequest struct {
	Emoji string `json:"emoji" binding:"required"`
}

func (h *ChatHandler) ToggleReaction(c *gin.Context) {
	var req ReactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	added, err := h.chatService.ToggleReaction(c.Request.Context(), c.Param("id"), c.Param("messageId"), middleware.UserID(c), req.Emoji)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"emoji": req.Emoji, "added": added})
}

func (h *ChatHandler) RemoveReaction(c *gin.Context) {
	err := h.chatService.RemoveReaction(c.Request.Context(), c.Param("id"), c.Param("messageId"), middleware.UserID(c), c.Param("emoji"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.Status(http.StatusNoContent)
}

type ForwardRequest struct {
	ConversationID string `json:"conversation_id" binding:"required"`
}

func (h *ChatHandler) Forward(c *gin.Context) {
	var req ForwardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	message, err := h.chatService.ForwardMessage(c.Request.Context(), c.Param("id"), c.Param("messageId"), req.ConversationID, middleware.UserID(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, message)
}

type ReceiptRequest struct {
	MessageIDs []string `json:"message_ids" binding:"required"`
}

func (h *ChatHandler) MarkRead(c *gin.Context) {
	var req ReceiptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.chatService.MarkAsRead(c.Request.Context(), c.Param("id"), middleware.UserID(c), req.MessageIDs); err != nil {
		respondError(c, h.log, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *ChatHandler) MarkDelivered(c *gin.Context) {
	var req ReceiptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.chatService.MarkAsDelivered(c.Request.Context(), c.Param("id"), middleware.UserID(c), req.MessageIDs); err != nil {
		respondError(c, h.log, err)
		return
	}

	c.Status(http.StatusNoContent)
}
