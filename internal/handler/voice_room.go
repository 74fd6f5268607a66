package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"social_chat/internal/middleware"
	"social_chat/internal/service"
	"social_chat/pkg/logger"
)

type VoiceRoomHandler struct {
	roomService service.VoiceRoomService
	log         logger.Logger
}

func NewVoiceRoomHandler(roomService service.VoiceRoomService, log logger.Logger) *VoiceRoomHandler {
	return &VoiceRoomHandler{
		roomService: roomService,
		log:         log,
	}
}

type CreateRoomRequest struct {
	GroupID string `json:"group_id"`
	Title   string `json:"title" binding:"required"`
}

func (h *VoiceRoomHandler) Create(c *gin.Context) {
	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room, err := h.roomService.CreateRoom(c.Request.Context(), c.Param("communityId"), req.GroupID, req.Title, middleware.UserID(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, room)
}

func (h *VoiceRoomHandler) Get(c *gin.Context) {
	room, err := h.roomService.GetRoom(c.Request.Context(), c.Param("communityId"), c.Param("roomId"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, room)
}

func (h *VoiceRoomHandler) Join(c *gin.Context) {
	room, err := h.roomService.JoinRoom(c.Request.Context(), c.Param("communityId"), c.Param("roomId"), middleware.UserID(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, room)
}

// Leave: уход создателя завершает комнату, клиент узнает об этом по ended
func (h *VoiceRoomHandler) Leave(c *gin.Context) {
	ended, err := h.roomService.LeaveRoom(c.Request.Context(), c.Param("communityId"), c.Param("roomId"), middleware.UserID(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ended": ended})
}

func (h *VoiceRoomHandler) End(c *gin.Context) {
	if err := h.roomService.EndRoom(c.Request.Context(), c.Param("communityId"), c.Param("roomId"), middleware.UserID(c)); err != nil {
		respondError(c, h.log, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *VoiceRoomHandler) GetChat(c *gin.Context) {
	messages, err := h.roomService.ListChat(c.Request.Context(), c.Param("communityId"), c.Param("roomId"), queryInt(c, "limit", 100))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

type RoomChatRequest struct {
	Text     string `json:"text" binding:"required"`
	UserName string `json:"user_name"`
}

func (h *VoiceRoomHandler) SendChat(c *gin.Context) {
	var req RoomChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.UserName == "" {
		req.UserName = middleware.DisplayName(c)
	}

	msg, err := h.roomService.SendChatMessage(c.Request.Context(), c.Param("communityId"), c.Param("roomId"), middleware.UserID(c), req.UserName, req.Text)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, msg)
}
