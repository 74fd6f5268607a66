package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"social_chat/internal/chatstate"
	"social_chat/internal/middleware"
	"social_chat/internal/repository"
	"social_chat/pkg/logger"
)

// DraftHandler отдает черновики пользователя, чтобы они переживали смену устройства
type DraftHandler struct {
	kv  *repository.RedisKeyValueStore
	log logger.Logger
}

func NewDraftHandler(kv *repository.RedisKeyValueStore, log logger.Logger) *DraftHandler {
	return &DraftHandler{
		kv:  kv,
		log: log,
	}
}

func (h *DraftHandler) store(c *gin.Context) *chatstate.DraftStore {
	return chatstate.NewDraftStore(h.kv.Scoped(middleware.UserID(c)))
}

func (h *DraftHandler) List(c *gin.Context) {
	drafts, err := h.store(c).All(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"drafts": drafts})
}

func (h *DraftHandler) Get(c *gin.Context) {
	text, err := h.store(c).Load(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversation_id": c.Param("id"), "text": text})
}

type SaveDraftRequest struct {
	Text string `json:"text"`
}

// Save с пустым текстом удаляет черновик
func (h *DraftHandler) Save(c *gin.Context) {
	var req SaveDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.store(c).Save(c.Request.Context(), c.Param("id"), req.Text); err != nil {
		respondError(c, h.log, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *DraftHandler) Delete(c *gin.Context) {
	if err := h.store(c).Clear(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, h.log, err)
		return
	}

	c.Status(http.StatusNoContent)
}
