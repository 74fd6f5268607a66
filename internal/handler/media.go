package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"social_chat/internal/middleware"
	"social_chat/internal/service"
	"social_chat/pkg/logger"
)

// MaxUploadSize - предел размера вложения
const MaxUploadSize = 50 << 20

type MediaHandler struct {
	mediaService  service.MediaService
	uploadService service.UploadService
	log           logger.Logger
}

func NewMediaHandler(mediaService service.MediaService, uploadService service.UploadService, log logger.Logger) *MediaHandler {
	return &MediaHandler{
		mediaService:  mediaService,
		uploadService: uploadService,
		log:           log,
	}
}

type GetTokenRequest struct {
	DisplayName string `json:"display_name"`
}

func (h *MediaHandler) bindDisplayName(c *gin.Context) (string, bool) {
	var req GetTokenRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return "", false
		}
	}
	if req.DisplayName == "" {
		req.DisplayName = middleware.DisplayName(c)
	}
	return req.DisplayName, true
}

func (h *MediaHandler) CallToken(c *gin.Context) {
	name, ok := h.bindDisplayName(c)
	if !ok {
		return
	}

	token, url, err := h.mediaService.CallToken(c.Request.Context(), c.Param("id"), middleware.UserID(c), name)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "url": url})
}

func (h *MediaHandler) RoomToken(c *gin.Context) {
	name, ok := h.bindDisplayName(c)
	if !ok {
		return
	}

	token, url, err := h.mediaService.RoomToken(c.Request.Context(), c.Param("communityId"), c.Param("roomId"), middleware.UserID(c), name)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "url": url})
}

// Upload принимает multipart-поле file и возвращает url и тип будущего сообщения
func (h *MediaHandler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		h.log.Error("Failed to open uploaded file", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read file"})
		return
	}
	defer file.Close()

	contentType := fileHeader.Header.Get("Content-Type")
	result, err := h.uploadService.Upload(c.Request.Context(), middleware.UserID(c), fileHeader.Filename, contentType, file)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}
