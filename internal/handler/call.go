package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"social_chat/internal/domain"
	"social_chat/internal/middleware"
	"social_chat/internal/service"
	"social_chat/pkg/logger"
)

type CallHandler struct {
	callService service.CallService
	log         logger.Logger
}

func NewCallHandler(callService service.CallService, log logger.Logger) *CallHandler {
	return &CallHandler{
		callService: callService,
		log:         log,
	}
}

// Initiate: звонящий всегда берется из токена, а не из тела
func (h *CallHandler) Initiate(c *gin.Context) {
	var req domain.CallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.CallerID = middleware.UserID(c)

	call, err := h.callService.InitiateCall(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, call)
}

func (h *CallHandler) Get(c *gin.Context) {
	call, err := h.callService.GetCall(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, call)
}

func (h *CallHandler) Answer(c *gin.Context) {
	h.transition(c, h.callService.AnswerCall)
}

func (h *CallHandler) Decline(c *gin.Context) {
	h.transition(c, h.callService.DeclineCall)
}

func (h *CallHandler) Missed(c *gin.Context) {
	h.transition(c, h.callService.MarkCallAsMissed)
}

func (h *CallHandler) Busy(c *gin.Context) {
	h.transition(c, h.callService.MarkCallAsBusy)
}

type callTransition func(ctx context.Context, callID, userID string) (*domain.Call, error)

func (h *CallHandler) transition(c *gin.Context, fn callTransition) {
	call, err := fn(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, call)
}

type EndCallRequest struct {
	Duration int `json:"duration"`
}

func (h *CallHandler) End(c *gin.Context) {
	var req EndCallRequest
	// тело необязательно
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.Duration < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "duration must not be negative"})
		return
	}

	call, err := h.callService.EndCall(c.Request.Context(), c.Param("id"), middleware.UserID(c), req.Duration)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, call)
}

type JoinCallRequest struct {
	UserName     string `json:"user_name"`
	ProfileImage string `json:"profile_image"`
}

func (h *CallHandler) Join(c *gin.Context) {
	var req JoinCallRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.UserName == "" {
		req.UserName = middleware.DisplayName(c)
	}

	call, err := h.callService.JoinGroupCall(c.Request.Context(), c.Param("id"), domain.CallParticipant{
		UserID:       middleware.UserID(c),
		UserName:     req.UserName,
		ProfileImage: req.ProfileImage,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, call)
}

func (h *CallHandler) Leave(c *gin.Context) {
	call, err := h.callService.LeaveGroupCall(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, call)
}

func (h *CallHandler) ListRecent(c *gin.Context) {
	calls, err := h.callService.ListRecent(c.Request.Context(), middleware.UserID(c), queryInt(c, "limit", 20))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"calls": calls})
}

func (h *CallHandler) ListHistory(c *gin.Context) {
	records, err := h.callService.ListHistory(c.Request.Context(), middleware.UserID(c), queryInt(c, "limit", 50), queryInt(c, "offset", 0))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"history": records})
}
