package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"social_chat/internal/middleware"
)

// Register вешает маршруты API и потоков на роутер. Общие middleware ставит вызывающий.
func (h *Handlers) Register(router *gin.Engine, authMiddleware *middleware.AuthMiddleware, rateLimitMiddleware *middleware.RateLimitMiddleware) {
	router.GET("/health", h.Health.Check)
	router.GET("/server-info", h.Health.ServerInfo)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.Use(authMiddleware.RequireAuth())
	{
		conversations := v1.Group("/conversations")
		{
			conversations.GET("", h.Conversation.List)
			conversations.POST("/direct", h.Conversation.GetOrCreateDirect)
			conversations.POST("/group", rateLimitMiddleware.Limit("group", 10, time.Minute), h.Conversation.CreateGroup)
			conversations.GET("/:id", h.Conversation.Get)
			conversations.POST("/:id/participants", h.Conversation.AddParticipant)
			conversations.DELETE("/:id/participants/:userId", h.Conversation.RemoveParticipant)
			conversations.POST("/:id/admins", h.Conversation.PromoteAdmin)
			conversations.PUT("/:id/mute", h.Conversation.Mute)
			conversations.DELETE("/:id/mute", h.Conversation.Unmute)
			conversations.PUT("/:id/archive", h.Conversation.SetArchived)
			conversations.PUT("/:id/pins/:messageId", h.Conversation.Pin)
			conversations.DELETE("/:id/pins/:messageId", h.Conversation.Unpin)
			conversations.POST("/:id/clear", h.Conversation.ClearHistory)
			conversations.PUT("/:id/notifications", h.Conversation.SetNotificationPreference)
			conversations.POST("/:id/seen", h.Conversation.MarkSeen)
			conversations.POST("/:id/typing", h.Conversation.StartTyping)
			conversations.DELETE("/:id/typing", h.Conversation.StopTyping)

			conversations.POST("/:id/presence", h.Presence.EnterConversation)
			conversations.PATCH("/:id/presence", h.Presence.TouchConversation)
			conversations.DELETE("/:id/presence", h.Presence.LeaveConversation)

			conversations.GET("/:id/messages", h.Chat.GetMessages)
			conversations.POST("/:id/messages", rateLimitMiddleware.Limit("messages", 120, time.Minute), h.Chat.SendMessage)
			conversations.PATCH("/:id/messages/:messageId", h.Chat.EditMessage)
			conversations.DELETE("/:id/messages/:messageId", h.Chat.DeleteMessage)
			conversations.POST("/:id/messages/:messageId/reply", rateLimitMiddleware.Limit("messages", 120, time.Minute), h.Chat.Reply)
			conversations.POST("/:id/messages/:messageId/forward", h.Chat.Forward)
			conversations.POST("/:id/messages/:messageId/reactions", h.Chat.ToggleReaction)
			conversations.DELETE("/:id/messages/:messageId/reactions/:emoji", h.Chat.RemoveReaction)
			conversations.POST("/:id/read", h.Chat.MarkRead)
			conversations.POST("/:id/delivered", h.Chat.MarkDelivered)
		}

		users := v1.Group("/users")
		{
			users.GET("/me/blocked", h.Conversation.ListBlocked)
			users.POST("/:userId/block", h.Conversation.Block)
			users.DELETE("/:userId/block", h.Conversation.Unblock)
			users.GET("/:userId/presence", h.Presence.Get)
		}

		v1.PUT("/presence", h.Presence.SetStatus)

		drafts := v1.Group("/drafts")
		{
			drafts.GET("", h.Draft.List)
			drafts.GET("/:id", h.Draft.Get)
			drafts.PUT("/:id", h.Draft.Save)
			drafts.DELETE("/:id", h.Draft.Delete)
		}

		calls := v1.Group("/calls")
		{
			calls.POST("", rateLimitMiddleware.Limit("calls", 20, time.Minute), h.Call.Initiate)
			calls.GET("", h.Call.ListRecent)
			calls.GET("/history", h.Call.ListHistory)
			calls.GET("/:id", h.Call.Get)
			calls.POST("/:id/answer", h.Call.Answer)
			calls.POST("/:id/decline", h.Call.Decline)
			calls.POST("/:id/missed", h.Call.Missed)
			calls.POST("/:id/busy", h.Call.Busy)
			calls.POST("/:id/end", h.Call.End)
			calls.POST("/:id/join", h.Call.Join)
			calls.POST("/:id/leave", h.Call.Leave)
			calls.POST("/:id/token", h.Media.CallToken)
		}

		rooms := v1.Group("/communities/:communityId/rooms")
		{
			rooms.POST("", h.VoiceRoom.Create)
			rooms.GET("/:roomId", h.VoiceRoom.Get)
			rooms.DELETE("/:roomId", h.VoiceRoom.End)
			rooms.POST("/:roomId/join", h.VoiceRoom.Join)
			rooms.POST("/:roomId/leave", h.VoiceRoom.Leave)
			rooms.GET("/:roomId/chat", h.VoiceRoom.GetChat)
			rooms.POST("/:roomId/chat", h.VoiceRoom.SendChat)
			rooms.POST("/:roomId/token", h.Media.RoomToken)
		}

		v1.POST("/media/upload", rateLimitMiddleware.Limit("upload", 30, time.Minute), h.Media.Upload)
	}

	// токен для WebSocket можно передать в ?token=
	ws := router.Group("/ws")
	ws.Use(authMiddleware.RequireAuth())
	{
		ws.GET("/conversations", h.WebSocket.ConversationListStream)
		ws.GET("/conversations/:id", h.WebSocket.ConversationStream)
		ws.GET("/calls", h.WebSocket.IncomingCallsStream)
		ws.GET("/calls/:id", h.WebSocket.CallStream)
		ws.GET("/communities/:communityId/rooms/:roomId", h.WebSocket.RoomStream)
	}
}
