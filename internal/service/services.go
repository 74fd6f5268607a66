package service

import (
	"github.com/benbjohnson/clock"

	"social_chat/internal/config"
	"social_chat/internal/events"
	"social_chat/internal/repository"
	"social_chat/pkg/logger"
)

type Services struct {
	Conversation ConversationService
	Chat         ChatService
	Typing       TypingService
	Presence     PresenceService
	Call         CallService
	VoiceRoom    VoiceRoomService
	Media        MediaService
	Upload       UploadService
	RateLimit    RateLimitService
	Audit        AuditService
}

func NewServices(repos *repository.Repositories, uploader MediaUploader, publisher events.Publisher, clk clock.Clock, cfg *config.Config, log logger.Logger) *Services {
	audit := NewAuditService(repos.Audit, log)
	presence := NewPresenceService(repos.Presence, clk, cfg.Presence, log)

	services := &Services{
		Conversation: NewConversationService(repos.Conversation, repos.Block, audit, log),
		Chat:         NewChatService(repos.Conversation, repos.Message, repos.Block, presence, audit, publisher, log),
		Typing:       NewTypingService(repos.Conversation, clk, cfg.Presence.TypingTTL, log),
		Presence:     presence,
		Call:         NewCallService(repos.Call, repos.CallHistory, repos.Block, audit, publisher, clk, cfg.Calls, log),
		VoiceRoom:    NewVoiceRoomService(repos.VoiceRoom, audit, publisher, log),
		Media:        NewMediaService(repos.Call, repos.VoiceRoom, cfg.LiveKit, log),
		Upload:       NewUploadService(uploader, clk, log),
		RateLimit:    NewRateLimitService(repos.RateLimit, log),
		Audit:        audit,
	}

	log.Info("Services initialized")

	return services
}
