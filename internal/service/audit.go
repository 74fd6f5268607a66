package service

import (
	"context"
	"time"

	"social_chat/internal/domain"
	"social_chat/internal/repository"
	"social_chat/pkg/logger"
)

type AuditService interface {
	// LogEvent пишет аудит в фоне запроса; ошибка записи только логируется
	LogEvent(ctx context.Context, actorUserID string, conversationID, callID *string, eventType string, payload map[string]interface{})
}

type auditService struct {
	auditRepo repository.AuditRepository
	log       logger.Logger
}

func NewAuditService(auditRepo repository.AuditRepository, log logger.Logger) AuditService {
	return &auditService{
		auditRepo: auditRepo,
		log:       log,
	}
}

func (s *auditService) LogEvent(ctx context.Context, actorUserID string, conversationID, callID *string, eventType string, payload map[string]interface{}) {
	if payload == nil {
		payload = make(map[string]interface{})
	}

	auditLog := &domain.AuditLog{
		EventTime:      time.Now().UTC(),
		ActorUserID:    actorUserID,
		ConversationID: conversationID,
		CallID:         callID,
		EventType:      eventType,
		Payload:        payload,
	}

	if err := s.auditRepo.CreateLog(ctx, auditLog); err != nil {
		s.log.Warn("Failed to write audit log", "error", err, "event_type", eventType)
	}
}

func strRef(s string) *string {
	return &s
}
