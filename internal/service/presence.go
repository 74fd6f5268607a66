package service

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"social_chat/internal/config"
	"social_chat/internal/domain"
	"social_chat/internal/repository"
	apperrors "social_chat/pkg/errors"
	"social_chat/pkg/logger"
)

// PresenceService - присутствие пользователей. Запись best-effort: первая попытка идет сразу,
// повторы с нарастающей паузой (1s, 2s, ...) уходят в фон, после чего ошибка только логируется.
// Вызывающий не ждет повторов.
type PresenceService interface {
	SetStatus(ctx context.Context, userID string, status domain.PresenceStatus, device string) error
	Get(ctx context.Context, userID string) (*domain.Presence, error)
	EnterConversation(ctx context.Context, userID, conversationID string)
	TouchConversation(ctx context.Context, userID, conversationID string)
	LeaveConversation(ctx context.Context, userID, conversationID string)
	// ActiveViewers возвращает тех из userIDs, кто сейчас смотрит беседу
	ActiveViewers(ctx context.Context, conversationID string, userIDs []string) map[string]bool
}

// presenceRetryTimeout ограничивает фоновые повторы одной записи
const presenceRetryTimeout = 30 * time.Second

type presenceService struct {
	presenceRepo repository.PresenceRepository
	clock        clock.Clock
	cfg          config.PresenceConfig
	log          logger.Logger
}

func NewPresenceService(presenceRepo repository.PresenceRepository, clk clock.Clock, cfg config.PresenceConfig, log logger.Logger) PresenceService {
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	return &presenceService{
		presenceRepo: presenceRepo,
		clock:        clk,
		cfg:          cfg,
		log:          log,
	}
}

func (s *presenceService) SetStatus(ctx context.Context, userID string, status domain.PresenceStatus, device string) error {
	if !status.IsValid() {
		return apperrors.ErrBadRequest
	}
	s.withRetry(ctx, "set status", userID, func(ctx context.Context) error {
		return s.presenceRepo.SetStatus(ctx, userID, status, device, s.clock.Now())
	})
	return nil
}

func (s *presenceService) Get(ctx context.Context, userID string) (*domain.Presence, error) {
	return s.presenceRepo.Get(ctx, userID)
}

func (s *presenceService) EnterConversation(ctx context.Context, userID, conversationID string) {
	s.withRetry(ctx, "enter conversation", userID, func(ctx context.Context) error {
		return s.presenceRepo.EnterConversation(ctx, userID, conversationID, s.clock.Now())
	})
}

func (s *presenceService) TouchConversation(ctx context.Context, userID, conversationID string) {
	s.withRetry(ctx, "touch conversation", userID, func(ctx context.Context) error {
		return s.presenceRepo.TouchConversation(ctx, userID, conversationID, s.clock.Now())
	})
}

func (s *presenceService) LeaveConversation(ctx context.Context, userID, conversationID string) {
	s.withRetry(ctx, "leave conversation", userID, func(ctx context.Context) error {
		return s.presenceRepo.LeaveConversation(ctx, userID, conversationID)
	})
}

// ActiveViewers при ошибке чтения считает, что никто не смотрит: лишний счетчик лучше потерянного
func (s *presenceService) ActiveViewers(ctx context.Context, conversationID string, userIDs []string) map[string]bool {
	viewers := make(map[string]bool)
	if len(userIDs) == 0 {
		return viewers
	}
	all, err := s.presenceRepo.GetMany(ctx, userIDs)
	if err != nil {
		s.log.Warn("Failed to load presence for unread counters", "error", err, "conversation_id", conversationID)
		return viewers
	}
	now := s.clock.Now()
	for uid, p := range all {
		if p.IsViewing(conversationID, now, s.cfg.ActivityWindow) {
			viewers[uid] = true
		}
	}
	return viewers
}

func (s *presenceService) withRetry(ctx context.Context, op, userID string, fn func(context.Context) error) {
	err := fn(ctx)
	if err == nil {
		return
	}
	if s.cfg.RetryAttempts <= 1 {
		s.log.Warn("Presence update failed", "op", op, "user_id", userID, "attempts", 1, "error", err)
		return
	}

	// запрос может завершиться раньше повторов
	go s.retry(op, userID, fn, err)
}

func (s *presenceService) retry(op, userID string, fn func(context.Context) error, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), presenceRetryTimeout)
	defer cancel()

	for attempt := 2; attempt <= s.cfg.RetryAttempts; attempt++ {
		select {
		case <-s.clock.After(time.Duration(attempt-1) * time.Second):
		case <-ctx.Done():
			s.log.Warn("Presence update cancelled", "op", op, "user_id", userID, "error", ctx.Err())
			return
		}
		if err = fn(ctx); err == nil {
			return
		}
	}
	s.log.Warn("Presence update failed", "op", op, "user_id", userID, "attempts", s.cfg.RetryAttempts, "error", err)
}
