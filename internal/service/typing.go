package service

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"social_chat/internal/domain"
	"social_chat/internal/repository"
	apperrors "social_chat/pkg/errors"
	"social_chat/pkg/logger"
)

// TypingService ведет typing.<uid> в документе беседы. Каждая отметка живет не дольше ttl:
// если клиент пропал и не прислал stop, таймер сам удалит поле.
type TypingService interface {
	StartTyping(ctx context.Context, conversationID, userID string) error
	StopTyping(ctx context.Context, conversationID, userID string) error
	Close()
}

type typingKey struct {
	conversationID string
	userID         string
}

type typingTimer struct {
	timer *clock.Timer
	gen   uint64
}

type typingService struct {
	convRepo repository.ConversationRepository
	clock    clock.Clock
	ttl      time.Duration
	log      logger.Logger

	mu     sync.Mutex
	timers map[typingKey]*typingTimer
	gen    uint64
	closed bool
}

func NewTypingService(convRepo repository.ConversationRepository, clk clock.Clock, ttl time.Duration, log logger.Logger) TypingService {
	if ttl <= 0 {
		ttl = domain.TypingTTL
	}
	return &typingService{
		convRepo: convRepo,
		clock:    clk,
		ttl:      ttl,
		log:      log,
		timers:   make(map[typingKey]*typingTimer),
	}
}

// StartTyping - ошибка записи не возвращается: индикатор набора не критичен
func (s *typingService) StartTyping(ctx context.Context, conversationID, userID string) error {
	conv, err := s.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conv.IsParticipant(userID) {
		return apperrors.ErrNotParticipant
	}

	if err := s.convRepo.SetTyping(ctx, conversationID, userID); err != nil {
		s.log.Warn("Failed to set typing", "error", err, "conversation_id", conversationID, "user_id", userID)
		return nil
	}
	s.arm(typingKey{conversationID: conversationID, userID: userID})
	return nil
}

func (s *typingService) StopTyping(ctx context.Context, conversationID, userID string) error {
	s.disarm(typingKey{conversationID: conversationID, userID: userID})
	if err := s.convRepo.ClearTyping(ctx, conversationID, userID); err != nil {
		s.log.Warn("Failed to clear typing", "error", err, "conversation_id", conversationID, "user_id", userID)
	}
	return nil
}

// Close останавливает все таймеры; поля typing дочистит TTL на стороне читателей
func (s *typingService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, t := range s.timers {
		t.timer.Stop()
		delete(s.timers, key)
	}
	s.closed = true
}

func (s *typingService) arm(key typingKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	if prev, ok := s.timers[key]; ok {
		prev.timer.Stop()
	}
	s.gen++
	gen := s.gen
	t := &typingTimer{gen: gen}
	t.timer = s.clock.AfterFunc(s.ttl, func() { s.expire(key, gen) })
	s.timers[key] = t
}

func (s *typingService) disarm(key typingKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[key]; ok {
		t.timer.Stop()
		delete(s.timers, key)
	}
}

func (s *typingService) expire(key typingKey, gen uint64) {
	s.mu.Lock()
	t, ok := s.timers[key]
	// таймер уже перевзведен новым нажатием или снят
	if !ok || t.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.timers, key)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.convRepo.ClearTyping(ctx, key.conversationID, key.userID); err != nil {
		s.log.Warn("Failed to expire typing", "error", err, "conversation_id", key.conversationID, "user_id", key.userID)
	}
}
