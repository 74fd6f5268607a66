package chatstate

import (
	"context"
	"sync"
	"sync/atomic"

	"social_chat/internal/docstore"
	"social_chat/internal/domain"
)

// ConversationSource - подписки на беседу и ее сообщения
type ConversationSource interface {
	WatchConversation(ctx context.Context, conversationID string, fn func(*domain.Conversation)) (docstore.Unsubscribe, error)
	WatchMessages(ctx context.Context, conversationID string, fn func([]*domain.Message)) (docstore.Unsubscribe, error)
}

type SessionHandlers struct {
	// OnConversation получает nil, если беседу удалили
	OnConversation func(*domain.Conversation)
	OnMessages     func([]*domain.Message)
}

// ConversationSession держит подписки открытой беседы. Смена id снимает старые
// подписки и открывает новые; колбэки старых после этого игнорируются.
type ConversationSession struct {
	source   ConversationSource
	handlers SessionHandlers

	mu             sync.Mutex
	conversationID string
	unsubs         []docstore.Unsubscribe
	// gen читается из колбэков без s.mu: первый снимок приходит синхронно внутри Watch
	gen atomic.Uint64
}

func NewConversationSession(source ConversationSource, handlers SessionHandlers) *ConversationSession {
	if handlers.OnConversation == nil {
		handlers.OnConversation = func(*domain.Conversation) {}
	}
	if handlers.OnMessages == nil {
		handlers.OnMessages = func([]*domain.Message) {}
	}
	return &ConversationSession{source: source, handlers: handlers}
}

func (s *ConversationSession) Open(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conversationID == s.conversationID && len(s.unsubs) > 0 {
		return nil
	}
	// старые подписки сняты: при ошибке ниже сессия не привязана ни к какой беседе
	s.closeLocked()
	s.conversationID = ""

	gen := s.gen.Add(1)
	unsubConv, err := s.source.WatchConversation(ctx, conversationID, func(conv *domain.Conversation) {
		if s.current(gen) {
			s.handlers.OnConversation(conv)
		}
	})
	if err != nil {
		return err
	}
	unsubMsgs, err := s.source.WatchMessages(ctx, conversationID, func(msgs []*domain.Message) {
		if s.current(gen) {
			s.handlers.OnMessages(msgs)
		}
	})
	if err != nil {
		unsubConv()
		return err
	}

	s.conversationID = conversationID
	s.unsubs = []docstore.Unsubscribe{unsubConv, unsubMsgs}
	return nil
}

func (s *ConversationSession) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

func (s *ConversationSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	s.conversationID = ""
}

func (s *ConversationSession) closeLocked() {
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil
	s.gen.Add(1)
}

func (s *ConversationSession) current(gen uint64) bool {
	return s.gen.Load() == gen
}
