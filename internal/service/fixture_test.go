package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/benbjohnson/clock"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"social_chat/internal/config"
	"social_chat/internal/docstore"
	"social_chat/internal/domain"
	"social_chat/internal/events"
	"social_chat/internal/repository"
	"social_chat/pkg/logger"
)

type fakeAuditRepo struct {
	mu   sync.Mutex
	logs []*domain.AuditLog
}

func (r *fakeAuditRepo) CreateLog(_ context.Context, entry *domain.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry.ID = int64(len(r.logs) + 1)
	r.logs = append(r.logs, entry)
	return nil
}

func (r *fakeAuditRepo) ListByConversation(_ context.Context, conversationID string, _ int) ([]*domain.AuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.AuditLog
	for _, l := range r.logs {
		if l.ConversationID != nil && *l.ConversationID == conversationID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r *fakeAuditRepo) eventTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.logs))
	for _, l := range r.logs {
		out = append(out, l.EventType)
	}
	return out
}

type fakeHistoryRepo struct {
	mu      sync.Mutex
	records map[string]*domain.CallRecord
	err     error
}

func (r *fakeHistoryRepo) Archive(_ context.Context, rec *domain.CallRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if r.records == nil {
		r.records = make(map[string]*domain.CallRecord)
	}
	r.records[rec.CallID] = rec
	return nil
}

func (r *fakeHistoryRepo) ListForUser(_ context.Context, userID string, _, _ int) ([]*domain.CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.CallRecord
	for _, rec := range r.records {
		if rec.CallerID == userID || (rec.ReceiverID != nil && *rec.ReceiverID == userID) {
			out = append(out, rec)
		}
	}
	return out, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	clock     *clock.Mock
	store     *docstore.MemoryStore
	redis     *redis.Client
	audit     *fakeAuditRepo
	history   *fakeHistoryRepo
	publisher *recordingPublisher

	convRepo     repository.ConversationRepository
	messageRepo  repository.MessageRepository
	callRepo     repository.CallRepository
	roomRepo     repository.VoiceRoomRepository
	presenceRepo repository.PresenceRepository

	conversations ConversationService
	chat          ChatService
	typing        TypingService
	presence      PresenceService
	calls         CallService
	rooms         VoiceRoomService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.NewNop()

	clk := clock.NewMock()
	clk.Set(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	store := docstore.NewMemoryStore(clk)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := &fixture{
		clock:     clk,
		store:     store,
		redis:     client,
		audit:     &fakeAuditRepo{},
		history:   &fakeHistoryRepo{},
		publisher: &recordingPublisher{},
	}

	f.convRepo = repository.NewConversationRepository(store, log)
	f.messageRepo = repository.NewMessageRepository(store, log)
	f.callRepo = repository.NewCallRepository(store, log)
	f.roomRepo = repository.NewVoiceRoomRepository(store, log)
	f.presenceRepo = repository.NewPresenceRepository(client, time.Hour, log)
	blockRepo := repository.NewBlockRepository(store, log)

	audit := NewAuditService(f.audit, log)
	f.presence = NewPresenceService(f.presenceRepo, clk, config.PresenceConfig{
		ActivityWindow: time.Minute,
		RetryAttempts:  1,
	}, log)
	f.conversations = NewConversationService(f.convRepo, blockRepo, audit, log)
	f.chat = NewChatService(f.convRepo, f.messageRepo, blockRepo, f.presence, audit, f.publisher, log)
	f.typing = NewTypingService(f.convRepo, clk, domain.TypingTTL, log)
	t.Cleanup(f.typing.Close)
	f.calls = NewCallService(f.callRepo, f.history, blockRepo, audit, f.publisher, clk, config.CallsConfig{Retention: time.Hour}, log)
	f.rooms = NewVoiceRoomService(f.roomRepo, audit, f.publisher, log)
	return f
}

func (f *fixture) direct(t *testing.T, a, b string) *domain.Conversation {
	t.Helper()
	conv, err := f.conversations.GetOrCreateDirect(context.Background(), a, b)
	require.NoError(t, err)
	return conv
}

func (f *fixture) sendText(t *testing.T, conversationID, senderID, text string) *domain.Message {
	t.Helper()
	msg, err := f.chat.SendMessage(context.Background(), conversationID, senderID, domain.MessagePayload{
		Type: domain.MessageTypeText,
		Text: text,
	})
	require.NoError(t, err)
	return msg
}

var errStore = errors.New("store unavailable")
