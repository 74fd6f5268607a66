package service

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"social_chat/internal/docstore"
	"social_chat/internal/domain"
	"social_chat/internal/events"
	"social_chat/internal/metrics"
	"social_chat/internal/repository"
	apperrors "social_chat/pkg/errors"
	"social_chat/pkg/logger"
)

type ChatService interface {
	SendMessage(ctx context.Context, conversationID, senderID string, payload domain.MessagePayload) (*domain.Message, error)
	EditMessage(ctx context.Context, conversationID, messageID, userID, text string) (*domain.Message, error)
	DeleteMessageForMe(ctx context.Context, conversationID, messageID, userID string) error
	DeleteMessageForEveryone(ctx context.Context, conversationID, messageID, userID string) error

	AddReaction(ctx context.Context, conversationID, messageID, userID, emoji string) error
	RemoveReaction(ctx context.Context, conversationID, messageID, userID, emoji string) error
	// ToggleReaction сам проверяет, стоит ли уже реакция, и возвращает итоговое состояние
	ToggleReaction(ctx context.Context, conversationID, messageID, userID, emoji string) (bool, error)

	ReplyToMessage(ctx context.Context, conversationID, targetID, senderID string, payload domain.MessagePayload) (*domain.Message, error)
	ForwardMessage(ctx context.Context, fromConversationID, messageID, toConversationID, userID string) (*domain.Message, error)

	MarkAsRead(ctx context.Context, conversationID, userID string, messageIDs []string) error
	MarkAsDelivered(ctx context.Context, conversationID, userID string, messageIDs []string) error

	ListMessages(ctx context.Context, conversationID, userID string, limit int) ([]*domain.Message, error)
	WatchMessages(ctx context.Context, conversationID, userID string, limit int, fn func([]*domain.Message)) (docstore.Unsubscribe, error)
}

type chatService struct {
	convRepo    repository.ConversationRepository
	messageRepo repository.MessageRepository
	blockRepo   repository.BlockRepository
	presence    PresenceService
	audit       AuditService
	publisher   events.Publisher
	log         logger.Logger
}

func NewChatService(
	convRepo repository.ConversationRepository,
	messageRepo repository.MessageRepository,
	blockRepo repository.BlockRepository,
	presence PresenceService,
	audit AuditService,
	publisher events.Publisher,
	log logger.Logger,
) ChatService {
	return &chatService{
		convRepo:    convRepo,
		messageRepo: messageRepo,
		blockRepo:   blockRepo,
		presence:    presence,
		audit:       audit,
		publisher:   publisher,
		log:         log,
	}
}

func (s *chatService) SendMessage(ctx context.Context, conversationID, senderID string, payload domain.MessagePayload) (*domain.Message, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	conv, err := s.participantOf(ctx, conversationID, senderID)
	if err != nil {
		return nil, err
	}
	if err := s.checkBlocked(ctx, conv, senderID); err != nil {
		return nil, err
	}

	msg := newMessage(conversationID, senderID, payload)
	return s.deliver(ctx, conv, msg)
}

// deliver пишет сообщение и затем денормализованный lastMessage беседы.
// Вторая запись не атомарна с первой: ее ошибка логируется, сообщение уже отправлено.
func (s *chatService) deliver(ctx context.Context, conv *domain.Conversation, msg *domain.Message) (*domain.Message, error) {
	if err := s.messageRepo.Create(ctx, msg); err != nil {
		return nil, err
	}

	others := conv.OtherParticipants(msg.SenderID)
	viewers := s.presence.ActiveViewers(ctx, conv.ID, others)
	unreadFor := make([]string, 0, len(others))
	for _, uid := range others {
		if !viewers[uid] {
			unreadFor = append(unreadFor, uid)
		}
	}

	last := domain.LastMessage{
		Text:     msg.Summary(),
		SenderID: msg.SenderID,
		Type:     msg.Type,
	}
	if err := s.convRepo.SetLastMessage(ctx, conv.ID, last, unreadFor); err != nil {
		s.log.Error("Failed to update conversation after send", "error", err, "conversation_id", conv.ID, "message_id", msg.ID)
	}

	metrics.MessagesSent.WithLabelValues(string(msg.Type)).Inc()
	s.publish(ctx, events.Event{
		Type: events.TypeMessageSent,
		Key:  conv.ID,
		Payload: map[string]interface{}{
			"conversation_id": conv.ID,
			"message_id":      msg.ID,
			"sender_id":       msg.SenderID,
			"type":            msg.Type,
			"summary":         last.Text,
			"recipients":      unreadFor,
		},
	})

	// перечитываем, чтобы вернуть серверные createdAt и status.sent
	stored, err := s.messageRepo.GetByID(ctx, conv.ID, msg.ID)
	if err != nil {
		return msg, nil
	}
	return stored, nil
}

func newMessage(conversationID, senderID string, payload domain.MessagePayload) *domain.Message {
	id := payload.ID
	if id == "" {
		id = uuid.NewString()
	}
	msgType := payload.Type
	if msgType == "" {
		msgType = domain.MessageTypeText
	}

	msg := &domain.Message{
		ID:             id,
		ConversationID: conversationID,
		SenderID:       senderID,
		Type:           msgType,
		MediaURL:       payload.MediaURL,
		Duration:       payload.Duration,
		ReplyTo:        payload.ReplyTo,
		TextColor:      payload.TextColor,
	}
	if text := strings.TrimSpace(payload.Text); text != "" {
		msg.Text = &text
	}
	return msg
}

func (s *chatService) EditMessage(ctx context.Context, conversationID, messageID, userID, text string) (*domain.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperrors.ErrEmptyMessage
	}
	if _, err := s.participantOf(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	msg, err := s.messageRepo.GetByID(ctx, conversationID, messageID)
	if err != nil {
		return nil, err
	}
	if err := msg.CanEdit(userID); err != nil {
		return nil, err
	}

	if err := s.messageRepo.Update(ctx, conversationID, messageID,
		docstore.Set("text", text),
		docstore.Set("isEdited", true),
		docstore.ServerTimestamp("editedAt"),
	); err != nil {
		return nil, err
	}
	return s.messageRepo.GetByID(ctx, conversationID, messageID)
}

func (s *chatService) DeleteMessageForMe(ctx context.Context, conversationID, messageID, userID string) error {
	if _, err := s.participantOf(ctx, conversationID, userID); err != nil {
		return err
	}
	if _, err := s.messageRepo.GetByID(ctx, conversationID, messageID); err != nil {
		return err
	}
	return s.messageRepo.Update(ctx, conversationID, messageID, docstore.ArrayUnion("deletedFor", userID))
}

// DeleteMessageForEveryone ставит tombstone; содержимое остается в хранилище, но наружу не отдается
func (s *chatService) DeleteMessageForEveryone(ctx context.Context, conversationID, messageID, userID string) error {
	if _, err := s.participantOf(ctx, conversationID, userID); err != nil {
		return err
	}
	msg, err := s.messageRepo.GetByID(ctx, conversationID, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID != userID {
		return apperrors.ErrNotSender
	}
	if msg.IsDeleted {
		return nil
	}

	if err := s.messageRepo.Update(ctx, conversationID, messageID, docstore.Set("isDeleted", true)); err != nil {
		return err
	}
	s.audit.LogEvent(ctx, userID, strRef(conversationID), nil, domain.EventTypeMessageDeleted, map[string]interface{}{"message_id": messageID})
	return nil
}

func (s *chatService) AddReaction(ctx context.Context, conversationID, messageID, userID, emoji string) error {
	if _, err := s.reactable(ctx, conversationID, messageID, userID, emoji); err != nil {
		return err
	}
	return s.messageRepo.Update(ctx, conversationID, messageID, docstore.ArrayUnion(docstore.FieldPath("reactions", emoji), userID))
}

func (s *chatService) RemoveReaction(ctx context.Context, conversationID, messageID, userID, emoji string) error {
	if _, err := s.reactable(ctx, conversationID, messageID, userID, emoji); err != nil {
		return err
	}
	return s.messageRepo.Update(ctx, conversationID, messageID, docstore.ArrayRemove(docstore.FieldPath("reactions", emoji), userID))
}

func (s *chatService) ToggleReaction(ctx context.Context, conversationID, messageID, userID, emoji string) (bool, error) {
	msg, err := s.reactable(ctx, conversationID, messageID, userID, emoji)
	if err != nil {
		return false, err
	}
	path := docstore.FieldPath("reactions", emoji)
	if msg.HasReaction(emoji, userID) {
		return false, s.messageRepo.Update(ctx, conversationID, messageID, docstore.ArrayRemove(path, userID))
	}
	return true, s.messageRepo.Update(ctx, conversationID, messageID, docstore.ArrayUnion(path, userID))
}

// reactable - эмодзи становится сегментом пути поля, поэтому точки и $ в нем запрещены
func (s *chatService) reactable(ctx context.Context, conversationID, messageID, userID, emoji string) (*domain.Message, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" || strings.ContainsAny(emoji, ".$") {
		return nil, apperrors.ErrBadRequest
	}
	if _, err := s.participantOf(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	msg, err := s.messageRepo.GetByID(ctx, conversationID, messageID)
	if err != nil {
		return nil, err
	}
	if msg.IsDeleted {
		return nil, apperrors.ErrMessageDeleted
	}
	return msg, nil
}

// ReplyToMessage фиксирует снимок цитаты на сервере; ReplyTo из payload игнорируется
func (s *chatService) ReplyToMessage(ctx context.Context, conversationID, targetID, senderID string, payload domain.MessagePayload) (*domain.Message, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	conv, err := s.participantOf(ctx, conversationID, senderID)
	if err != nil {
		return nil, err
	}
	if err := s.checkBlocked(ctx, conv, senderID); err != nil {
		return nil, err
	}

	target, err := s.messageRepo.GetByID(ctx, conversationID, targetID)
	if err != nil {
		return nil, err
	}
	if target.IsDeleted {
		return nil, apperrors.ErrMessageDeleted
	}

	snapshot := target.Snapshot()
	payload.ReplyTo = &snapshot
	return s.deliver(ctx, conv, newMessage(conversationID, senderID, payload))
}

func (s *chatService) ForwardMessage(ctx context.Context, fromConversationID, messageID, toConversationID, userID string) (*domain.Message, error) {
	if _, err := s.participantOf(ctx, fromConversationID, userID); err != nil {
		return nil, err
	}
	target, err := s.participantOf(ctx, toConversationID, userID)
	if err != nil {
		return nil, err
	}
	if err := s.checkBlocked(ctx, target, userID); err != nil {
		return nil, err
	}

	src, err := s.messageRepo.GetByID(ctx, fromConversationID, messageID)
	if err != nil {
		return nil, err
	}
	if src.IsDeleted || src.IsDeletedFor(userID) {
		return nil, apperrors.ErrMessageDeleted
	}

	msg := &domain.Message{
		ID:             uuid.NewString(),
		ConversationID: toConversationID,
		SenderID:       userID,
		Type:           src.Type,
		Text:           src.Text,
		MediaURL:       src.MediaURL,
		Duration:       src.Duration,
		TextColor:      src.TextColor,
		ForwardedFrom: &domain.ForwardedFrom{
			ConversationID: fromConversationID,
			MessageID:      src.ID,
			SenderID:       src.SenderID,
		},
	}
	return s.deliver(ctx, target, msg)
}

// MarkAsRead пишет status.read только тем сообщениям, где отметки еще нет,
// поэтому повторный вызов с теми же id ничего не меняет.
func (s *chatService) MarkAsRead(ctx context.Context, conversationID, userID string, messageIDs []string) error {
	if _, err := s.participantOf(ctx, conversationID, userID); err != nil {
		return err
	}
	msgs, err := s.messageRepo.GetMany(ctx, conversationID, messageIDs)
	if err != nil {
		return err
	}

	pending := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.SenderID == userID {
			continue
		}
		if _, ok := m.Status.Read[userID]; !ok {
			pending = append(pending, m.ID)
		}
	}
	return s.messageRepo.MarkRead(ctx, conversationID, userID, pending)
}

func (s *chatService) MarkAsDelivered(ctx context.Context, conversationID, userID string, messageIDs []string) error {
	if _, err := s.participantOf(ctx, conversationID, userID); err != nil {
		return err
	}
	msgs, err := s.messageRepo.GetMany(ctx, conversationID, messageIDs)
	if err != nil {
		return err
	}

	pending := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.SenderID == userID {
			continue
		}
		if _, ok := m.Status.Delivered[userID]; !ok {
			pending = append(pending, m.ID)
		}
	}
	return s.messageRepo.MarkDelivered(ctx, conversationID, userID, pending)
}

func (s *chatService) ListMessages(ctx context.Context, conversationID, userID string, limit int) ([]*domain.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	conv, err := s.participantOf(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.messageRepo.List(ctx, conversationID, limit)
	if err != nil {
		return nil, err
	}
	return visibleMessages(msgs, userID, conv.SettingsFor(userID)), nil
}

// WatchMessages фиксирует clearedAt на момент подписки; после очистки чата подписку пересоздают
func (s *chatService) WatchMessages(ctx context.Context, conversationID, userID string, limit int, fn func([]*domain.Message)) (docstore.Unsubscribe, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	conv, err := s.participantOf(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	settings := conv.SettingsFor(userID)
	return s.messageRepo.Watch(ctx, conversationID, limit, func(msgs []*domain.Message) {
		fn(visibleMessages(msgs, userID, settings))
	})
}

func visibleMessages(msgs []*domain.Message, userID string, settings domain.UserSettings) []*domain.Message {
	out := make([]*domain.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.VisibleTo(userID, settings.ClearedAt) {
			out = append(out, m.ForViewer())
		}
	}
	return out
}

func (s *chatService) participantOf(ctx context.Context, conversationID, userID string) (*domain.Conversation, error) {
	conv, err := s.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.IsParticipant(userID) {
		return nil, apperrors.ErrNotParticipant
	}
	return conv, nil
}

// checkBlocked - в личной беседе собеседник мог заблокировать отправителя
func (s *chatService) checkBlocked(ctx context.Context, conv *domain.Conversation, senderID string) error {
	if conv.Type != domain.ConversationTypeOneToOne {
		return nil
	}
	for _, other := range conv.OtherParticipants(senderID) {
		blocked, err := s.blockRepo.IsBlocked(ctx, other, senderID)
		if err != nil {
			return err
		}
		if blocked {
			return apperrors.ErrBlocked
		}
	}
	return nil
}

func (s *chatService) publish(ctx context.Context, event events.Event) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.log.Warn("Event not published", "error", err, "type", event.Type, "key", event.Key)
	}
}
